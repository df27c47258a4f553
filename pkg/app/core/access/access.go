// Package access holds the marketplace owner and the fee configuration, and
// gates the administrative setters on the owner.
package access

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/journal"
)

// MaxFeeBps is 100%.
const MaxFeeBps = 10_000

type FeeConfig struct {
	Recipient common.Address
	RateBps   uint32
}

// Split returns the fee (rounded down) and the remainder for the seller.
func (f FeeConfig) Split(amount *big.Int) (fee, proceeds *big.Int) {
	fee = new(big.Int).Mul(amount, big.NewInt(int64(f.RateBps)))
	fee.Quo(fee, big.NewInt(MaxFeeBps))
	proceeds = new(big.Int).Sub(amount, fee)
	return fee, proceeds
}

type Guard struct {
	j     *journal.Journal
	owner common.Address
	fee   FeeConfig
	dirty bool
}

func NewGuard(j *journal.Journal, owner common.Address, fee FeeConfig) (*Guard, error) {
	if fee.RateBps > MaxFeeBps {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "fee rate %d bps exceeds %d", fee.RateBps, MaxFeeBps)
	}
	return &Guard{j: j, owner: owner, fee: fee}, nil
}

func (g *Guard) Owner() common.Address { return g.owner }
func (g *Guard) Fee() FeeConfig        { return g.fee }

// Dirty reports whether owner or fee changed since the last ClearDirty.
func (g *Guard) Dirty() bool { return g.dirty }
func (g *Guard) ClearDirty() { g.dirty = false }

func (g *Guard) RequireOwner(caller common.Address, action string) error {
	if caller != g.owner {
		return errs.Unauthorized(action, caller)
	}
	return nil
}

func (g *Guard) SetFeeRecipient(caller, recipient common.Address) error {
	if err := g.RequireOwner(caller, "set_fee_recipient"); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return errors.Wrap(errs.ErrInvalidArgument, "fee recipient must be set")
	}
	next := g.fee
	next.Recipient = recipient
	g.setFee(next)
	return nil
}

func (g *Guard) SetFeeRate(caller common.Address, bps uint32) error {
	if err := g.RequireOwner(caller, "set_fee_rate"); err != nil {
		return err
	}
	if bps > MaxFeeBps {
		return errors.Wrapf(errs.ErrInvalidArgument, "fee rate %d bps exceeds %d", bps, MaxFeeBps)
	}
	next := g.fee
	next.RateBps = bps
	g.setFee(next)
	return nil
}

func (g *Guard) TransferOwnership(caller, newOwner common.Address) error {
	if err := g.RequireOwner(caller, "transfer_ownership"); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return errors.Wrap(errs.ErrInvalidArgument, "new owner must be set")
	}
	prev, prevDirty := g.owner, g.dirty
	g.owner = newOwner
	g.dirty = true
	journal.Record(g.j, func() { g.owner, g.dirty = prev, prevDirty })
	return nil
}

func (g *Guard) setFee(next FeeConfig) {
	prev, prevDirty := g.fee, g.dirty
	g.fee = next
	g.dirty = true
	journal.Record(g.j, func() { g.fee, g.dirty = prev, prevDirty })
}
