// Package settlement collects payment for an offer on the chosen rail, routes
// the fee and seller proceeds, and delivers the asset to the buyer.
//
// Settle assumes the offer has already been removed from the offer table and
// that the caller reverts every collaborator effect when it returns an error.
package settlement

import (
	"context"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/access"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/offer"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/oracle"
)

type Receipt struct {
	AssetID   uint256.Int
	Seller    common.Address
	Buyer     common.Address
	Quantity  uint64
	Rail      string
	UnitPrice *big.Rat
	Owed      *big.Int
	Fee       *big.Int
	Proceeds  *big.Int
	Refund    *big.Int
}

type FeeSource interface {
	Fee() access.FeeConfig
}

type Settler struct {
	self   common.Address
	oracle *oracle.Adapter
	reg    *ledger.Registries
	fees   FeeSource
}

// New returns a Settler that escrows payments at self, the marketplace's own
// account on every ledger.
func New(self common.Address, o *oracle.Adapter, reg *ledger.Registries, fees FeeSource) *Settler {
	return &Settler{self: self, oracle: o, reg: reg, fees: fees}
}

func (s *Settler) Settle(ctx context.Context, off offer.SellOffer, railID string, tendered *big.Int, buyer common.Address) (Receipt, error) {
	if tendered == nil {
		tendered = new(big.Int)
	}
	if tendered.Sign() < 0 {
		return Receipt{}, errors.Wrap(errs.ErrInvalidArgument, "tendered amount is negative")
	}

	quote, err := s.oracle.Quote(ctx, railID, off.ReferencePrice)
	if err != nil {
		return Receipt{}, err
	}
	owed := quote.Amount
	cfg := s.fees.Fee()
	fee, proceeds := cfg.Split(owed)

	rc := Receipt{
		AssetID:   off.AssetID,
		Seller:    off.Seller,
		Buyer:     buyer,
		Quantity:  off.Quantity,
		Rail:      railID,
		UnitPrice: quote.UnitPrice,
		Owed:      owed,
		Fee:       fee,
		Proceeds:  proceeds,
		Refund:    new(big.Int),
	}

	var pay func(to common.Address, amount *big.Int) error
	switch quote.Rail.Kind {
	case oracle.NativeRail:
		if tendered.Cmp(owed) < 0 {
			return Receipt{}, errors.Wrapf(errs.ErrInsufficientPayment, "tendered %s, owed %s on %s", tendered, owed, railID)
		}
		if err := s.reg.Native.Transfer(buyer, s.self, tendered); err != nil {
			return Receipt{}, transferFailed("payment", err)
		}
		rc.Refund = new(big.Int).Sub(tendered, owed)
		pay = func(to common.Address, amount *big.Int) error {
			return s.reg.Native.Transfer(s.self, to, amount)
		}

	case oracle.TokenRail:
		if tendered.Sign() != 0 {
			return Receipt{}, errors.Wrapf(errs.ErrInvalidArgument, "rail %s is paid by allowance, not by value", railID)
		}
		tok, err := s.reg.Token(quote.Rail.Token)
		if err != nil {
			return Receipt{}, err
		}
		if bal := tok.BalanceOf(buyer); bal.Cmp(owed) < 0 {
			return Receipt{}, &errs.TransferFailedError{Leg: "payment", Reason: errs.ReasonInsufficientBalance,
				Err: errors.Newf("balance %s, owed %s", bal, owed)}
		}
		if allowed := tok.Allowance(buyer, s.self); allowed.Cmp(owed) < 0 {
			return Receipt{}, &errs.TransferFailedError{Leg: "payment", Reason: errs.ReasonInsufficientAllowance,
				Err: errors.Newf("allowance %s, owed %s", allowed, owed)}
		}
		if err := tok.TransferFrom(s.self, buyer, s.self, owed); err != nil {
			return Receipt{}, transferFailed("payment", err)
		}
		pay = func(to common.Address, amount *big.Int) error {
			return tok.Transfer(s.self, to, amount)
		}

	default:
		return Receipt{}, errors.Wrapf(errs.ErrUnknownRail, "rail %s has kind %s", railID, quote.Rail.Kind)
	}

	legs := []struct {
		name   string
		to     common.Address
		amount *big.Int
	}{
		{"fee", cfg.Recipient, fee},
		{"proceeds", off.Seller, proceeds},
		{"refund", buyer, rc.Refund},
	}
	for _, leg := range legs {
		if leg.amount.Sign() == 0 {
			continue
		}
		if err := pay(leg.to, leg.amount); err != nil {
			return Receipt{}, transferFailed(leg.name, err)
		}
	}

	if err := s.deliver(off, buyer); err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

func (s *Settler) deliver(off offer.SellOffer, buyer common.Address) error {
	switch off.Kind {
	case offer.MultiUnit:
		reg, err := s.reg.MultiUnit(off.AssetContract)
		if err != nil {
			return err
		}
		if !reg.IsApprovedForAll(off.Seller, s.self) {
			return &errs.TransferFailedError{Leg: "asset", Reason: errs.ReasonNotApproved, Err: ledger.ErrNotApproved}
		}
		if err := reg.SafeTransferFrom(s.self, off.Seller, buyer, off.AssetID, off.Quantity); err != nil {
			return transferFailed("asset", err)
		}
	case offer.Unique:
		reg, err := s.reg.Unique(off.AssetContract)
		if err != nil {
			return err
		}
		if reg.GetApproved(off.AssetID) != s.self {
			return &errs.TransferFailedError{Leg: "asset", Reason: errs.ReasonNotApproved, Err: ledger.ErrNotApproved}
		}
		if err := reg.TransferFrom(s.self, off.Seller, buyer, off.AssetID); err != nil {
			return transferFailed("asset", err)
		}
	default:
		return errors.Wrapf(errs.ErrInvalidArgument, "asset kind %s", off.Kind)
	}
	return nil
}

// transferFailed keeps errors that already carry a marketplace classification
// (a failed re-entrant call, for instance) and wraps the rest.
func transferFailed(leg string, err error) error {
	var tf *errs.TransferFailedError
	if errors.As(err, &tf) {
		return err
	}
	reason := errs.ReasonRejected
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		reason = errs.ReasonInsufficientBalance
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		reason = errs.ReasonInsufficientAllowance
	case errors.Is(err, ledger.ErrNotApproved), errors.Is(err, ledger.ErrNotOwner):
		reason = errs.ReasonNotApproved
	}
	return &errs.TransferFailedError{Leg: leg, Reason: reason, Err: err}
}
