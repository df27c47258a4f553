// Package offer holds the active sell offers, keyed by asset id.
package offer

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
)

// AssetKind selects the transfer protocol used to deliver an offer's asset.
type AssetKind uint8

const (
	Unique    AssetKind = 1 // one owner per id, quantity is always 1
	MultiUnit AssetKind = 2 // fungible quantity per id
)

func (k AssetKind) String() string {
	switch k {
	case Unique:
		return "unique"
	case MultiUnit:
		return "multi_unit"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k AssetKind) Valid() bool {
	return k == Unique || k == MultiUnit
}

// ParseAssetKind accepts the names returned by String and their numeric codes.
func ParseAssetKind(s string) (AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unique", "1":
		return Unique, nil
	case "multi_unit", "multiunit", "2":
		return MultiUnit, nil
	}
	return 0, errors.Wrapf(errs.ErrInvalidArgument, "unknown asset kind %q", s)
}

type SellOffer struct {
	AssetContract  common.Address
	AssetID        uint256.Int
	Kind           AssetKind
	Quantity       uint64
	ReferencePrice uint64 // USD cents
	Seller         common.Address
	CreatedAt      time.Time
}

// Validate checks the offer fields that do not depend on any other state.
func (o *SellOffer) Validate() error {
	switch {
	case !o.Kind.Valid():
		return errors.Wrapf(errs.ErrInvalidArgument, "asset kind %s", o.Kind)
	case o.Quantity == 0:
		return errors.Wrap(errs.ErrInvalidArgument, "quantity must be positive")
	case o.Kind == Unique && o.Quantity != 1:
		return errors.Wrapf(errs.ErrInvalidArgument, "unique asset quantity must be 1, got %d", o.Quantity)
	case o.ReferencePrice == 0:
		return errors.Wrap(errs.ErrInvalidArgument, "reference price must be positive")
	case o.Seller == (common.Address{}):
		return errors.Wrap(errs.ErrInvalidArgument, "seller must be set")
	case o.AssetContract == (common.Address{}):
		return errors.Wrap(errs.ErrInvalidArgument, "asset contract must be set")
	}
	return nil
}

// ExpiryPolicy decides staleness from the offer's creation time. Expired
// offers are only purged by the buy path.
type ExpiryPolicy struct {
	TTL time.Duration
}

func (p ExpiryPolicy) Expired(o SellOffer, now time.Time) bool {
	return now.Sub(o.CreatedAt) >= p.TTL
}

func (p ExpiryPolicy) ExpiresAt(o SellOffer) time.Time {
	return o.CreatedAt.Add(p.TTL)
}
