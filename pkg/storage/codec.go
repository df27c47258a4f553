package storage

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/access"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/offer"
)

// Records are JSON so that later schema versions can append fields without
// rewriting existing rows. Never rename or repurpose a field.

type offerRecord struct {
	AssetContract  string `json:"asset_contract"`
	AssetID        string `json:"asset_id"`
	Kind           uint8  `json:"kind"`
	Quantity       uint64 `json:"quantity"`
	ReferencePrice uint64 `json:"reference_price"`
	Seller         string `json:"seller"`
	CreatedAtMs    int64  `json:"created_at_ms"`
}

type feeRecord struct {
	Recipient string `json:"recipient"`
	RateBps   uint32 `json:"rate_bps"`
}

func encodeOffer(o offer.SellOffer) offerRecord {
	return offerRecord{
		AssetContract:  o.AssetContract.Hex(),
		AssetID:        o.AssetID.Dec(),
		Kind:           uint8(o.Kind),
		Quantity:       o.Quantity,
		ReferencePrice: o.ReferencePrice,
		Seller:         o.Seller.Hex(),
		CreatedAtMs:    o.CreatedAt.UnixMilli(),
	}
}

func (r offerRecord) decode() (offer.SellOffer, error) {
	id, err := uint256.FromDecimal(r.AssetID)
	if err != nil {
		return offer.SellOffer{}, fmt.Errorf("invalid asset id %q: %w", r.AssetID, err)
	}
	if !common.IsHexAddress(r.AssetContract) || !common.IsHexAddress(r.Seller) {
		return offer.SellOffer{}, fmt.Errorf("invalid address in offer %s", r.AssetID)
	}
	return offer.SellOffer{
		AssetContract:  common.HexToAddress(r.AssetContract),
		AssetID:        *id,
		Kind:           offer.AssetKind(r.Kind),
		Quantity:       r.Quantity,
		ReferencePrice: r.ReferencePrice,
		Seller:         common.HexToAddress(r.Seller),
		CreatedAt:      time.UnixMilli(r.CreatedAtMs),
	}, nil
}

func encodeFee(f access.FeeConfig) feeRecord {
	return feeRecord{Recipient: f.Recipient.Hex(), RateBps: f.RateBps}
}

func (r feeRecord) decode() access.FeeConfig {
	return access.FeeConfig{Recipient: common.HexToAddress(r.Recipient), RateBps: r.RateBps}
}
