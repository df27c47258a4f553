package market

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/access"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/offer"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/settlement"
	"github.com/uhyunpark/escrowmarket/pkg/metrics"
)

type EventType string

const (
	EventOfferCreated EventType = "offer_created"
	EventOfferDeleted EventType = "offer_deleted"
	EventOfferSold    EventType = "offer_settled"
	EventOfferExpired EventType = "offer_expired_purged"
	EventFeeUpdated   EventType = "fee_updated"
	EventOwnerChanged EventType = "owner_changed"
)

// Event describes one effect of a committed operation. Only the fields that
// apply to Type are set.
type Event struct {
	ID        string
	Type      EventType
	Offer     offer.SellOffer
	Buyer     common.Address
	Receipt   *settlement.Receipt
	Fee       access.FeeConfig
	Owner     common.Address
	Timestamp time.Time
}

// emit queues ev for publication when the enclosing transaction commits.
func (e *Engine) emit(ev Event) {
	n := len(e.pending)
	e.pending = append(e.pending, ev)
	e.journal.Append(func() { e.pending = e.pending[:n] })
}

func (e *Engine) publish(ev Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = e.clock.Now()

	switch ev.Type {
	case EventOfferCreated, EventOfferDeleted, EventOfferExpired:
		e.log.Infow(string(ev.Type),
			"asset_id", ev.Offer.AssetID.Dec(),
			"seller", ev.Offer.Seller.Hex(),
			"kind", ev.Offer.Kind.String(),
			"quantity", ev.Offer.Quantity,
			"reference_price", ev.Offer.ReferencePrice,
		)
		metrics.RecordOfferEvent(string(ev.Type), e.offers.Len())
	case EventOfferSold:
		rc := ev.Receipt
		e.log.Infow(string(ev.Type),
			"asset_id", ev.Offer.AssetID.Dec(),
			"seller", ev.Offer.Seller.Hex(),
			"buyer", ev.Buyer.Hex(),
			"rail", rc.Rail,
			"owed", rc.Owed.String(),
			"fee", rc.Fee.String(),
			"refund", rc.Refund.String(),
		)
		metrics.RecordOfferEvent(string(ev.Type), e.offers.Len())
		metrics.RecordSettlement(rc.Rail, rc.Fee)
	case EventFeeUpdated:
		e.log.Infow(string(ev.Type), "recipient", ev.Fee.Recipient.Hex(), "rate_bps", ev.Fee.RateBps)
	case EventOwnerChanged:
		e.log.Infow(string(ev.Type), "owner", ev.Owner.Hex())
	}

	for _, h := range e.handlers {
		h(ev)
	}
}
