// Package market implements the marketplace engine: offer lifecycle,
// settlement orchestration and administrative configuration, each operation
// applied as one all-or-nothing transaction.
package market

import (
	"context"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/access"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/journal"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/offer"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/oracle"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/settlement"
	"github.com/uhyunpark/escrowmarket/pkg/metrics"
	"github.com/uhyunpark/escrowmarket/pkg/storage"
	"github.com/uhyunpark/escrowmarket/pkg/util"
)

// Persister receives the state changed by each committed operation.
type Persister interface {
	Commit(cs storage.ChangeSet) error
}

// ConfigStore is a Persister that can read back the owner and fee config.
// When the engine's store implements it, persisted values take precedence
// over Options and missing ones are written at construction.
type ConfigStore interface {
	Persister
	LoadOwner() (common.Address, bool, error)
	LoadFeeConfig() (access.FeeConfig, bool, error)
}

type Options struct {
	Self       common.Address // the marketplace's own account on every ledger
	Owner      common.Address
	Fee        access.FeeConfig
	TTL        time.Duration
	Journal    *journal.Journal // shared with the simulated ledgers
	Clock      util.Clock
	Oracle     *oracle.Adapter
	Registries *ledger.Registries
	Store      Persister // nil keeps state in memory only
	Logger     *zap.SugaredLogger
}

type CreateRequest struct {
	Seller         common.Address
	AssetContract  common.Address
	AssetID        uint256.Int
	Quantity       uint64
	Kind           offer.AssetKind
	ReferencePrice uint64
}

// BuyResult is the outcome of a successful BuyOffer. Expired is set when the
// offer had outlived its TTL and was purged instead of sold; Receipt is nil in
// that case.
type BuyResult struct {
	Expired bool
	Receipt *settlement.Receipt
}

// Engine is not safe for concurrent use. Operations are serialized by the
// Executor; collaborators may call back into the engine while an operation is
// in progress and those calls join the open transaction.
type Engine struct {
	self     common.Address
	journal  *journal.Journal
	clock    util.Clock
	offers   *offer.Store
	expiry   offer.ExpiryPolicy
	guard    *access.Guard
	oracle   *oracle.Adapter
	reg      *ledger.Registries
	settler  *settlement.Settler
	store    Persister
	log      *zap.SugaredLogger
	depth    int
	pending  []Event
	handlers []func(Event)
}

func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Self == (common.Address{}):
		return nil, errors.Wrap(errs.ErrInvalidArgument, "engine address must be set")
	case opts.Owner == (common.Address{}):
		return nil, errors.Wrap(errs.ErrInvalidArgument, "owner must be set")
	case opts.TTL <= 0:
		return nil, errors.Wrap(errs.ErrInvalidArgument, "offer TTL must be positive")
	case opts.Oracle == nil || opts.Registries == nil:
		return nil, errors.Wrap(errs.ErrInvalidArgument, "oracle and registries are required")
	}
	if opts.Journal == nil {
		opts.Journal = journal.New()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if cs, ok := opts.Store.(ConfigStore); ok {
		if err := loadOrInitConfig(cs, &opts); err != nil {
			return nil, err
		}
	}
	guard, err := access.NewGuard(opts.Journal, opts.Owner, opts.Fee)
	if err != nil {
		return nil, err
	}
	return &Engine{
		self:    opts.Self,
		journal: opts.Journal,
		clock:   opts.Clock,
		offers:  offer.NewStore(opts.Journal),
		expiry:  offer.ExpiryPolicy{TTL: opts.TTL},
		guard:   guard,
		oracle:  opts.Oracle,
		reg:     opts.Registries,
		settler: settlement.New(opts.Self, opts.Oracle, opts.Registries, guard),
		store:   opts.Store,
		log:     opts.Logger,
	}, nil
}

// loadOrInitConfig replaces opts.Owner and opts.Fee with their persisted
// values. Whatever is not yet persisted is written from opts, so the values
// fixed at first start survive restarts with a different configuration.
func loadOrInitConfig(cs ConfigStore, opts *Options) error {
	var first storage.ChangeSet
	owner, ok, err := cs.LoadOwner()
	if err != nil {
		return errors.Wrap(err, "load owner")
	}
	if ok {
		opts.Owner = owner
	} else {
		first.Owner = &opts.Owner
	}
	fee, ok, err := cs.LoadFeeConfig()
	if err != nil {
		return errors.Wrap(err, "load fee config")
	}
	if ok {
		opts.Fee = fee
	} else {
		if opts.Fee.RateBps > access.MaxFeeBps {
			return errors.Wrapf(errs.ErrInvalidArgument, "fee rate %d bps exceeds %d", opts.Fee.RateBps, access.MaxFeeBps)
		}
		first.Fee = &opts.Fee
	}
	if first.Empty() {
		return nil
	}
	if err := cs.Commit(first); err != nil {
		return errors.Wrap(err, "persist initial owner and fee config")
	}
	opts.Logger.Infow("market_config_initialized",
		"owner_written", first.Owner != nil,
		"fee_written", first.Fee != nil)
	return nil
}

// Restore loads offers read back from storage before the engine starts
// serving operations.
func (e *Engine) Restore(offers []offer.SellOffer) {
	e.offers.Restore(offers)
}

// OnEvent registers fn to receive every event of committed operations.
func (e *Engine) OnEvent(fn func(Event)) {
	e.handlers = append(e.handlers, fn)
}

func (e *Engine) Self() common.Address          { return e.self }
func (e *Engine) Owner() common.Address         { return e.guard.Owner() }
func (e *Engine) Fee() access.FeeConfig         { return e.guard.Fee() }
func (e *Engine) TTL() time.Duration            { return e.expiry.TTL }
func (e *Engine) Rails() []oracle.Rail          { return e.oracle.Rails() }
func (e *Engine) Now() time.Time                { return e.clock.Now() }
func (e *Engine) OfferCount() int               { return e.offers.Len() }
func (e *Engine) ListOffers() []offer.SellOffer { return e.offers.List() }

// CreateSellOffer lists an asset. The caller must be the seller or an
// operator the seller approved on the asset's registry.
func (e *Engine) CreateSellOffer(ctx context.Context, caller common.Address, req CreateRequest) error {
	return e.atomically("create_sell_offer", func() error {
		if e.offers.Exists(req.AssetID) {
			return errors.Wrapf(errs.ErrDuplicateOffer, "asset id %s", req.AssetID.Dec())
		}
		o := offer.SellOffer{
			AssetContract:  req.AssetContract,
			AssetID:        req.AssetID,
			Kind:           req.Kind,
			Quantity:       req.Quantity,
			ReferencePrice: req.ReferencePrice,
			Seller:         req.Seller,
			CreatedAt:      e.clock.Now(),
		}
		if err := o.Validate(); err != nil {
			return err
		}
		if err := e.authorizeListing(caller, o); err != nil {
			return err
		}
		if err := e.offers.Create(o); err != nil {
			return err
		}
		e.emit(Event{Type: EventOfferCreated, Offer: o})
		return nil
	})
}

func (e *Engine) authorizeListing(caller common.Address, o offer.SellOffer) error {
	if caller == o.Seller {
		return nil
	}
	switch o.Kind {
	case offer.MultiUnit:
		reg, err := e.reg.MultiUnit(o.AssetContract)
		if err != nil {
			return err
		}
		if reg.IsApprovedForAll(o.Seller, caller) {
			return nil
		}
	case offer.Unique:
		reg, err := e.reg.Unique(o.AssetContract)
		if err != nil {
			return err
		}
		if reg.GetApproved(o.AssetID) == caller {
			return nil
		}
	}
	return errs.Unauthorized("create_sell_offer", caller)
}

func (e *Engine) DeleteSellOffer(ctx context.Context, caller common.Address, assetID uint256.Int) error {
	return e.atomically("delete_sell_offer", func() error {
		o, err := e.offers.Get(assetID)
		if err != nil {
			return err
		}
		if err := e.offers.Delete(assetID, caller); err != nil {
			return err
		}
		e.emit(Event{Type: EventOfferDeleted, Offer: o})
		return nil
	})
}

// BuyOffer settles the offer for assetID on railID. For native rails tendered
// is the value sent with the call; token rails are paid by allowance and take
// a nil or zero tendered amount.
func (e *Engine) BuyOffer(ctx context.Context, buyer common.Address, assetID uint256.Int, railID string, tendered *big.Int) (BuyResult, error) {
	var res BuyResult
	err := e.atomically("buy_offer", func() error {
		o, err := e.offers.Get(assetID)
		if err != nil {
			return err
		}
		if e.expiry.Expired(o, e.clock.Now()) {
			e.offers.RemoveIfPresent(assetID)
			res.Expired = true
			e.emit(Event{Type: EventOfferExpired, Offer: o, Buyer: buyer})
			return nil
		}

		// the offer leaves the table before any collaborator is called
		e.offers.RemoveIfPresent(assetID)

		rc, err := e.settler.Settle(ctx, o, railID, tendered, buyer)
		if err != nil {
			return err
		}
		res.Receipt = &rc
		e.emit(Event{Type: EventOfferSold, Offer: o, Buyer: buyer, Receipt: &rc})
		return nil
	})
	if err != nil {
		return BuyResult{}, err
	}
	return res, nil
}

// CheckSeller returns the zero address when no offer exists.
func (e *Engine) CheckSeller(assetID uint256.Int) common.Address {
	return e.offers.Seller(assetID)
}

func (e *Engine) GetOffer(assetID uint256.Int) (offer.SellOffer, error) {
	return e.offers.Get(assetID)
}

// ExpiresAt returns when the offer for assetID stops being purchasable.
func (e *Engine) ExpiresAt(o offer.SellOffer) time.Time {
	return e.expiry.ExpiresAt(o)
}

// GetOfferPrice quotes the offer on railID at the current rate. It never
// purges an expired offer.
func (e *Engine) GetOfferPrice(ctx context.Context, assetID uint256.Int, railID string) (*big.Int, error) {
	o, err := e.offers.Get(assetID)
	if err != nil {
		return nil, err
	}
	q, err := e.oracle.Quote(ctx, railID, o.ReferencePrice)
	if err != nil {
		return nil, err
	}
	return q.Amount, nil
}

func (e *Engine) Rail(id string) (oracle.Rail, error) {
	return e.oracle.Rail(id)
}

// CurrentRate returns reference units (cents) per whole unit of railID.
func (e *Engine) CurrentRate(ctx context.Context, railID string) (*big.Rat, error) {
	return e.oracle.UnitPrice(ctx, railID)
}

func (e *Engine) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	return e.atomically("set_fee_recipient", func() error {
		if err := e.guard.SetFeeRecipient(caller, recipient); err != nil {
			return err
		}
		e.emit(Event{Type: EventFeeUpdated, Fee: e.guard.Fee()})
		return nil
	})
}

func (e *Engine) SetFeeRate(ctx context.Context, caller common.Address, bps uint32) error {
	return e.atomically("set_fee_rate", func() error {
		if err := e.guard.SetFeeRate(caller, bps); err != nil {
			return err
		}
		e.emit(Event{Type: EventFeeUpdated, Fee: e.guard.Fee()})
		return nil
	})
}

func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return e.atomically("transfer_ownership", func() error {
		if err := e.guard.TransferOwnership(caller, newOwner); err != nil {
			return err
		}
		e.emit(Event{Type: EventOwnerChanged, Owner: newOwner})
		return nil
	})
}

// atomically runs fn as one transaction. Nested calls share the outermost
// transaction; only the outermost call persists and publishes events.
func (e *Engine) atomically(action string, fn func() error) error {
	start := time.Now()
	rev := e.journal.Snapshot()
	e.depth++
	err := fn()
	e.depth--

	outermost := e.depth == 0
	if err == nil && outermost {
		err = e.persist()
	}
	if err != nil {
		e.journal.RevertToSnapshot(rev)
		if outermost {
			metrics.RecordOperation(action, errs.Code(err), time.Since(start))
			e.log.Infow("operation_rejected", "action", action, "code", errs.Code(err), "err", err.Error())
		}
		return err
	}
	if !outermost {
		return nil
	}

	e.journal.Reset()
	events := e.pending
	e.pending = nil
	metrics.RecordOperation(action, "ok", time.Since(start))
	for _, ev := range events {
		e.publish(ev)
	}
	return nil
}

func (e *Engine) persist() error {
	if e.store != nil {
		upserts, deletes := e.offers.Changes()
		cs := storage.ChangeSet{Upserts: upserts, Deletes: deletes}
		if e.guard.Dirty() {
			fee, owner := e.guard.Fee(), e.guard.Owner()
			cs.Fee, cs.Owner = &fee, &owner
		}
		if err := e.store.Commit(cs); err != nil {
			return errors.Wrap(err, "persist marketplace state")
		}
	}
	e.offers.ClearChanges()
	e.guard.ClearDirty()
	return nil
}
