package market

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/offer"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/settlement"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowmarket/pkg/crypto"
	"github.com/uhyunpark/escrowmarket/pkg/storage"
	"github.com/uhyunpark/escrowmarket/pkg/util"
)

// Result reports the outcome of one submitted transaction.
type Result struct {
	Type    transaction.TxType
	Caller  common.Address
	Height  uint64 // batch the tx was applied in
	Err     error
	Expired bool
	Receipt *settlement.Receipt
}

func (r Result) OK() bool { return r.Err == nil }

// Code is the snake_case error code, "ok" on success.
func (r Result) Code() string { return errs.Code(r.Err) }

// Executor serializes every state-changing request through one goroutine.
// Requests are queued in the mempool, drained in priority batches and applied
// to the engine one at a time.
type Executor struct {
	engine   *Engine
	pool     *mempool.Mempool
	verifier *transaction.Verifier
	clock    util.Clock
	log      *zap.SugaredLogger
	interval time.Duration

	mu         sync.Mutex // guards engine, nonces and height
	nonces     map[common.Address]uint64
	nonceStore NonceStore // nil keeps nonces in memory only
	height     uint64
}

// NonceStore persists the last nonce accepted from each caller so a captured
// request cannot be replayed after a restart.
type NonceStore interface {
	LoadNonces() (map[common.Address]uint64, error)
	Commit(cs storage.ChangeSet) error
}

// NewExecutor wires an executor around engine. minInterval spaces consecutive
// batches; zero applies each batch as soon as work arrives.
func NewExecutor(engine *Engine, pool *mempool.Mempool, domain crypto.EIP712Domain, minInterval time.Duration, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{
		engine:   engine,
		pool:     pool,
		verifier: transaction.NewVerifier(domain),
		clock:    engine.clock,
		log:      log,
		interval: minInterval,
		nonces:   make(map[common.Address]uint64),
	}
}

// RestoreNonces loads the persisted nonces from ns and writes every nonce
// accepted from now on to it. Call it before Run.
func (x *Executor) RestoreNonces(ns NonceStore) error {
	nonces, err := ns.LoadNonces()
	if err != nil {
		return errors.Wrap(err, "load nonces")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for addr, n := range nonces {
		if n > x.nonces[addr] {
			x.nonces[addr] = n
		}
	}
	x.nonceStore = ns
	x.log.Infow("nonces_restored", "callers", len(nonces))
	return nil
}

// Run applies queued transactions until ctx is cancelled.
func (x *Executor) Run(ctx context.Context) error {
	x.log.Infow("executor_started", "min_batch_interval", x.interval.String())
	for {
		select {
		case <-ctx.Done():
			x.log.Infow("executor_stopped", "height", x.Height())
			return ctx.Err()
		case <-x.pool.Notify():
		}

		for x.pool.Len() > 0 {
			x.applyBatch(ctx)
			if x.interval > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(x.interval):
				}
			}
		}
	}
}

// Submit queues raw and waits for its result. A cancelled ctx abandons the
// wait, not the transaction.
func (x *Executor) Submit(ctx context.Context, raw []byte) (Result, error) {
	ch := make(chan Result, 1)
	x.pool.PushRaw(raw, ch)
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// View runs fn with exclusive access to the engine, for consistent reads.
func (x *Executor) View(fn func(e *Engine)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	fn(x.engine)
}

// Nonce returns the last nonce accepted from addr.
func (x *Executor) Nonce(addr common.Address) uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.nonces[addr]
}

// Pending is the number of queued, unapplied transactions.
func (x *Executor) Pending() int { return x.pool.Len() }

func (x *Executor) Height() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.height
}

func (x *Executor) applyBatch(ctx context.Context) {
	txs := x.pool.Select(0)
	if len(txs) == 0 {
		return
	}

	x.mu.Lock()
	x.height++
	height := x.height
	failed := 0
	results := make([]Result, len(txs))
	for i, tx := range txs {
		results[i] = x.apply(ctx, tx.Bytes)
		results[i].Height = height
		if results[i].Err != nil {
			failed++
		}
	}
	root := x.engine.StateRoot()
	x.mu.Unlock()

	x.log.Infow("batch_applied",
		"height", height,
		"txs", len(txs),
		"failed", failed,
		"state_root", root.Hex(),
	)
	for i, tx := range txs {
		if ch, ok := tx.Meta.(chan Result); ok {
			ch <- results[i]
		}
	}
}

// apply decodes, authenticates and executes one transaction. The caller must
// hold x.mu.
func (x *Executor) apply(ctx context.Context, raw []byte) Result {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return Result{Err: errors.Mark(err, errs.ErrInvalidArgument)}
	}
	res := Result{Type: tx.Type}

	action, err := x.verifier.Verify(tx)
	if err != nil {
		res.Err = errors.Mark(err, errs.ErrBadSignature)
		return res
	}
	res.Caller = action.Caller

	if d := action.Deadline; d.Sign() > 0 && d.IsInt64() && x.clock.Now().Unix() > d.Int64() {
		res.Err = errors.Wrapf(errs.ErrDeadlineExceeded, "deadline %s", d)
		return res
	}
	if !action.Nonce.IsUint64() || action.Nonce.Uint64() <= x.nonces[action.Caller] {
		res.Err = errors.Wrapf(errs.ErrStaleNonce, "nonce %s, last accepted %d", action.Nonce, x.nonces[action.Caller])
		return res
	}
	// consumed even if the operation fails, so a rejected request cannot be replayed.
	// Persisted before the engine runs; a crash in between drops the request.
	n := action.Nonce.Uint64()
	if x.nonceStore != nil {
		err := x.nonceStore.Commit(storage.ChangeSet{Nonces: map[common.Address]uint64{action.Caller: n}})
		if err != nil {
			res.Err = errors.Wrap(err, "persist nonce")
			return res
		}
	}
	x.nonces[action.Caller] = n

	res.Expired, res.Receipt, res.Err = x.dispatch(ctx, action)
	return res
}

func (x *Executor) dispatch(ctx context.Context, a *crypto.MarketActionEIP712) (bool, *settlement.Receipt, error) {
	e := x.engine
	switch transaction.TxType(a.Action) {
	case transaction.TxCreateSellOffer:
		req, err := createRequest(a)
		if err != nil {
			return false, nil, err
		}
		return false, nil, e.CreateSellOffer(ctx, a.Caller, req)

	case transaction.TxDeleteSellOffer:
		id, err := assetID(a.AssetID)
		if err != nil {
			return false, nil, err
		}
		return false, nil, e.DeleteSellOffer(ctx, a.Caller, id)

	case transaction.TxBuyOffer:
		id, err := assetID(a.AssetID)
		if err != nil {
			return false, nil, err
		}
		var tendered *big.Int
		if a.Value.Sign() > 0 {
			tendered = a.Value
		}
		res, err := e.BuyOffer(ctx, a.Caller, id, a.Rail, tendered)
		return res.Expired, res.Receipt, err

	case transaction.TxSetFeeRecipient:
		return false, nil, e.SetFeeRecipient(ctx, a.Caller, a.Target)

	case transaction.TxSetFeeRate:
		if !a.FeeBps.IsUint64() || a.FeeBps.Uint64() > 1<<32-1 {
			return false, nil, errors.Wrapf(errs.ErrInvalidArgument, "fee rate %s", a.FeeBps)
		}
		return false, nil, e.SetFeeRate(ctx, a.Caller, uint32(a.FeeBps.Uint64()))

	case transaction.TxTransferOwnership:
		return false, nil, e.TransferOwnership(ctx, a.Caller, a.Target)
	}
	return false, nil, errors.Wrapf(errs.ErrInvalidArgument, "unsupported action %q", a.Action)
}

func createRequest(a *crypto.MarketActionEIP712) (CreateRequest, error) {
	id, err := assetID(a.AssetID)
	if err != nil {
		return CreateRequest{}, err
	}
	if !a.Quantity.IsUint64() || !a.ReferencePrice.IsUint64() {
		return CreateRequest{}, errors.Wrap(errs.ErrInvalidArgument, "quantity and reference price must fit in 64 bits")
	}
	return CreateRequest{
		Seller:         a.Target,
		AssetContract:  a.AssetContract,
		AssetID:        id,
		Quantity:       a.Quantity.Uint64(),
		Kind:           offer.AssetKind(a.Kind),
		ReferencePrice: a.ReferencePrice.Uint64(),
	}, nil
}

func assetID(b *big.Int) (uint256.Int, error) {
	id, overflow := uint256.FromBig(b)
	if overflow {
		return uint256.Int{}, errors.Wrapf(errs.ErrInvalidArgument, "asset id %s exceeds 256 bits", b)
	}
	return *id, nil
}
