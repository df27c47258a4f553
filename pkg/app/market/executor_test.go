package market

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/access"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowmarket/pkg/crypto"
	"github.com/uhyunpark/escrowmarket/pkg/storage"
)

type execHarness struct {
	*fixture
	x      *Executor
	pool   *mempool.Mempool
	domain crypto.EIP712Domain
	admin  *crypto.Signer
	seller *crypto.Signer
	buyer  *crypto.Signer
}

func newExecHarness(t *testing.T) *execHarness {
	t.Helper()
	admin, _ := crypto.GenerateKey()
	sellerKey, _ := crypto.GenerateKey()
	buyerKey, _ := crypto.GenerateKey()
	return newExecHarnessWith(t, nil, admin, sellerKey, buyerKey)
}

func newExecHarnessWith(t *testing.T, store Persister, admin, sellerKey, buyerKey *crypto.Signer) *execHarness {
	t.Helper()
	f := newFixtureOwnedBy(t, store, admin.Address(), access.FeeConfig{Recipient: treasury, RateBps: 100})
	h := &execHarness{
		fixture: f,
		pool:    mempool.NewMempool(),
		domain:  crypto.DefaultDomain(self),
		admin:   admin,
		seller:  sellerKey,
		buyer:   buyerKey,
	}
	h.x = NewExecutor(f.engine, h.pool, h.domain, 0, nil)
	return h
}

// start runs the executor until the returned stop func or test cleanup.
func (h *execHarness) start(t *testing.T) func() {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.x.Run(runCtx)
		close(done)
	}()
	stop := sync.OnceFunc(func() {
		cancel()
		<-done
	})
	t.Cleanup(stop)
	return stop
}

func (h *execHarness) sign(t *testing.T, s *crypto.Signer, typ transaction.TxType, p transaction.ActionPayload) []byte {
	t.Helper()
	p.Caller = s.Address().Hex()
	if p.Deadline == "" {
		p.Deadline = strconv.FormatInt(h.clock.Now().Add(time.Hour).Unix(), 10)
	}
	tx := &transaction.SignedTransaction{Type: typ, Action: &p}
	if err := transaction.NewVerifier(h.domain).Sign(s, tx); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return raw
}

func (h *execHarness) submit(t *testing.T, raw []byte) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.x.Submit(ctx, raw)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res
}

func (h *execHarness) createPayload(nonce int) transaction.ActionPayload {
	return transaction.ActionPayload{
		AssetContract:  multiAddr.Hex(),
		AssetID:        "65678",
		Quantity:       "10",
		Kind:           2,
		ReferencePrice: "15000",
		Target:         h.seller.Address().Hex(),
		Nonce:          strconv.Itoa(nonce),
	}
}

func TestExecutorCreateAndBuy(t *testing.T) {
	h := newExecHarness(t)
	h.start(t)
	h.multi.Mint(h.seller.Address(), id(65678), 10)
	h.multi.SetApprovalForAll(h.seller.Address(), self, true)
	h.bank.Credit(h.buyer.Address(), milliEth(80))

	res := h.submit(t, h.sign(t, h.seller, transaction.TxCreateSellOffer, h.createPayload(1)))
	if !res.OK() || res.Caller != h.seller.Address() || res.Type != transaction.TxCreateSellOffer {
		t.Fatalf("create result = %+v", res)
	}

	res = h.submit(t, h.sign(t, h.buyer, transaction.TxBuyOffer, transaction.ActionPayload{
		AssetID: "65678",
		Rail:    "eth",
		Value:   milliEth(80).String(),
		Nonce:   "1",
	}))
	if !res.OK() || res.Receipt == nil {
		t.Fatalf("buy result = %+v (%v)", res, res.Err)
	}
	if res.Receipt.Refund.Cmp(milliEth(5)) != 0 {
		t.Errorf("refund = %s, want %s", res.Receipt.Refund, milliEth(5))
	}
	if h.multi.BalanceOf(h.buyer.Address(), id(65678)) != 10 {
		t.Errorf("asset not delivered to buyer")
	}
	if h.x.Nonce(h.buyer.Address()) != 1 || h.x.Height() < 2 {
		t.Errorf("nonce = %d, height = %d", h.x.Nonce(h.buyer.Address()), h.x.Height())
	}

	var count int
	h.x.View(func(e *Engine) { count = e.OfferCount() })
	if count != 0 {
		t.Errorf("offer count = %d after purchase", count)
	}
}

func TestExecutorRejectsBadEnvelopes(t *testing.T) {
	h := newExecHarness(t)
	h.start(t)
	h.multi.Mint(h.seller.Address(), id(65678), 10)
	h.multi.SetApprovalForAll(h.seller.Address(), self, true)

	raw := h.sign(t, h.seller, transaction.TxCreateSellOffer, h.createPayload(5))
	if res := h.submit(t, raw); !res.OK() {
		t.Fatalf("create: %v", res.Err)
	}

	del := h.createPayload(6)
	del.Deadline = strconv.FormatInt(h.clock.Now().Add(-time.Second).Unix(), 10)
	tampered := h.sign(t, h.seller, transaction.TxDeleteSellOffer, h.createPayload(7))
	tampered = []byte(string(tampered[:len(tampered)-3]) + "00\"}")

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"replayed request", raw, errs.ErrStaleNonce},
		{"lower nonce", h.sign(t, h.seller, transaction.TxDeleteSellOffer, h.createPayload(4)), errs.ErrStaleNonce},
		{"deadline passed", h.sign(t, h.seller, transaction.TxDeleteSellOffer, del), errs.ErrDeadlineExceeded},
		{"tampered signature", tampered, errs.ErrBadSignature},
		{"malformed json", []byte(`{"type":`), errs.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.submit(t, tt.raw)
			if !errors.Is(res.Err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, res.Err)
			}
		})
	}
	if h.engine.CheckSeller(id(65678)) != h.seller.Address() {
		t.Error("rejected requests must leave the offer in place")
	}
}

func TestExecutorAppliesDeleteBeforeBuy(t *testing.T) {
	h := newExecHarness(t)
	h.multi.Mint(h.seller.Address(), id(65678), 10)
	h.multi.SetApprovalForAll(h.seller.Address(), self, true)
	h.bank.Credit(h.buyer.Address(), milliEth(100))
	if err := h.engine.CreateSellOffer(ctx, h.seller.Address(), CreateRequest{
		Seller: h.seller.Address(), AssetContract: multiAddr, AssetID: id(65678),
		Quantity: 10, Kind: 2, ReferencePrice: 15000,
	}); err != nil {
		t.Fatalf("CreateSellOffer: %v", err)
	}

	buyCh := make(chan Result, 1)
	delCh := make(chan Result, 1)
	h.pool.PushRaw(h.sign(t, h.buyer, transaction.TxBuyOffer, transaction.ActionPayload{
		AssetID: "65678", Rail: "eth", Value: milliEth(100).String(), Nonce: "1",
	}), buyCh)
	h.pool.PushRaw(h.sign(t, h.seller, transaction.TxDeleteSellOffer, transaction.ActionPayload{
		AssetID: "65678", Nonce: "1",
	}), delCh)
	h.start(t)

	del, buy := <-delCh, <-buyCh
	if !del.OK() {
		t.Fatalf("delete: %v", del.Err)
	}
	if !errors.Is(buy.Err, errs.ErrOfferNotFound) {
		t.Fatalf("buy after delete: expected ErrOfferNotFound, got %v", buy.Err)
	}
	if del.Height != buy.Height {
		t.Errorf("both txs should land in one batch: %d vs %d", del.Height, buy.Height)
	}
	if h.bank.BalanceOf(h.buyer.Address()).Cmp(milliEth(100)) != 0 {
		t.Errorf("buyer was charged for a withdrawn offer")
	}
}

func TestExecutorAdminActions(t *testing.T) {
	h := newExecHarness(t)
	h.start(t)

	res := h.submit(t, h.sign(t, h.seller, transaction.TxSetFeeRate, transaction.ActionPayload{FeeBps: "500", Nonce: "1"}))
	var unauth *errs.UnauthorizedError
	if !errors.As(res.Err, &unauth) || unauth.Action != "set_fee_rate" {
		t.Fatalf("expected unauthorized set_fee_rate, got %v", res.Err)
	}

	res = h.submit(t, h.sign(t, h.admin, transaction.TxSetFeeRate, transaction.ActionPayload{FeeBps: "500", Nonce: "1"}))
	if !res.OK() || h.engine.Fee().RateBps != 500 {
		t.Fatalf("set_fee_rate: %v, fee = %+v", res.Err, h.engine.Fee())
	}

	next := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	res = h.submit(t, h.sign(t, h.admin, transaction.TxTransferOwnership, transaction.ActionPayload{Target: next.Hex(), Nonce: "2"}))
	if !res.OK() || h.engine.Owner() != next {
		t.Fatalf("transfer_ownership: %v, owner = %s", res.Err, h.engine.Owner().Hex())
	}

	res = h.submit(t, h.sign(t, h.admin, transaction.TxSetFeeRecipient, transaction.ActionPayload{Target: next.Hex(), Nonce: "3"}))
	if !errors.Is(res.Err, errs.ErrUnauthorized) {
		t.Fatalf("former owner should be refused, got %v", res.Err)
	}
	if res.Code() != "unauthorized" {
		t.Errorf("code = %s", res.Code())
	}
}

func TestExecutorNoncesSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market")
	store, err := storage.NewPebbleStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	admin, _ := crypto.GenerateKey()
	sellerKey, _ := crypto.GenerateKey()
	buyerKey, _ := crypto.GenerateKey()

	h := newExecHarnessWith(t, store, admin, sellerKey, buyerKey)
	if err := h.x.RestoreNonces(store); err != nil {
		t.Fatalf("RestoreNonces: %v", err)
	}
	stop := h.start(t)
	h.multi.Mint(sellerKey.Address(), id(65678), 10)
	h.multi.SetApprovalForAll(sellerKey.Address(), self, true)

	create := h.sign(t, sellerKey, transaction.TxCreateSellOffer, h.createPayload(7))
	if res := h.submit(t, create); !res.OK() {
		t.Fatalf("create: %v", res.Err)
	}
	del := h.sign(t, sellerKey, transaction.TxDeleteSellOffer, transaction.ActionPayload{AssetID: "65678", Nonce: "8"})
	if res := h.submit(t, del); !res.OK() {
		t.Fatalf("delete: %v", res.Err)
	}
	// rejected by the engine, but the nonce is still spent
	raise := h.sign(t, buyerKey, transaction.TxSetFeeRate, transaction.ActionPayload{FeeBps: "9000", Nonce: "3"})
	if res := h.submit(t, raise); !errors.Is(res.Err, errs.ErrUnauthorized) {
		t.Fatalf("fee change by non-owner: %v", res.Err)
	}
	stop()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = storage.NewPebbleStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := newExecHarnessWith(t, store, admin, sellerKey, buyerKey)
	if err := r.x.RestoreNonces(store); err != nil {
		t.Fatalf("RestoreNonces after restart: %v", err)
	}
	r.start(t)
	if r.x.Nonce(sellerKey.Address()) != 8 || r.x.Nonce(buyerKey.Address()) != 3 {
		t.Fatalf("restored nonces = %d, %d; want 8, 3", r.x.Nonce(sellerKey.Address()), r.x.Nonce(buyerKey.Address()))
	}
	r.multi.Mint(sellerKey.Address(), id(65678), 10)
	r.multi.SetApprovalForAll(sellerKey.Address(), self, true)

	for name, raw := range map[string][]byte{"create": create, "delete": del, "fee": raise} {
		if res := r.submit(t, raw); !errors.Is(res.Err, errs.ErrStaleNonce) {
			t.Errorf("replayed %s after restart: got %v, want ErrStaleNonce", name, res.Err)
		}
	}
	if r.engine.CheckSeller(id(65678)) != (common.Address{}) {
		t.Error("replayed create listed the asset again")
	}

	if res := r.submit(t, r.sign(t, sellerKey, transaction.TxCreateSellOffer, r.createPayload(9))); !res.OK() {
		t.Errorf("fresh nonce after restart rejected: %v", res.Err)
	}
}
