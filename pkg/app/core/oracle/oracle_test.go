package oracle

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/util"
)

var daiToken = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

func newTestAdapter(t *testing.T, clock util.Clock, eth, dai *StaticFeed) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{ReferenceDecimals: 2, MaxStaleness: time.Hour}, clock,
		Rail{ID: "eth", Kind: NativeRail, Decimals: 18, Feed: eth},
		Rail{ID: "dai", Kind: TokenRail, Decimals: 18, Token: daiToken, Feed: dai},
		Rail{ID: "usdc", Kind: TokenRail, Decimals: 6, Token: common.HexToAddress("0x01"), Peg: big.NewRat(100, 1)},
	)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a
}

func TestUnitPriceAndAmountOwed(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	eth := NewStaticFeed(200000000000, 8, clock) // 2000.00000000 USD
	dai := NewStaticFeed(100000000, 8, clock)    // 1.00000000 USD
	a := newTestAdapter(t, clock, eth, dai)
	ctx := context.Background()

	price, err := a.UnitPrice(ctx, "eth")
	if err != nil {
		t.Fatalf("UnitPrice: %v", err)
	}
	if price.Cmp(big.NewRat(200000, 1)) != 0 {
		t.Fatalf("eth unit price = %s cents, want 200000", price.RatString())
	}

	tests := []struct {
		rail  string
		cents uint64
		want  string
	}{
		{"eth", 15000, "75000000000000000"},     // 150 USD at 2000 USD/ETH = 0.075 ETH
		{"dai", 15000, "150000000000000000000"}, // 150 DAI
		{"usdc", 15000, "150000000"},            // 150 USDC, 6 decimals
		{"eth", 1, "5000000000000"},             // 0.01 USD
	}
	for _, tt := range tests {
		t.Run(tt.rail, func(t *testing.T) {
			q, err := a.Quote(ctx, tt.rail, tt.cents)
			if err != nil {
				t.Fatalf("Quote: %v", err)
			}
			if q.Amount.String() != tt.want {
				t.Errorf("amount = %s, want %s", q.Amount, tt.want)
			}
		})
	}
}

func TestAmountOwedRoundsUp(t *testing.T) {
	// 3 cents per base unit, 10 cents owed: 10/3 = 3.33 -> 4
	got := AmountOwed(10, big.NewRat(3, 1), 0)
	if got.Int64() != 4 {
		t.Errorf("AmountOwed = %s, want 4", got)
	}
	got = AmountOwed(9, big.NewRat(3, 1), 0)
	if got.Int64() != 3 {
		t.Errorf("AmountOwed = %s, want 3", got)
	}
}

func TestOracleUnavailable(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	eth := NewStaticFeed(200000000000, 8, clock)
	dai := NewStaticFeed(100000000, 8, clock)
	a := newTestAdapter(t, clock, eth, dai)
	ctx := context.Background()

	eth.Set(big.NewInt(0), clock.Now())
	if _, err := a.UnitPrice(ctx, "eth"); !errors.Is(err, errs.ErrOracleUnavailable) {
		t.Errorf("zero answer: expected ErrOracleUnavailable, got %v", err)
	}

	eth.Set(big.NewInt(200000000000), clock.Now().Add(-2*time.Hour))
	if _, err := a.UnitPrice(ctx, "eth"); !errors.Is(err, errs.ErrOracleUnavailable) {
		t.Errorf("stale answer: expected ErrOracleUnavailable, got %v", err)
	}

	dai.Fail(errors.New("rpc down"))
	if _, err := a.UnitPrice(ctx, "dai"); !errors.Is(err, errs.ErrOracleUnavailable) {
		t.Errorf("feed error: expected ErrOracleUnavailable, got %v", err)
	}

	if _, err := a.UnitPrice(ctx, "btc"); !errors.Is(err, errs.ErrUnknownRail) {
		t.Errorf("unknown rail: expected ErrUnknownRail, got %v", err)
	}
}

func TestNewAdapterRejectsBadRails(t *testing.T) {
	tests := []struct {
		name string
		rail Rail
	}{
		{"no id", Rail{Kind: NativeRail, Peg: big.NewRat(1, 1)}},
		{"no feed or peg", Rail{ID: "x", Kind: NativeRail}},
		{"token without address", Rail{ID: "x", Kind: TokenRail, Peg: big.NewRat(1, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAdapter(DefaultConfig(), nil, tt.rail); !errors.Is(err, errs.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestHTTPFeed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ethereum":{"usd":1834.52,"last_updated_at":1700000000}}`))
	}))
	defer srv.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{
		URL:        srv.URL,
		AnswerPath: "ethereum.usd",
		TimePath:   "ethereum.last_updated_at",
		Decimals:   8,
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	}, nil)

	round, err := feed.LatestRoundData(context.Background())
	if err != nil {
		t.Fatalf("LatestRoundData: %v", err)
	}
	if round.Answer.String() != "183452000000" {
		t.Errorf("answer = %s, want 183452000000", round.Answer)
	}
	if round.UpdatedAt.Unix() != 1700000000 {
		t.Errorf("updatedAt = %d", round.UpdatedAt.Unix())
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
}

func TestHTTPFeedMissingPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":1}}`))
	}))
	defer srv.Close()

	feed := NewHTTPFeed(HTTPFeedConfig{URL: srv.URL, AnswerPath: "ethereum.usd", Decimals: 8}, nil)
	if _, err := feed.LatestRoundData(context.Background()); err == nil {
		t.Error("expected error for missing path")
	}
}
