package metrics

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"/":                              "/",
		"/health":                        "/health",
		"/api/v1/offers":                 "/api/v1/offers",
		"/api/v1/offers/65678/price/eth": "/api/v1/offers",
		"/api/v1/rates/dai":              "/api/v1/rates",
	}
	for in, want := range tests {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandlerExposesMarketCollectors(t *testing.T) {
	RecordOfferEvent("offer_created", 1)
	RecordSettlement("eth", big.NewInt(1875))
	RecordOperation("buy_offer", "insufficient_payment", time.Millisecond)

	h := InstrumentHandler(Handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"escrowmarket_offers_events_total",
		"escrowmarket_settlement_settlements_total",
		"escrowmarket_engine_rejections_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
