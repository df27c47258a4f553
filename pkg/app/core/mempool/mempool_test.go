package mempool

import (
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected Class
	}{
		{"fee rate", `{"type":"set_fee_rate","action":{"feeBps":"50"},"signature":"0x1"}`, ClassAdmin},
		{"ownership", `{"type":"transfer_ownership"}`, ClassAdmin},
		{"delete", `{"type":"delete_sell_offer","action":{"assetId":"1"}}`, ClassDelete},
		{"create", `{"type":"create_sell_offer"}`, ClassCreate},
		{"buy", `{"type":"buy_offer"}`, ClassBuy},
		{"invalid JSON defaults to buy", `{"invalid": "json"`, ClassBuy},
		{"non-JSON defaults to buy", "UNKNOWN:foo", ClassBuy},
		{"empty transaction", "", ClassBuy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRaw([]byte(tt.tx))
			if got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool()

	buy1 := `{"type":"buy_offer","n":1}`
	create := `{"type":"create_sell_offer"}`
	buy2 := `{"type":"buy_offer","n":2}`
	del := `{"type":"delete_sell_offer"}`
	admin := `{"type":"set_fee_recipient"}`

	for i, raw := range []string{buy1, create, buy2, del, admin} {
		m.PushRaw([]byte(raw), i)
	}
	if m.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", m.Len())
	}

	got := m.Select(0)
	want := []string{admin, del, create, buy1, buy2}
	if len(got) != len(want) {
		t.Fatalf("Select returned %d txs, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i].Bytes) != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i].Bytes, want[i])
		}
	}
	if got[3].Meta.(int) != 0 || got[4].Meta.(int) != 2 {
		t.Errorf("meta did not travel with txs: %v, %v", got[3].Meta, got[4].Meta)
	}
	if m.Len() != 0 {
		t.Errorf("mempool should be empty, has %d", m.Len())
	}
}

func TestMempool_SelectLimit(t *testing.T) {
	m := NewMempool()
	for i := 0; i < 3; i++ {
		m.Push(Tx{Class: ClassBuy, Bytes: []byte{byte(i)}})
	}
	m.Push(Tx{Class: ClassAdmin, Bytes: []byte{9}})

	first := m.Select(2)
	if len(first) != 2 || first[0].Bytes[0] != 9 || first[1].Bytes[0] != 0 {
		t.Fatalf("first batch = %+v", first)
	}
	rest := m.Select(0)
	if len(rest) != 2 || rest[0].Bytes[0] != 1 || rest[1].Bytes[0] != 2 {
		t.Fatalf("rest = %+v", rest)
	}
}

func TestMempool_PushCopiesAndNotifies(t *testing.T) {
	m := NewMempool()
	b := []byte(`{"type":"buy_offer"}`)
	m.PushRaw(b, nil)
	b[0] = 'X'

	select {
	case <-m.Notify():
	default:
		t.Fatal("expected notification after push")
	}
	got := m.Select(0)
	if got[0].Bytes[0] != '{' {
		t.Error("mempool must keep its own copy of the bytes")
	}
}
