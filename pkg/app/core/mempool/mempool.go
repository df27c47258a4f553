package mempool

import (
	"encoding/json"
	"sync"
)

// Class buckets marketplace transactions by execution priority.
type Class int

const (
	ClassAdmin  Class = iota // fee and ownership changes
	ClassDelete              // offer withdrawals
	ClassCreate              // new listings
	ClassBuy                 // purchases
)

func (c Class) String() string {
	switch c {
	case ClassAdmin:
		return "admin"
	case ClassDelete:
		return "delete"
	case ClassCreate:
		return "create"
	default:
		return "buy"
	}
}

// Tx is one queued transaction. Meta is opaque to the pool and travels with
// the bytes to whoever selects it.
type Tx struct {
	Class Class
	Bytes []byte
	Meta  any
}

// ClassifyRaw classifies a raw transaction by its JSON envelope type.
//
//	{"type": "set_fee_rate", ...}      -> ClassAdmin
//	{"type": "delete_sell_offer", ...} -> ClassDelete
//	{"type": "create_sell_offer", ...} -> ClassCreate
//
// Anything else, including malformed input, lands in ClassBuy and fails
// later at decode time.
func ClassifyRaw(b []byte) Class {
	if len(b) == 0 || b[0] != '{' {
		return ClassBuy
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return ClassBuy
	}
	switch env.Type {
	case "set_fee_recipient", "set_fee_rate", "transfer_ownership":
		return ClassAdmin
	case "delete_sell_offer":
		return ClassDelete
	case "create_sell_offer":
		return ClassCreate
	default:
		return ClassBuy
	}
}

// Mempool keeps one FIFO queue per class. Selection drains admin changes
// first, then withdrawals, then listings, then purchases, so a seller's
// delete that arrived alongside a buy wins.
type Mempool struct {
	mu     sync.Mutex
	queues [ClassBuy + 1][]Tx
	notify chan struct{}
}

func NewMempool() *Mempool {
	return &Mempool{notify: make(chan struct{}, 1)}
}

// Push enqueues tx under its class.
func (m *Mempool) Push(tx Tx) {
	if tx.Class < ClassAdmin || tx.Class > ClassBuy {
		tx.Class = ClassBuy
	}
	tx.Bytes = append([]byte(nil), tx.Bytes...)
	m.mu.Lock()
	m.queues[tx.Class] = append(m.queues[tx.Class], tx)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte, meta any) {
	m.Push(Tx{Class: ClassifyRaw(b), Bytes: b, Meta: meta})
}

// Notify is signalled after every push. Receivers should call Select until
// it returns nothing.
func (m *Mempool) Notify() <-chan struct{} {
	return m.notify
}

// Select removes and returns up to max txs in priority order. max <= 0
// drains the pool.
func (m *Mempool) Select(max int) []Tx {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Tx
	for c := range m.queues {
		q := m.queues[c]
		for len(q) > 0 {
			if max > 0 && len(out) >= max {
				m.queues[c] = q
				return out
			}
			out = append(out, q[0])
			q[0] = Tx{}
			q = q[1:]
		}
		m.queues[c] = q
	}
	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}
