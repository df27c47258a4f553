package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/uhyunpark/escrowmarket/pkg/util"
)

// StaticFeed serves a fixed answer. With a clock and no explicit update time
// it reports every read as fresh.
type StaticFeed struct {
	mu        sync.RWMutex
	answer    *big.Int
	decimals  uint8
	updatedAt time.Time
	clock     util.Clock
	err       error
}

func NewStaticFeed(answer int64, decimals uint8, clock util.Clock) *StaticFeed {
	return &StaticFeed{answer: big.NewInt(answer), decimals: decimals, clock: clock}
}

func (f *StaticFeed) Decimals() uint8 { return f.decimals }

func (f *StaticFeed) LatestRoundData(context.Context) (Round, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return Round{}, f.err
	}
	updated := f.updatedAt
	if updated.IsZero() && f.clock != nil {
		updated = f.clock.Now()
	}
	return Round{Answer: new(big.Int).Set(f.answer), UpdatedAt: updated}, nil
}

// Set publishes a new answer as of at.
func (f *StaticFeed) Set(answer *big.Int, at time.Time) {
	f.mu.Lock()
	f.answer = new(big.Int).Set(answer)
	f.updatedAt = at
	f.mu.Unlock()
}

// Fail makes every read return err until called again with nil.
func (f *StaticFeed) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}
