// Package oracle resolves payment rail exchange rates against the reference
// currency (USD cents) and converts reference prices into rail amounts.
package oracle

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/util"
)

type RailKind uint8

const (
	NativeRail RailKind = iota + 1
	TokenRail
)

func (k RailKind) String() string {
	switch k {
	case NativeRail:
		return "native"
	case TokenRail:
		return "token"
	default:
		return "unknown"
	}
}

// Rail is a currency a buyer can pay in. A rail without a Feed is pegged: one
// whole unit is worth Peg reference units.
type Rail struct {
	ID       string
	Kind     RailKind
	Decimals uint8
	Token    common.Address // token contract, TokenRail only
	Feed     Feed
	Peg      *big.Rat
}

// Round is the latest answer published by a feed.
type Round struct {
	Answer    *big.Int
	UpdatedAt time.Time
}

// Feed reports the price of one whole rail unit in USD, scaled by 10^Decimals.
type Feed interface {
	LatestRoundData(ctx context.Context) (Round, error)
	Decimals() uint8
}

type Config struct {
	ReferenceDecimals uint8         // 2 for cents
	MaxStaleness      time.Duration // 0 disables the staleness check
}

func DefaultConfig() Config {
	return Config{ReferenceDecimals: 2, MaxStaleness: time.Hour}
}

type Adapter struct {
	cfg   Config
	clock util.Clock
	rails map[string]Rail
}

func NewAdapter(cfg Config, clock util.Clock, rails ...Rail) (*Adapter, error) {
	if clock == nil {
		clock = util.RealClock{}
	}
	a := &Adapter{cfg: cfg, clock: clock, rails: make(map[string]Rail, len(rails))}
	for _, r := range rails {
		if err := a.addRail(r); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Adapter) addRail(r Rail) error {
	switch {
	case r.ID == "":
		return errors.Wrap(errs.ErrInvalidArgument, "rail id must be set")
	case r.Kind != NativeRail && r.Kind != TokenRail:
		return errors.Wrapf(errs.ErrInvalidArgument, "rail %s: unknown kind", r.ID)
	case r.Kind == TokenRail && r.Token == (common.Address{}):
		return errors.Wrapf(errs.ErrInvalidArgument, "rail %s: token address must be set", r.ID)
	case r.Feed == nil && (r.Peg == nil || r.Peg.Sign() <= 0):
		return errors.Wrapf(errs.ErrInvalidArgument, "rail %s: needs a feed or a positive peg", r.ID)
	}
	if _, dup := a.rails[r.ID]; dup {
		return errors.Wrapf(errs.ErrInvalidArgument, "rail %s registered twice", r.ID)
	}
	a.rails[r.ID] = r
	return nil
}

// Pegged returns the peg for a rail worth exactly one reference whole unit
// (1 USD = 10^ReferenceDecimals cents).
func (a *Adapter) Pegged() *big.Rat {
	return new(big.Rat).SetInt(pow10(a.cfg.ReferenceDecimals))
}

func (a *Adapter) Rail(id string) (Rail, error) {
	r, ok := a.rails[id]
	if !ok {
		return Rail{}, errors.Wrapf(errs.ErrUnknownRail, "rail %q", id)
	}
	return r, nil
}

// Rails returns all rails ordered by id.
func (a *Adapter) Rails() []Rail {
	out := make([]Rail, 0, len(a.rails))
	for _, r := range a.rails {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UnitPrice returns reference units per whole unit of the rail.
func (a *Adapter) UnitPrice(ctx context.Context, id string) (*big.Rat, error) {
	rail, err := a.Rail(id)
	if err != nil {
		return nil, err
	}
	if rail.Feed == nil {
		return new(big.Rat).Set(rail.Peg), nil
	}

	round, err := rail.Feed.LatestRoundData(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "rail %s", id), errs.ErrOracleUnavailable)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, errors.Wrapf(errs.ErrOracleUnavailable, "rail %s: non-positive answer %v", id, round.Answer)
	}
	if a.cfg.MaxStaleness > 0 {
		if age := a.clock.Now().Sub(round.UpdatedAt); age > a.cfg.MaxStaleness {
			return nil, errors.Wrapf(errs.ErrOracleUnavailable, "rail %s: answer is %s old", id, age)
		}
	}

	num := new(big.Int).Mul(round.Answer, pow10(a.cfg.ReferenceDecimals))
	return new(big.Rat).SetFrac(num, pow10(rail.Feed.Decimals())), nil
}

// Quote is a single rate read used for one settlement.
type Quote struct {
	Rail           Rail
	UnitPrice      *big.Rat
	ReferencePrice uint64
	Amount         *big.Int
}

func (a *Adapter) Quote(ctx context.Context, id string, referencePrice uint64) (Quote, error) {
	price, err := a.UnitPrice(ctx, id)
	if err != nil {
		return Quote{}, err
	}
	rail, _ := a.Rail(id)
	return Quote{
		Rail:           rail,
		UnitPrice:      price,
		ReferencePrice: referencePrice,
		Amount:         AmountOwed(referencePrice, price, rail.Decimals),
	}, nil
}

// AmountOwed converts a reference price into rail base units, rounding up so
// the seller never receives less than the listed price.
func AmountOwed(referencePrice uint64, unitPrice *big.Rat, decimals uint8) *big.Int {
	num := new(big.Int).SetUint64(referencePrice)
	num.Mul(num, pow10(decimals))
	num.Mul(num, unitPrice.Denom())
	return ceilDiv(num, unitPrice.Num())
}

func ceilDiv(x, y *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(x, y, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
