// Package devnet assembles the in-memory ledgers and payment rails a local
// node settles against, and seeds test accounts.
package devnet

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowmarket/params"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/journal"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/ledger"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/oracle"
	"github.com/uhyunpark/escrowmarket/pkg/util"
)

// Contract addresses. Tokens reuse their mainnet addresses so signed requests
// read the same on devnet.
var (
	DAI         = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	LINK        = common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA")
	USDC        = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	MultiUnit   = common.HexToAddress("0xd07dc4262bcdbf85190c01c996b4c06a461d2430")
	UniqueAsset = common.HexToAddress("0x00000000000000000000000000000000000a55e7")
)

// Static USD prices with 8 feed decimals, used when no HTTP feed is set.
const (
	feedDecimals = 8
	ethUSD       = 2000_00000000
	daiUSD       = 1_00000000
	linkUSD      = 15_00000000
)

// Seeded amounts per devnet account.
var (
	seedEther      = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	seedTokenUnits = int64(1_000_000)
	seedAssetQty   = uint64(100)
)

type Env struct {
	Journal    *journal.Journal
	Registries *ledger.Registries
	Oracle     *oracle.Adapter
	Bank       *ledger.MemNative
	Tokens     map[string]*ledger.MemToken // by rail id
	Multi      *ledger.MemMultiUnit
	Unique     *ledger.MemUnique
}

// Build creates the ledgers and oracle rails. Rails with a FEED_URL_<RAIL>
// entry read an HTTP feed, the rest use fixed prices.
func Build(cfg params.Config, clock util.Clock, log *zap.SugaredLogger) (*Env, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	j := journal.New()
	env := &Env{
		Journal: j,
		Bank:    ledger.NewMemNative(j),
		Tokens: map[string]*ledger.MemToken{
			"dai":  ledger.NewMemToken(j),
			"link": ledger.NewMemToken(j),
			"usdc": ledger.NewMemToken(j),
		},
		Multi:  ledger.NewMemMultiUnit(j),
		Unique: ledger.NewMemUnique(j),
	}

	env.Registries = ledger.NewRegistries(env.Bank)
	env.Registries.RegisterToken(DAI, env.Tokens["dai"])
	env.Registries.RegisterToken(LINK, env.Tokens["link"])
	env.Registries.RegisterToken(USDC, env.Tokens["usdc"])
	env.Registries.RegisterMultiUnit(MultiUnit, env.Multi)
	env.Registries.RegisterUnique(UniqueAsset, env.Unique)

	ocfg := oracle.DefaultConfig()
	ocfg.MaxStaleness = cfg.Oracle.MaxStaleness

	feed := func(id string, fixed int64) oracle.Feed {
		url, ok := cfg.Oracle.FeedURLs[id]
		if !ok {
			return oracle.NewStaticFeed(fixed, feedDecimals, clock)
		}
		path := cfg.Oracle.AnswerPaths[id]
		if path == "" {
			path = "price"
		}
		log.Infow("oracle_http_feed", "rail", id, "url", url, "path", path)
		return oracle.NewHTTPFeed(oracle.HTTPFeedConfig{
			URL:        url,
			AnswerPath: path,
			Decimals:   feedDecimals,
			Timeout:    3 * time.Second,
			MaxRetries: 3,
		}, clock)
	}

	// one whole USDC is worth exactly one USD
	oneUSD := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(ocfg.ReferenceDecimals)), nil))

	adapter, err := oracle.NewAdapter(ocfg, clock,
		oracle.Rail{ID: "eth", Kind: oracle.NativeRail, Decimals: 18, Feed: feed("eth", ethUSD)},
		oracle.Rail{ID: "dai", Kind: oracle.TokenRail, Decimals: 18, Token: DAI, Feed: feed("dai", daiUSD)},
		oracle.Rail{ID: "link", Kind: oracle.TokenRail, Decimals: 18, Token: LINK, Feed: feed("link", linkUSD)},
		oracle.Rail{ID: "usdc", Kind: oracle.TokenRail, Decimals: 6, Token: USDC, Peg: oneUSD},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build oracle rails: %w", err)
	}
	env.Oracle = adapter
	return env, nil
}

// Seed funds each account on every rail, mints assets and pre-approves market
// as operator. Account i receives multi-unit id 1000+i and unique id i+1.
// Seeding is not journaled: it cannot be rolled back by a failed operation.
func (env *Env) Seed(market common.Address, accounts []common.Address) {
	for i, acct := range accounts {
		env.Bank.Credit(acct, seedEther)
		for id, tok := range env.Tokens {
			units := tokenUnits(env, id)
			tok.Mint(acct, units)
			tok.Approve(acct, market, units)
		}
		env.Multi.Mint(acct, *uint256.NewInt(uint64(1000 + i)), seedAssetQty)
		env.Multi.SetApprovalForAll(acct, market, true)

		uid := *uint256.NewInt(uint64(i + 1))
		env.Unique.Mint(acct, uid)
		_ = env.Unique.Approve(acct, market, uid)
	}
	env.Journal.Reset()
}

func tokenUnits(env *Env, railID string) *big.Int {
	rail, err := env.Oracle.Rail(railID)
	if err != nil {
		return new(big.Int)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(rail.Decimals)), nil)
	return new(big.Int).Mul(big.NewInt(seedTokenUnits), scale)
}
