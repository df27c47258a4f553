package params

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Market struct {
	Address      common.Address // escrow principal on every ledger
	Owner        common.Address
	FeeRecipient common.Address
	FeeBps       uint32
	OfferTTL     time.Duration
	ChainID      int64 // EIP-712 domain chain id
}

type Oracle struct {
	MaxStaleness time.Duration
	// FeedURLs maps a rail id (lowercase) to an HTTP price endpoint. Rails
	// without an entry use the devnet static feed.
	FeedURLs map[string]string
	// AnswerPaths maps a rail id to the gjson path of the USD price.
	AnswerPaths map[string]string
}

type Node struct {
	DBPath    string // empty keeps state in memory
	APIAddr   string
	LogFile   string
	LogLevel  string // debug, info, warn, error
	TxLogFile string
	// MinBatchInterval spaces executor batches. Devnet uses 0: every request
	// is applied as soon as it arrives.
	MinBatchInterval time.Duration
	CORSOrigins      []string
	// DevnetAccounts are funded and pre-approve the market on startup.
	DevnetAccounts []common.Address
}

type Config struct {
	Market Market
	Oracle Oracle
	Node   Node
}

// Devnet principals. DevnetOwnerKey is a publicly known test key; never use
// it outside a local devnet.
const DevnetOwnerKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	DevnetMarket = common.HexToAddress("0x000000000000000000000000000000000000e5c0")
	DevnetOwner  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func Default() Config {
	return Config{
		Market: Market{
			Address:      DevnetMarket,
			Owner:        DevnetOwner,
			FeeRecipient: DevnetOwner,
			FeeBps:       100,
			OfferTTL:     72 * time.Hour,
			ChainID:      1337,
		},
		Oracle: Oracle{
			MaxStaleness: time.Hour,
			FeedURLs:     map[string]string{},
			AnswerPaths:  map[string]string{},
		},
		Node: Node{
			DBPath:      "data/market.db",
			APIAddr:     ":8080",
			LogLevel:    "info",
			TxLogFile:   "data/transactions.log",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var err error
	if cfg.Market.Address, err = envAddress("MARKET_ADDRESS", cfg.Market.Address); err != nil {
		return cfg, err
	}
	if cfg.Market.Owner, err = envAddress("MARKET_OWNER", cfg.Market.Owner); err != nil {
		return cfg, err
	}
	if cfg.Market.FeeRecipient, err = envAddress("MARKET_FEE_RECIPIENT", cfg.Market.FeeRecipient); err != nil {
		return cfg, err
	}
	if v := os.Getenv("MARKET_FEE_BPS"); v != "" {
		bps, err := strconv.ParseUint(v, 10, 32)
		if err != nil || bps > 10000 {
			return cfg, fmt.Errorf("MARKET_FEE_BPS must be 0..10000, got %q", v)
		}
		cfg.Market.FeeBps = uint32(bps)
	}
	if cfg.Market.OfferTTL, err = envDuration("MARKET_OFFER_TTL", cfg.Market.OfferTTL); err != nil {
		return cfg, err
	}
	if cfg.Market.OfferTTL <= 0 {
		return cfg, fmt.Errorf("MARKET_OFFER_TTL must be positive")
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid CHAIN_ID %q: %w", v, err)
		}
		cfg.Market.ChainID = id
	}

	if cfg.Oracle.MaxStaleness, err = envDuration("ORACLE_MAX_STALENESS", cfg.Oracle.MaxStaleness); err != nil {
		return cfg, err
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		switch {
		case strings.HasPrefix(k, "FEED_URL_") && v != "":
			cfg.Oracle.FeedURLs[strings.ToLower(strings.TrimPrefix(k, "FEED_URL_"))] = v
		case strings.HasPrefix(k, "FEED_PATH_") && v != "":
			cfg.Oracle.AnswerPaths[strings.ToLower(strings.TrimPrefix(k, "FEED_PATH_"))] = v
		}
	}

	cfg.Node.DBPath = getEnv("DB_PATH", cfg.Node.DBPath)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.TxLogFile = getEnv("TX_LOG_FILE", cfg.Node.TxLogFile)
	if v := os.Getenv("MIN_BATCH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return cfg, fmt.Errorf("invalid MIN_BATCH_INTERVAL_MS %q", v)
		}
		cfg.Node.MinBatchInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("DEVNET_ACCOUNTS"); v != "" {
		for _, s := range splitList(v) {
			if !common.IsHexAddress(s) {
				return cfg, fmt.Errorf("DEVNET_ACCOUNTS: invalid address %q", s)
			}
			cfg.Node.DevnetAccounts = append(cfg.Node.DevnetAccounts, common.HexToAddress(s))
		}
	}

	return cfg, nil
}

// FeedRails returns the rail ids that have an HTTP feed configured, sorted.
func (o Oracle) FeedRails() []string {
	out := make([]string, 0, len(o.FeedURLs))
	for id := range o.FeedURLs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envAddress(key string, def common.Address) (common.Address, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if !common.IsHexAddress(v) {
		return def, fmt.Errorf("%s: invalid address %q", key, v)
	}
	return common.HexToAddress(v), nil
}

// envDuration accepts Go durations ("72h") or plain seconds ("259200").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
