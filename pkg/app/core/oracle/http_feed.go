package oracle

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"

	"github.com/uhyunpark/escrowmarket/pkg/util"
)

type HTTPFeedConfig struct {
	URL        string
	AnswerPath string // gjson path to the decimal USD price, e.g. "ethereum.usd"
	TimePath   string // optional gjson path to a unix-seconds update time
	Decimals   uint8
	Timeout    time.Duration
	MaxRetries uint64
}

// HTTPFeed polls a JSON price endpoint on every read.
type HTTPFeed struct {
	cfg    HTTPFeedConfig
	client *http.Client
	clock  util.Clock
}

func NewHTTPFeed(cfg HTTPFeedConfig, clock util.Clock) *HTTPFeed {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &HTTPFeed{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, clock: clock}
}

func (f *HTTPFeed) Decimals() uint8 { return f.cfg.Decimals }

func (f *HTTPFeed) LatestRoundData(ctx context.Context) (Round, error) {
	body, err := f.fetch(ctx)
	if err != nil {
		return Round{}, err
	}

	res := gjson.GetBytes(body, f.cfg.AnswerPath)
	if !res.Exists() {
		return Round{}, errors.Newf("feed %s: path %q not found", f.cfg.URL, f.cfg.AnswerPath)
	}
	answer, err := scaleDecimal(res.String(), f.cfg.Decimals)
	if err != nil {
		return Round{}, errors.Wrapf(err, "feed %s", f.cfg.URL)
	}

	updated := f.clock.Now()
	if f.cfg.TimePath != "" {
		if ts := gjson.GetBytes(body, f.cfg.TimePath); ts.Exists() {
			updated = time.Unix(ts.Int(), 0)
		}
	}
	return Round{Answer: answer, UpdatedAt: updated}, nil
}

func (f *HTTPFeed) fetch(ctx context.Context) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return errors.Newf("feed %s: status %d", f.cfg.URL, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(errors.Newf("feed %s: status %d", f.cfg.URL, resp.StatusCode))
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = f.cfg.Timeout

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, f.cfg.MaxRetries), ctx)); err != nil {
		return nil, errors.Wrapf(err, "fetch %s", f.cfg.URL)
	}
	return body, nil
}

// scaleDecimal turns "1834.52" into 183452000000 for 8 decimals, truncating
// any precision beyond the requested scale.
func scaleDecimal(s string, decimals uint8) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, errors.Newf("invalid decimal %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(pow10(decimals)))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}
