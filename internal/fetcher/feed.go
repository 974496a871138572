package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultFeedURL   = "https://criptoya.com/api/usdt/ars"
	defaultSource    = "buenbit"
	defaultUserAgent = "ratewatch/1.0"
	maxBodyBytes     = 1 << 20
)

// Options parameterise the feed client.
type Options struct {
	URL       string
	Source    string
	UserAgent string
}

// Client reads one exchange entry from a JSON object keyed by exchange name.
type Client struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
}

// NewClient constructs a feed client. Timeouts are per call, see Fetch.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	opts.URL = strings.TrimSpace(opts.URL)
	if opts.URL == "" {
		opts.URL = defaultFeedURL
	}
	opts.Source = strings.TrimSpace(opts.Source)
	if opts.Source == "" {
		opts.Source = defaultSource
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "feed_client").Str("source", opts.Source).Logger(),
		client: &http.Client{},
	}
}

// Source returns the exchange key this client reads.
func (c *Client) Source() string {
	return c.opts.Source
}

// Fetch performs a single GET bounded by timeout. It never retries.
func (c *Client) Fetch(ctx context.Context, timeout time.Duration) (Quote, bool, error) {
	if timeout <= 0 {
		return Quote{}, false, &FetchError{Op: "validate", Err: fmt.Errorf("timeout must be positive, got %s", timeout)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return Quote{}, false, &FetchError{Op: "request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, false, &FetchError{Op: "transport", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Quote{}, false, &FetchError{Op: "read body", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Quote{}, false, &FetchError{Op: "status", Status: resp.StatusCode, Err: parseHTTPError(payload)}
	}

	quote, found, err := parseQuote(payload, c.opts.Source)
	if err != nil {
		return Quote{}, false, &FetchError{Op: "decode", Status: resp.StatusCode, Err: err}
	}
	if !found {
		c.logger.Debug().Msg("feed response has no entry for source")
	}
	return quote, found, nil
}

type exchangeEntry struct {
	TotalAsk decimal.NullDecimal `json:"totalAsk"`
	TotalBid decimal.NullDecimal `json:"totalBid"`
}

func parseQuote(payload []byte, source string) (Quote, bool, error) {
	var exchanges map[string]json.RawMessage
	if err := json.Unmarshal(payload, &exchanges); err != nil {
		return Quote{}, false, err
	}

	raw, ok := exchanges[source]
	if !ok || string(raw) == "null" {
		return Quote{}, false, nil
	}

	var entry exchangeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Quote{}, false, fmt.Errorf("decode %s entry: %w", source, err)
	}
	if !entry.TotalAsk.Valid && !entry.TotalBid.Valid {
		return Quote{}, false, nil
	}
	if !entry.TotalAsk.Valid || !entry.TotalBid.Valid {
		return Quote{}, false, errors.New("entry missing totalAsk/totalBid")
	}
	if entry.TotalAsk.Decimal.IsNegative() || entry.TotalBid.Decimal.IsNegative() {
		return Quote{}, false, fmt.Errorf("negative price (totalAsk=%s totalBid=%s)", entry.TotalAsk.Decimal, entry.TotalBid.Decimal)
	}

	return Quote{
		Source: source,
		Buy:    entry.TotalAsk.Decimal,
		Sell:   entry.TotalBid.Decimal,
	}, true, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return errors.New(apiErr.Message)
		}
		if apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
	}
	if body := strings.TrimSpace(string(payload)); body != "" {
		if len(body) > 200 {
			body = body[:200]
		}
		return errors.New(body)
	}
	return errors.New("empty response body")
}

var _ Fetcher = (*Client)(nil)
