package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrFetch matches every failure returned by a Fetcher.
var ErrFetch = errors.New("fetch failed")

// Quote is one raw buy/sell observation from the feed.
type Quote struct {
	Source string
	Buy    decimal.Decimal
	Sell   decimal.Decimal
}

// Fetcher retrieves the current quote. found is false when the feed answered
// but carried nothing for the configured source.
type Fetcher interface {
	Fetch(ctx context.Context, timeout time.Duration) (quote Quote, found bool, err error)
}

// FetchError describes a transport, status or payload failure.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFetch) hold for any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }
