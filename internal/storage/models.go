package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmpty is returned when a query finds no samples (empty store or empty window).
	ErrEmpty = errors.New("storage: no samples")
	// ErrWriteFailed wraps any backend failure while appending a sample.
	ErrWriteFailed = errors.New("storage: write failed")
	// ErrUnavailable indicates the backend could not be reached or initialised.
	ErrUnavailable = errors.New("storage: backend unavailable")
	// ErrInvalidWindow rejects non-positive min/max windows.
	ErrInvalidWindow = errors.New("storage: window must be a positive number of days")
	// ErrInvalidSample rejects samples with negative prices or a zero timestamp.
	ErrInvalidSample = errors.New("storage: invalid sample")
)

// StandardWindows are the rolling windows, in days, used by the digest and the stats command.
var StandardWindows = []int{1, 7, 14, 30}

// Field selects which side of the quote a query or rule looks at.
type Field string

const (
	FieldBuy  Field = "buy"
	FieldSell Field = "sell"
)

// ParseField accepts "buy"/"sell" in any case.
func ParseField(s string) (Field, error) {
	switch Field(strings.ToLower(strings.TrimSpace(s))) {
	case FieldBuy:
		return FieldBuy, nil
	case FieldSell:
		return FieldSell, nil
	default:
		return "", fmt.Errorf("unknown field %q (want buy or sell)", s)
	}
}

// Valid reports whether f is one of the known fields.
func (f Field) Valid() bool {
	return f == FieldBuy || f == FieldSell
}

// column maps the field onto the entries table; callers must check Valid first.
func (f Field) column() string {
	if f == FieldSell {
		return "sell"
	}
	return "buy"
}

// Sample is a single immutable price observation.
type Sample struct {
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Buy       decimal.Decimal `json:"buy"`
	Sell      decimal.Decimal `json:"sell"`
}

// Value returns the price on the requested side.
func (s Sample) Value(f Field) decimal.Decimal {
	if f == FieldSell {
		return s.Sell
	}
	return s.Buy
}

// Validate checks the invariants every persisted sample must hold.
func (s Sample) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	if s.Source == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidSample)
	}
	if s.Buy.IsNegative() || s.Sell.IsNegative() {
		return fmt.Errorf("%w: negative price (buy=%s sell=%s)", ErrInvalidSample, s.Buy, s.Sell)
	}
	return nil
}
