package alerting

import (
	"context"
	"errors"
)

var (
	// ErrDeliveryFailed wraps any failure to hand a message to a channel.
	ErrDeliveryFailed = errors.New("alerting: delivery failed")
	// ErrMissingCredentials is returned when a channel has no usable credentials.
	ErrMissingCredentials = errors.New("alerting: missing credentials")
	// ErrRuleNotFound is returned by operations on an unknown rule id.
	ErrRuleNotFound = errors.New("alerting: rule not found")
	// ErrInvalidRule rejects malformed rules and threshold requests.
	ErrInvalidRule = errors.New("alerting: invalid rule")
)

// Notifier 定义告警输送接口。
type Notifier interface {
	// Name identifies the channel; one rule holds a given name at most once.
	Name() string
	Send(ctx context.Context, message string) error
}
