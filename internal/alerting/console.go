package alerting

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// ConsoleNotifier prints alerts to the service log and, optionally, a plain writer.
type ConsoleNotifier struct {
	logger zerolog.Logger
	mu     sync.Mutex
	out    io.Writer
}

// NewConsoleNotifier builds a console channel. out may be nil.
func NewConsoleNotifier(logger zerolog.Logger, out io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{
		logger: logger.With().Str("component", "alert_console").Logger(),
		out:    out,
	}
}

// Name implements Notifier.
func (c *ConsoleNotifier) Name() string { return "console" }

// Send never fails.
func (c *ConsoleNotifier) Send(_ context.Context, message string) error {
	c.logger.Warn().Str("alert", message).Msg("告警触发")

	if c.out != nil {
		c.mu.Lock()
		_, _ = fmt.Fprintln(c.out, message)
		c.mu.Unlock()
	}
	return nil
}

var _ Notifier = (*ConsoleNotifier)(nil)
