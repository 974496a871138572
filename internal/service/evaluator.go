package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/alerting"
	"ratewatch/internal/scheduler"
	"ratewatch/internal/storage"
)

// Evaluator runs the rule engine against the most recent stored sample.
type Evaluator struct {
	store  storage.SampleStore
	engine *alerting.Engine
	logger zerolog.Logger
}

// NewEvaluator wires an evaluator.
func NewEvaluator(store storage.SampleStore, engine *alerting.Engine, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		engine: engine,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// Tick evaluates every rule once.
func (e *Evaluator) Tick(ctx context.Context, bucket time.Time) error {
	logger := e.logger.With().Str("tick_id", scheduler.TickID(ctx)).Logger()

	sample, err := e.store.Latest(ctx)
	if errors.Is(err, storage.ErrEmpty) {
		logger.Info().Msg("store is empty; nothing to evaluate")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load latest sample: %w", err)
	}

	res := e.engine.Evaluate(ctx, sample)

	event := logger.Debug()
	if res.Triggered > 0 {
		event = logger.Info()
	}
	event.
		Time("sample_ts", sample.Timestamp).
		Int("triggered", res.Triggered).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("rules evaluated")
	return nil
}
