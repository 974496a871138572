package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Timeout bounds one scheduled digest run.
const Timeout = time.Minute

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Scheduler runs a Digest on a cron spec with a seconds field, e.g. "0 0 9 * * *".
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	logger zerolog.Logger
}

// NewScheduler parses spec and registers the digest job. Runs never overlap.
func NewScheduler(ctx context.Context, spec string, digest *Digest, logger zerolog.Logger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty digest cron spec")
	}

	logger = logger.With().Str("component", "digest_cron").Logger()
	clog := cronLogger{logger: logger}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, Timeout)
		defer cancel()
		if err := digest.Send(runCtx); err != nil {
			logger.Error().Err(err).Msg("digest run failed")
			return
		}
		logger.Info().Msg("digest sent")
	})
	if err != nil {
		return nil, fmt.Errorf("parse digest cron %q: %w", spec, err)
	}

	return &Scheduler{cron: c, spec: spec, logger: logger}, nil
}

// Run starts the cron and blocks until ctx is done, then waits for a running digest to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Msg("digest schedule started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}
