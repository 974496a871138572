package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/alerting"
	"ratewatch/internal/config"
	"ratewatch/internal/fetcher"
	"ratewatch/internal/report"
	"ratewatch/internal/scheduler"
	"ratewatch/internal/service"
	"ratewatch/internal/storage"
	"ratewatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) newFetcher() *fetcher.Client {
	return fetcher.NewClient(fetcher.Options{
		URL:       a.Config.Feed.URL,
		Source:    a.Config.Feed.Source,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)
}

// newNotifiers builds every enabled channel, keyed by name.
func (a *App) newNotifiers() map[string]alerting.Notifier {
	registry := make(map[string]alerting.Notifier)

	if a.Config.Alerting.Console.Enabled {
		console := alerting.NewConsoleNotifier(a.Logger, nil)
		registry[console.Name()] = console
	}

	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		telegram := alerting.NewTelegramNotifier(
			alerting.LayeredCredentials(cfg.BotToken, cfg.ChatID, cfg.EnvFile),
			cfg.APIBase,
			cfg.Timeout,
			a.Logger,
		)
		registry[telegram.Name()] = telegram
	}

	return registry
}

// newEngine builds the rule engine and registers the seed rules, if any.
func (a *App) newEngine(registry map[string]alerting.Notifier) (*alerting.Engine, error) {
	engine := alerting.NewEngine(a.Config.Alerting.Currency, a.Logger)

	path := strings.TrimSpace(a.Config.Alerting.RulesFile)
	if path == "" {
		return engine, nil
	}

	seeds, err := alerting.LoadRulesFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := alerting.ApplySeeds(engine, seeds, registry)
	if err != nil {
		return nil, fmt.Errorf("seed rules from %s: %w", path, err)
	}
	a.Logger.Info().Str("path", path).Int("rules", len(rules)).Msg("seed rules loaded")
	return engine, nil
}

func (a *App) newDigest(ctx context.Context, store storage.SampleStore, registry map[string]alerting.Notifier) (*report.Scheduler, error) {
	spec := strings.TrimSpace(a.Config.Report.Cron)
	if spec == "" {
		return nil, nil
	}

	notifiers := make([]alerting.Notifier, 0, len(a.Config.Report.Notifiers))
	for _, name := range a.Config.Report.Notifiers {
		n, ok := registry[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("report.notifiers: unknown or disabled notifier %q", name)
		}
		notifiers = append(notifiers, n)
	}

	digest := report.NewDigest(store, a.Config.Report.Windows, a.Config.Alerting.Currency, notifiers, a.Logger)
	return report.NewScheduler(ctx, spec, digest, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	return storage.Open(ctx, a.Config.Database, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := a.newNotifiers()
	if len(registry) == 0 {
		a.Logger.Warn().Msg("no notifier enabled; satisfied rules will only be logged")
	}

	engine, err := a.newEngine(registry)
	if err != nil {
		return err
	}

	digest, err := a.newDigest(ctx, store, registry)
	if err != nil {
		return err
	}

	poller := service.NewPoller(a.newFetcher(), store, service.PollerOptions{
		Interval:        a.Config.Poller.Interval,
		TimeoutRatio:    a.Config.Feed.TimeoutRatio,
		AdvisoryLockKey: a.Config.Poller.AdvisoryLockKey,
	}, a.Logger)
	evaluator := service.NewEvaluator(store, engine, a.Logger)

	svc := service.New(
		service.Loop{
			Scheduler: scheduler.New(scheduler.Options{
				Name:          "poller",
				Interval:      a.Config.Poller.Interval,
				AlignToBucket: a.Config.Poller.AlignToBucket,
			}, a.Logger),
			Tick: poller.Tick,
		},
		service.Loop{
			Scheduler: scheduler.New(scheduler.Options{
				Name:         "alerts",
				Interval:     a.Config.Alerting.Interval,
				StartupDelay: a.Config.Alerting.StartupDelay,
			}, a.Logger),
			Tick: evaluator.Tick,
		},
		digest,
		a.Logger,
	)

	a.Logger.Info().
		Str("version", version.Get().Version).
		Str("driver", a.Config.Database.Driver).
		Dur("poll_interval", a.Config.Poller.Interval).
		Dur("alert_interval", a.Config.Alerting.Interval).
		Int("rules", len(engine.Rules())).
		Msg("starting monitoring service")
	if err := svc.Run(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	JSON  bool
}

// StatsOptions configure the stats command.
type StatsOptions struct {
	Windows []int
	JSON    bool
}

// RulesOptions configure the rules command.
type RulesOptions struct {
	JSON bool
}
