package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"overdue-loan-alerts/internal/alerting"
	"overdue-loan-alerts/internal/config"
	"overdue-loan-alerts/internal/dedup"
	"overdue-loan-alerts/internal/fetcher"
	"overdue-loan-alerts/internal/scheduler"
	"overdue-loan-alerts/internal/service"
	"overdue-loan-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.BidFetcher {
	return fetcher.NewGraphQL(fetcher.GraphQLOptions{
		Window:    a.Config.Query.Window,
		PageSize:  a.Config.Query.PageSize,
		Status:    a.Config.Query.Status,
		Timeout:   a.Config.Query.RequestTimeout,
		UserAgent: a.Config.Query.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Slack.Enabled {
		return nil
	}

	cfg := a.Config.Slack
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		a.Logger.Warn().Str("env", cfg.TokenEnv).Msg("slack token environment variable not set; notifications disabled")
		return nil
	}

	return alerting.NewSlackNotifier(token, cfg.Channel, cfg.APIBase, a.displayLocation(), cfg.RequestTimeout, a.Logger)
}

func (a *App) displayLocation() *time.Location {
	name := a.Config.Slack.DisplayTimezone
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		a.Logger.Warn().Err(err).Str("timezone", name).Msg("invalid display timezone; falling back to UTC")
		return time.UTC
	}
	return loc
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	if len(a.Config.Endpoints) == 0 {
		return errors.New("no endpoints configured")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert history disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	seen, err := dedup.Open(a.Config.Dedup.Path)
	if err != nil {
		return err
	}
	defer seen.Close()
	a.Logger.Info().Int("known_bids", seen.Len()).Str("path", a.Config.Dedup.Path).Msg("loaded alerted bids")

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, nil, a.Logger)

	notifier := a.newNotifier()

	var alertStore storage.AlertStore
	if store != nil {
		alertStore = store
	}

	svc := service.New(a.Config, sched, a.newFetcher(), seen, alertStore, notifier, a.Logger)

	a.Logger.Info().Int("endpoints", len(a.Config.Endpoints)).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the alert history.
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
}
