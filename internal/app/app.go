package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-testing/internal/alerting"
	"price-testing/internal/analytics"
	"price-testing/internal/audience"
	"price-testing/internal/config"
	"price-testing/internal/scheduler"
	"price-testing/internal/server"
	"price-testing/internal/service"
	"price-testing/internal/storage"
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

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
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

// requireStore opens the database or fails for commands that cannot work
// without it.
func (a *App) requireStore(ctx context.Context, what string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured; cannot " + what)
	}
	return store, closeStore, nil
}

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler, notifier alerting.Notifier) *service.Service {
	return service.New(service.Options{
		LockKey:  a.Config.Scheduler.AdvisoryLockKey,
		Dedup:    analytics.ParseDedupKey(a.Config.Analytics.DedupKey),
		Channels: a.Config.Alerting.Channels,
		Notify:   a.Config.Alerting.Enabled,
	}, sched, store, store, store, notifier, a.Logger)
}

func (a *App) newServer(backend server.Backend) *server.Server {
	srv := a.Config.Server
	geo := audience.NewGeoResolver(audience.GeoOptions{
		Enabled: a.Config.GeoIP.Enabled,
		BaseURL: a.Config.GeoIP.BaseURL,
		Timeout: a.Config.GeoIP.Timeout,
	}, a.Logger)

	return server.New(server.Options{
		Addr:            srv.Addr,
		Mode:            srv.Mode,
		JWTSecret:       srv.JWTSecret,
		EventRateLimit:  srv.EventRateLimit,
		EventBurst:      srv.EventBurst,
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.WriteTimeout,
		ShutdownTimeout: srv.ShutdownTimeout,
		CookieSecure:    srv.CookieSecure,
		DefaultRange:    a.Config.Analytics.DefaultRange,
	}, backend, geo, a.Logger)
}

// Run serves the storefront and admin API and, when enabled, sweeps running
// tests on the scheduler until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sched *scheduler.Scheduler
	if a.Config.Scheduler.Enabled && store != nil {
		sched = scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			RunOnStart:   true,
		}, a.Logger)
	}

	svc := a.newService(store, sched, a.newNotifier())
	srv := a.newServer(svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if sched != nil {
		g.Go(func() error {
			err := svc.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		a.Logger.Info().Msg("automation scheduler disabled")
	}

	a.Logger.Info().Str("addr", a.Config.Server.Addr).Msg("starting price testing service")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price testing service stopped")
	return nil
}

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	store, closeStore, err := a.requireStore(ctx, "migrate")
	if err != nil {
		return nil, err
	}
	defer closeStore()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return nil, err
	}
	a.Logger.Info().Strs("migrations", applied).Msg("schema applied")
	return applied, nil
}

// ExportOptions hold parameters for exporting a test report.
type ExportOptions struct {
	TestID  string
	Range   string
	PNGPath string
	CSVPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	TestID string
	Range  string
	JSON   bool
}

// SimulateOptions configure an assignment dry run.
type SimulateOptions struct {
	TestID   string
	Split    []float64
	Visitors int
}

// SeedOptions configure synthetic event generation.
type SeedOptions struct {
	TestID         string
	From           time.Time
	To             time.Time
	VisitorsPerDay int
	AddToCartRate  float64
	ConversionRate []float64
	Seed           uint64
	DryRun         bool
	Workers        int
}
