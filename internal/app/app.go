package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"farewatch/internal/alerting"
	"farewatch/internal/config"
	"farewatch/internal/fetcher"
	"farewatch/internal/metrics"
	"farewatch/internal/runstate"
	"farewatch/internal/scheduler"
	"farewatch/internal/server"
	"farewatch/internal/service"
	"farewatch/internal/storage"
	"farewatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) newFetcher() fetcher.QuoteFetcher {
	return fetcher.NewAmadeus(fetcher.AmadeusOptions{
		BaseURL:      a.Config.Amadeus.BaseURL,
		ClientID:     a.Config.Amadeus.ClientID,
		ClientSecret: a.Config.Amadeus.ClientSecret,
		Timeout:      a.Config.Amadeus.RequestTimeout,
		MaxRetries:   a.Config.Amadeus.MaxRetries,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	channels := alerting.FromConfig(a.Config.Alerting, a.Logger)
	if len(channels) == 0 {
		return nil
	}
	return channels
}

func (a *App) openStore(ctx context.Context) (storage.ResultStore, error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("driver", a.Config.Storage.Driver).Msg("result store opened")
	return store, nil
}

func (a *App) newChecker(state *runstate.State, store storage.ResultStore, m *metrics.Metrics) *service.Checker {
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no alert channel configured; deals will only be logged")
	}
	return service.New(a.Config, state, a.newFetcher(), store, notifier, m, a.Logger)
}

func (a *App) schedulerOptions() scheduler.Options {
	return scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		PollInterval: a.Config.Scheduler.PollInterval,
	}
}

// Serve runs the HTTP surface and the configured scheduler strategy until
// the process is signalled.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	state := runstate.New(
		runstate.WithQueueSize(a.Config.Stream.QueueSize),
		runstate.WithMetrics(m),
	)
	checker := a.newChecker(state, store, m)

	sched, err := scheduler.New(a.Config.Scheduler.Mode, checker, a.schedulerOptions(), a.Logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: a.Config.HTTP.Listen,
		Handler: server.New(a.Config, server.Deps{
			State:     state,
			Scheduler: sched,
			Store:     store,
			Metrics:   m,
		}, a.Logger).Handler(),
		// Streams end with the signal context so Shutdown does not wait on them.
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: a.Config.HTTP.ReadTimeout,
		ReadTimeout:       a.Config.HTTP.ReadTimeout,
		WriteTimeout:      a.Config.HTTP.WriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.Logger.Info().
			Str("listen", srv.Addr).
			Str("mode", sched.Mode()).
			Str("version", version.Version).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		err := sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
		defer cancel()
		a.Logger.Info().Msg("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	DealsOnly bool
}
