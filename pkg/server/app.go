package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mid "CoinAlarm/internal/middleware"
	"CoinAlarm/internal/service/push"
	"CoinAlarm/internal/service/relay"
	"CoinAlarm/internal/usecase"
	"CoinAlarm/pkg/cache"
	pkgch "CoinAlarm/pkg/clickhouse"
	"CoinAlarm/pkg/config"
	xhttp "CoinAlarm/pkg/http"
	pkgkafka "CoinAlarm/pkg/kafka"
	"CoinAlarm/pkg/logger"
)

// Components are the long-lived parts the App starts and stops. Optional
// infrastructure is nil when disabled in config.
type Components struct {
	Orchestrator *usecase.Orchestrator
	Broadcaster  *usecase.MarketDataBroadcaster
	HTTPServer   *xhttp.Server
	Hub          *push.Hub
	Pipeline     *mid.AlarmPipeline
	Relay        *relay.Connector
	Producer     *pkgkafka.Producer
	ClickHouse   *pkgch.Client
	Redis        *cache.RedisCache
}

// App encapsulates the application lifecycle.
type App struct {
	cfg  *config.Config
	root *logger.Logger
	log  *logger.Logger
	Components

	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// New assembles the App. Orchestrator and HTTPServer are required; any
// other nil component is skipped.
func New(cfg *config.Config, log *logger.Logger, c Components) *App {
	if log == nil {
		log = logger.NewNop()
	}
	return &App{cfg: cfg, root: log, log: log.Named("app"), Components: c}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		_ = a.Shutdown()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	sig := <-sigCh

	a.log.Info("shutdown signal received", logger.String("signal", sig.String()))
	return a.Shutdown()
}

// Start launches every component and returns once they are running.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// The pipeline outlives ctx so alarms raised during shutdown are flushed.
	if a.Pipeline != nil {
		a.Pipeline.Start(context.WithoutCancel(ctx))
	}
	if err := a.Orchestrator.Start(ctx); err != nil {
		return err
	}
	if a.Broadcaster != nil {
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			a.Broadcaster.Run(ctx)
		}()
	}
	if err := a.HTTPServer.Start(); err != nil {
		return err
	}
	a.log.Info("started",
		logger.String("env", a.cfg.Environment),
		logger.Strings("exchanges", a.Orchestrator.Exchanges()),
		logger.Int("port", a.cfg.Server.Port),
	)
	return nil
}

// Shutdown stops ingestion first, then flushes and closes infrastructure.
func (a *App) Shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	note := func(what string, err error) {
		if err == nil {
			return
		}
		a.log.Warn(what+" failed", logger.Error(err))
		errs = append(errs, err)
	}

	if a.HTTPServer != nil {
		note("http shutdown", a.HTTPServer.Stop(ctx))
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Stop()
	}
	a.bg.Wait()
	if a.Relay != nil {
		note("relay close", a.Relay.Close(ctx))
	}
	if a.Pipeline != nil {
		note("alarm pipeline stop", a.Pipeline.Stop(ctx))
	}

	// Flush aggregated error logs while the producer is still open.
	a.root.DetachCollector()

	if a.Producer != nil {
		note("kafka producer close", a.Producer.Close())
	}
	if a.ClickHouse != nil {
		note("clickhouse close", a.ClickHouse.Close())
	}
	if a.Redis != nil {
		note("redis close", a.Redis.Close())
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
