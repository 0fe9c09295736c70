//go:build wireinject
// +build wireinject

package di

import (
	"CoinAlarm/pkg/config"
	"CoinAlarm/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires every dependency and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogSink,
		ProvideLogger,
		ProvideMetrics,

		// Engine
		ProvideSnapshotStore,
		ProvideRollingWindowCalculator,
		ProvideEvaluator,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedis,
		ProvideClickHouseClient,

		// Repositories
		ProvidePushHub,
		ProvideResultPublisher,
		ProvideFavoriteStorage,
		ProvideMarketCapCache,
		ProvideAlarmStorage,
		ProvideAlarmPipeline,

		// Exchanges
		ProvideUpbitConnector,
		ProvideRelayConnector,
		ProvideConnectors,

		// Use cases
		ProvideOrchestrator,
		ProvideBroadcaster,

		// HTTP
		ProvideRateLimiter,
		ProvideHTTPServer,

		wire.Struct(new(server.Components), "*"),
		ProvideApp,
	)
	return &server.App{}, nil
}
