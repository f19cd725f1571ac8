//go:build wireinject
// +build wireinject

package di

import (
	"copperwatch/pkg/config"
	"copperwatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients (nil when disabled in config)
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvidePageCache,

		// Repositories
		ProvideSnapshotStore,
		ProvidePublisher,

		// Use cases
		ProvideStaticExport,
		ProvideBundleBuilder,
		ProvideWarrantAggregator,

		// HTTP surface and application server
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
