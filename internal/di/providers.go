package di

import (
	"fmt"
	"path/filepath"

	"copperwatch/internal/domain/repository"
	"copperwatch/internal/handler/api"
	internalrepo "copperwatch/internal/repository"
	"copperwatch/internal/service/alphavantage"
	"copperwatch/internal/service/bundlecache"
	"copperwatch/internal/service/csvarchive"
	"copperwatch/internal/service/fred"
	"copperwatch/internal/service/metalsdev"
	"copperwatch/internal/service/staticexport"
	"copperwatch/internal/usecase"
	pkgcache "copperwatch/pkg/cache"
	pkgch "copperwatch/pkg/clickhouse"
	"copperwatch/pkg/config"
	xhttp "copperwatch/pkg/http"
	pkgkafka "copperwatch/pkg/kafka"
	applogger "copperwatch/pkg/logger"
	"copperwatch/pkg/metrics"
	"copperwatch/pkg/server"
)

// ProvideLogger creates the application logger. Production emits JSON for
// log shippers; everything else gets the console writer.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "console"
	if cfg.IsProduction() {
		format = "json"
	}
	l, err := applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// snapshot store is disabled. Schema setup runs later via store Init.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSnapshotStore wraps the ClickHouse client in the snapshot
// repository. A nil client yields a nil store; the builder treats that as
// "no remote persistence".
func ProvideSnapshotStore(ch *pkgch.Client, log *applogger.Logger) repository.SnapshotStore {
	if ch == nil {
		return nil
	}
	store := internalrepo.NewCHSnapshotStore(ch)
	store.SetLogger(log)
	return store
}

// ProvideKafkaProducer creates a Kafka producer, or nil when eventing is
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the rebuild-event publisher repository.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config, log *applogger.Logger) repository.Publisher {
	if producer == nil {
		return nil
	}
	pub := internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
	pub.SetLogger(log)
	return pub
}

// ProvideRedisCache creates the Redis client for page caching, or nil when
// disabled.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	r, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return r, nil
}

// ProvidePageCache builds the page-cache service: layered (memory + Redis)
// when Redis is up, process-local memory otherwise. Rendered snapshot pages
// are tiny and bucket-scoped, so a local cache is a fine degraded mode.
func ProvidePageCache(r *pkgcache.RedisCache) pkgcache.Service {
	if r == nil {
		return pkgcache.NewMemoryCache()
	}
	return pkgcache.NewLayeredCache(r)
}

// ProvideStaticExport creates the reader for the published series bundle.
func ProvideStaticExport(cfg *config.Config) *staticexport.Reader {
	return staticexport.NewReader(filepath.Join(cfg.Data.Dir, staticexport.FileName))
}

// ProvideBundleBuilder assembles the snapshot build pipeline: live sources,
// archive and export readers, local caches, remote store and publisher.
func ProvideBundleBuilder(
	cfg *config.Config,
	export *staticexport.Reader,
	store repository.SnapshotStore,
	pub repository.Publisher,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.BundleBuilder {
	src := cfg.Sources
	metalsRequired := src.MetalsDev.APIKey != ""
	alphaRequired := src.AlphaVantage.APIKey != ""

	return usecase.NewBundleBuilder(usecase.BundleBuilderDeps{
		Fred:             fred.New(src.Fred.APIKey, src.Fred.BaseURL, src.Fred.Timeout, log),
		Alpha:            alphavantage.New(src.AlphaVantage.APIKey, src.AlphaVantage.BaseURL, src.AlphaVantage.Timeout, src.AlphaVantage.CallDelay, log),
		Metals:           metalsdev.New(src.MetalsDev.APIKey, src.MetalsDev.BaseURL, src.MetalsDev.Timeout, log),
		Archive:          csvarchive.NewReader(cfg.Data.Dir),
		Export:           export,
		Cache:            bundlecache.New(cfg.Data.CacheFile, metalsRequired, alphaRequired),
		LocalSnapshot:    bundlecache.New(cfg.Data.SnapshotFile, metalsRequired, alphaRequired),
		Store:            store,
		Publisher:        pub,
		Metrics:          m,
		Log:              log,
		Production:       cfg.IsProduction(),
		AllowFileFall:    cfg.Data.AllowFileFallback,
		AllowLiveRebuild: cfg.Data.AllowLiveRebuild,
	})
}

// ProvideWarrantAggregator creates the inventory dashboard aggregator.
func ProvideWarrantAggregator(cfg *config.Config, export *staticexport.Reader, log *applogger.Logger) *usecase.WarrantAggregator {
	return usecase.NewWarrantAggregator(cfg.Data.Dir, export, cfg.Data.OffWarrantCeiling, log)
}

// ProvideHTTPHandler creates the Echo handler serving the snapshot API.
func ProvideHTTPHandler(
	cfg *config.Config,
	builder *usecase.BundleBuilder,
	warrant *usecase.WarrantAggregator,
	pages pkgcache.Service,
	log *applogger.Logger,
) xhttp.Handler {
	return api.NewSnapshotEchoHandler(log, builder, warrant, pages, api.SnapshotHandlerConfig{
		RebuildToken:  cfg.Auth.RebuildToken,
		SnapshotToken: cfg.Auth.SnapshotToken,
		Production:    cfg.IsProduction(),
		PageTTL:       cfg.Redis.PageTTL,
	})
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	handler xhttp.Handler,
	store repository.SnapshotStore,
	pub repository.Publisher,
	pages *pkgcache.RedisCache,
) *server.App {
	return server.New(cfg, log, handler, store, pub, pages)
}
