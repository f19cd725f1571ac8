package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	domrepo "copperwatch/internal/domain/repository"
	pkgcache "copperwatch/pkg/cache"
	"copperwatch/pkg/config"
	xhttp "copperwatch/pkg/http"
	applogger "copperwatch/pkg/logger"
)

// App encapsulates the application lifecycle: the HTTP server plus the
// infrastructure clients that need a graceful close. Store, publisher and
// page cache are optional and may be nil when disabled in config.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	handler    xhttp.Handler
	httpServer *xhttp.Server

	store domrepo.SnapshotStore
	pub   domrepo.Publisher
	pages *pkgcache.RedisCache
}

// New creates an App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	handler xhttp.Handler,
	store domrepo.SnapshotStore,
	pub domrepo.Publisher,
	pages *pkgcache.RedisCache,
) *App {
	return &App{
		cfg:     cfg,
		log:     log,
		handler: handler,
		store:   store,
		pub:     pub,
		pages:   pages,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx := context.Background()

	if a.store != nil {
		if err := a.store.Init(ctx); err != nil {
			a.log.Error("snapshot store init error", applogger.Error(err))
			return err
		}
		a.log.Info("snapshot store ready")
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("server started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("environment", a.cfg.Environment),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops the server, then closes infrastructure clients.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("snapshot store close error", applogger.Error(err))
		}
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.pages != nil {
		if err := a.pages.Close(); err != nil {
			a.log.Warn("redis close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
