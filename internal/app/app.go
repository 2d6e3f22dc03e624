package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/imran1337/solid-prediction/internal/artifact"
	"github.com/imran1337/solid-prediction/internal/batch"
	"github.com/imran1337/solid-prediction/internal/data/repos"
	"github.com/imran1337/solid-prediction/internal/fetcher"
	httpapi "github.com/imran1337/solid-prediction/internal/http"
	httpH "github.com/imran1337/solid-prediction/internal/http/handlers"
	"github.com/imran1337/solid-prediction/internal/indexer"
	"github.com/imran1337/solid-prediction/internal/observability"
	"github.com/imran1337/solid-prediction/internal/platform/crypt"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/redislock"
	"github.com/imran1337/solid-prediction/internal/services"
	"github.com/imran1337/solid-prediction/internal/tasks"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Repos    repos.Repos
	Packager *artifact.Packager
	Indexer  *indexer.Indexer
	Registry *tasks.Registry
	Runner   *batch.Runner
	Server   *httpapi.Server
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	clients, err := wireClients(ctx, log)
	if err != nil {
		_ = otelShutdown(ctx)
		log.Sync()
		return nil, err
	}

	a, err := wire(log, cfg, clients)
	if err != nil {
		clients.Close()
		_ = otelShutdown(ctx)
		log.Sync()
		return nil, err
	}
	a.otelShutdown = otelShutdown
	return a, nil
}

func wire(log *logger.Logger, cfg Config, clients Clients) (*App, error) {
	cipher, err := crypt.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("init metadata cipher: %w", err)
	}
	packager, err := artifact.New(log, clients.Store, cipher, artifact.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("init packager: %w", err)
	}
	vendors, err := batch.LoadVendors(cfg.VendorsFile)
	if err != nil {
		return nil, fmt.Errorf("load vendors: %w", err)
	}

	reposet := repos.New(clients.DB.DB(), log)
	f := fetcher.New(clients.Store, fetcher.ConfigFromEnv(), log)
	ix := indexer.New(log, reposet.FeatureDocuments, reposet.IndexerErrors, clients.DB, f, packager)
	registry := tasks.New(log, packager, cfg.Workers)
	metrics := observability.Init(log)
	lock := redislock.New(log, clients.Redis, cfg.LockName, cfg.LockTTL)
	runner := batch.New(log, lock, registry, ix, vendors)
	parts := services.NewPartsService(log, reposet.FeatureDocuments, reposet.IndexerErrors, clients.Store, cfg.AmountParts)

	server := httpapi.NewServer(httpapi.RouterConfig{
		Log:            log,
		Builder:        cfg.Builder,
		ServiceName:    cfg.ServiceName,
		CORSOrigins:    cfg.CORSOrigins,
		Metrics:        metrics,
		IndexerHandler: httpH.NewIndexerHandler(log, registry, ix, packager),
		BatchHandler:   httpH.NewBatchHandler(log, runner),
		PartsHandler:   httpH.NewPartsHandler(parts),
		HealthHandler:  httpH.NewHealthHandler(),
	})

	return &App{
		Log:      log,
		Cfg:      cfg,
		Clients:  clients,
		Repos:    reposet,
		Packager: packager,
		Indexer:  ix,
		Registry: registry,
		Runner:   runner,
		Server:   server,
		Metrics:  metrics,
	}, nil
}

// Rehydrate registers every archive already in the bucket as a finished task.
func (a *App) Rehydrate(ctx context.Context) (int, error) {
	ids, err := a.Packager.Existing(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if a.Registry.Seed(id, tasks.ArtifactRef{Name: artifact.ArchiveName(id)}) {
			n++
		}
	}
	a.Log.Info("Rehydrated tasks from object storage", "count", n)
	return n, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down in order: HTTP,
// batch, task pool.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	if _, err := a.Rehydrate(ctx); err != nil {
		a.Log.Warn("Rehydration failed; starting with an empty registry", "error", err)
	}
	a.Registry.Start(ctx)
	a.Metrics.StartDBCollector(a.Log, a.Clients.DB.DB())
	a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)

	addr := ":" + a.Cfg.Port
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Server listening", "addr", addr)
		errCh <- a.Server.Run(addr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Cfg.ShutdownTimeout)
	defer cancel()
	a.Log.Info("Shutting down")
	if err := a.Server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.Log.Warn("HTTP shutdown", "error", err)
	}
	a.Runner.Close()
	a.Registry.Stop()
	return runErr
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
