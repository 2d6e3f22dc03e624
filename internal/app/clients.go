package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/imran1337/solid-prediction/internal/clients/redis"
	"github.com/imran1337/solid-prediction/internal/data/db"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

type Clients struct {
	Redis      *goredis.Client
	DB         *db.Service
	Store      objstore.Store
	closeStore func() error
}

func wireClients(ctx context.Context, log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	// Object storage
	storageCfg, err := objstore.ResolveConfigFromEnv()
	if err != nil {
		return Clients{}, classifyStorageProviderBootstrapError(storageCfg, err)
	}
	store, closeStore, err := resolveStore(ctx, log, storageCfg)
	if err != nil {
		return Clients{}, err
	}

	// Document DB
	dbSvc, err := db.NewService(log, db.ConfigFromEnv())
	if err != nil {
		_ = closeStore()
		return Clients{}, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(dbSvc.DB()); err != nil {
		_ = dbSvc.Close()
		_ = closeStore()
		return Clients{}, fmt.Errorf("database automigrate: %w", err)
	}

	// Redis
	rdb, err := redis.NewClient(ctx, log)
	if err != nil {
		_ = dbSvc.Close()
		_ = closeStore()
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}

	return Clients{
		Redis:      rdb,
		DB:         dbSvc,
		Store:      store,
		closeStore: closeStore,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
	if c.closeStore != nil {
		_ = c.closeStore()
	}
}
