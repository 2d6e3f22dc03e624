package app

import (
	"strings"
	"time"

	"github.com/imran1337/solid-prediction/internal/platform/envutil"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/tasks"
)

type Config struct {
	Port            string
	Environment     string
	Version         string
	ServiceName     string
	Builder         string
	CORSOrigins     []string
	Workers         int
	LockName        string
	LockTTL         time.Duration
	VendorsFile     string
	AmountParts     float64
	ShutdownTimeout time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:            envutil.String("PORT", "8080"),
		Environment:     envutil.String("ENVIRONMENT", "development"),
		Version:         envutil.String("APP_VERSION", "dev"),
		ServiceName:     envutil.String("OTEL_SERVICE_NAME", "solid-prediction-indexer"),
		Builder:         envutil.String("BUILDER_NAME", "annoy-indexer"),
		CORSOrigins:     splitList(envutil.String("CORS_ALLOW_ORIGINS", "")),
		Workers:         tasks.WorkersFromEnv(),
		LockName:        envutil.String("INDEXING_LOCK_NAME", "indexing_lock"),
		LockTTL:         envutil.Duration("LOCK_TTL", 30*time.Minute),
		VendorsFile:     envutil.String("VENDORS_FILE", ""),
		AmountParts:     envutil.Float("MATCH_AMOUNT_PARTS", 7),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	log.Info(
		"Config loaded",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"builder", cfg.Builder,
		"workers", cfg.Workers,
		"lock", cfg.LockName,
		"lock_ttl", cfg.LockTTL,
	)
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
