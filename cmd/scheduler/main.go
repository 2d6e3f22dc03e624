package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/imran1337/solid-prediction/internal/batch"
	"github.com/imran1337/solid-prediction/internal/indexer"
	"github.com/imran1337/solid-prediction/internal/platform/envutil"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/shutdown"
	"github.com/imran1337/solid-prediction/internal/poller"
)

var defaultVendors = []indexer.VendorCategory{{Vendor: "Volkswagen", Category: "LOD_1"}}

func main() {
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	client, err := poller.NewFromEnv(log)
	if err != nil {
		log.Error("Failed to init poller", "error", err)
		os.Exit(1)
	}

	vendors := defaultVendors
	if path := envutil.String("VENDORS_FILE", ""); path != "" {
		vendors, err = batch.LoadVendors(path)
		if err != nil {
			log.Error("Failed to load vendors", "path", path, "error", err)
			os.Exit(1)
		}
	}

	interval := envutil.Duration("SCHEDULE_INTERVAL_SECONDS", 43200*time.Second)
	s := poller.NewScheduler(log, client, vendors, interval)
	if envutil.Bool("SCHEDULE_RUN_ON_START", false) {
		go s.RunOnce(ctx)
	}
	s.Run(ctx)
}
