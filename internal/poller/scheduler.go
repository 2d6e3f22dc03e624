package poller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/imran1337/solid-prediction/internal/indexer"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

type Generator interface {
	Generate(ctx context.Context, vendor, category string) Result
}

// Scheduler asks the service to rebuild every vendor on a fixed interval.
// A tick is skipped while the previous pass is still going.
type Scheduler struct {
	log      *logger.Logger
	gen      Generator
	vendors  []indexer.VendorCategory
	interval time.Duration
	running  atomic.Bool
}

func NewScheduler(log *logger.Logger, gen Generator, vendors []indexer.VendorCategory, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		log:      log.With("component", "Scheduler"),
		gen:      gen,
		vendors:  vendors,
		interval: interval,
	}
}

// RunOnce builds every vendor in order. It returns nil when a pass is
// already in progress.
func (s *Scheduler) RunOnce(ctx context.Context) []Result {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Info("Previous pass still running, skipping")
		return nil
	}
	defer s.running.Store(false)

	out := make([]Result, 0, len(s.vendors))
	for _, vc := range s.vendors {
		if ctx.Err() != nil {
			break
		}
		s.log.Info("Start task to generate indexer", "vendor", vc.Vendor, "category", vc.Category)
		res := s.gen.Generate(ctx, vc.Vendor, vc.Category)
		if res.OK() {
			s.log.Info("Successfully generated indexer", "vendor", vc.Vendor, "category", vc.Category)
		} else {
			s.log.Error("Error generating indexer", "vendor", vc.Vendor, "category", vc.Category, "error", res.Err)
		}
		out = append(out, res)
	}
	return out
}

// Run ticks until ctx is done. The first pass starts after one interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("Scheduler started", "interval", s.interval.String(), "vendors", len(s.vendors))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			go s.RunOnce(ctx)
		}
	}
}
