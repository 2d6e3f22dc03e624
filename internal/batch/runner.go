package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/imran1337/solid-prediction/internal/indexer"
	"github.com/imran1337/solid-prediction/internal/observability"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/redislock"
	"github.com/imran1337/solid-prediction/internal/tasks"
)

var ErrAlreadyRunning = errors.New("indexing process is already in progress")

// Registry is the part of the task registry a batch drives.
type Registry interface {
	Resubmit(key string, work tasks.WorkFunc) (*tasks.Handle, bool)
	Wait(ctx context.Context, key string) (tasks.Status, error)
}

type Builder interface {
	Work(vc indexer.VendorCategory) tasks.WorkFunc
	CheckDB(ctx context.Context, id string) bool
}

type Outcome struct {
	ID       string        `json:"id"`
	State    string        `json:"state"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type RunSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Outcomes   []Outcome `json:"outcomes"`
	// Aborted is set when the run stopped before the end of the vendor list.
	Aborted string `json:"aborted,omitempty"`
}

type Status struct {
	Running bool        `json:"running"`
	LastRun *RunSummary `json:"last_run,omitempty"`
}

// Runner builds every configured vendor/category one at a time while holding
// the fleet-wide indexing lock.
type Runner struct {
	log      *logger.Logger
	lock     *redislock.Lock
	registry Registry
	builder  Builder
	vendors  []indexer.VendorCategory
	sem      *semaphore.Weighted

	mu      sync.Mutex
	running bool
	last    *RunSummary
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(log *logger.Logger, lock *redislock.Lock, registry Registry, builder Builder, vendors []indexer.VendorCategory) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		log:      log.With("service", "BatchRunner"),
		lock:     lock,
		registry: registry,
		builder:  builder,
		vendors:  vendors,
		sem:      semaphore.NewWeighted(1),
	}
}

func (r *Runner) Vendors() []indexer.VendorCategory { return r.vendors }

// Start acquires the lock and runs the batch in the background. The run
// outlives ctx's cancellation but keeps its values; Close stops it.
func (r *Runner) Start(ctx context.Context) error {
	lease, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.loop(runCtx, lease)
	}()
	r.log.Info("Indexing process initiated", "vendors", len(r.vendors))
	return nil
}

// Run is the blocking form of Start.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	lease, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return r.loop(ctx, lease), nil
}

// Close cancels a background run and waits for it to release the lock.
func (r *Runner) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{Running: r.running}
	if r.last != nil {
		cp := *r.last
		cp.Outcomes = append([]Outcome(nil), r.last.Outcomes...)
		st.LastRun = &cp
	}
	return st
}

// ResetLock force-clears the distributed lock. It reports whether a lock
// was present.
func (r *Runner) ResetLock(ctx context.Context) (bool, error) {
	cleared, err := r.lock.ForceReset(ctx)
	if err != nil {
		return false, err
	}
	r.log.Warn("Indexing lock force-reset", "lock", r.lock.Name(), "was_held", cleared)
	return cleared, nil
}

func (r *Runner) acquire(ctx context.Context) (*redislock.Lease, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		observability.Current().IncBatchRun("rejected")
		return nil, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	lease, err := r.lock.Acquire(ctx)
	if err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		if errors.Is(err, redislock.ErrHeld) {
			observability.Current().IncBatchRun("rejected")
			return nil, fmt.Errorf("%w (lock %q is held; clear a stale lock with /reset-lock)", ErrAlreadyRunning, r.lock.Name())
		}
		return nil, fmt.Errorf("acquire indexing lock: %w", err)
	}
	return lease, nil
}

func (r *Runner) loop(ctx context.Context, lease *redislock.Lease) *RunSummary {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sum := &RunSummary{StartedAt: time.Now().UTC()}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("Failed to release indexing lock", "error", err)
		}
		sum.FinishedAt = time.Now().UTC()
		r.mu.Lock()
		r.running = false
		r.last = sum
		r.mu.Unlock()
		outcome := "completed"
		if sum.Aborted != "" {
			outcome = "aborted"
		}
		observability.Current().IncBatchRun(outcome)
		r.log.Info("Indexing process finished",
			"succeeded", sum.Succeeded,
			"failed", sum.Failed,
			"aborted", sum.Aborted,
			"duration", sum.FinishedAt.Sub(sum.StartedAt).String(),
		)
	}()

	var lost error
	var lostMu sync.Mutex
	lease.KeepAlive(ctx, func(err error) {
		lostMu.Lock()
		lost = err
		lostMu.Unlock()
		cancel()
	})

	for _, vc := range r.vendors {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			lostMu.Lock()
			if lost != nil {
				err = lost
			}
			lostMu.Unlock()
			sum.Aborted = err.Error()
			break
		}
		o := r.runOne(ctx, vc)
		r.sem.Release(1)

		sum.Outcomes = append(sum.Outcomes, o)
		if o.Error == "" && o.State == tasks.StateDone.String() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	return sum
}

func (r *Runner) runOne(ctx context.Context, vc indexer.VendorCategory) Outcome {
	start := time.Now()
	id := vc.Key()
	r.log.Info("Start task to generate indexer", "vendor", vc.Vendor, "category", vc.Category)

	o := Outcome{ID: id}
	if _, replaced := r.registry.Resubmit(id, r.builder.Work(vc)); !replaced {
		r.log.Info("Build already in flight, waiting on it", "id", id)
	}
	st, err := r.registry.Wait(ctx, id)
	o.State = st.State.String()
	o.Duration = time.Since(start)
	switch {
	case err != nil:
		o.Error = err.Error()
	case st.Err != nil:
		o.Error = st.Err.Error()
	case st.State != tasks.StateDone:
		o.Error = "task " + st.State.String()
	}
	r.builder.CheckDB(ctx, id)

	if o.Error != "" {
		r.log.Warn("Task failed", "id", id, "error", o.Error)
	} else {
		r.log.Info("Task completed successfully", "id", id, "duration", o.Duration.String())
	}
	return o
}
