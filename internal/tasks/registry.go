package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/imran1337/solid-prediction/internal/platform/envutil"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

// ArtifactDeleter removes the archive a finished task produced.
type ArtifactDeleter interface {
	Delete(ctx context.Context, id string) error
}

// Registry maps task ids to handles and runs their work on a fixed pool.
// Finished handles stay resident until Remove.
type Registry struct {
	log     *logger.Logger
	deleter ArtifactDeleter
	workers int

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   map[string]*Handle
	queue   []*Handle
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func WorkersFromEnv() int {
	return envutil.Int("TASK_WORKERS", 2)
}

func New(baseLog *logger.Logger, deleter ArtifactDeleter, workers int) *Registry {
	if workers < 1 {
		workers = 1
	}
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		log:        baseLog.With("component", "TaskRegistry"),
		deleter:    deleter,
		workers:    workers,
		baseCtx:    ctx,
		baseCancel: cancel,
		tasks:      map[string]*Handle{},
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start launches the worker pool. Cancelling ctx stops the pool and every
// task it owns.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.log.Info("Starting task worker pool", "workers", r.workers)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.runLoop(i + 1)
	}
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.baseCtx.Done():
		}
	}()
}

// Stop cancels all tasks and waits for the workers to exit.
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	pending := r.queue
	r.queue = nil
	r.cond.Broadcast()
	r.mu.Unlock()

	r.baseCancel()
	for _, h := range pending {
		h.requestCancel()
	}
	r.wg.Wait()
}

// Submit returns the handle registered under key, creating and queueing one
// when none exists or the existing one was cancelled.
func (r *Registry) Submit(key string, work WorkFunc) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.tasks[key]; ok && h.State() != StateCancelled {
		return h
	}
	return r.enqueueLocked(key, work)
}

// Resubmit replaces a terminal handle with a fresh one. An active handle is
// returned as is with replaced=false.
func (r *Registry) Resubmit(key string, work WorkFunc) (h *Handle, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[key]; ok && !cur.State().Terminal() {
		return cur, false
	}
	return r.enqueueLocked(key, work), true
}

// SubmitAnonymous queues work under a generated id. mk receives the id so the
// work can name its outputs after it.
func (r *Registry) SubmitAnonymous(mk func(id string) WorkFunc) *Handle {
	id := uuid.NewString()
	return r.Submit(id, mk(id))
}

func (r *Registry) enqueueLocked(key string, work WorkFunc) *Handle {
	h := newHandle(r.baseCtx, key, work)
	r.tasks[key] = h
	if r.closed {
		h.requestCancel()
		return h
	}
	r.queue = append(r.queue, h)
	r.cond.Signal()
	return h
}

// Seed registers an already finished task, e.g. an archive found in the
// bucket at startup. Existing keys are left alone.
func (r *Registry) Seed(key string, ref ArtifactRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[key]; ok {
		return false
	}
	r.tasks[key] = newDoneHandle(key, ref)
	return true
}

func (r *Registry) Get(key string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.tasks[key]
	return h, ok
}

func (r *Registry) Status(key string) Status {
	h, ok := r.Get(key)
	if !ok {
		return Status{ID: key, State: StateUnknown}
	}
	return h.Status()
}

func (r *Registry) Cancel(key string) bool {
	h, ok := r.Get(key)
	if !ok {
		return false
	}
	if !h.requestCancel() {
		return false
	}
	r.log.Info("Task cancelled", "id", key)
	return true
}

// Wait blocks until key is terminal or ctx ends.
func (r *Registry) Wait(ctx context.Context, key string) (Status, error) {
	h, ok := r.Get(key)
	if !ok {
		return Status{ID: key, State: StateUnknown}, fmt.Errorf("task %s: unknown id", key)
	}
	select {
	case <-h.Done():
		return h.Status(), nil
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

// Remove deletes a finished task and its archive. Only Done tasks qualify.
func (r *Registry) Remove(ctx context.Context, key string) (RemoveResult, error) {
	h, ok := r.Get(key)
	if !ok || h.State() != StateDone {
		return RemoveNotFoundOrNotDone, nil
	}
	if r.deleter != nil {
		if err := r.deleter.Delete(ctx, key); err != nil && !errors.Is(err, objstore.ErrNotFound) {
			r.log.Error("Failed to delete artifact", "id", key, "error", err)
			return RemoveError, err
		}
	}
	r.mu.Lock()
	if r.tasks[key] == h {
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	r.log.Info("Task removed", "id", key)
	return RemoveRemoved, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Registry) next() (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.queue) == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return nil, false
	}
	h := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return h, true
}

func (r *Registry) runLoop(workerID int) {
	defer r.wg.Done()
	for {
		h, ok := r.next()
		if !ok {
			r.log.Debug("Task worker stopped", "worker_id", workerID)
			return
		}
		if !h.begin() {
			continue
		}
		r.run(workerID, h)
	}
}

func (r *Registry) run(workerID int, h *Handle) {
	var (
		ref ArtifactRef
		err error
	)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Task panic", "worker_id", workerID, "id", h.id, "panic", rec)
			err = &panicError{Val: rec}
		}
		h.finish(ref, err)
		st := h.Status()
		if st.Err != nil {
			r.log.Warn("Task finished with error", "worker_id", workerID, "id", h.id, "error", st.Err)
		} else {
			r.log.Info("Task finished", "worker_id", workerID, "id", h.id, "state", st.State.String())
		}
	}()
	ref, err = h.work(h.ctx)
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
