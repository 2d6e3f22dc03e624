package tasks

import (
	"context"
	"sync"
)

// WorkFunc runs a task. It must return promptly once ctx is cancelled.
type WorkFunc func(ctx context.Context) (ArtifactRef, error)

type Handle struct {
	id     string
	work   WorkFunc
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.Mutex
	state           State
	ref             ArtifactRef
	err             error
	cancelRequested bool
}

func newHandle(parent context.Context, id string, work WorkFunc) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		id:     id,
		work:   work,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateUnstarted,
	}
}

func (h *Handle) ID() string { return h.id }

// Done is closed once the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{ID: h.id, State: h.state, Artifact: h.ref, Err: h.err}
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// begin moves Unstarted to Running. It reports false when the task was
// cancelled while queued.
func (h *Handle) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateUnstarted {
		return false
	}
	h.state = StateRunning
	return true
}

func (h *Handle) finish(ref ArtifactRef, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return
	}
	if h.cancelRequested {
		h.state = StateCancelled
	} else {
		h.state = StateDone
		h.ref = ref
		h.err = err
	}
	h.cancel()
	close(h.done)
}

func (h *Handle) requestCancel() bool {
	h.mu.Lock()
	switch h.state {
	case StateUnstarted:
		h.cancelRequested = true
		h.state = StateCancelled
		close(h.done)
		h.mu.Unlock()
		h.cancel()
		return true
	case StateRunning:
		if h.cancelRequested {
			h.mu.Unlock()
			return false
		}
		h.cancelRequested = true
		h.mu.Unlock()
		h.cancel()
		return true
	default:
		h.mu.Unlock()
		return false
	}
}

func newDoneHandle(id string, ref ArtifactRef) *Handle {
	h := newHandle(context.Background(), id, nil)
	h.finish(ref, nil)
	return h
}
