package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

var (
	// ErrHeld is returned by Acquire when another owner holds the lease.
	ErrHeld = errors.New("lock is held")
	// ErrNotHeld is returned when a lease was lost to expiry or a forced reset.
	ErrNotHeld = errors.New("lock not held by this owner")
)

var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var refreshScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	if tonumber(ARGV[2]) > 0 then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 1
end
return 0
`)

// Lock is a named lease in Redis. A zero TTL never expires, so a crashed
// holder keeps the lock until ForceReset.
type Lock struct {
	log    *logger.Logger
	client goredis.Cmdable
	name   string
	ttl    time.Duration
}

type Lease struct {
	lock     *Lock
	token    string
	released bool
}

func New(log *logger.Logger, client goredis.Cmdable, name string, ttl time.Duration) *Lock {
	if log == nil {
		log = logger.Nop()
	}
	return &Lock{
		log:    log.With("service", "RedisLock", "lock", name),
		client: client,
		name:   name,
		ttl:    ttl,
	}
}

func (l *Lock) Name() string       { return l.name }
func (l *Lock) TTL() time.Duration { return l.ttl }

func (l *Lock) Acquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.name, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.name, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s: %w", l.name, ErrHeld)
	}
	l.log.Debug("lock acquired", "ttl", l.ttl)
	return &Lease{lock: l, token: token}, nil
}

// Held reports whether anyone currently holds the lock.
func (l *Lock) Held(ctx context.Context) (bool, error) {
	n, err := l.client.Exists(ctx, l.name).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", l.name, err)
	}
	return n > 0, nil
}

// ForceReset deletes the lock regardless of owner and reports whether a key
// was removed.
func (l *Lock) ForceReset(ctx context.Context) (bool, error) {
	n, err := l.client.Del(ctx, l.name).Result()
	if err != nil {
		return false, fmt.Errorf("reset %s: %w", l.name, err)
	}
	if n > 0 {
		l.log.Warn("lock force-reset")
	}
	return n > 0, nil
}

func (le *Lease) Token() string { return le.token }

// Release deletes the lock only if this lease still owns it. Releasing twice
// is a no-op.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil || le.released {
		return nil
	}
	n, err := releaseScript.Run(ctx, le.lock.client, []string{le.lock.name}, le.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", le.lock.name, err)
	}
	le.released = true
	if n == 0 {
		return fmt.Errorf("release %s: %w", le.lock.name, ErrNotHeld)
	}
	le.lock.log.Debug("lock released")
	return nil
}

// Refresh extends the lease by the lock's TTL.
func (le *Lease) Refresh(ctx context.Context) error {
	if le == nil || le.released {
		return fmt.Errorf("refresh: %w", ErrNotHeld)
	}
	n, err := refreshScript.Run(ctx, le.lock.client, []string{le.lock.name}, le.token, le.lock.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh %s: %w", le.lock.name, err)
	}
	if n == 0 {
		return fmt.Errorf("refresh %s: %w", le.lock.name, ErrNotHeld)
	}
	return nil
}

// KeepAlive refreshes the lease every third of its TTL until ctx is done or
// the lease is lost. onLost is called once when a refresh reports ErrNotHeld.
func (le *Lease) KeepAlive(ctx context.Context, onLost func(error)) {
	ttl := le.lock.ttl
	if ttl <= 0 {
		return
	}
	interval := ttl / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := le.Refresh(ctx)
				if err == nil {
					continue
				}
				if errors.Is(err, ErrNotHeld) {
					le.lock.log.Error("lease lost", "error", err)
					if onLost != nil {
						onLost(err)
					}
					return
				}
				if ctx.Err() != nil {
					return
				}
				le.lock.log.Warn("lease refresh failed", "error", err)
			}
		}
	}()
}
