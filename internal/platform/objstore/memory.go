package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data     []byte
	metadata map[string]string
	updated  time.Time
}

// MemoryStore is an in-process Store. It backs tests and local runs without
// a bucket.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memObject
	fail    map[string]error
	puts    map[string]int
	deletes map[string]int
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: map[string]memObject{},
		fail:    map[string]error{},
		puts:    map[string]int{},
		deletes: map[string]int{},
	}
}

// FailOn makes every Get of key return err.
func (m *MemoryStore) FailOn(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[key] = err
}

// PutCount reports how many times key has been written.
func (m *MemoryStore) PutCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[key]
}

func (m *MemoryStore) DeleteCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deletes[key]
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ObjectInfo, 0, len(m.objects))
	for k, o := range m.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, ObjectInfo{Key: k, Size: int64(len(o.data)), Metadata: copyMeta(o.metadata), Updated: o.updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail[key]; err != nil {
		return nil, err
	}
	o, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if size >= 0 && int64(len(b)) != size {
		return fmt.Errorf("put %s: short body: want=%d got=%d", key, size, len(b))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: b, metadata: copyMeta(metadata), updated: time.Now().UTC()}
	m.puts[key]++
	return nil
}

func (m *MemoryStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, ErrNotFound)
	}
	return ObjectInfo{Key: key, Size: int64(len(o.data)), Metadata: copyMeta(o.metadata), Updated: o.updated}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	delete(m.objects, key)
	m.deletes[key]++
	return nil
}

func (m *MemoryStore) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := m.Stat(ctx, key); err != nil {
		return "", err
	}
	exp := time.Now().Add(expiry).Unix()
	return fmt.Sprintf("memory://%s/%s?expires=%d", url.PathEscape(m.bucket), url.PathEscape(key), exp), nil
}

func copyMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
