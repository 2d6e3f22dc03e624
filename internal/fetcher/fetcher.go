package fetcher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/imran1337/solid-prediction/internal/observability"
	"github.com/imran1337/solid-prediction/internal/platform/envutil"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

const FeaturePrefix = "featuremap/"

// Policy decides what a failed blob fetch does to the whole fetch.
type Policy int

const (
	// PolicyBestEffort logs and drops failed keys, counting them in Result.Lost.
	PolicyBestEffort Policy = iota
	// PolicyFailFast aborts on the first failure with a *FetchError.
	PolicyFailFast
)

func (p Policy) String() string {
	if p == PolicyFailFast {
		return "fail_fast"
	}
	return "best_effort"
}

func ParsePolicy(s string) Policy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail_fast", "failfast", "strict":
		return PolicyFailFast
	default:
		return PolicyBestEffort
	}
}

type Config struct {
	ChunkSize        int
	WorkersPerChunk  int
	ChunkConcurrency int
	// RatePerSec caps blob GETs across all chunks; 0 disables the limit.
	RatePerSec float64
	// MaxChunks stops after the first N chunks; 0 fetches everything.
	MaxChunks int
	Policy    Policy
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:        100,
		WorkersPerChunk:  16,
		ChunkConcurrency: 4,
	}
}

func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		ChunkSize:        envutil.Int("FETCH_CHUNK_SIZE", d.ChunkSize),
		WorkersPerChunk:  envutil.Int("FETCH_WORKERS_PER_CHUNK", d.WorkersPerChunk),
		ChunkConcurrency: envutil.Int("FETCH_CHUNK_CONCURRENCY", d.ChunkConcurrency),
		RatePerSec:       envutil.Float("FETCH_RATE_PER_SEC", 0),
		MaxChunks:        envutil.Int("FETCH_MAX_CHUNKS", 0),
		Policy:           ParsePolicy(envutil.String("FETCH_POLICY", "best_effort")),
	}
}

// Getter is the read side of object storage.
type Getter interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type Chunk struct {
	Start     int
	End       int
	SubTaskID int
}

type Record struct {
	// Index is the position of Key in the input slice.
	Index  int
	Key    string
	Vector []float32
}

type Result struct {
	Records []Record
	// Length is the vector length of the first record of sub-task 0, or 0
	// when sub-task 0 produced nothing.
	Length int
	Lost   int
	Chunks int
}

type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var ErrBadBlobLength = errors.New("blob length is not a multiple of 4")

// FeatureKey maps an image file name to its feature blob key.
func FeatureKey(imageName string) string {
	base := imageName
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return FeaturePrefix + base + ".bin"
}

func FeatureKeys(imageNames []string) []string {
	out := make([]string, len(imageNames))
	for i, n := range imageNames {
		out[i] = FeatureKey(n)
	}
	return out
}

// Split partitions n items into ceil(n/c) contiguous chunks.
func Split(n, c int) []Chunk {
	if n <= 0 {
		return nil
	}
	if c <= 0 {
		c = n
	}
	chunks := make([]Chunk, 0, (n+c-1)/c)
	for start := 0; start < n; start += c {
		chunks = append(chunks, Chunk{Start: start, End: min(start+c, n), SubTaskID: len(chunks)})
	}
	return chunks
}

// Decode reads a little-endian float32 vector.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadBlobLength, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// Encode is the inverse of Decode.
func Encode(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

type Fetcher struct {
	store   Getter
	cfg     Config
	log     *logger.Logger
	limiter *rate.Limiter
}

func New(store Getter, cfg Config, log *logger.Logger) *Fetcher {
	d := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = d.ChunkSize
	}
	if cfg.WorkersPerChunk <= 0 {
		cfg.WorkersPerChunk = d.WorkersPerChunk
	}
	if cfg.ChunkConcurrency <= 0 {
		cfg.ChunkConcurrency = d.ChunkConcurrency
	}
	if log == nil {
		log = logger.Nop()
	}
	f := &Fetcher{store: store, cfg: cfg, log: log.With("service", "ChunkedFetcher")}
	if cfg.RatePerSec > 0 {
		burst := int(math.Ceil(cfg.RatePerSec))
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return f
}

func (f *Fetcher) Config() Config { return f.cfg }

type chunkResult struct {
	records []Record
	lost    int
}

// Fetch downloads the blob for every key and returns the decoded vectors in
// key order. Chunks run concurrently; results are reassembled by sub-task id
// and, within a chunk, by key position.
func (f *Fetcher) Fetch(ctx context.Context, keys []string) (*Result, error) {
	ctx, span := otel.Tracer("github.com/imran1337/solid-prediction/internal/fetcher").Start(ctx, "fetcher.fetch")
	defer span.End()

	chunks := Split(len(keys), f.cfg.ChunkSize)
	if f.cfg.MaxChunks > 0 && len(chunks) > f.cfg.MaxChunks {
		chunks = chunks[:f.cfg.MaxChunks]
	}
	span.SetAttributes(
		attribute.Int("fetcher.keys", len(keys)),
		attribute.Int("fetcher.chunks", len(chunks)),
		attribute.String("fetcher.policy", f.cfg.Policy.String()),
	)

	results := make([]chunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.ChunkConcurrency)
	for _, ch := range chunks {
		g.Go(func() error {
			res, err := f.fetchChunk(gctx, ch.Start, keys[ch.Start:ch.End])
			if err != nil {
				return err
			}
			results[ch.SubTaskID] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &Result{Chunks: len(chunks)}
	for i, r := range results {
		if i == 0 && len(r.records) > 0 {
			out.Length = len(r.records[0].Vector)
		}
		out.Records = append(out.Records, r.records...)
		out.Lost += r.lost
	}
	if out.Lost > 0 {
		f.log.Warn("Dropped feature blobs", "lost", out.Lost, "fetched", len(out.Records), "keys", len(keys))
	}
	span.SetAttributes(attribute.Int("fetcher.records", len(out.Records)), attribute.Int("fetcher.lost", out.Lost))
	observability.Current().ObserveFetch(len(out.Records), out.Lost)
	return out, nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, offset int, keys []string) (chunkResult, error) {
	slots := make([][]float32, len(keys))
	var lost atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.WorkersPerChunk)
	for i, key := range keys {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			vec, err := f.fetchOne(gctx, key)
			if err == nil {
				slots[i] = vec
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if f.cfg.Policy == PolicyFailFast {
				return &FetchError{Key: key, Err: err}
			}
			f.log.Debug("Feature blob fetch failed", "key", key, "error", err)
			lost.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chunkResult{}, err
	}

	res := chunkResult{records: make([]Record, 0, len(keys)), lost: int(lost.Load())}
	for i, v := range slots {
		if v != nil {
			res.records = append(res.records, Record{Index: offset + i, Key: keys[i], Vector: v})
		}
	}
	return res, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, key string) ([]float32, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	rc, err := f.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}
