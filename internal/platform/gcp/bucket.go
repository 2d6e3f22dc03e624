package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

// Bucket is an objstore.Store over a single GCS bucket. In emulator mode
// reads and stats go straight to the emulator's JSON API.
type Bucket struct {
	log           *logger.Logger
	client        *storage.Client
	name          string
	mode          objstore.Mode
	emulatorHost  string
	publicBaseURL string
	httpClient    *http.Client
}

var _ objstore.Store = (*Bucket)(nil)

func NewBucket(ctx context.Context, log *logger.Logger, cfg objstore.Config) (*Bucket, error) {
	if err := objstore.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "GCSBucket")

	publicBaseURL, publicBaseSource, err := resolvePublicBaseURL(cfg)
	if err != nil {
		return nil, err
	}
	client, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"public_base_source", publicBaseSource,
		"bucket", cfg.Bucket,
	)

	return &Bucket{
		log:           serviceLog,
		client:        client,
		name:          cfg.Bucket,
		mode:          cfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
		publicBaseURL: publicBaseURL,
		httpClient:    http.DefaultClient,
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg objstore.Config) (*storage.Client, error) {
	switch cfg.Mode {
	case objstore.ModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case objstore.ModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &objstore.ConfigError{Code: objstore.ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
}

func resolvePublicBaseURL(cfg objstore.Config) (baseURL string, source string, err error) {
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL"))
	if raw != "" {
		parsed, parseErr := url.Parse(raw)
		if parseErr != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return "", "", fmt.Errorf(
				"invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL like http://localhost:4443",
				raw,
			)
		}
		return strings.TrimRight(raw, "/"), "object_storage_public_base_url", nil
	}
	if cfg.IsEmulatorMode() {
		return strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"), "storage_emulator_host", nil
	}
	return "", "gcs_default", nil
}

func (b *Bucket) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *Bucket) isEmulatorMode() bool {
	return b != nil && objstore.IsEmulatorMode(b.mode) && b.emulatorHost != ""
}

func (b *Bucket) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := b.client.Bucket(b.name).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []objstore.ObjectInfo{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		out = append(out, objstore.ObjectInfo{
			Key:      attrs.Name,
			Size:     attrs.Size,
			Metadata: attrs.Metadata,
			Updated:  attrs.Updated,
		})
	}
	return out, nil
}

// The context must outlive the returned reader, so cancel is attached to
// Close instead of deferred.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if b.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, b.emulatorObjectURL(key)+"?alt=media", nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := b.httpClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("get %s: %w", key, objstore.ErrNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	r, err := b.client.Bucket(b.name).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("get %s: %w", key, objstore.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.name).Object(key).NewWriter(ctx)
	if ct := objstore.ContentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if len(metadata) > 0 {
		w.Metadata = metadata
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if size >= 0 && n != size {
		_ = w.Close()
		return fmt.Errorf("short write to GCS: want=%d got=%d", size, n)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (b *Bucket) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if b.isEmulatorMode() {
		return b.emulatorStat(ctx, key)
	}
	attrs, err := b.client.Bucket(b.name).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return objstore.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, objstore.ErrNotFound)
		}
		return objstore.ObjectInfo{}, fmt.Errorf("failed to fetch GCS object attrs: %w", err)
	}
	return objstore.ObjectInfo{
		Key:      key,
		Size:     attrs.Size,
		Metadata: attrs.Metadata,
		Updated:  attrs.Updated,
	}, nil
}

func (b *Bucket) emulatorStat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.emulatorObjectURL(key), nil)
	if err != nil {
		return objstore.ObjectInfo{}, fmt.Errorf("failed creating emulator attrs request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return objstore.ObjectInfo{}, fmt.Errorf("failed emulator attrs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return objstore.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, objstore.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return objstore.ObjectInfo{}, fmt.Errorf("emulator attrs failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decodeEmulatorAttrs(key, resp.Body)
}

func decodeEmulatorAttrs(key string, r io.Reader) (objstore.ObjectInfo, error) {
	var payload struct {
		Size     string            `json:"size"`
		Updated  string            `json:"updated"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return objstore.ObjectInfo{}, fmt.Errorf("decode emulator attrs: %w", err)
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
	updated := time.Time{}
	if ts := strings.TrimSpace(payload.Updated); ts != "" {
		if parsed, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
			updated = parsed
		}
	}
	return objstore.ObjectInfo{Key: key, Size: size, Metadata: payload.Metadata, Updated: updated}, nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.client.Bucket(b.name).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", key, objstore.ErrNotFound)
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, b.name, err)
	}
	return nil
}

// SignedURL returns a V4 GET URL. The emulator does not verify signatures,
// so emulator mode hands back the public media URL instead.
func (b *Bucket) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if b.isEmulatorMode() {
		return b.publicMediaURL(key), nil
	}
	u, err := b.client.Bucket(b.name).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return u, nil
}

func (b *Bucket) emulatorObjectURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s",
		b.emulatorHost,
		url.PathEscape(b.name),
		url.PathEscape(key),
	)
}

func (b *Bucket) publicMediaURL(key string) string {
	base := b.publicBaseURL
	if base == "" {
		base = b.emulatorHost
	}
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		base,
		url.PathEscape(b.name),
		url.PathEscape(key),
	)
}
