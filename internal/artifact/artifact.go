package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imran1337/solid-prediction/internal/platform/crypt"
	"github.com/imran1337/solid-prediction/internal/platform/envutil"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

const (
	BufferMemory = "memory"
	BufferDisk   = "disk"

	// DigestMetadataKey is the object metadata entry holding the content digest.
	DigestMetadataKey = "content-sha256"

	archiveExt = ".zip"
)

// Metadata is the sidecar stored next to the index inside the archive.
type Metadata struct {
	ImageFileNames []string `json:"image_file_names"`
	Length         int      `json:"length"`
}

// Artifact is a published archive.
type Artifact struct {
	ID       string
	Name     string
	Size     int64
	Digest   string
	URL      string
	Uploaded bool
}

type Config struct {
	BufferMode string
	ScratchDir string
	URLExpiry  time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		BufferMode: envutil.String("ARTIFACT_BUFFER_MODE", BufferMemory),
		ScratchDir: envutil.String("SCRATCH_DIR", "DownloadFiles"),
		URLExpiry:  envutil.Duration("EXPIRATION_TIME_SECONDS", 900*time.Second),
	}
}

func ArchiveName(id string) string    { return id + archiveExt }
func IndexEntryName(id string) string { return id + "_fvecs.ann" }
func InfoEntryName(id string) string  { return id + "_info.json" }

// IDFromArchive reports the task id of a root-level archive key.
func IDFromArchive(key string) (string, bool) {
	if strings.Contains(key, "/") || !strings.HasSuffix(key, archiveExt) {
		return "", false
	}
	id := strings.TrimSuffix(key, archiveExt)
	return id, id != ""
}

type Packager struct {
	log    *logger.Logger
	store  objstore.Store
	cipher crypt.Cipher
	cfg    Config
}

func New(log *logger.Logger, store objstore.Store, cipher crypt.Cipher, cfg Config) (*Packager, error) {
	if store == nil {
		return nil, errors.New("artifact: store required")
	}
	if cipher == nil {
		return nil, errors.New("artifact: cipher required")
	}
	if cfg.BufferMode == "" {
		cfg.BufferMode = BufferMemory
	}
	if cfg.BufferMode != BufferMemory && cfg.BufferMode != BufferDisk {
		return nil, fmt.Errorf("artifact: unknown buffer mode %q", cfg.BufferMode)
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 900 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Packager{log: log.With("service", "ArtifactPackager"), store: store, cipher: cipher, cfg: cfg}, nil
}

func (p *Packager) Config() Config { return p.cfg }

// Scratch creates the working directory for one build. The returned cleanup
// removes it and is safe to call more than once.
func (p *Packager) Scratch(name string) (string, func(), error) {
	dir := filepath.Join(p.cfg.ScratchDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			p.log.Warn("Failed to remove scratch dir", "dir", dir, "error", err)
		}
	}, nil
}

// SignedURL signs a fresh GET URL for a published archive.
func (p *Packager) SignedURL(ctx context.Context, id string) (string, error) {
	return p.store.SignedURL(ctx, ArchiveName(id), p.cfg.URLExpiry)
}

// Delete removes the archive behind id.
func (p *Packager) Delete(ctx context.Context, id string) error {
	if err := p.store.Delete(ctx, ArchiveName(id)); err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

// Existing lists the ids of archives at the bucket root.
func (p *Packager) Existing(ctx context.Context) ([]string, error) {
	objs, err := p.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var ids []string
	for _, o := range objs {
		if id, ok := IDFromArchive(o.Key); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Open reads an archive back from storage. The caller closes the reader.
func (p *Packager) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	return p.store.Get(ctx, ArchiveName(id))
}
