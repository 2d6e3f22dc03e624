package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/imran1337/solid-prediction/internal/artifact"
	"github.com/imran1337/solid-prediction/internal/data/repos"
	"github.com/imran1337/solid-prediction/internal/fetcher"
	"github.com/imran1337/solid-prediction/internal/observability"
	"github.com/imran1337/solid-prediction/internal/pkg/dbctx"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/tasks"
	"github.com/imran1337/solid-prediction/internal/vectorindex"
)

var ErrNothingToIndex = errors.New("nothing to index")

const dbUnavailableMessage = "Error getting the DB for Annoy IDX"

// VendorCategory identifies one index.
type VendorCategory struct {
	Vendor   string `yaml:"vendor" json:"vendor"`
	Category string `yaml:"category" json:"category"`
}

func (vc VendorCategory) Key() string { return vc.Vendor + "_" + vc.Category }

func (vc VendorCategory) scratchName() string { return vc.Vendor + " " + vc.Category }

func (vc VendorCategory) Valid() bool {
	return strings.TrimSpace(vc.Vendor) != "" && strings.TrimSpace(vc.Category) != ""
}

// Pinger reports whether the document database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Indexer struct {
	log      *logger.Logger
	docs     repos.FeatureDocumentRepo
	errs     repos.IndexerErrorRepo
	db       Pinger
	fetcher  *fetcher.Fetcher
	packager *artifact.Packager
}

func New(log *logger.Logger, docs repos.FeatureDocumentRepo, errs repos.IndexerErrorRepo, db Pinger, f *fetcher.Fetcher, p *artifact.Packager) *Indexer {
	if log == nil {
		log = logger.Nop()
	}
	return &Indexer{
		log:      log.With("service", "Indexer"),
		docs:     docs,
		errs:     errs,
		db:       db,
		fetcher:  f,
		packager: p,
	}
}

// Build indexes every image recorded for vc and publishes the archive.
func (ix *Indexer) Build(ctx context.Context, vc VendorCategory) (*artifact.Artifact, error) {
	names, err := ix.docs.ListImageNames(dbctx.Context{Ctx: ctx}, vc.Vendor, vc.Category)
	if err != nil {
		return nil, fmt.Errorf("document database unreachable: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no images with a preset file for %s/%s", ErrNothingToIndex, vc.Vendor, vc.Category)
	}
	return ix.BuildNames(ctx, vc.Key(), vc.scratchName(), names)
}

// BuildNames indexes the given image names under id.
func (ix *Indexer) BuildNames(ctx context.Context, id, scratch string, names []string) (art *artifact.Artifact, err error) {
	ctx, span := otel.Tracer("github.com/imran1337/solid-prediction/internal/indexer").Start(ctx, "indexer.build")
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
			if errors.Is(err, context.Canceled) {
				status = "cancelled"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.Current().ObserveBuild(status, time.Since(start))
		span.End()
	}()
	span.SetAttributes(attribute.String("indexer.id", id), attribute.Int("indexer.images", len(names)))

	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty image list for %s", ErrNothingToIndex, id)
	}
	log := ix.log.With("id", id)

	res, err := ix.fetcher.Fetch(ctx, fetcher.FeatureKeys(names))
	if err != nil {
		return nil, fmt.Errorf("fetch feature maps: %w", err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("%w: no feature maps found for %s", ErrNothingToIndex, id)
	}
	log.Info("Fetched feature maps", "records", len(res.Records), "lost", res.Lost, "chunks", res.Chunks, "length", res.Length)

	items := make([]vectorindex.Item, len(res.Records))
	indexed := make([]string, len(res.Records))
	for i, r := range res.Records {
		items[i] = vectorindex.Item{ID: i, Vector: r.Vector}
		indexed[i] = names[r.Index]
	}

	dir, cleanup, err := ix.packager.Scratch(scratch)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	indexPath := filepath.Join(dir, artifact.IndexEntryName(id))
	if err := vectorindex.Build(items, indexPath); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pk, err := ix.packager.Package(id, indexPath, artifact.Metadata{ImageFileNames: indexed, Length: res.Length})
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", id, err)
	}
	defer pk.Close()

	art, err = ix.packager.Publish(ctx, pk)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", id, err)
	}
	log.Info("Index published", "name", art.Name, "size", art.Size, "uploaded", art.Uploaded)
	return art, nil
}

// Work wraps Build as a registry task. Failures are written to the error log
// keyed by task id.
func (ix *Indexer) Work(vc VendorCategory) tasks.WorkFunc {
	return func(ctx context.Context) (tasks.ArtifactRef, error) {
		art, err := ix.Build(ctx, vc)
		if err != nil {
			ix.RecordError(ctx, vc.Key(), fmt.Sprintf("An error occurred: %v", err))
			return tasks.ArtifactRef{}, err
		}
		return tasks.ArtifactRef{Name: art.Name, URL: art.URL}, nil
	}
}

// NamesWork wraps BuildNames for anonymous submissions.
func (ix *Indexer) NamesWork(names []string) func(id string) tasks.WorkFunc {
	return func(id string) tasks.WorkFunc {
		return func(ctx context.Context) (tasks.ArtifactRef, error) {
			art, err := ix.BuildNames(ctx, id, id, names)
			if err != nil {
				ix.RecordError(ctx, id, fmt.Sprintf("An error occurred: %v", err))
				return tasks.ArtifactRef{}, err
			}
			return tasks.ArtifactRef{Name: art.Name, URL: art.URL}, nil
		}
	}
}

// CheckDB records a database outage against id. It reports whether the
// database answered.
func (ix *Indexer) CheckDB(ctx context.Context, id string) bool {
	if ix.db == nil {
		return true
	}
	if err := ix.db.Ping(ctx); err != nil {
		ix.log.Error("Document database unreachable", "id", id, "error", err)
		ix.RecordError(ctx, id, dbUnavailableMessage)
		return false
	}
	return true
}

func (ix *Indexer) RecordError(ctx context.Context, id, message string) {
	if ix.errs == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := ix.errs.Record(dbctx.Context{Ctx: ctx}, id, message); err != nil {
		ix.log.Warn("Failed to record indexer error", "id", id, "error", err)
	}
}
