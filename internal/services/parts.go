package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/imran1337/solid-prediction/internal/data/repos"
	types "github.com/imran1337/solid-prediction/internal/domain"
	"github.com/imran1337/solid-prediction/internal/pkg/dbctx"
	"github.com/imran1337/solid-prediction/internal/platform/apierr"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
	"github.com/imran1337/solid-prediction/internal/platform/objstore"
)

const (
	presetPrefix = "preset/"
	imagePrefix  = "img/"
)

// PartMatch is a document plus its share of the query images.
type PartMatch map[string]any

type PartsService interface {
	// FindMatching groups the documents owning each image name and scores
	// each group by hits / amountParts.
	FindMatching(ctx context.Context, imageNames []string) (map[string]PartMatch, error)
	PresetFile(ctx context.Context, name string) ([]byte, error)
	ImageFile(ctx context.Context, name string) ([]byte, error)
}

type partsService struct {
	log         *logger.Logger
	docs        repos.FeatureDocumentRepo
	errs        repos.IndexerErrorRepo
	store       objstore.Store
	amountParts float64
}

func NewPartsService(
	baseLog *logger.Logger,
	docs repos.FeatureDocumentRepo,
	errs repos.IndexerErrorRepo,
	store objstore.Store,
	amountParts float64,
) PartsService {
	if amountParts <= 0 {
		amountParts = 7
	}
	return &partsService{
		log:         baseLog.With("service", "PartsService"),
		docs:        docs,
		errs:        errs,
		store:       store,
		amountParts: amountParts,
	}
}

func (s *partsService) FindMatching(ctx context.Context, imageNames []string) (map[string]PartMatch, error) {
	dbc := dbctx.Context{Ctx: ctx}
	out := map[string]PartMatch{}
	hits := map[string]int{}
	for _, name := range imageNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		doc, err := s.docs.GetByImageFileName(dbc, name)
		if err != nil {
			s.recordFailure(dbc, name)
			return nil, apierr.New(http.StatusServiceUnavailable, "document_db_unavailable", err)
		}
		if doc == nil {
			s.log.Debug("No document for image", "image", name)
			s.recordFailure(dbc, name)
			continue
		}
		id := doc.UniversalUUID + doc.FileName
		if _, ok := out[id]; !ok {
			m, err := documentFields(doc)
			if err != nil {
				return nil, err
			}
			out[id] = m
		}
		hits[id]++
	}
	for id, m := range out {
		m["histo"] = min(1, float64(hits[id])/s.amountParts)
	}
	return out, nil
}

func (s *partsService) recordFailure(dbc dbctx.Context, id string) {
	if s.errs == nil {
		return
	}
	if err := s.errs.Record(dbc, id, "Failed to find matching part."); err != nil {
		s.log.Warn("Failed to record lookup error", "id", id, "error", err)
	}
}

// documentFields flattens a document into the JSON object clients expect:
// stored attributes first, then the typed columns on top.
func documentFields(doc *types.FeatureDocument) (PartMatch, error) {
	m := PartMatch{}
	if len(doc.Attributes) > 0 {
		if err := json.Unmarshal(doc.Attributes, &m); err != nil {
			return nil, fmt.Errorf("decode attributes for %s: %w", doc.ID, err)
		}
	}
	names, err := doc.ImageNames()
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	m["universal_uuid"] = doc.UniversalUUID
	m["file_name"] = doc.FileName
	m["vendor"] = doc.Vendor
	m["category"] = doc.Category
	m["image_file_names"] = names
	if doc.PresetFileName != nil {
		m["preset_file_name"] = *doc.PresetFileName
	}
	return m, nil
}

func (s *partsService) PresetFile(ctx context.Context, name string) ([]byte, error) {
	return s.read(ctx, presetPrefix, name)
}

func (s *partsService) ImageFile(ctx context.Context, name string) ([]byte, error) {
	return s.read(ctx, imagePrefix, name)
}

func (s *partsService) read(ctx context.Context, prefix, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return nil, apierr.New(http.StatusBadRequest, "invalid_key", fmt.Errorf("invalid file key %q", name))
	}
	b, err := objstore.ReadAll(ctx, s.store, prefix+name)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, apierr.New(http.StatusNotFound, "file_not_found", err)
		}
		s.log.Error("Object read failed", "key", prefix+name, "error", err)
		return nil, apierr.New(http.StatusBadGateway, "storage_error", err)
	}
	return b, nil
}
