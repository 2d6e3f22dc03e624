package indexing

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	types "github.com/imran1337/solid-prediction/internal/domain"
	"github.com/imran1337/solid-prediction/internal/pkg/dbctx"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

type FeatureDocumentRepo interface {
	Create(dbc dbctx.Context, docs []*types.FeatureDocument) ([]*types.FeatureDocument, error)
	// ListImageNames returns the image names of every document for
	// vendor/category that has a preset file, concatenated in insertion order.
	ListImageNames(dbc dbctx.Context, vendor, category string) ([]string, error)
	// GetByImageFileName returns the first document whose image list contains
	// name, or nil when none does.
	GetByImageFileName(dbc dbctx.Context, name string) (*types.FeatureDocument, error)
}

type featureDocumentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFeatureDocumentRepo(db *gorm.DB, baseLog *logger.Logger) FeatureDocumentRepo {
	return &featureDocumentRepo{
		db:  db,
		log: baseLog.With("repo", "FeatureDocumentRepo"),
	}
}

func (r *featureDocumentRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *featureDocumentRepo) Create(dbc dbctx.Context, docs []*types.FeatureDocument) ([]*types.FeatureDocument, error) {
	if len(docs) == 0 {
		return []*types.FeatureDocument{}, nil
	}
	if err := r.tx(dbc).Create(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *featureDocumentRepo) ListImageNames(dbc dbctx.Context, vendor, category string) ([]string, error) {
	var docs []*types.FeatureDocument
	err := r.tx(dbc).
		Select("id", "image_file_names", "created_at").
		Where("preset_file_name IS NOT NULL AND vendor = ? AND category = ?", vendor, category).
		Order("created_at ASC").
		Order("id ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list image names for %s/%s: %w", vendor, category, err)
	}
	out := []string{}
	for _, d := range docs {
		names, err := d.ImageNames()
		if err != nil {
			return nil, err
		}
		out = append(out, names...)
	}
	return out, nil
}

func (r *featureDocumentRepo) GetByImageFileName(dbc dbctx.Context, name string) (*types.FeatureDocument, error) {
	q := r.tx(dbc)
	switch q.Dialector.Name() {
	case "postgres":
		q = q.Where("image_file_names @> ?::jsonb", string(types.ImageNamesJSON([]string{name})))
	default:
		q = q.Where("EXISTS (SELECT 1 FROM json_each(feature_document.image_file_names) WHERE json_each.value = ?)", name)
	}
	var doc types.FeatureDocument
	err := q.Order("created_at ASC").Limit(1).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find document for image %q: %w", name, err)
	}
	return &doc, nil
}
