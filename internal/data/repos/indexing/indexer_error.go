package indexing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/imran1337/solid-prediction/internal/domain"
	"github.com/imran1337/solid-prediction/internal/pkg/dbctx"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

type IndexerErrorRepo interface {
	// Record replaces the error stored for id.
	Record(dbc dbctx.Context, id, message string) error
	Get(dbc dbctx.Context, id string) (*types.IndexerError, error)
}

type indexerErrorRepo struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewIndexerErrorRepo(db *gorm.DB, baseLog *logger.Logger) IndexerErrorRepo {
	return &indexerErrorRepo{
		db:  db,
		log: baseLog.With("repo", "IndexerErrorRepo"),
		now: time.Now,
	}
}

func (r *indexerErrorRepo) Record(dbc dbctx.Context, id, message string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	row := &types.IndexerError{ID: id, Error: message, Timestamp: r.now().UTC()}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"error", "timestamp"}),
		}).
		Create(row).Error
}

func (r *indexerErrorRepo) Get(dbc dbctx.Context, id string) (*types.IndexerError, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.IndexerError
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
