package repos

import (
	"gorm.io/gorm"

	"github.com/imran1337/solid-prediction/internal/data/repos/indexing"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

type FeatureDocumentRepo = indexing.FeatureDocumentRepo
type IndexerErrorRepo = indexing.IndexerErrorRepo

type Repos struct {
	FeatureDocuments FeatureDocumentRepo
	IndexerErrors    IndexerErrorRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		FeatureDocuments: indexing.NewFeatureDocumentRepo(db, log),
		IndexerErrors:    indexing.NewIndexerErrorRepo(db, log),
	}
}
