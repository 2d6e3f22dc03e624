package domain

import "github.com/imran1337/solid-prediction/internal/domain/indexing"

type FeatureDocument = indexing.FeatureDocument
type IndexerError = indexing.IndexerError

var ImageNamesJSON = indexing.ImageNamesJSON
