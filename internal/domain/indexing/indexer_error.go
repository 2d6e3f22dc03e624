package indexing

import "time"

// IndexerError holds the last failure recorded for a task id.
type IndexerError struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Error     string    `gorm:"column:error;not null" json:"error"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"`
}

func (IndexerError) TableName() string { return "indexer_error" }
