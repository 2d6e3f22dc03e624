package indexing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FeatureDocument describes one part: the images rendered from it and the
// preset file that produced them. Documents with a preset file are the ones
// an index is built from.
type FeatureDocument struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UniversalUUID  string         `gorm:"column:universal_uuid;index" json:"universal_uuid"`
	FileName       string         `gorm:"column:file_name" json:"file_name"`
	Vendor         string         `gorm:"column:vendor;not null;index:idx_feature_document_vendor_category,priority:1" json:"vendor"`
	Category       string         `gorm:"column:category;not null;index:idx_feature_document_vendor_category,priority:2" json:"category"`
	PresetFileName *string        `gorm:"column:preset_file_name" json:"preset_file_name,omitempty"`
	ImageFileNames datatypes.JSON `gorm:"column:image_file_names;type:jsonb" json:"image_file_names"`
	Attributes     datatypes.JSON `gorm:"column:attributes;type:jsonb" json:"attributes,omitempty"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (FeatureDocument) TableName() string { return "feature_document" }

func (d *FeatureDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (d *FeatureDocument) ImageNames() ([]string, error) {
	if len(d.ImageFileNames) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(d.ImageFileNames, &out); err != nil {
		return nil, fmt.Errorf("decode image_file_names for %s: %w", d.ID, err)
	}
	return out, nil
}

func ImageNamesJSON(names []string) datatypes.JSON {
	if names == nil {
		names = []string{}
	}
	b, _ := json.Marshal(names)
	return datatypes.JSON(b)
}
