package models

import (
	"time"

	"gorm.io/datatypes"
)

// MetadataVersion is an immutable snapshot of a run's metadata, appended on
// every successful metadata write.
type MetadataVersion struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	RunID   uint                        `json:"run_id" gorm:"index;not null"`
	OmipID  *string                     `json:"omip_id" gorm:"size:50"`
	Title   *string                     `json:"title" gorm:"type:text"`
	Authors datatypes.JSONSlice[string] `json:"authors"`
	Year    *int                        `json:"year"`
}

// TableName gibt explizit den Tabellennamen an.
func (MetadataVersion) TableName() string {
	return "metadata_versions"
}

// NewMetadataVersion snapshots m for run runID.
func NewMetadataVersion(runID uint, m Metadata) MetadataVersion {
	c := m.Clone()
	authors := c.Authors
	if authors == nil {
		authors = []string{}
	}
	return MetadataVersion{
		RunID:   runID,
		OmipID:  c.OmipID,
		Title:   c.Title,
		Authors: datatypes.JSONSlice[string](authors),
		Year:    c.Year,
	}
}

// Metadata returns the snapshot as derived metadata fields.
func (v *MetadataVersion) Metadata() Metadata {
	authors := []string(v.Authors)
	if authors == nil {
		authors = []string{}
	}
	return Metadata{OmipID: v.OmipID, Title: v.Title, Authors: authors, Year: v.Year}
}
