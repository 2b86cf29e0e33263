package models

import "time"

// Document is an ingested file, identified by the sha256 of its bytes.
type Document struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContentHash string `json:"content_hash" gorm:"size:64;uniqueIndex;not null"`
	Filename    string `json:"filename" gorm:"size:255;not null"`
	StorageKey  string `json:"storage_key" gorm:"type:text"`
	PageCount   int    `json:"page_count"`

	// OfficialRunID points at the approved run used for the official view.
	OfficialRunID *uint `json:"official_run_id" gorm:"index"`
}

// TableName gibt explizit den Tabellennamen an.
func (Document) TableName() string {
	return "documents"
}
