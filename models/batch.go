package models

import "time"

// Batch aggregates the outcomes of runs scheduled together.
// SuccessCount+FailedCount never exceeds TotalCount.
type Batch struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	Status       BatchStatus `json:"status" gorm:"size:16;index;not null"`
	TotalCount   int         `json:"total_count" gorm:"not null;default:0"`
	SuccessCount int         `json:"success_count" gorm:"not null;default:0"`
	FailedCount  int         `json:"failed_count" gorm:"not null;default:0"`
}

// TableName gibt explizit den Tabellennamen an.
func (Batch) TableName() string {
	return "batches"
}

// Processed is the number of runs with a counted terminal outcome.
func (b *Batch) Processed() int { return b.SuccessCount + b.FailedCount }

// Done reports whether every run has been counted.
func (b *Batch) Done() bool { return b.Processed() >= b.TotalCount }

// ResolvedStatus is the terminal status the counts call for.
func (b *Batch) ResolvedStatus() BatchStatus {
	if b.FailedCount == 0 {
		return JobCompleted
	}
	return JobFailed
}

// BatchProgress is the externally visible progress of a batch.
type BatchProgress struct {
	BatchID         uint        `json:"batch_id"`
	Status          BatchStatus `json:"status"`
	TotalCount      int         `json:"total_count"`
	SuccessCount    int         `json:"success_count"`
	FailedCount     int         `json:"failed_count"`
	ProcessingCount int         `json:"processing_count"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Progress renders b as BatchProgress.
func (b *Batch) Progress() BatchProgress {
	processing := b.TotalCount - b.Processed()
	if processing < 0 {
		processing = 0
	}
	return BatchProgress{
		BatchID:         b.ID,
		Status:          b.Status,
		TotalCount:      b.TotalCount,
		SuccessCount:    b.SuccessCount,
		FailedCount:     b.FailedCount,
		ProcessingCount: processing,
		CreatedAt:       b.CreatedAt,
	}
}
