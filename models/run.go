package models

import "time"

// Run is one processing attempt against a document. ReviewStatus and
// JobStatus move independently; a run can be draft+completed (awaiting
// review) or failed+failed (job crashed).
type Run struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	DocumentID uint  `json:"document_id" gorm:"index;not null"`
	BatchID    *uint `json:"batch_id" gorm:"index"`

	ReviewStatus ReviewStatus `json:"review_status" gorm:"size:16;index;not null"`
	JobStatus    JobStatus    `json:"job_status" gorm:"size:16;index;not null"`

	// Metadata is meaningful only once HasMetadata is set by a job or an editor.
	Metadata    Metadata `json:"metadata"`
	HasMetadata bool     `json:"has_metadata" gorm:"column:has_metadata;not null;default:false;index"`
	// ParserRaw keeps the upstream payload byte-for-byte; manual edits clear it.
	ParserRaw []byte `json:"-" gorm:"column:parser_raw"`

	ErrorMsg string `json:"error_msg,omitempty" gorm:"type:text"`

	// DispatchSeq is bumped on every (re)dispatch; stale deliveries carry an older value.
	DispatchSeq int `json:"dispatch_seq" gorm:"not null;default:0"`
	// CountedOutcome is what this run currently contributes to its batch counters.
	CountedOutcome Outcome `json:"counted_outcome" gorm:"size:16;not null;default:''"`

	AnnotatedAt *time.Time `json:"annotated_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`

	Elements []Element `json:"elements,omitempty" gorm:"foreignKey:RunID"`
}

// TableName gibt explizit den Tabellennamen an.
func (Run) TableName() string {
	return "runs"
}

// Editable reports whether metadata and elements may still be changed.
func (r *Run) Editable() bool { return r.ReviewStatus == ReviewDraft }

// Result returns the typed result document of the run.
func (r *Run) Result() Result {
	res := Result{Verbatim: r.ParserRaw}
	if r.HasMetadata {
		m := r.Metadata
		res.Metadata = &m
	}
	return res
}
