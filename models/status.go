package models

// ReviewStatus is the human review axis of a run.
type ReviewStatus string

const (
	ReviewDraft    ReviewStatus = "draft"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewFailed   ReviewStatus = "failed"
)

// Valid reports whether s is a known review status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewDraft, ReviewApproved, ReviewRejected, ReviewFailed:
		return true
	}
	return false
}

// JobStatus is the processing axis of a run. Batches share the same values.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition happens.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// BatchStatus is the aggregate state of a batch.
type BatchStatus = JobStatus

// Outcome is the contribution a run currently makes to its batch counters.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ElementType distinguishes tables from figures.
type ElementType string

const (
	ElementTable  ElementType = "table"
	ElementFigure ElementType = "figure"
)
