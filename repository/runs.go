package repository

import (
	"context"
	"errors"
	"time"

	"omip-curator/apperr"
	"omip-curator/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunRepo is the run ledger. State transitions are conditional updates so a
// stale or duplicate job delivery changes nothing.
type RunRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

// RunFilter narrows run listings. Zero values mean no restriction.
type RunFilter struct {
	ReviewStatus models.ReviewStatus
	JobStatus    models.JobStatus
	DocumentID   uint
	BatchID      uint
	Limit        int
	Offset       int
}

var activeJobStatuses = []models.JobStatus{models.JobPending, models.JobProcessing}

// Create inserts runs and fills in their ids.
func (r *RunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*models.Run) error {
	if len(runs) == 0 {
		return nil
	}
	return conn(r.db, tx).WithContext(ctx).Create(&runs).Error
}

// Get loads a run without its elements.
func (r *RunRepo) Get(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error) {
	var run models.Run
	if err := conn(r.db, tx).WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, translate(err, "run", id)
	}
	return &run, nil
}

// GetForUpdate loads a run and locks its row until tx ends.
func (r *RunRepo) GetForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error) {
	var run models.Run
	err := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&run, id).Error
	if err != nil {
		return nil, translate(err, "run", id)
	}
	return &run, nil
}

// ListByBatch returns the runs of a batch in creation order.
func (r *RunRepo) ListByBatch(ctx context.Context, batchID uint) ([]models.Run, error) {
	var runs []models.Run
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("id ASC").Find(&runs).Error
	return runs, err
}

func (r *RunRepo) filtered(ctx context.Context, f RunFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Run{})
	if f.ReviewStatus != "" {
		q = q.Where("review_status = ?", f.ReviewStatus)
	}
	if f.JobStatus != "" {
		q = q.Where("job_status = ?", f.JobStatus)
	}
	if f.DocumentID != 0 {
		q = q.Where("document_id = ?", f.DocumentID)
	}
	if f.BatchID != 0 {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	return q
}

// List returns runs matching f, newest first.
func (r *RunRepo) List(ctx context.Context, f RunFilter) ([]models.Run, error) {
	q := r.filtered(ctx, f).Order("created_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var runs []models.Run
	err := q.Find(&runs).Error
	return runs, err
}

// Count returns the number of runs matching f.
func (r *RunRepo) Count(ctx context.Context, f RunFilter) (int64, error) {
	var n int64
	err := r.filtered(ctx, f).Count(&n).Error
	return n, err
}

// LatestDraftForDocument returns the newest draft run that carries metadata,
// ties broken by the higher id, or nil if there is none.
func (r *RunRepo) LatestDraftForDocument(ctx context.Context, tx *gorm.DB, documentID uint) (*models.Run, error) {
	var run models.Run
	err := conn(r.db, tx).WithContext(ctx).
		Where("document_id = ? AND review_status = ? AND has_metadata = ?", documentID, models.ReviewDraft, true).
		Order("created_at DESC").Order("id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListFailedIDs returns the ids of all runs whose job failed.
func (r *RunRepo) ListFailedIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Run{}).
		Where("job_status = ?", models.JobFailed).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// ListApproved returns all approved runs in review order.
func (r *RunRepo) ListApproved(ctx context.Context) ([]models.Run, error) {
	var runs []models.Run
	err := r.db.WithContext(ctx).
		Where("review_status = ?", models.ReviewApproved).
		Order("reviewed_at ASC").Order("id ASC").
		Find(&runs).Error
	return runs, err
}

// MarkProcessing moves a run of the given dispatch to processing. A false
// result means the delivery is stale or the run already finished.
func (r *RunRepo) MarkProcessing(ctx context.Context, tx *gorm.DB, id uint, seq int) (bool, error) {
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND dispatch_seq = ? AND job_status IN ?", id, seq, activeJobStatuses).
		Update("job_status", models.JobProcessing)
	return res.RowsAffected > 0, res.Error
}

// Complete records a successful result. Review status is left untouched.
func (r *RunRepo) Complete(ctx context.Context, tx *gorm.DB, id uint, seq int, m models.Metadata, raw []byte) (bool, error) {
	now := time.Now()
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND dispatch_seq = ? AND job_status IN ?", id, seq, activeJobStatuses).
		Updates(map[string]interface{}{
			"job_status":   models.JobCompleted,
			"metadata":     m,
			"has_metadata": true,
			"parser_raw":   raw,
			"error_msg":    "",
			"annotated_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkFailed fails both axes of a run and records msg.
func (r *RunRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uint, seq int, msg string) (bool, error) {
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND dispatch_seq = ? AND job_status IN ?", id, seq, activeJobStatuses).
		Updates(map[string]interface{}{
			"job_status":    models.JobFailed,
			"review_status": models.ReviewFailed,
			"error_msg":     msg,
			"updated_at":    time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

// SetOutcome records what the run now contributes to its batch counters.
func (r *RunRepo) SetOutcome(ctx context.Context, tx *gorm.DB, id uint, outcome models.Outcome) error {
	return conn(r.db, tx).WithContext(ctx).Model(&models.Run{}).
		Where("id = ?", id).
		Update("counted_outcome", outcome).Error
}

// ResetForRetry puts a failed run back to pending under a new dispatch
// sequence and returns it. Only runs whose job failed can be retried.
func (r *RunRepo) ResetForRetry(ctx context.Context, tx *gorm.DB, id uint) (*models.Run, error) {
	db := conn(r.db, tx).WithContext(ctx)
	res := db.Model(&models.Run{}).
		Where("id = ? AND job_status = ?", id, models.JobFailed).
		Updates(map[string]interface{}{
			"job_status":    models.JobPending,
			"review_status": models.ReviewDraft,
			"error_msg":     "",
			"dispatch_seq":  gorm.Expr("dispatch_seq + 1"),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	run, err := r.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Validation("run %d cannot be retried in job status %s", id, run.JobStatus)
	}
	return run, nil
}

// SetReviewStatus moves a draft run to status. A false result means the run
// was no longer a draft.
func (r *RunRepo) SetReviewStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ReviewStatus) (bool, error) {
	now := time.Now()
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND review_status = ?", id, models.ReviewDraft).
		Updates(map[string]interface{}{
			"review_status": status,
			"reviewed_at":   now,
			"updated_at":    now,
		})
	return res.RowsAffected > 0, res.Error
}

// UpdateResult replaces the metadata of a draft run. raw is stored as the
// verbatim payload; nil clears it.
func (r *RunRepo) UpdateResult(ctx context.Context, tx *gorm.DB, id uint, m models.Metadata, raw []byte) (bool, error) {
	now := time.Now()
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND review_status = ?", id, models.ReviewDraft).
		Updates(map[string]interface{}{
			"metadata":     m,
			"has_metadata": true,
			"parser_raw":   raw,
			"annotated_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected > 0, res.Error
}

// ClearVerbatim drops the preserved payload of a draft run after an edit.
func (r *RunRepo) ClearVerbatim(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	now := time.Now()
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND review_status = ?", id, models.ReviewDraft).
		Updates(map[string]interface{}{
			"parser_raw":   nil,
			"annotated_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected > 0, res.Error
}

// OutcomeCounts tallies the counted outcomes of a batch's runs.
type OutcomeCounts struct {
	Runs    int
	Success int
	Failed  int
}

// CountOutcomes recomputes a batch's counters from its runs.
func (r *RunRepo) CountOutcomes(ctx context.Context, tx *gorm.DB, batchID uint) (OutcomeCounts, error) {
	var rows []struct {
		CountedOutcome models.Outcome
		N              int
	}
	err := conn(r.db, tx).WithContext(ctx).Model(&models.Run{}).
		Select("counted_outcome, COUNT(*) AS n").
		Where("batch_id = ?", batchID).
		Group("counted_outcome").
		Scan(&rows).Error
	if err != nil {
		return OutcomeCounts{}, err
	}
	var c OutcomeCounts
	for _, row := range rows {
		c.Runs += row.N
		switch row.CountedOutcome {
		case models.OutcomeSuccess:
			c.Success += row.N
		case models.OutcomeFailed:
			c.Failed += row.N
		}
	}
	return c, nil
}
