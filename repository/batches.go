package repository

import (
	"context"

	"omip-curator/apperr"
	"omip-curator/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchRepo is the batch coordinator. Counters are only ever changed with
// single UPDATE statements evaluated by the database.
type BatchRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

var terminalBatchStatuses = []models.BatchStatus{models.JobCompleted, models.JobFailed}

// resolvedStatus is the terminal status computed from persisted counts.
func resolvedStatus() interface{} {
	return gorm.Expr("CASE WHEN failed_count = 0 THEN ? ELSE ? END", models.JobCompleted, models.JobFailed)
}

// Create starts a batch of total runs in processing state.
func (r *BatchRepo) Create(ctx context.Context, tx *gorm.DB, total int) (*models.Batch, error) {
	b := models.Batch{Status: models.JobProcessing, TotalCount: total}
	if err := conn(r.db, tx).WithContext(ctx).Create(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// Get loads a batch.
func (r *BatchRepo) Get(ctx context.Context, tx *gorm.DB, id uint) (*models.Batch, error) {
	var b models.Batch
	if err := conn(r.db, tx).WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, translate(err, "batch", id)
	}
	return &b, nil
}

// GetForUpdate loads a batch and locks its row until tx ends. Counter
// updates of other transactions wait for the lock.
func (r *BatchRepo) GetForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Batch, error) {
	var b models.Batch
	err := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&b, id).Error
	if err != nil {
		return nil, translate(err, "batch", id)
	}
	return &b, nil
}

// List returns batches newest first.
func (r *BatchRepo) List(ctx context.Context, limit, offset int) ([]models.Batch, error) {
	var out []models.Batch
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListOpenIDs returns the ids of batches that are not terminal yet.
func (r *BatchRepo) ListOpenIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("status NOT IN ?", terminalBatchStatuses).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// IncrementSuccess counts one more successful run.
func (r *BatchRepo) IncrementSuccess(ctx context.Context, tx *gorm.DB, id uint) error {
	return r.increment(ctx, tx, id, "success_count")
}

// IncrementFailed counts one more failed run.
func (r *BatchRepo) IncrementFailed(ctx context.Context, tx *gorm.DB, id uint) error {
	return r.increment(ctx, tx, id, "failed_count")
}

func (r *BatchRepo) increment(ctx context.Context, tx *gorm.DB, id uint, column string) error {
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND success_count + failed_count < total_count", id).
		Update(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.violation(ctx, tx, id, "increment %s of batch %d would exceed its total", column, id)
	}
	return nil
}

// ReviseOutcome moves one counted run from one outcome to the other, used
// when a retried run ends differently than before.
func (r *BatchRepo) ReviseOutcome(ctx context.Context, tx *gorm.DB, id uint, from, to models.Outcome) error {
	if from == to {
		return nil
	}
	var dec, inc string
	switch {
	case from == models.OutcomeFailed && to == models.OutcomeSuccess:
		dec, inc = "failed_count", "success_count"
	case from == models.OutcomeSuccess && to == models.OutcomeFailed:
		dec, inc = "success_count", "failed_count"
	default:
		return apperr.Invariant("cannot revise outcome %q to %q", from, to)
	}
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND "+dec+" > 0", id).
		Updates(map[string]interface{}{
			dec: gorm.Expr(dec + " - 1"),
			inc: gorm.Expr(inc + " + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.violation(ctx, tx, id, "revise %s of batch %d below zero", dec, id)
	}
	return nil
}

// RevokeOutcome takes one counted run back out of an open batch, used when
// the run is retried before the batch finished. A false result means the
// batch is already terminal and keeps the count.
func (r *BatchRepo) RevokeOutcome(ctx context.Context, tx *gorm.DB, id uint, outcome models.Outcome) (bool, error) {
	var column string
	switch outcome {
	case models.OutcomeSuccess:
		column = "success_count"
	case models.OutcomeFailed:
		column = "failed_count"
	default:
		return false, apperr.Invariant("cannot revoke outcome %q", outcome)
	}
	res := conn(r.db, tx).WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND status NOT IN ? AND "+column+" > 0", id, terminalBatchStatuses).
		Update(column, gorm.Expr(column+" - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	b, err := r.Get(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if b.Status.Terminal() {
		return false, nil
	}
	return false, r.violation(ctx, tx, id, "revoke %s of batch %d below zero", column, id)
}

// FinalizeIfDone makes a batch terminal once every run is counted. It is a
// no-op on batches that are already terminal or still have runs outstanding.
func (r *BatchRepo) FinalizeIfDone(ctx context.Context, tx *gorm.DB, id uint) (*models.Batch, error) {
	db := conn(r.db, tx).WithContext(ctx)
	err := db.Model(&models.Batch{}).
		Where("id = ? AND status NOT IN ? AND success_count + failed_count >= total_count", id, terminalBatchStatuses).
		Update("status", resolvedStatus()).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, tx, id)
}

// RefreshTerminalStatus re-derives completed or failed for a terminal batch
// whose counts were revised. A batch is never reopened.
func (r *BatchRepo) RefreshTerminalStatus(ctx context.Context, tx *gorm.DB, id uint) error {
	return conn(r.db, tx).WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND status IN ? AND success_count + failed_count >= total_count", id, terminalBatchStatuses).
		Update("status", resolvedStatus()).Error
}

// Recount overwrites the counters of an open batch with values recomputed
// from its runs. Runs that no longer exist (their document was deleted)
// count as failed so the batch can still finish. The caller must hold the
// batch row lock (GetForUpdate) from before c was counted.
func (r *BatchRepo) Recount(ctx context.Context, tx *gorm.DB, id uint, c OutcomeCounts) (bool, error) {
	b, err := r.Get(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if b.Status.Terminal() {
		return false, nil
	}
	missing := b.TotalCount - c.Runs
	if missing < 0 {
		return false, r.violation(ctx, tx, id, "batch %d has %d runs but a total of %d", id, c.Runs, b.TotalCount)
	}
	success, failed := c.Success, c.Failed+missing
	if success == b.SuccessCount && failed == b.FailedCount {
		return false, nil
	}
	err = conn(r.db, tx).WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND status NOT IN ?", id, terminalBatchStatuses).
		Updates(map[string]interface{}{
			"success_count": success,
			"failed_count":  failed,
		}).Error
	if err != nil {
		return false, err
	}
	r.log.Warn("batch counters recounted",
		zap.Uint("batch_id", id),
		zap.Int("success_before", b.SuccessCount), zap.Int("success_after", success),
		zap.Int("failed_before", b.FailedCount), zap.Int("failed_after", failed))
	return true, nil
}

func (r *BatchRepo) violation(ctx context.Context, tx *gorm.DB, id uint, format string, args ...any) error {
	if _, err := r.Get(ctx, tx, id); err != nil {
		return err
	}
	err := apperr.Invariant(format, args...)
	r.log.Error("batch invariant violated", zap.Uint("batch_id", id), zap.Error(err), zap.Stack("stack"))
	return err
}
