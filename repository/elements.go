package repository

import (
	"context"
	"time"

	"omip-curator/models"

	"gorm.io/gorm"
)

// ElementRepo stores the tables and figures of runs. Draft gating is the
// caller's job; every write here runs inside the caller's transaction.
type ElementRepo struct {
	db *gorm.DB
}

// CreateMany inserts elements and fills in their ids.
func (r *ElementRepo) CreateMany(ctx context.Context, tx *gorm.DB, els []models.Element) ([]models.Element, error) {
	if len(els) == 0 {
		return []models.Element{}, nil
	}
	if err := conn(r.db, tx).WithContext(ctx).Create(&els).Error; err != nil {
		return nil, err
	}
	return els, nil
}

// Get loads one element.
func (r *ElementRepo) Get(ctx context.Context, tx *gorm.DB, id uint) (*models.Element, error) {
	var el models.Element
	if err := conn(r.db, tx).WithContext(ctx).First(&el, id).Error; err != nil {
		return nil, translate(err, "element", id)
	}
	return &el, nil
}

// ListByRun returns a run's elements by order index.
func (r *ElementRepo) ListByRun(ctx context.Context, tx *gorm.DB, runID uint) ([]models.Element, error) {
	var out []models.Element
	err := conn(r.db, tx).WithContext(ctx).
		Where("run_id = ?", runID).
		Order("order_index ASC").Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListByRuns returns the elements of several runs keyed by run id.
func (r *ElementRepo) ListByRuns(ctx context.Context, runIDs []uint) (map[uint][]models.Element, error) {
	out := make(map[uint][]models.Element, len(runIDs))
	if len(runIDs) == 0 {
		return out, nil
	}
	var els []models.Element
	err := r.db.WithContext(ctx).
		Where("run_id IN ?", runIDs).
		Order("run_id ASC").Order("order_index ASC").Order("id ASC").
		Find(&els).Error
	if err != nil {
		return nil, err
	}
	for _, e := range els {
		out[e.RunID] = append(out[e.RunID], e)
	}
	return out, nil
}

// Save writes the caption and content of an element.
func (r *ElementRepo) Save(ctx context.Context, tx *gorm.DB, el *models.Element) error {
	return conn(r.db, tx).WithContext(ctx).Model(&models.Element{}).
		Where("id = ?", el.ID).
		Updates(map[string]interface{}{
			"caption":    el.Caption,
			"content":    el.Content,
			"updated_at": time.Now(),
		}).Error
}

// DeleteByRun removes all elements of a run.
func (r *ElementRepo) DeleteByRun(ctx context.Context, tx *gorm.DB, runID uint) error {
	return conn(r.db, tx).WithContext(ctx).Where("run_id = ?", runID).Delete(&models.Element{}).Error
}

// ReplaceForRun swaps a run's elements for els in one step. Order indexes
// are reassigned 0..n-1 in the given order.
func (r *ElementRepo) ReplaceForRun(ctx context.Context, tx *gorm.DB, runID uint, els []models.Element) ([]models.Element, error) {
	var out []models.Element
	err := conn(r.db, tx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.DeleteByRun(ctx, tx, runID); err != nil {
			return err
		}
		for i := range els {
			els[i].ID = 0
			els[i].RunID = runID
			els[i].OrderIndex = i
		}
		created, err := r.CreateMany(ctx, tx, els)
		out = created
		return err
	})
	return out, err
}
