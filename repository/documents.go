package repository

import (
	"context"
	"errors"

	"omip-curator/apperr"
	"omip-curator/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DocumentRepo is the document registry.
type DocumentRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

// GetByHash returns the document with the given content hash, or nil.
func (r *DocumentRepo) GetByHash(ctx context.Context, tx *gorm.DB, hash string) (*models.Document, error) {
	var d models.Document
	err := conn(r.db, tx).WithContext(ctx).Where("content_hash = ?", hash).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a new document.
func (r *DocumentRepo) Create(ctx context.Context, tx *gorm.DB, filename, hash, storageKey string, pages int) (*models.Document, error) {
	d := models.Document{
		ContentHash: hash,
		Filename:    filename,
		StorageKey:  storageKey,
		PageCount:   pages,
	}
	if err := conn(r.db, tx).WithContext(ctx).Create(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// Get loads a document by id.
func (r *DocumentRepo) Get(ctx context.Context, tx *gorm.DB, id uint) (*models.Document, error) {
	var d models.Document
	if err := conn(r.db, tx).WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, translate(err, "document", id)
	}
	return &d, nil
}

// GetMany loads documents by id, keyed by id.
func (r *DocumentRepo) GetMany(ctx context.Context, tx *gorm.DB, ids []uint) (map[uint]models.Document, error) {
	out := make(map[uint]models.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var docs []models.Document
	if err := conn(r.db, tx).WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, err
	}
	for _, d := range docs {
		out[d.ID] = d
	}
	return out, nil
}

// List returns documents newest first.
func (r *DocumentRepo) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	var docs []models.Document
	err := r.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&docs).Error
	return docs, err
}

// Count returns the number of documents.
func (r *DocumentRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Document{}).Count(&n).Error
	return n, err
}

// SetOfficialRun points the document's official view at runID.
func (r *DocumentRepo) SetOfficialRun(ctx context.Context, tx *gorm.DB, documentID, runID uint) error {
	res := conn(r.db, tx).WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", documentID).
		Update("official_run_id", runID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("document", documentID)
	}
	return nil
}

// Delete removes a document with its runs, their elements and versions.
// Batches keep their counts.
func (r *DocumentRepo) Delete(ctx context.Context, tx *gorm.DB, documentID uint) error {
	db := conn(r.db, tx).WithContext(ctx)
	return db.Transaction(func(tx *gorm.DB) error {
		runIDs := tx.Model(&models.Run{}).Select("id").Where("document_id = ?", documentID)
		if err := tx.Where("run_id IN (?)", runIDs).Delete(&models.Element{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id IN (?)", runIDs).Delete(&models.MetadataVersion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&models.Run{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Document{}, documentID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("document", documentID)
		}
		r.log.Info("document deleted", zap.Uint("document_id", documentID))
		return nil
	})
}

// DeleteAll removes every document and returns how many were deleted.
func (r *DocumentRepo) DeleteAll(ctx context.Context) (int, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.Document{}).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if err := r.Delete(ctx, nil, id); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
