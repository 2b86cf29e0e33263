package repository

import (
	"context"

	"omip-curator/models"

	"gorm.io/gorm"
)

// VersionRepo is the append-only metadata history of runs.
type VersionRepo struct {
	db *gorm.DB
}

// Append snapshots m as a new version of run runID.
func (r *VersionRepo) Append(ctx context.Context, tx *gorm.DB, runID uint, m models.Metadata) (*models.MetadataVersion, error) {
	v := models.NewMetadataVersion(runID, m)
	if err := conn(r.db, tx).WithContext(ctx).Create(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// List returns the versions of a run, newest first.
func (r *VersionRepo) List(ctx context.Context, runID uint) ([]models.MetadataVersion, error) {
	var out []models.MetadataVersion
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at DESC").Order("id DESC").
		Find(&out).Error
	return out, err
}

// Get returns one version of a run.
func (r *VersionRepo) Get(ctx context.Context, runID, versionID uint) (*models.MetadataVersion, error) {
	var v models.MetadataVersion
	err := r.db.WithContext(ctx).Where("id = ? AND run_id = ?", versionID, runID).First(&v).Error
	if err != nil {
		return nil, translate(err, "version", versionID)
	}
	return &v, nil
}
