// Package repository persists documents, runs, batches, metadata versions and
// elements with gorm. Every method takes an optional *gorm.DB transaction;
// nil means the store's own connection.
package repository

import (
	"context"
	"errors"

	"omip-curator/apperr"
	"omip-curator/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store bundles the repositories over one database handle.
type Store struct {
	db *gorm.DB

	Documents *DocumentRepo
	Runs      *RunRepo
	Batches   *BatchRepo
	Versions  *VersionRepo
	Elements  *ElementRepo
}

// New wires all repositories over db.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:        db,
		Documents: &DocumentRepo{db: db, log: logger.With(zap.String("repo", "documents"))},
		Runs:      &RunRepo{db: db, log: logger.With(zap.String("repo", "runs"))},
		Batches:   &BatchRepo{db: db, log: logger.With(zap.String("repo", "batches"))},
		Versions:  &VersionRepo{db: db},
		Elements:  &ElementRepo{db: db},
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn in a database transaction. Inside fn only tx may be used.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Document{},
		&models.Batch{},
		&models.Run{},
		&models.MetadataVersion{},
		&models.Element{},
	)
}

func conn(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

func translate(err error, entity string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(entity, id)
	}
	return err
}
