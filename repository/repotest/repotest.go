// Package repotest opens migrated in-memory databases for tests.
package repotest

import (
	"testing"

	"omip-curator/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a fresh, migrated sqlite database that lives as long as t.
// A single connection is used, so code under test must only use the
// transaction handle inside a transaction.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))
	return db
}

// OpenStore returns a Store over OpenDB.
func OpenStore(t testing.TB) *repository.Store {
	t.Helper()
	return repository.New(OpenDB(t), zap.NewNop())
}
