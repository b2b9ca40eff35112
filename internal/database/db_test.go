package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/glavox/glavox-server/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t, Config{Driver: "sqlite"})
	require.NoError(t, db.Exec("SELECT 1").Error)
}

func TestOpenSQLiteFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "glavox.sqlite")
	db := openTestDB(t, Config{Driver: "sqlite", Path: path, MaxOpenConns: 4})
	require.NoError(t, AutoMigrate(db))
	require.FileExists(t, path)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestAutoMigrateCreatesTrackingTables(t *testing.T) {
	db := openTestDB(t, Config{Driver: "sqlite"})
	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	require.True(t, migrator.HasTable(&models.Session{}))
	require.True(t, migrator.HasTable(&models.TimeTracking{}))
	require.True(t, migrator.HasTable(&models.CacheEntry{}))
	require.True(t, migrator.HasIndex(&models.Session{}, "idx_sessions_user_created"))
	require.True(t, migrator.HasIndex(&models.TimeTracking{}, "idx_time_trackings_user_created"))
}

func TestTimestampsAreStoredInUTC(t *testing.T) {
	db := openTestDB(t, Config{Driver: "sqlite"})
	require.NoError(t, AutoMigrate(db))

	start := time.Date(2024, 3, 6, 15, 30, 0, 0, time.FixedZone("IST", 19800))
	session := models.Session{UserID: "u1", StartTime: start}
	require.NoError(t, db.Create(&session).Error)

	var loaded models.Session
	require.NoError(t, db.First(&loaded, "id = ?", session.ID).Error)
	require.True(t, loaded.StartTime.Equal(start))
	require.Equal(t, models.SessionStatusActive, loaded.Status)
	require.False(t, loaded.CreatedAt.IsZero())
}

func TestCloseRejectsNil(t *testing.T) {
	require.Error(t, Close(nil))
}

func openTestDB(t *testing.T, cfg Config) *gorm.DB {
	t.Helper()

	db, err := Open(cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
