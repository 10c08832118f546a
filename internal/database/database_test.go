package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/internal/models"
)

func TestConnectSQLite_MigratesSchema(t *testing.T) {
	db, err := ConnectSQLite(":memory:")
	require.NoError(t, err)

	migrator := db.Migrator()
	for _, table := range []string{"user_profiles", "relationships", "follow_requests", "feed_items"} {
		assert.True(t, migrator.HasTable(table), "missing table %s", table)
	}

	// Schema is usable end to end.
	require.NoError(t, db.Create(&models.UserProfile{
		ID:       "u1",
		Username: "runner_jo",
	}).Error)
	var count int64
	require.NoError(t, db.Model(&models.UserProfile{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := ConnectSQLite(":memory:")
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))
}

func TestRegisteredMigrations_WellFormed(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)

	seen := make(map[int]bool)
	last := 0
	for _, m := range migs {
		assert.Greater(t, m.Version, last, "versions should be strictly increasing")
		assert.False(t, seen[m.Version], "duplicate version %d", m.Version)
		seen[m.Version] = true
		last = m.Version

		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.UpScript)
		assert.NotEmpty(t, m.DownScript)
	}

	first := GetMigrationByVersion(migs[0].Version)
	require.NotNil(t, first)
	assert.Equal(t, migs[0].Name, first.Name)
	assert.Nil(t, GetMigrationByVersion(999999))
}
