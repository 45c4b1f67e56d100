package database

import (
	"testing"

	"feedstash/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectSqliteMigratesSchema(t *testing.T) {
	cfg := &config.Config{
		DBDriver: "sqlite",
		DBPath:   ":memory:",
		Env:      "test",
	}

	db, err := Connect(cfg)
	require.NoError(t, err)

	for _, model := range PersistentModels() {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
}

func TestPersistentModelsCoverDomain(t *testing.T) {
	// Five entities make up the archive schema; a new model must be
	// registered here or AutoMigrate will silently skip it.
	assert.Len(t, PersistentModels(), 5)
}
