package repository

import (
	"context"
	"testing"
	"time"

	"feedstash/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceRepository_AdvanceWatermark(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	source := createTestSource(t, db, "alice")
	base := source.Watermark

	t.Run("newer candidate advances", func(t *testing.T) {
		candidate := base.Add(48 * time.Hour)
		advanced, err := repo.AdvanceWatermark(ctx, source.ID, candidate)
		require.NoError(t, err)
		assert.True(t, advanced)

		got, err := repo.GetByID(ctx, source.ID)
		require.NoError(t, err)
		assert.True(t, got.Watermark.Equal(candidate))
	})

	t.Run("equal candidate is a no-op", func(t *testing.T) {
		current, err := repo.GetByID(ctx, source.ID)
		require.NoError(t, err)

		advanced, err := repo.AdvanceWatermark(ctx, source.ID, current.Watermark)
		require.NoError(t, err)
		assert.False(t, advanced)
	})

	t.Run("older candidate never regresses", func(t *testing.T) {
		before, err := repo.GetByID(ctx, source.ID)
		require.NoError(t, err)

		advanced, err := repo.AdvanceWatermark(ctx, source.ID, base.Add(-time.Hour))
		require.NoError(t, err)
		assert.False(t, advanced)

		after, err := repo.GetByID(ctx, source.ID)
		require.NoError(t, err)
		assert.True(t, after.Watermark.Equal(before.Watermark))
	})
}

func TestSourceRepository_UpdatePreservesWatermark(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	source := createTestSource(t, db, "alice")
	original := source.Watermark

	// A stale in-memory copy must not drag the watermark backwards.
	source.PostLimit = 50
	source.Watermark = original.Add(-72 * time.Hour)
	require.NoError(t, repo.Update(ctx, source))

	got, err := repo.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.PostLimit)
	assert.True(t, got.Watermark.Equal(original))
}

func TestSourceRepository_BulkUpdateSettingsHonorsLock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	open := createTestSource(t, db, "open")
	locked := createTestSource(t, db, "locked", func(s *models.Source) {
		s.LockSettings = true
	})

	affected, err := repo.BulkUpdateSettings(ctx, []uint{open.ID, locked.ID}, map[string]interface{}{
		"post_limit":  100,
		"nsfw_policy": models.NsfwExclude,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	gotOpen, err := repo.GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, gotOpen.PostLimit)
	assert.Equal(t, models.NsfwExclude, gotOpen.NsfwPolicy)

	gotLocked, err := repo.GetByID(ctx, locked.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, gotLocked.PostLimit)
	assert.Equal(t, models.NsfwInclude, gotLocked.NsfwPolicy)
}

func TestSourceRepository_BulkUpdateSettingsFiltersColumns(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	source := createTestSource(t, db, "alice")

	// watermark and name are not bulk-editable; the whole map reduces to
	// nothing and no row is touched.
	affected, err := repo.BulkUpdateSettings(ctx, []uint{source.ID}, map[string]interface{}{
		"watermark": time.Now().Add(time.Hour),
		"name":      "mallory",
	})
	require.NoError(t, err)
	assert.Zero(t, affected)

	got, err := repo.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)
	assert.True(t, got.Watermark.Equal(source.Watermark))
}

func TestSourceRepository_SetActive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	source := createTestSource(t, db, "alice")

	require.NoError(t, repo.SetActive(ctx, source.ID, false))
	got, err := repo.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.InactiveAt)

	require.NoError(t, repo.SetActive(ctx, source.ID, true))
	got, err = repo.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Nil(t, got.InactiveAt)
}

func TestSourceRepository_ListEnabledSkipsDisabledAndInactive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	createTestSource(t, db, "active")
	createTestSource(t, db, "disabled", func(s *models.Source) { s.Enabled = false })
	inactive := createTestSource(t, db, "inactive")
	require.NoError(t, repo.SetActive(ctx, inactive.ID, false))

	sources, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "active", sources[0].Name)
}

func TestSourceRepository_GetByNameNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSourceRepository(db)

	_, err := repo.GetByName(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
