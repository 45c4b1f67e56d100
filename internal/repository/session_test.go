package repository

import (
	"context"
	"testing"
	"time"

	"feedstash/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepository_OpenAndClose(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	session, err := repo.Open(ctx, "nightly", 6, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, session.RunID)
	assert.Equal(t, 6, session.ExtractionWorkers)
	assert.Equal(t, 3, session.DownloadWorkers)
	assert.True(t, session.Open())

	require.NoError(t, repo.Close(ctx, session.ID))

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.NotNil(t, got.EndedAt)

	// The ledger row closes exactly once.
	assert.ErrorIs(t, repo.Close(ctx, session.ID), models.ErrSessionClosed)
}

func TestSessionRepository_UpdateTalliesRejectsClosed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	session, err := repo.Open(ctx, "nightly", 4, 4)
	require.NoError(t, err)

	session.PostsDiscovered = 12
	session.PostsExtracted = 10
	session.PostsFailed = 2
	require.NoError(t, repo.UpdateTallies(ctx, session))

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.PostsDiscovered)
	assert.Equal(t, 10, got.PostsExtracted)
	assert.Equal(t, 2, got.PostsFailed)

	require.NoError(t, repo.Close(ctx, session.ID))

	session.PostsExtracted = 99
	assert.ErrorIs(t, repo.UpdateTallies(ctx, session), models.ErrSessionClosed)
}

func TestSessionRepository_GetByRunID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	session, err := repo.Open(ctx, "nightly", 4, 4)
	require.NoError(t, err)

	got, err := repo.GetByRunID(ctx, session.RunID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = repo.GetByRunID(ctx, "not-a-run")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionRepository_ListNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	first, err := repo.Open(ctx, "first", 4, 4)
	require.NoError(t, err)
	second, err := repo.Open(ctx, "second", 4, 4)
	require.NoError(t, err)

	// Force distinct start times; sqlite timestamps can collide within a test.
	require.NoError(t, db.Model(first).Update("started_at", first.StartedAt.Add(-time.Minute)).Error)

	sessions, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}
