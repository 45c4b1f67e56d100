package repository

import (
	"context"
	"testing"
	"time"

	"feedstash/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a fresh in-memory database per test so cases cannot
// leak rows into each other.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Pooled sqlite :memory: connections each see their own database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Source{},
		&models.DownloadSession{},
		&models.Post{},
		&models.Comment{},
		&models.Content{},
	))
	return db
}

func createTestSource(t *testing.T, db *gorm.DB, name string, mutate ...func(*models.Source)) *models.Source {
	t.Helper()
	source := models.NewSource(name, models.SourceKindUser,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, m := range mutate {
		m(source)
	}
	require.NoError(t, db.Create(source).Error)
	return source
}

func createTestSession(t *testing.T, db *gorm.DB) *models.DownloadSession {
	t.Helper()
	session, err := NewSessionRepository(db).Open(context.Background(), "test run", 4, 4)
	require.NoError(t, err)
	return session
}

func createTestPost(t *testing.T, db *gorm.DB, source *models.Source, session *models.DownloadSession, mutate ...func(*models.Post)) *models.Post {
	t.Helper()
	post := &models.Post{
		RemoteID:  "r-" + source.Name,
		Title:     "a post from " + source.Name,
		URL:       "https://img.example.com/a.jpg",
		Domain:    "img.example.com",
		PostedAt:  time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		Status:    models.PostStatusPending,
		AuthorID:  source.ID,
		SessionID: session.ID,
	}
	for _, m := range mutate {
		m(post)
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func createTestContent(t *testing.T, db *gorm.DB, post *models.Post, mutate ...func(*models.Content)) *models.Content {
	t.Helper()
	content := &models.Content{
		Title:         post.Title,
		DownloadTitle: models.SanitizeDownloadTitle(post.Title),
		Extension:     "jpg",
		URL:           post.URL,
		Directory:     "downloads/test",
		PostID:        post.ID,
		SourceID:      post.AuthorID,
		SessionID:     post.SessionID,
	}
	for _, m := range mutate {
		m(content)
	}
	require.NoError(t, db.Create(content).Error)
	return content
}
