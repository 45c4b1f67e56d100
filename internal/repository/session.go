package repository

import (
	"context"
	"errors"
	"time"

	"feedstash/internal/cache"
	"feedstash/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionRepository defines the interface for download session ledger operations
type SessionRepository interface {
	Open(ctx context.Context, name string, extractionWorkers, downloadWorkers int) (*models.DownloadSession, error)
	GetByID(ctx context.Context, id uint) (*models.DownloadSession, error)
	GetByRunID(ctx context.Context, runID string) (*models.DownloadSession, error)
	List(ctx context.Context, limit, offset int) ([]*models.DownloadSession, error)
	Latest(ctx context.Context) (*models.DownloadSession, error)
	UpdateTallies(ctx context.Context, session *models.DownloadSession) error
	Close(ctx context.Context, id uint) error
}

// sessionRepository implements SessionRepository
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Open creates the ledger row for a new run, recording the pool sizes the
// run was started with.
func (r *sessionRepository) Open(ctx context.Context, name string, extractionWorkers, downloadWorkers int) (*models.DownloadSession, error) {
	session := &models.DownloadSession{
		RunID:             uuid.NewString(),
		Name:              name,
		StartedAt:         time.Now().UTC(),
		ExtractionWorkers: extractionWorkers,
		DownloadWorkers:   downloadWorkers,
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id uint) (*models.DownloadSession, error) {
	var session models.DownloadSession
	err := cache.Aside(ctx, cache.SessionKey(id), &session, cache.SessionTTL, func() error {
		return r.db.WithContext(ctx).First(&session, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) GetByRunID(ctx context.Context, runID string) (*models.DownloadSession, error) {
	var session models.DownloadSession
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) List(ctx context.Context, limit, offset int) ([]*models.DownloadSession, error) {
	var sessions []*models.DownloadSession
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error
	return sessions, err
}

func (r *sessionRepository) Latest(ctx context.Context) (*models.DownloadSession, error) {
	var session models.DownloadSession
	err := r.db.WithContext(ctx).Order("started_at DESC").First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// UpdateTallies writes the session's counters. Only an open session can be
// updated; a closed ledger row is immutable.
func (r *sessionRepository) UpdateTallies(ctx context.Context, session *models.DownloadSession) error {
	res := r.db.WithContext(ctx).
		Model(&models.DownloadSession{}).
		Where("id = ? AND ended_at IS NULL", session.ID).
		Updates(map[string]interface{}{
			"sources_scanned":    session.SourcesScanned,
			"posts_discovered":   session.PostsDiscovered,
			"posts_extracted":    session.PostsExtracted,
			"posts_failed":       session.PostsFailed,
			"comments_harvested": session.CommentsHarvested,
			"content_queued":     session.ContentQueued,
			"content_downloaded": session.ContentDownloaded,
			"content_failed":     session.ContentFailed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrSessionClosed
	}
	cache.InvalidateSession(ctx, session.ID)
	return nil
}

// Close stamps the end time exactly once.
func (r *sessionRepository) Close(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Model(&models.DownloadSession{}).
		Where("id = ? AND ended_at IS NULL", id).
		Update("ended_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrSessionClosed
	}
	cache.InvalidateSession(ctx, id)
	return nil
}
