package repository

import (
	"context"
	"errors"
	"time"

	"feedstash/internal/models"
	"feedstash/internal/observability"

	"gorm.io/gorm"
)

// ContentRepository defines the interface for content data operations
type ContentRepository interface {
	CreateDeduped(ctx context.Context, content *models.Content, avoidDuplicates bool) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.Content, error)
	ListPending(ctx context.Context, limit int) ([]*models.Content, error)
	ListPendingBySession(ctx context.Context, sessionID uint) ([]*models.Content, error)
	ListFailed(ctx context.Context, sessionID uint, limit, offset int) ([]*models.Content, error)
	MarkDownloaded(ctx context.Context, id uint, downloadSessionID uint) error
	MarkFailed(ctx context.Context, id uint, reason string) error
	SessionCounts(ctx context.Context, sessionID uint) (queued, downloaded, failed int64, err error)
}

// contentRepository implements ContentRepository
type contentRepository struct {
	db      *gorm.DB
	metrics *observability.DatabaseMetrics
}

// NewContentRepository creates a new content repository
func NewContentRepository(db *gorm.DB) ContentRepository {
	return &contentRepository{db: db, metrics: observability.NewDatabaseMetrics(db)}
}

// CreateDeduped inserts the content row. When the owning source avoids
// duplicates, the insert only lands if no row with the same download title
// and extension exists for that source; check and insert run as one
// statement so concurrent workers cannot double-insert. Returns whether the
// row was created.
func (r *contentRepository) CreateDeduped(ctx context.Context, content *models.Content, avoidDuplicates bool) (bool, error) {
	defer r.metrics.TrackQuery("create_deduped", "contents")()

	if !avoidDuplicates {
		return true, r.db.WithContext(ctx).Create(content).Error
	}

	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO contents (title, download_title, extension, url, directory, downloaded,
		                       post_id, source_id, topic_id, session_id, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
		     SELECT 1 FROM contents
		     WHERE source_id = ? AND download_title = ? AND extension = ?
		 )`,
		content.Title, content.DownloadTitle, content.Extension, content.URL, content.Directory, false,
		content.PostID, content.SourceID, content.TopicID, content.SessionID, now, now,
		content.SourceID, content.DownloadTitle, content.Extension,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND download_title = ? AND extension = ?",
			content.SourceID, content.DownloadTitle, content.Extension).
		First(content).Error
	return true, err
}

func (r *contentRepository) GetByID(ctx context.Context, id uint) (*models.Content, error) {
	var content models.Content
	err := r.db.WithContext(ctx).First(&content, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &content, nil
}

// ListPending returns undownloaded content oldest-first. Items that failed
// in an earlier session stay in this queue, which is how later sessions
// pick them up again.
func (r *contentRepository) ListPending(ctx context.Context, limit int) ([]*models.Content, error) {
	defer r.metrics.TrackQuery("list_pending", "contents")()

	var contents []*models.Content
	query := r.db.WithContext(ctx).
		Where("downloaded = ?", false).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&contents).Error
	return contents, err
}

func (r *contentRepository) ListPendingBySession(ctx context.Context, sessionID uint) ([]*models.Content, error) {
	var contents []*models.Content
	err := r.db.WithContext(ctx).
		Where("downloaded = ? AND session_id = ?", false, sessionID).
		Order("id ASC").
		Find(&contents).Error
	return contents, err
}

func (r *contentRepository) ListFailed(ctx context.Context, sessionID uint, limit, offset int) ([]*models.Content, error) {
	var contents []*models.Content
	query := r.db.WithContext(ctx).
		Preload("Source").
		Where("downloaded = ? AND download_error IS NOT NULL", false)
	if sessionID != 0 {
		query = query.Where("session_id = ? OR download_session_id = ?", sessionID, sessionID)
	}
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&contents).Error
	return contents, err
}

// MarkDownloaded flips the content to downloaded exactly once and stamps
// the session that fetched the bytes. The discovery session reference is
// left untouched, so a retry completed in a later run keeps both.
func (r *contentRepository) MarkDownloaded(ctx context.Context, id uint, downloadSessionID uint) error {
	res := r.db.WithContext(ctx).
		Model(&models.Content{}).
		Where("id = ? AND downloaded = ?", id, false).
		Updates(map[string]interface{}{
			"downloaded":          true,
			"downloaded_at":       time.Now().UTC(),
			"download_error":      nil,
			"download_session_id": downloadSessionID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

// MarkFailed records a download failure. Already-downloaded content cannot
// regress to failed.
func (r *contentRepository) MarkFailed(ctx context.Context, id uint, reason string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Content{}).
		Where("id = ? AND downloaded = ?", id, false).
		Update("download_error", reason)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *contentRepository) SessionCounts(ctx context.Context, sessionID uint) (queued, downloaded, failed int64, err error) {
	if err = r.db.WithContext(ctx).Model(&models.Content{}).
		Where("session_id = ?", sessionID).
		Count(&queued).Error; err != nil {
		return
	}
	if err = r.db.WithContext(ctx).Model(&models.Content{}).
		Where("download_session_id = ? AND downloaded = ?", sessionID, true).
		Count(&downloaded).Error; err != nil {
		return
	}
	err = r.db.WithContext(ctx).Model(&models.Content{}).
		Where("session_id = ? AND downloaded = ? AND download_error IS NOT NULL", sessionID, false).
		Count(&failed).Error
	return
}
