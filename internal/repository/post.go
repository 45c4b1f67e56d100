package repository

import (
	"context"
	"errors"
	"time"

	"feedstash/internal/models"

	"gorm.io/gorm"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	CreateIfNew(ctx context.Context, post *models.Post) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	ListBySource(ctx context.Context, sourceID uint, limit, offset int) ([]*models.Post, error)
	ListBySession(ctx context.Context, sessionID uint) ([]*models.Post, error)
	ListFailed(ctx context.Context, sessionID uint, limit, offset int) ([]*models.Post, error)
	MarkExtracted(ctx context.Context, id, sessionID uint) error
	MarkFailed(ctx context.Context, id, sessionID uint, reason string) error
	StatusCounts(ctx context.Context, sessionID uint) (map[string]int64, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

// CreateIfNew inserts the post unless the source already holds one with the
// same remote ID. The INSERT ... SELECT form keeps the existence check and
// the insert in one atomic statement.
func (r *postRepository) CreateIfNew(ctx context.Context, post *models.Post) (bool, error) {
	if post.RemoteID == "" {
		return true, r.Create(ctx, post)
	}
	if post.Status == "" {
		post.Status = models.PostStatusPending
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO posts (remote_id, title, url, domain, score, nsfw, posted_at,
		                    status, author_id, topic_id, session_id, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
		     SELECT 1 FROM posts WHERE author_id = ? AND remote_id = ?
		 )`,
		post.RemoteID, post.Title, post.URL, post.Domain, post.Score, post.Nsfw, post.PostedAt,
		post.Status, post.AuthorID, post.TopicID, post.SessionID, now, now,
		post.AuthorID, post.RemoteID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	created := res.RowsAffected > 0
	// Read back the persisted row either way: a skipped insert hands the
	// caller the existing row's key and status, which is what the retry
	// path of the extraction coordinator dispatches on.
	err := r.db.WithContext(ctx).
		Where("author_id = ? AND remote_id = ?", post.AuthorID, post.RemoteID).
		First(post).Error
	return created, err
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Comments").
		Preload("Contents").
		First(&post, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) ListBySource(ctx context.Context, sourceID uint, limit, offset int) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("author_id = ? OR topic_id = ?", sourceID, sourceID).
		Order("posted_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) ListBySession(ctx context.Context, sessionID uint) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("posted_at ASC").
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) ListFailed(ctx context.Context, sessionID uint, limit, offset int) ([]*models.Post, error) {
	var posts []*models.Post
	query := r.db.WithContext(ctx).
		Preload("Author").
		Where("status = ?", models.PostStatusFailed)
	if sessionID != 0 {
		query = query.Where("session_id = ?", sessionID)
	}
	err := query.Order("posted_at DESC").Limit(limit).Offset(offset).Find(&posts).Error
	return posts, err
}

// MarkExtracted settles a post as extracted and stamps the session that
// performed the extraction. Pending and previously-failed posts both
// qualify, so a later run's re-attempt recovers a failed post forward.
// Extracted is terminal; touching it again reports ErrInvalidTransition.
func (r *postRepository) MarkExtracted(ctx context.Context, id, sessionID uint) error {
	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND status IN ?", id, []string{models.PostStatusPending, models.PostStatusFailed}).
		Updates(map[string]interface{}{
			"status":           models.PostStatusExtracted,
			"extracted_at":     time.Now().UTC(),
			"extraction_error": nil,
			"session_id":       sessionID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

// MarkFailed records a failed extraction attempt. A repeat failure
// refreshes the reason and session; an extracted post never regresses.
func (r *postRepository) MarkFailed(ctx context.Context, id, sessionID uint, reason string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND status IN ?", id, []string{models.PostStatusPending, models.PostStatusFailed}).
		Updates(map[string]interface{}{
			"status":           models.PostStatusFailed,
			"extraction_error": reason,
			"session_id":       sessionID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *postRepository) StatusCounts(ctx context.Context, sessionID uint) (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Select("status, COUNT(*) as total").
		Where("session_id = ?", sessionID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}
	return counts, nil
}
