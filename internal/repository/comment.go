package repository

import (
	"context"

	"feedstash/internal/models"

	"gorm.io/gorm"
)

// CommentRepository defines the interface for comment data operations
type CommentRepository interface {
	CreateBatch(ctx context.Context, comments []*models.Comment) error
	ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error)
	CountBySession(ctx context.Context, sessionID uint) (int64, error)
}

// commentRepository implements CommentRepository
type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

// CreateBatch inserts a harvested comment tree. Rows arrive parent-first;
// a child carrying a Parent pointer picks up the key generated for that
// parent earlier in the same transaction.
func (r *commentRepository) CreateBatch(ctx context.Context, comments []*models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, comment := range comments {
			if comment.Parent != nil {
				comment.ParentID = &comment.Parent.ID
			}
			if err := tx.Omit("Parent", "Replies", "Post", "Session").Create(comment).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *commentRepository) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("posted_at ASC").
		Find(&comments).Error
	return comments, err
}

func (r *commentRepository) CountBySession(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}
