// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"time"

	"feedstash/internal/cache"
	"feedstash/internal/models"
	"feedstash/internal/observability"

	"gorm.io/gorm"
)

// Columns a bulk settings edit may touch. Everything else, watermark above
// all, stays out of reach of bulk writes.
var bulkEditableColumns = map[string]struct{}{
	"post_limit":       {},
	"avoid_duplicates": {},
	"download_videos":  {},
	"download_images":  {},
	"comment_policy":   {},
	"nsfw_policy":      {},
	"save_structure":   {},
	"date_cutoff":      {},
	"enabled":          {},
}

// SourceRepository defines the interface for source data operations
type SourceRepository interface {
	Create(ctx context.Context, source *models.Source) error
	GetByID(ctx context.Context, id uint) (*models.Source, error)
	GetByName(ctx context.Context, name string) (*models.Source, error)
	List(ctx context.Context, kind string, limit, offset int) ([]*models.Source, error)
	ListEnabled(ctx context.Context) ([]*models.Source, error)
	Update(ctx context.Context, source *models.Source) error
	UpdateSettings(ctx context.Context, id uint, changes map[string]interface{}) error
	BulkUpdateSettings(ctx context.Context, ids []uint, changes map[string]interface{}) (int64, error)
	Delete(ctx context.Context, id uint) error
	AdvanceWatermark(ctx context.Context, id uint, candidate time.Time) (bool, error)
	SetActive(ctx context.Context, id uint, active bool) error
	TouchLastDownload(ctx context.Context, ids []uint, at time.Time) error
}

// sourceRepository implements SourceRepository
type sourceRepository struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &sourceRepository{db: db, logger: observability.NewRepoLogger("sources")}
}

func (r *sourceRepository) Create(ctx context.Context, source *models.Source) error {
	return r.db.WithContext(ctx).Create(source).Error
}

func (r *sourceRepository) GetByID(ctx context.Context, id uint) (*models.Source, error) {
	var source models.Source
	err := cache.Aside(ctx, cache.SourceKey(id), &source, cache.SourceTTL, func() error {
		return r.db.WithContext(ctx).First(&source, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &source, nil
}

func (r *sourceRepository) GetByName(ctx context.Context, name string) (*models.Source, error) {
	var source models.Source
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&source).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &source, nil
}

func (r *sourceRepository) List(ctx context.Context, kind string, limit, offset int) ([]*models.Source, error) {
	var sources []*models.Source
	query := r.db.WithContext(ctx).Order("name ASC").Limit(limit).Offset(offset)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.Find(&sources).Error
	return sources, err
}

func (r *sourceRepository) ListEnabled(ctx context.Context) ([]*models.Source, error) {
	var sources []*models.Source
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND active = ?", true, true).
		Order("name ASC").
		Find(&sources).Error
	return sources, err
}

func (r *sourceRepository) Update(ctx context.Context, source *models.Source) error {
	// The watermark moves only through AdvanceWatermark.
	err := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", source.ID).
		Select("*").
		Omit("id", "watermark", "created_at").
		Updates(source).Error
	if err == nil {
		cache.InvalidateSource(ctx, source.ID)
	}
	return err
}

func (r *sourceRepository) UpdateSettings(ctx context.Context, id uint, changes map[string]interface{}) error {
	filtered := filterBulkColumns(changes)
	if len(filtered) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", id).
		Updates(filtered).Error
	if err == nil {
		cache.InvalidateSource(ctx, id)
	}
	return err
}

func (r *sourceRepository) BulkUpdateSettings(ctx context.Context, ids []uint, changes map[string]interface{}) (int64, error) {
	filtered := filterBulkColumns(changes)
	if len(filtered) == 0 || len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id IN ? AND lock_settings = ?", ids, false).
		Updates(filtered)
	if res.Error != nil {
		r.logger.LogError(ctx, res.Error, "bulk_update_settings")
		return 0, res.Error
	}
	for _, id := range ids {
		cache.InvalidateSource(ctx, id)
	}
	return res.RowsAffected, nil
}

func filterBulkColumns(changes map[string]interface{}) map[string]interface{} {
	filtered := make(map[string]interface{}, len(changes))
	for col, val := range changes {
		if _, ok := bulkEditableColumns[col]; ok {
			filtered[col] = val
		}
	}
	return filtered
}

func (r *sourceRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Source{}, id).Error; err != nil {
		return err
	}
	cache.InvalidateSource(ctx, id)
	return nil
}

// AdvanceWatermark moves the source's watermark forward to candidate. The
// guarded update makes the advance atomic and monotonic: a candidate at or
// behind the current watermark matches no row and reports false.
func (r *sourceRepository) AdvanceWatermark(ctx context.Context, id uint, candidate time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ? AND watermark < ?", id, candidate).
		Update("watermark", candidate)
	if res.Error != nil {
		r.logger.LogError(ctx, res.Error, "advance_watermark")
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		cache.InvalidateSource(ctx, id)
		r.logger.LogWrite(ctx, "advance_watermark", map[string]interface{}{
			"source_id": id,
			"watermark": candidate,
		})
	}
	return res.RowsAffected > 0, nil
}

func (r *sourceRepository) SetActive(ctx context.Context, id uint, active bool) error {
	changes := map[string]interface{}{"active": active}
	if active {
		changes["inactive_at"] = nil
	} else {
		changes["inactive_at"] = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", id).
		Updates(changes).Error
	if err == nil {
		cache.InvalidateSource(ctx, id)
	}
	return err
}

func (r *sourceRepository) TouchLastDownload(ctx context.Context, ids []uint, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id IN ?", ids).
		Update("last_download_at", at).Error
	if err == nil {
		for _, id := range ids {
			cache.Invalidate(ctx, cache.SourceKey(id))
		}
	}
	return err
}
