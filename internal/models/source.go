// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Source kinds. A user source tracks everything posted by one author; a
// topic source tracks everything posted under one topic feed.
const (
	SourceKindUser  = "user"
	SourceKindTopic = "topic"
)

// Nsfw policies controlling which candidate posts a source accepts.
const (
	NsfwExclude = "exclude"
	NsfwInclude = "include"
	NsfwOnly    = "only"
)

// Comment download policies.
const (
	CommentsNone   = "none"
	CommentsAuthor = "author"
	CommentsAll    = "all"
)

// Save structures controlling where a source's files land under the
// download root.
const (
	SaveFlat         = "flat"
	SaveByAuthor     = "author"
	SaveBySource     = "source"
	SaveSourceAuthor = "source_author"
)

// Source represents a tracked feed: either one author's submissions or one
// topic feed. Its Watermark is the newest post timestamp that has been
// successfully extracted; it only ever moves forward, and only through
// store.SourceRepository.AdvanceWatermark.
type Source struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
	Kind string `gorm:"size:16;not null;index" json:"kind"`

	PostLimit       int    `json:"post_limit"`
	AvoidDuplicates bool   `json:"avoid_duplicates"`
	DownloadVideos  bool   `json:"download_videos"`
	DownloadImages  bool   `json:"download_images"`
	CommentPolicy   string `gorm:"size:16" json:"comment_policy"`
	NsfwPolicy      string `gorm:"size:16" json:"nsfw_policy"`
	SaveStructure   string `gorm:"size:24" json:"save_structure"`

	// Watermark is seeded from the configured global floor when the source
	// is created and advanced after successful extraction batches.
	Watermark  time.Time  `json:"watermark"`
	DateCutoff *time.Time `json:"date_cutoff,omitempty"`

	// LockSettings shields this source's policy fields from bulk edits.
	LockSettings bool `json:"lock_settings"`

	Enabled        bool       `json:"enabled"`
	Active         bool       `json:"active"`
	InactiveAt     *time.Time `json:"inactive_at,omitempty"`
	LastDownloadAt *time.Time `json:"last_download_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// NewSource returns a source with the application defaults applied. The
// watermark argument seeds the initial cutoff, normally the configured
// global date floor.
func NewSource(name, kind string, watermark time.Time) *Source {
	return &Source{
		Name:            name,
		Kind:            kind,
		PostLimit:       25,
		AvoidDuplicates: true,
		DownloadVideos:  true,
		DownloadImages:  true,
		CommentPolicy:   CommentsNone,
		NsfwPolicy:      NsfwInclude,
		SaveStructure:   SaveBySource,
		Watermark:       watermark,
		Enabled:         true,
		Active:          true,
	}
}

// EffectiveCutoff returns the newest of the watermark and the user-supplied
// date cutoff; candidate posts at or before this instant are not fetched.
func (s *Source) EffectiveCutoff() time.Time {
	if s.DateCutoff != nil && s.DateCutoff.After(s.Watermark) {
		return *s.DateCutoff
	}
	return s.Watermark
}

// AcceptsNsfw reports whether the source's nsfw policy admits a post with
// the given flag.
func (s *Source) AcceptsNsfw(nsfw bool) bool {
	switch s.NsfwPolicy {
	case NsfwExclude:
		return !nsfw
	case NsfwOnly:
		return nsfw
	default:
		return true
	}
}
