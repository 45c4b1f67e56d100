package models

import (
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Filesystem naming rules for downloaded files. Titles are clamped well
// under common path-component limits so the full path survives on every
// supported filesystem.
const (
	forbiddenTitleChars = "\"*\\/'.|?:<>"
	titlePlaceholder    = '#'

	downloadTitleCeiling = 176
	downloadTitleKeep    = 170

	// truncationMarker must stay clear of forbiddenTitleChars so a second
	// sanitize pass leaves a truncated title untouched.
	truncationMarker = "…"
)

// SanitizeDownloadTitle converts a post title into a filesystem-safe file
// stem. Forbidden characters become '#'; titles at or over the ceiling are
// cut back to a rune boundary and given a trailing ellipsis. The function
// is idempotent.
func SanitizeDownloadTitle(title string) string {
	sanitized := strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenTitleChars, r) {
			return titlePlaceholder
		}
		return r
	}, title)
	if len(sanitized) >= downloadTitleCeiling {
		cut := downloadTitleKeep
		for cut > 0 && !utf8.RuneStart(sanitized[cut]) {
			cut--
		}
		sanitized = sanitized[:cut] + truncationMarker
	}
	return sanitized
}

// BuildSaveDirectory resolves where a piece of content lands under the
// download root according to the owning source's save structure.
func BuildSaveDirectory(root, structure, author, topic string) string {
	switch structure {
	case SaveFlat:
		return root
	case SaveByAuthor:
		return filepath.Join(root, author)
	case SaveSourceAuthor:
		if topic == "" {
			return filepath.Join(root, author)
		}
		return filepath.Join(root, topic, author)
	default: // SaveBySource
		if topic == "" {
			return filepath.Join(root, author)
		}
		return filepath.Join(root, topic)
	}
}

// Content represents one downloadable item produced by extracting a post.
// A post may yield many content rows (for example each image of an album).
// SessionID is the run that discovered the item; DownloadSessionID is the
// run that actually fetched its bytes, which differs when a failed item is
// retried in a later run.
type Content struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Title         string `gorm:"not null" json:"title"`
	DownloadTitle string `gorm:"not null;index" json:"download_title"`
	Extension     string `gorm:"size:16;not null" json:"extension"`
	URL           string `gorm:"not null" json:"url"`
	Directory     string `json:"directory"`

	Downloaded    bool       `gorm:"default:false;index" json:"downloaded"`
	DownloadedAt  *time.Time `json:"downloaded_at,omitempty"`
	DownloadError *string    `json:"download_error,omitempty"`

	PostID   uint    `gorm:"not null;index" json:"post_id"`
	Post     *Post   `gorm:"foreignKey:PostID" json:"-"`
	SourceID uint    `gorm:"not null;index" json:"source_id"`
	Source   *Source `gorm:"foreignKey:SourceID" json:"-"`
	TopicID  *uint   `gorm:"index" json:"topic_id,omitempty"`

	SessionID         uint             `gorm:"not null;index" json:"session_id"`
	Session           *DownloadSession `gorm:"foreignKey:SessionID" json:"-"`
	DownloadSessionID *uint            `gorm:"index" json:"download_session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FilePath returns the final on-disk location for the content.
func (c *Content) FilePath() string {
	return filepath.Join(c.Directory, c.DownloadTitle+"."+c.Extension)
}
