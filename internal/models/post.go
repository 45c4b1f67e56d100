package models

import (
	"time"
)

// Post extraction statuses. A post starts pending; extracted is terminal.
// Failed posts stay eligible for a later run's re-attempt and recover
// forward to extracted when it succeeds. The guarded updates in
// repository.PostRepository are the only way to change status.
const (
	PostStatusPending   = "pending"
	PostStatusExtracted = "extracted"
	PostStatusFailed    = "failed"
)

// Post represents a single submission discovered on a feed listing. The
// descriptive fields are written once at discovery; only the status fields
// change afterwards.
type Post struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	RemoteID string    `gorm:"size:64;index" json:"remote_id"`
	Title    string    `gorm:"not null" json:"title"`
	URL      string    `gorm:"not null" json:"url"`
	Domain   string    `gorm:"size:128;index" json:"domain"`
	Score    int       `json:"score"`
	Nsfw     bool      `json:"nsfw"`
	PostedAt time.Time `gorm:"index" json:"posted_at"`

	Status          string     `gorm:"size:16;default:pending;index" json:"status"`
	ExtractedAt     *time.Time `json:"extracted_at,omitempty"`
	ExtractionError *string    `json:"extraction_error,omitempty"`

	// AuthorID points at the user source that owns the post. TopicID is set
	// when the post was discovered through a topic feed.
	AuthorID uint    `gorm:"not null;index" json:"author_id"`
	Author   *Source `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	TopicID  *uint   `gorm:"index" json:"topic_id,omitempty"`
	Topic    *Source `gorm:"foreignKey:TopicID" json:"topic,omitempty"`

	// SessionID records the run that last created or transitioned the post,
	// so a re-attempted post belongs to the run that settled it.
	SessionID uint             `gorm:"not null;index" json:"session_id"`
	Session   *DownloadSession `gorm:"foreignKey:SessionID" json:"-"`

	Comments []Comment `gorm:"foreignKey:PostID" json:"comments,omitempty"`
	Contents []Content `gorm:"foreignKey:PostID" json:"contents,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pending reports whether the post still awaits its first extraction.
func (p *Post) Pending() bool { return p.Status == PostStatusPending }

// Extractable reports whether the post still needs an extraction attempt,
// either because it is new or because the last attempt failed.
func (p *Post) Extractable() bool { return p.Status != PostStatusExtracted }
