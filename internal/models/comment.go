package models

import "time"

// Comment represents a single comment harvested from a post's discussion
// tree. ParentID is nil for top-level comments, forming a self-referential
// tree under one post.
type Comment struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	RemoteID string    `gorm:"size:64;index" json:"remote_id"`
	Body     string    `gorm:"type:text" json:"body"`
	BodyHTML string    `gorm:"type:text" json:"body_html,omitempty"`
	Author   string    `gorm:"size:128" json:"author"`
	Score    int       `json:"score"`
	PostedAt time.Time `json:"posted_at"`

	PostID   uint      `gorm:"not null;index" json:"post_id"`
	Post     *Post     `gorm:"foreignKey:PostID" json:"-"`
	ParentID *uint     `gorm:"index" json:"parent_id,omitempty"`
	Parent   *Comment  `gorm:"foreignKey:ParentID" json:"-"`
	Replies  []Comment `gorm:"foreignKey:ParentID" json:"replies,omitempty"`

	SessionID uint             `gorm:"not null;index" json:"session_id"`
	Session   *DownloadSession `gorm:"foreignKey:SessionID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}
