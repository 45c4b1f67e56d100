package models

import "time"

// DownloadSession is the ledger row for one orchestrated run. It records
// the pool sizes the run used and the final tallies so past runs can be
// audited and compared.
type DownloadSession struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	RunID string `gorm:"size:36;uniqueIndex;not null" json:"run_id"`
	Name  string `gorm:"size:128" json:"name"`

	StartedAt time.Time  `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	ExtractionWorkers int `json:"extraction_workers"`
	DownloadWorkers   int `json:"download_workers"`

	SourcesScanned    int `json:"sources_scanned"`
	PostsDiscovered   int `json:"posts_discovered"`
	PostsExtracted    int `json:"posts_extracted"`
	PostsFailed       int `json:"posts_failed"`
	CommentsHarvested int `json:"comments_harvested"`
	ContentQueued     int `json:"content_queued"`
	ContentDownloaded int `json:"content_downloaded"`
	ContentFailed     int `json:"content_failed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open reports whether the session is still running.
func (s *DownloadSession) Open() bool { return s.EndedAt == nil }

// Duration returns the wall-clock length of the session, measured to now
// for a session that has not ended yet.
func (s *DownloadSession) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
