// Package events carries run progress from the coordinators to websocket
// subscribers.
package events

import "time"

// Progress event types published over the lifetime of a run.
const (
	EventRunStarted        = "run_started"
	EventRunFinished       = "run_finished"
	EventSourceStarted     = "source_started"
	EventSourceFinished    = "source_finished"
	EventPostExtracted     = "post_extracted"
	EventPostFailed        = "post_failed"
	EventContentDownloaded = "content_downloaded"
	EventContentFailed     = "content_failed"
)

// Event is one progress notification. Payload is event-type specific and
// serialized as-is to subscribers.
type Event struct {
	Type    string      `json:"type"`
	RunID   string      `json:"run_id,omitempty"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload,omitempty"`
}

// Publisher is the side of the hub the coordinators see. A nil Publisher
// is allowed; callers skip publishing then.
type Publisher interface {
	Publish(event Event)
}
