// Package download drains the pending content queue onto disk. Workers
// fetch into temp files and promote them with an atomic rename, so an
// interrupted fetch can never leave a row downloaded without its bytes.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"feedstash/internal/config"
	"feedstash/internal/events"
	"feedstash/internal/models"
	"feedstash/internal/observability"
	"feedstash/internal/repository"
)

// Coordinator fetches queued content over a fixed pool of workers.
type Coordinator struct {
	contents  repository.ContentRepository
	client    *http.Client
	publisher events.Publisher
	workers   int
	userAgent string
}

func NewCoordinator(contents repository.ContentRepository, client *http.Client, publisher events.Publisher, cfg *config.Config) *Coordinator {
	workers := cfg.DownloadWorkers
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		contents:  contents,
		client:    client,
		publisher: publisher,
		workers:   workers,
		userAgent: cfg.UserAgent,
	}
}

// Options control which slice of the queue a drain covers.
type Options struct {
	// IncludeBacklog widens the drain beyond the session's own
	// discoveries to everything still undownloaded, which is how items
	// that failed in earlier runs get re-attempted.
	IncludeBacklog bool
	// Limit caps a backlog drain; zero means no cap.
	Limit int
}

// Report summarizes one drain.
type Report struct {
	Attempted  int    `json:"attempted"`
	Downloaded int    `json:"downloaded"`
	Failed     int    `json:"failed"`
	Aborted    int    `json:"aborted"`
	Bytes      int64  `json:"bytes"`
	SourceIDs  []uint `json:"-"`
}

type fetchResult struct {
	downloaded bool
	aborted    bool
	bytes      int64
	sourceID   uint
}

// Run drains the queue for an open session. Cancellation stops the feed;
// items already handed to a worker settle or abort, everything not yet
// dispatched simply stays pending for the next run.
func (c *Coordinator) Run(ctx context.Context, session *models.DownloadSession, opts Options) (*Report, error) {
	span, ctx := observability.NewSpan(ctx, "download.Run")
	defer span.End()

	var (
		pending []*models.Content
		err     error
	)
	if opts.IncludeBacklog {
		pending, err = c.contents.ListPending(ctx, opts.Limit)
	} else {
		pending, err = c.contents.ListPendingBySession(ctx, session.ID)
	}
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	observability.LogAsyncOperationStart(ctx, "download.run", map[string]interface{}{
		"pending": len(pending),
		"workers": c.workers,
	})

	report := &Report{Attempted: len(pending)}
	touched := make(map[uint]struct{})
	var mu sync.Mutex

	jobs := make(chan *models.Content)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for content := range jobs {
				observability.WorkersBusy.WithLabelValues(observability.PoolDownload).Inc()
				res := c.fetch(ctx, content, session)
				observability.WorkersBusy.WithLabelValues(observability.PoolDownload).Dec()
				mu.Lock()
				switch {
				case res.downloaded:
					report.Downloaded++
					report.Bytes += res.bytes
					touched[res.sourceID] = struct{}{}
				case res.aborted:
					report.Aborted++
				default:
					report.Failed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, content := range pending {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- content:
		}
	}
	close(jobs)
	wg.Wait()

	report.Attempted = report.Downloaded + report.Failed + report.Aborted
	report.SourceIDs = make([]uint, 0, len(touched))
	for id := range touched {
		report.SourceIDs = append(report.SourceIDs, id)
	}
	sort.Slice(report.SourceIDs, func(i, j int) bool { return report.SourceIDs[i] < report.SourceIDs[j] })

	observability.LogAsyncOperationEnd(ctx, "download.run", map[string]interface{}{
		"downloaded": report.Downloaded,
		"failed":     report.Failed,
		"aborted":    report.Aborted,
		"bytes":      report.Bytes,
	})
	return report, nil
}

func (c *Coordinator) fetch(ctx context.Context, content *models.Content, session *models.DownloadSession) fetchResult {
	start := time.Now()
	written, err := c.downloadFile(ctx, content)
	observability.RecordDownload(hostOf(content.URL), written, time.Since(start), err)

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a host problem. The row stays pending so the
			// next run picks it up without a failure on its record.
			return fetchResult{aborted: true}
		}
		if markErr := c.contents.MarkFailed(ctx, content.ID, err.Error()); markErr != nil {
			observability.LogAsyncOperationError(ctx, "download.mark_failed", markErr, map[string]interface{}{
				"content_id": content.ID,
			})
		}
		c.publish(events.Event{
			Type:  events.EventContentFailed,
			RunID: session.RunID,
			Payload: map[string]interface{}{
				"content_id": content.ID,
				"url":        content.URL,
				"reason":     err.Error(),
			},
		})
		return fetchResult{}
	}

	if err := c.contents.MarkDownloaded(ctx, content.ID, session.ID); err != nil {
		observability.LogAsyncOperationError(ctx, "download.mark_downloaded", err, map[string]interface{}{
			"content_id": content.ID,
		})
		return fetchResult{}
	}
	c.publish(events.Event{
		Type:  events.EventContentDownloaded,
		RunID: session.RunID,
		Payload: map[string]interface{}{
			"content_id": content.ID,
			"file":       content.FilePath(),
			"bytes":      written,
		},
	})
	return fetchResult{downloaded: true, bytes: written, sourceID: content.SourceID}
}

// downloadFile writes the remote body to a temp file next to the final
// path and promotes it with a rename once the bytes are synced. The temp
// name carries a uuid so concurrent fetches of colliding titles cannot
// step on each other's partial file.
func (c *Coordinator) downloadFile(ctx context.Context, content *models.Content) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, content.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("host returned %d", resp.StatusCode)
	}

	if err := os.MkdirAll(content.Directory, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	final := content.FilePath()
	tmp := final + "." + uuid.NewString() + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return written, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return written, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return written, err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return written, fmt.Errorf("promote file: %w", err)
	}
	return written, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	return u.Hostname()
}

func (c *Coordinator) publish(event events.Event) {
	if c.publisher != nil {
		c.publisher.Publish(event)
	}
}
