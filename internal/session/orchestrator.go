// Package session orchestrates complete archive runs: open the ledger,
// scan every enabled source, drain the download queue, then settle and
// close the ledger. Runs are strictly serialized.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"feedstash/internal/config"
	"feedstash/internal/download"
	"feedstash/internal/events"
	"feedstash/internal/middleware"
	"feedstash/internal/models"
	"feedstash/internal/observability"
	"feedstash/internal/repository"
	"feedstash/internal/scrape"
)

// ErrRunInProgress is returned when a run is requested while another one
// still holds the orchestrator.
var ErrRunInProgress = errors.New("a run is already in progress")

// Notifier is told when a run's ledger has closed. A nil Notifier
// disables notifications.
type Notifier interface {
	NotifyRunFinished(ctx context.Context, session *models.DownloadSession)
}

// Deps bundles the orchestrator's collaborators. Publisher and Notifier
// may be nil.
type Deps struct {
	Sessions repository.SessionRepository
	Sources  repository.SourceRepository
	Posts    repository.PostRepository
	Comments repository.CommentRepository
	Contents repository.ContentRepository

	Scraper    *scrape.Coordinator
	Downloader *download.Coordinator
	Publisher  events.Publisher
	Notifier   Notifier
}

// Orchestrator drives one run at a time through its three phases.
type Orchestrator struct {
	sessions repository.SessionRepository
	sources  repository.SourceRepository
	posts    repository.PostRepository
	comments repository.CommentRepository
	contents repository.ContentRepository

	scraper    *scrape.Coordinator
	downloader *download.Coordinator
	publisher  events.Publisher
	notifier   Notifier

	extractionWorkers int
	downloadWorkers   int

	mu      sync.Mutex
	running bool
}

func NewOrchestrator(deps Deps, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		sessions:          deps.Sessions,
		sources:           deps.Sources,
		posts:             deps.Posts,
		comments:          deps.Comments,
		contents:          deps.Contents,
		scraper:           deps.Scraper,
		downloader:        deps.Downloader,
		publisher:         deps.Publisher,
		notifier:          deps.Notifier,
		extractionWorkers: cfg.ExtractionWorkers,
		downloadWorkers:   cfg.DownloadWorkers,
	}
}

// RunInput describes one requested run.
type RunInput struct {
	// Name labels the ledger row; empty gets a timestamped default.
	Name string `json:"name"`
	// SourceIDs restricts the scan to the named sources. Empty means
	// every enabled source.
	SourceIDs []uint `json:"source_ids"`
	// IncludeBacklog widens the download drain to undownloaded content
	// left over from earlier runs.
	IncludeBacklog bool `json:"include_backlog"`
}

// RunResult is the settled state of one run.
type RunResult struct {
	Session  *models.DownloadSession `json:"session"`
	Sources  []*scrape.SourceReport  `json:"sources"`
	Download *download.Report        `json:"download,omitempty"`
	// ScanErrors counts sources whose listing failed outright; their
	// watermarks did not move.
	ScanErrors int `json:"scan_errors"`
}

// Run executes one complete run. The ledger row is settled and closed on
// every path out of here, including cancellation mid-run; only a store
// that stopped answering can leave it open.
func (o *Orchestrator) Run(ctx context.Context, input RunInput) (*RunResult, error) {
	if !o.acquire() {
		return nil, ErrRunInProgress
	}
	defer o.release()

	name := input.Name
	if name == "" {
		name = "run " + time.Now().UTC().Format("2006-01-02 15:04:05")
	}
	session, err := o.sessions.Open(ctx, name, o.extractionWorkers, o.downloadWorkers)
	if err != nil {
		return nil, err
	}
	ctx = middleware.WithRunID(ctx, session.RunID)

	span, ctx := observability.NewSpan(ctx, "session.Run")
	defer span.End()
	span.AddAttributes(attribute.String("run.id", session.RunID))

	observability.RunsActive.Inc()
	outcome := observability.OutcomeOK
	started := time.Now()
	defer func() {
		observability.RunsActive.Dec()
		observability.RunsTotal.WithLabelValues(outcome).Inc()
		observability.RunDuration.Observe(time.Since(started).Seconds())
	}()

	observability.LogAsyncOperationStart(ctx, "session.run", map[string]interface{}{
		"run_id": session.RunID,
		"name":   name,
	})
	o.publish(events.Event{
		Type:  events.EventRunStarted,
		RunID: session.RunID,
		Payload: map[string]interface{}{
			"session_id": session.ID,
			"name":       name,
		},
	})

	result := &RunResult{Session: session}
	scanErr := o.scanSources(ctx, session, input.SourceIDs, result)

	var dlErr error
	if scanErr == nil {
		var dl *download.Report
		dl, dlErr = o.downloader.Run(ctx, session, download.Options{IncludeBacklog: input.IncludeBacklog})
		if dlErr == nil {
			result.Download = dl
			if len(dl.SourceIDs) > 0 {
				if err := o.sources.TouchLastDownload(ctx, dl.SourceIDs, time.Now().UTC()); err != nil {
					observability.LogAsyncOperationError(ctx, "session.touch_last_download", err, nil)
				}
			}
		}
	}

	// The ledger settles even when the run was cancelled mid-flight.
	settleCtx := context.WithoutCancel(ctx)
	settleErr := o.settleTallies(settleCtx, session, result)
	if settleErr != nil {
		observability.LogAsyncOperationError(settleCtx, "session.settle_tallies", settleErr, nil)
	}
	closeErr := o.sessions.Close(settleCtx, session.ID)
	if closeErr != nil {
		observability.LogAsyncOperationError(settleCtx, "session.close", closeErr, nil)
	}
	if closed, err := o.sessions.GetByID(settleCtx, session.ID); err == nil {
		result.Session = closed
	}

	runErr := firstError(scanErr, dlErr, settleErr, closeErr)
	if runErr != nil {
		outcome = observability.OutcomeFailed
		span.SetError(runErr)
	}

	payload := map[string]interface{}{"session_id": session.ID}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	o.publish(events.Event{Type: events.EventRunFinished, RunID: session.RunID, Payload: payload})
	if o.notifier != nil {
		o.notifier.NotifyRunFinished(settleCtx, result.Session)
	}

	observability.LogAsyncOperationEnd(ctx, "session.run", map[string]interface{}{
		"run_id":      session.RunID,
		"sources":     len(result.Sources),
		"scan_errors": result.ScanErrors,
	})
	return result, runErr
}

// Running reports whether a run currently holds the orchestrator.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// scanSources runs the extraction phase source by source. One source
// failing to list does not stop the others; only a dead store or a
// cancelled run does.
func (o *Orchestrator) scanSources(ctx context.Context, session *models.DownloadSession, only []uint, result *RunResult) error {
	sources, err := o.sources.ListEnabled(ctx)
	if err != nil {
		return err
	}
	if len(only) > 0 {
		wanted := make(map[uint]struct{}, len(only))
		for _, id := range only {
			wanted[id] = struct{}{}
		}
		filtered := sources[:0]
		for _, source := range sources {
			if _, ok := wanted[source.ID]; ok {
				filtered = append(filtered, source)
			}
		}
		sources = filtered
	}

	for _, source := range sources {
		report, err := o.scraper.RunSource(ctx, source, session)
		if err != nil {
			result.ScanErrors++
			observability.LogAsyncOperationError(ctx, "session.scan_source", err, map[string]interface{}{
				"source": source.Name,
			})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		result.Sources = append(result.Sources, report)
	}
	return nil
}

// settleTallies writes the run's final counters from the store rather
// than from in-memory reports, so posts re-attempted and re-stamped by
// this run are counted exactly once.
func (o *Orchestrator) settleTallies(ctx context.Context, session *models.DownloadSession, result *RunResult) error {
	statuses, err := o.posts.StatusCounts(ctx, session.ID)
	if err != nil {
		return err
	}
	comments, err := o.comments.CountBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	queued, downloaded, failed, err := o.contents.SessionCounts(ctx, session.ID)
	if err != nil {
		return err
	}

	discovered := 0
	for _, report := range result.Sources {
		discovered += report.Discovered
	}
	session.SourcesScanned = len(result.Sources)
	session.PostsDiscovered = discovered
	session.PostsExtracted = int(statuses[models.PostStatusExtracted])
	session.PostsFailed = int(statuses[models.PostStatusFailed])
	session.CommentsHarvested = int(comments)
	session.ContentQueued = int(queued)
	session.ContentDownloaded = int(downloaded)
	session.ContentFailed = int(failed)
	return o.sessions.UpdateTallies(ctx, session)
}

func (o *Orchestrator) publish(event events.Event) {
	if o.publisher != nil {
		o.publisher.Publish(event)
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
