package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"feedstash/internal/config"
	"feedstash/internal/download"
	"feedstash/internal/events"
	"feedstash/internal/extract"
	"feedstash/internal/listing"
	"feedstash/internal/models"
	"feedstash/internal/repository"
	"feedstash/internal/scrape"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Source{},
		&models.DownloadSession{},
		&models.Post{},
		&models.Comment{},
		&models.Content{},
	))
	return db
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) countType(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type stubNotifier struct {
	mu       sync.Mutex
	sessions []*models.DownloadSession
}

func (s *stubNotifier) NotifyRunFinished(_ context.Context, session *models.DownloadSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, session)
}

// feedServer serves per-source RSS documents and the media files their
// enclosures point at.
func feedServer(t *testing.T, feeds map[string]string, media []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := feeds[r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, body)
			return
		}
		if filepath.Ext(r.URL.Path) == ".jpg" {
			w.Write(media)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func rssFeed(title string, items ...string) string {
	doc := `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>` + title + `</title>`
	for _, item := range items {
		doc += item
	}
	return doc + `</channel></rss>`
}

func rssItem(guid, enclosureURL, pubDate string) string {
	return fmt.Sprintf(`<item><title>shot %s</title><link>%s</link><guid>%s</guid>`+
		`<enclosure url="%s" type="image/jpeg" length="100"/>`+
		`<pubDate>%s</pubDate></item>`, guid, enclosureURL, guid, enclosureURL, pubDate)
}

func newTestOrchestrator(t *testing.T, db *gorm.DB, srv *httptest.Server, downloadDir string, publisher events.Publisher, notifier Notifier) *Orchestrator {
	t.Helper()
	cfg := &config.Config{
		DownloadDir:       downloadDir,
		DateFloor:         "2024-01-01T00:00:00Z",
		ExtractionWorkers: 2,
		DownloadWorkers:   2,
		UserAgent:         "feedstash-test",
		FeedURLUser:       srv.URL + "/u/%s.rss",
		FeedURLTopic:      srv.URL + "/t/%s.rss",
	}
	sources := repository.NewSourceRepository(db)
	posts := repository.NewPostRepository(db)
	comments := repository.NewCommentRepository(db)
	contents := repository.NewContentRepository(db)
	sessions := repository.NewSessionRepository(db)

	scraper := scrape.NewCoordinator(scrape.Deps{
		Sources:   sources,
		Posts:     posts,
		Comments:  comments,
		Contents:  contents,
		Lister:    listing.NewFeedLister(srv.Client(), cfg),
		Registry:  extract.NewRegistry(),
		Publisher: publisher,
	}, cfg)
	downloader := download.NewCoordinator(contents, srv.Client(), publisher, cfg)

	return NewOrchestrator(Deps{
		Sessions:   sessions,
		Sources:    sources,
		Posts:      posts,
		Comments:   comments,
		Contents:   contents,
		Scraper:    scraper,
		Downloader: downloader,
		Publisher:  publisher,
		Notifier:   notifier,
	}, cfg)
}

func createEnabledSource(t *testing.T, db *gorm.DB, name, kind string) *models.Source {
	t.Helper()
	source := models.NewSource(name, kind, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, db.Create(source).Error)
	return source
}

func TestOrchestrator_RunEndToEnd(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	media := []byte("jpeg payload")
	var srv *httptest.Server
	feeds := map[string]string{}
	srv = feedServer(t, feeds, media)
	feeds["/u/alice.rss"] = rssFeed("alice",
		rssItem("p1", srv.URL+"/media/one.jpg", "Thu, 01 Feb 2024 10:00:00 +0000"),
		rssItem("p2", srv.URL+"/media/two.jpg", "Thu, 01 Feb 2024 12:00:00 +0000"),
	)

	source := createEnabledSource(t, db, "alice", models.SourceKindUser)
	publisher := &capturePublisher{}
	notifier := &stubNotifier{}
	orch := newTestOrchestrator(t, db, srv, dir, publisher, notifier)

	result, err := orch.Run(ctx, RunInput{Name: "nightly"})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	require.NotNil(t, result.Session.EndedAt, "ledger must be closed")
	assert.Equal(t, "nightly", result.Session.Name)
	assert.Equal(t, 1, result.Session.SourcesScanned)
	assert.Equal(t, 2, result.Session.PostsDiscovered)
	assert.Equal(t, 2, result.Session.PostsExtracted)
	assert.Equal(t, 0, result.Session.PostsFailed)
	assert.Equal(t, 2, result.Session.ContentQueued)
	assert.Equal(t, 2, result.Session.ContentDownloaded)
	require.NotNil(t, result.Download)
	assert.Equal(t, 2, result.Download.Downloaded)

	// Files on disk under the source's directory.
	entries, err := os.ReadDir(filepath.Join(dir, "alice"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Watermark follows the newest extracted post.
	got, err := repository.NewSourceRepository(db).GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.True(t, got.Watermark.Equal(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)))
	require.NotNil(t, got.LastDownloadAt)

	assert.Equal(t, 1, publisher.countType(events.EventRunStarted))
	assert.Equal(t, 1, publisher.countType(events.EventRunFinished))
	assert.Equal(t, 1, publisher.countType(events.EventSourceFinished))
	assert.Equal(t, 2, publisher.countType(events.EventContentDownloaded))

	require.Len(t, notifier.sessions, 1)
	assert.NotNil(t, notifier.sessions[0].EndedAt)
}

func TestOrchestrator_SecondRunIsIncremental(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	media := []byte("jpeg payload")
	var srv *httptest.Server
	feeds := map[string]string{}
	srv = feedServer(t, feeds, media)
	feeds["/u/alice.rss"] = rssFeed("alice",
		rssItem("p1", srv.URL+"/media/one.jpg", "Thu, 01 Feb 2024 10:00:00 +0000"),
	)

	createEnabledSource(t, db, "alice", models.SourceKindUser)
	orch := newTestOrchestrator(t, db, srv, dir, nil, nil)

	first, err := orch.Run(ctx, RunInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Session.PostsDiscovered)

	// The feed has not moved, so the next run finds nothing new: every
	// item sits at or below the advanced watermark.
	second, err := orch.Run(ctx, RunInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Session.PostsDiscovered)
	assert.Equal(t, 0, second.Session.PostsExtracted)
	assert.Equal(t, 0, second.Session.ContentQueued)
	assert.Equal(t, 0, second.Session.ContentDownloaded)
	assert.NotNil(t, second.Session.EndedAt)

	var sessionCount int64
	require.NoError(t, db.Model(&models.DownloadSession{}).Count(&sessionCount).Error)
	assert.EqualValues(t, 2, sessionCount)
}

func TestOrchestrator_RejectsConcurrentRuns(t *testing.T) {
	db := setupTestDB(t)
	srv := feedServer(t, map[string]string{}, nil)
	orch := newTestOrchestrator(t, db, srv, t.TempDir(), nil, nil)

	require.True(t, orch.acquire())
	defer orch.release()

	_, err := orch.Run(context.Background(), RunInput{})
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.True(t, orch.Running())
}

func TestOrchestrator_SourceFailureDoesNotAbortRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	media := []byte("jpeg payload")
	var srv *httptest.Server
	feeds := map[string]string{}
	srv = feedServer(t, feeds, media)
	// alice lists fine; bob's feed 404s.
	feeds["/u/alice.rss"] = rssFeed("alice",
		rssItem("p1", srv.URL+"/media/one.jpg", "Thu, 01 Feb 2024 10:00:00 +0000"),
	)

	createEnabledSource(t, db, "alice", models.SourceKindUser)
	createEnabledSource(t, db, "bob", models.SourceKindUser)
	orch := newTestOrchestrator(t, db, srv, dir, nil, nil)

	result, err := orch.Run(ctx, RunInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ScanErrors)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "alice", result.Sources[0].Source)
	assert.Equal(t, 1, result.Session.SourcesScanned)
	assert.NotNil(t, result.Session.EndedAt)
}

func TestOrchestrator_RestrictsRunToRequestedSources(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	media := []byte("jpeg payload")
	var srv *httptest.Server
	feeds := map[string]string{}
	srv = feedServer(t, feeds, media)
	feeds["/u/alice.rss"] = rssFeed("alice",
		rssItem("p1", srv.URL+"/media/one.jpg", "Thu, 01 Feb 2024 10:00:00 +0000"),
	)
	feeds["/u/bob.rss"] = rssFeed("bob",
		rssItem("p2", srv.URL+"/media/two.jpg", "Thu, 01 Feb 2024 11:00:00 +0000"),
	)

	alice := createEnabledSource(t, db, "alice", models.SourceKindUser)
	createEnabledSource(t, db, "bob", models.SourceKindUser)
	orch := newTestOrchestrator(t, db, srv, dir, nil, nil)

	result, err := orch.Run(ctx, RunInput{SourceIDs: []uint{alice.ID}})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "alice", result.Sources[0].Source)

	var postCount int64
	require.NoError(t, db.Model(&models.Post{}).Count(&postCount).Error)
	assert.EqualValues(t, 1, postCount)
}
