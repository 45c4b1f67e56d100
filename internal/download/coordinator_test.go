package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"feedstash/internal/config"
	"feedstash/internal/events"
	"feedstash/internal/models"
	"feedstash/internal/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// One connection: a second pooled conn would see its own empty
	// in-memory database, and the workers here hit the store concurrently.
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

func openSession(t *testing.T, db *gorm.DB) *models.DownloadSession {
	t.Helper()
	session, err := repository.NewSessionRepository(db).Open(context.Background(), "test run", 2, 2)
	require.NoError(t, err)
	return session
}

func queueContent(t *testing.T, db *gorm.DB, session *models.DownloadSession, dir, title, rawURL string, mutate ...func(*models.Content)) *models.Content {
	t.Helper()
	source := &models.Source{}
	require.NoError(t, db.Where(models.Source{Name: "alice"}).
		Attrs(*models.NewSource("alice", models.SourceKindUser, time.Time{})).
		FirstOrCreate(source).Error)
	post := &models.Post{
		RemoteID:  "r-" + title,
		Title:     title,
		URL:       rawURL,
		Domain:    "cdn.example.com",
		PostedAt:  time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		Status:    models.PostStatusExtracted,
		AuthorID:  source.ID,
		SessionID: session.ID,
	}
	require.NoError(t, db.Create(post).Error)
	content := &models.Content{
		Title:         title,
		DownloadTitle: models.SanitizeDownloadTitle(title),
		Extension:     "jpg",
		URL:           rawURL,
		Directory:     dir,
		PostID:        post.ID,
		SourceID:      source.ID,
		SessionID:     session.ID,
	}
	for _, m := range mutate {
		m(content)
	}
	require.NoError(t, db.Create(content).Error)
	return content
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

func newTestCoordinator(db *gorm.DB, client *http.Client, publisher events.Publisher) *Coordinator {
	cfg := &config.Config{DownloadWorkers: 2, UserAgent: "feedstash-test"}
	return NewCoordinator(repository.NewContentRepository(db), client, publisher, cfg)
}

func TestCoordinator_RunDownloadsPendingContent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	session := openSession(t, db)
	dir := t.TempDir()

	payload := []byte("fake jpeg bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	first := queueContent(t, db, session, dir, "sunset", srv.URL+"/sunset.jpg")
	second := queueContent(t, db, session, dir, "sunrise", srv.URL+"/sunrise.jpg")
	publisher := &capturePublisher{}
	coord := newTestCoordinator(db, srv.Client(), publisher)

	report, err := coord.Run(ctx, session, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Downloaded)
	assert.Equal(t, 0, report.Failed)
	assert.EqualValues(t, len(payload)*2, report.Bytes)
	assert.Equal(t, []uint{first.SourceID}, report.SourceIDs)

	for _, content := range []*models.Content{first, second} {
		data, err := os.ReadFile(content.FilePath())
		require.NoError(t, err)
		assert.Equal(t, payload, data)

		var got models.Content
		require.NoError(t, db.First(&got, content.ID).Error)
		assert.True(t, got.Downloaded)
		require.NotNil(t, got.DownloadSessionID)
		assert.Equal(t, session.ID, *got.DownloadSessionID)
	}
	assert.Equal(t, 2, publisher.countType(events.EventContentDownloaded))

	// No leftover temp files after promotion.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCoordinator_RunRecordsFailure(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	session := openSession(t, db)
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	content := queueContent(t, db, session, dir, "gone", srv.URL+"/gone.jpg")
	publisher := &capturePublisher{}
	coord := newTestCoordinator(db, srv.Client(), publisher)

	report, err := coord.Run(ctx, session, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, report.SourceIDs)

	var got models.Content
	require.NoError(t, db.First(&got, content.ID).Error)
	assert.False(t, got.Downloaded)
	require.NotNil(t, got.DownloadError)
	assert.Equal(t, "host returned 404", *got.DownloadError)

	_, statErr := os.Stat(content.FilePath())
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 1, publisher.countType(events.EventContentFailed))
}

func TestCoordinator_TruncatedBodyLeavesNoPartialFile(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	session := openSession(t, db)
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more bytes than we deliver so the client read fails
		// mid-body.
		w.Header().Set("Content-Length", "4096")
		w.Write([]byte("short"))
	}))
	t.Cleanup(srv.Close)

	content := queueContent(t, db, session, dir, "cut off", srv.URL+"/cut.jpg")
	coord := newTestCoordinator(db, srv.Client(), nil)

	report, err := coord.Run(ctx, session, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	var got models.Content
	require.NoError(t, db.First(&got, content.ID).Error)
	assert.False(t, got.Downloaded)
	require.NotNil(t, got.DownloadError)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed fetch must clean up its temp file")
}

func TestCoordinator_BacklogDrainRetriesEarlierFailure(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	earlier := openSession(t, db)
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("recovered"))
	}))
	t.Cleanup(srv.Close)

	reason := "host returned 503"
	content := queueContent(t, db, earlier, dir, "flaky", srv.URL+"/flaky.jpg", func(c *models.Content) {
		c.DownloadError = &reason
	})

	retry := openSession(t, db)
	coord := newTestCoordinator(db, srv.Client(), nil)

	// A session-scoped drain does not see the other session's leftovers.
	report, err := coord.Run(ctx, retry, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)

	report, err = coord.Run(ctx, retry, Options{IncludeBacklog: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)

	// The row keeps its discovery session and gains the fetching one.
	var got models.Content
	require.NoError(t, db.First(&got, content.ID).Error)
	assert.True(t, got.Downloaded)
	assert.Nil(t, got.DownloadError)
	assert.Equal(t, earlier.ID, got.SessionID)
	require.NotNil(t, got.DownloadSessionID)
	assert.Equal(t, retry.ID, *got.DownloadSessionID)
}

func TestCoordinator_CancelledRunLeavesRowsPending(t *testing.T) {
	db := setupTestDB(t)
	session := openSession(t, db)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// The first fetch to arrive pulls the plug on the whole run.
	var cancelOnce sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancelOnce.Do(cancel)
		http.Error(w, "shutting down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	for _, title := range []string{"one", "two", "three"} {
		queueContent(t, db, session, dir, title, srv.URL+"/"+title+".jpg")
	}
	cfg := &config.Config{DownloadWorkers: 1, UserAgent: "feedstash-test"}
	coord := NewCoordinator(repository.NewContentRepository(db), srv.Client(), nil, cfg)

	report, err := coord.Run(ctx, session, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, 0, report.Failed)
	assert.GreaterOrEqual(t, report.Aborted, 1)

	// Nothing failed, nothing downloaded: the queue survives intact for
	// the next run.
	var contents []models.Content
	require.NoError(t, db.Find(&contents).Error)
	require.Len(t, contents, 3)
	for _, got := range contents {
		assert.False(t, got.Downloaded)
		assert.Nil(t, got.DownloadError)
	}
}
