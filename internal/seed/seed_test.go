package seed

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"feedstash/internal/models"
)

func openSeedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Pooled :memory: connections each see their own database.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(
		&models.Source{},
		&models.DownloadSession{},
		&models.Post{},
		&models.Comment{},
		&models.Content{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSeedPopulatesArchive(t *testing.T) {
	db := openSeedDB(t)

	opts := Options{NumSources: 4, NumTopics: 2, PostsPerSource: 12, ShouldClean: true}
	if err := Seed(db, opts); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var sources int64
	if err := db.Model(&models.Source{}).Count(&sources).Error; err != nil {
		t.Fatalf("count sources: %v", err)
	}
	if sources != 6 {
		t.Fatalf("expected 6 sources, got %d", sources)
	}

	var posts int64
	if err := db.Model(&models.Post{}).Count(&posts).Error; err != nil {
		t.Fatalf("count posts: %v", err)
	}
	if posts != 48 {
		t.Fatalf("expected 48 posts, got %d", posts)
	}

	var extracted int64
	err := db.Model(&models.Post{}).
		Where("status = ?", models.PostStatusExtracted).
		Count(&extracted).Error
	if err != nil {
		t.Fatalf("count extracted: %v", err)
	}
	if extracted == 0 {
		t.Fatal("expected at least one extracted post")
	}

	var session models.DownloadSession
	if err := db.First(&session).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.EndedAt == nil {
		t.Fatal("expected the seeded session to be closed")
	}
	if session.PostsDiscovered != 48 {
		t.Fatalf("expected 48 discovered posts in tallies, got %d", session.PostsDiscovered)
	}
	if session.SourcesScanned != 4 {
		t.Fatalf("expected 4 scanned sources in tallies, got %d", session.SourcesScanned)
	}
	if int64(session.PostsExtracted) != extracted {
		t.Fatalf("tallies say %d extracted, store says %d", session.PostsExtracted, extracted)
	}

	var contents int64
	if err := db.Model(&models.Content{}).Count(&contents).Error; err != nil {
		t.Fatalf("count contents: %v", err)
	}
	if int64(session.ContentQueued) != contents {
		t.Fatalf("tallies say %d queued, store says %d", session.ContentQueued, contents)
	}
	if session.ContentDownloaded+session.ContentFailed > session.ContentQueued {
		t.Fatalf("download tallies exceed queue: %d + %d > %d",
			session.ContentDownloaded, session.ContentFailed, session.ContentQueued)
	}

	// No two rows may share the dedup key within one source.
	rows, err := db.Raw(`
		SELECT source_id, download_title, extension
		FROM contents
		GROUP BY source_id, download_title, extension
		HAVING COUNT(*) > 1
	`).Rows()
	if err != nil {
		t.Fatalf("duplicate key check query failed: %v", err)
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		t.Fatal("found content rows sharing a dedup key")
	}
}

func TestSeedWatermarkAdvances(t *testing.T) {
	db := openSeedDB(t)

	opts := Options{NumSources: 2, NumTopics: 0, PostsPerSource: 15, ShouldClean: false}
	if err := Seed(db, opts); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var moved int64
	err := db.Model(&models.Source{}).
		Where("kind = ? AND watermark > ?", models.SourceKindUser, time.Now().UTC().AddDate(0, -6, 0)).
		Count(&moved).Error
	if err != nil {
		t.Fatalf("count advanced watermarks: %v", err)
	}
	if moved == 0 {
		t.Fatal("expected at least one source watermark to advance past its seed floor")
	}
}

func TestSeedCleanWipesPreviousRun(t *testing.T) {
	db := openSeedDB(t)

	first := Options{NumSources: 3, NumTopics: 1, PostsPerSource: 5, ShouldClean: false}
	if err := Seed(db, first); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	second := Options{NumSources: 2, NumTopics: 0, PostsPerSource: 4, ShouldClean: true}
	if err := Seed(db, second); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var sources int64
	if err := db.Model(&models.Source{}).Count(&sources).Error; err != nil {
		t.Fatalf("count sources: %v", err)
	}
	if sources != 2 {
		t.Fatalf("expected clean to leave 2 sources, got %d", sources)
	}

	var sessions int64
	if err := db.Model(&models.DownloadSession{}).Count(&sessions).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if sessions != 1 {
		t.Fatalf("expected clean to leave 1 session, got %d", sessions)
	}
}

func TestFactoryOverrides(t *testing.T) {
	db := openSeedDB(t)
	f := NewFactory(db)

	source, err := f.CreateSource(func(s *models.Source) {
		s.Name = "fixed"
		s.Kind = models.SourceKindTopic
	})
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	if source.Name != "fixed" || source.Kind != models.SourceKindTopic {
		t.Fatalf("override not applied: %+v", source)
	}
	if source.PostLimit != 25 || !source.Enabled {
		t.Fatalf("defaults not applied: %+v", source)
	}

	session, err := f.CreateSession("factory run")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.RunID == "" || session.EndedAt != nil {
		t.Fatalf("expected an open session with a run id: %+v", session)
	}

	post, err := f.CreatePost(source, session, func(p *models.Post) {
		p.Title = "hello: world?"
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if post.Status != models.PostStatusExtracted || post.ExtractedAt == nil {
		t.Fatalf("expected an extracted post: %+v", post)
	}
	if post.AuthorID != source.ID || post.SessionID != session.ID {
		t.Fatalf("post not stamped with its owners: %+v", post)
	}

	content, err := f.CreateContent(post, source, session)
	if err != nil {
		t.Fatalf("create content: %v", err)
	}
	if content.DownloadTitle != models.SanitizeDownloadTitle(post.Title) {
		t.Fatalf("download title %q not derived from post title %q", content.DownloadTitle, post.Title)
	}
	if !content.Downloaded || content.DownloadSessionID == nil || *content.DownloadSessionID != session.ID {
		t.Fatalf("expected downloaded content stamped with the session: %+v", content)
	}

	comment, err := f.CreateComment(post, session)
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if comment.PostID != post.ID || !comment.PostedAt.After(post.PostedAt) {
		t.Fatalf("comment not attached under the post: %+v", comment)
	}
}
