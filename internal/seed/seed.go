package seed

import (
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"

	"feedstash/internal/models"
)

// Options configuration for the seeder.
type Options struct {
	NumSources     int
	NumTopics      int
	PostsPerSource int
	ShouldClean    bool
}

var (
	topicNames = []string{
		"pics", "space", "earthscapes", "history", "machinelearning",
		"woodworking", "astrophotography", "cityscapes", "wildlife",
		"retrocomputing", "mapmaking", "fermentation", "filmgrain",
	}

	mediaHosts = []string{
		"i.stash.example.com", "media.example.net", "cdn.pixhost.example",
		"files.archive.example",
	}

	extensions = []string{"jpg", "png", "gif", "mp4", "webm"}

	extractionFailures = []string{
		"no extractor registered for host",
		"gallery returned 404",
		"media page resolved to an html document",
		"album listing was empty",
		"host rate limited the request",
	}

	downloadFailures = []string{
		"host returned 503",
		"host returned 410 gone",
		"connection reset mid-transfer",
		"content length mismatch",
	}
)

// Seed populates the database with a believable archive: sources with
// aged posts, downloaded and failed content, harvested comments, and one
// closed session whose tallies match the rows.
func Seed(db *gorm.DB, opts Options) error {
	log.Printf("🌱 Seeding %d user sources and %d topic feeds, about %d posts each...",
		opts.NumSources, opts.NumTopics, opts.PostsPerSource)

	if opts.ShouldClean {
		if err := clearData(db); err != nil {
			log.Println("⚠️  Warning: could not clear all existing data, continuing anyway...")
		}
	}

	f := NewFactory(db)

	session, err := f.CreateSession("seeded run")
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	topics, err := createTopics(f, opts.NumTopics)
	if err != nil {
		return fmt.Errorf("failed to create topic feeds: %w", err)
	}
	log.Printf("✓ %d topic feeds created", len(topics))

	sources, err := createUserSources(f, opts.NumSources)
	if err != nil {
		return fmt.Errorf("failed to create sources: %w", err)
	}
	log.Printf("✓ %d user sources created", len(sources))

	posts := 0
	for _, source := range sources {
		n, err := populateSource(f, db, source, topics, session, opts.PostsPerSource)
		if err != nil {
			return fmt.Errorf("failed to populate source %s: %w", source.Name, err)
		}
		posts += n
	}
	log.Printf("✓ %d posts created", posts)

	if err := closeSession(db, session); err != nil {
		return fmt.Errorf("failed to settle session: %w", err)
	}

	log.Println("✨ All done! Your archive is now populated with demo data.")
	return nil
}

func clearData(db *gorm.DB) error {
	log.Println("🗑️  Clearing existing data...")
	// Child tables first; sqlite has no TRUNCATE CASCADE.
	for _, table := range []string{"contents", "comments", "posts", "download_sessions", "sources"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}
	return nil
}

func createTopics(f *Factory, count int) ([]*models.Source, error) {
	if count > len(topicNames) {
		count = len(topicNames)
	}
	topics := make([]*models.Source, 0, count)
	for i := 0; i < count; i++ {
		name := topicNames[i]
		topic, err := f.CreateSource(func(s *models.Source) {
			s.Name = name
			s.Kind = models.SourceKindTopic
			s.SaveStructure = models.SaveBySource
		})
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func createUserSources(f *Factory, count int) ([]*models.Source, error) {
	sources := make([]*models.Source, 0, count)

	// A couple of stable names so the dev UI always has something familiar.
	if count >= 2 {
		for _, name := range []string{"demo_author", "archive_fan"} {
			fixed := name
			source, err := f.CreateSource(func(s *models.Source) {
				s.Name = fixed
				s.CommentPolicy = models.CommentsAll
			})
			if err != nil {
				return nil, err
			}
			sources = append(sources, source)
		}
	}

	for i := len(sources); i < count; i++ {
		source, err := f.CreateSource(func(s *models.Source) {
			// A third of the sources harvest comments too.
			if gofakeit.Number(1, 3) == 1 {
				s.CommentPolicy = models.CommentsAuthor
			}
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// populateSource writes a believable history for one source: mostly
// extracted posts with content, a few failed extractions and a couple of
// stragglers still pending. The source watermark is advanced to its newest
// extracted post, the same place a real run would leave it.
func populateSource(f *Factory, db *gorm.DB, source *models.Source, topics []*models.Source, session *models.DownloadSession, count int) (int, error) {
	var newest time.Time

	for i := 0; i < count; i++ {
		var topic *models.Source
		if len(topics) > 0 && gofakeit.Number(1, 3) == 1 {
			topic = topics[gofakeit.Number(0, len(topics)-1)]
		}

		roll := gofakeit.Number(1, 100)
		switch {
		case roll <= 75:
			post, err := createExtractedPost(f, source, topic, session)
			if err != nil {
				return i, err
			}
			if post.PostedAt.After(newest) {
				newest = post.PostedAt
			}
		case roll <= 90:
			if _, err := createFailedPost(f, source, topic, session); err != nil {
				return i, err
			}
		default:
			if _, err := createPendingPost(f, source, topic, session); err != nil {
				return i, err
			}
		}
	}

	if !newest.IsZero() {
		if err := db.Model(source).Update("watermark", newest).Error; err != nil {
			return count, err
		}
	}
	return count, nil
}

func createExtractedPost(f *Factory, source, topic *models.Source, session *models.DownloadSession) (*models.Post, error) {
	post, err := f.CreatePost(source, session, withTopic(topic))
	if err != nil {
		return nil, err
	}

	// Albums carry several items; singles keep the bare title so the
	// dedup key stays collision-free within the source.
	items := 1
	if gofakeit.Number(1, 5) == 1 {
		items = gofakeit.Number(2, 4)
	}
	for i := 0; i < items; i++ {
		index := i
		_, err := f.CreateContent(post, source, session, func(c *models.Content) {
			if items > 1 {
				c.Title = fmt.Sprintf("%s %d", post.Title, index+1)
				c.DownloadTitle = models.SanitizeDownloadTitle(c.Title)
			}
			if topic != nil {
				c.TopicID = &topic.ID
				c.Directory = models.BuildSaveDirectory("downloads", source.SaveStructure, source.Name, topic.Name)
			}
			// A few transfers failed and wait for a backlog retry.
			if gofakeit.Number(1, 10) == 1 {
				reason := downloadFailures[gofakeit.Number(0, len(downloadFailures)-1)]
				c.Downloaded = false
				c.DownloadedAt = nil
				c.DownloadSessionID = nil
				c.DownloadError = &reason
			}
		})
		if err != nil {
			return nil, err
		}
	}

	if source.CommentPolicy != models.CommentsNone && gofakeit.Number(1, 3) == 1 {
		replies := gofakeit.Number(1, 5)
		for i := 0; i < replies; i++ {
			override := func(c *models.Comment) {
				if source.CommentPolicy == models.CommentsAuthor {
					c.Author = source.Name
				}
			}
			if _, err := f.CreateComment(post, session, override); err != nil {
				return nil, err
			}
		}
	}
	return post, nil
}

func createFailedPost(f *Factory, source, topic *models.Source, session *models.DownloadSession) (*models.Post, error) {
	reason := extractionFailures[gofakeit.Number(0, len(extractionFailures)-1)]
	return f.CreatePost(source, session, withTopic(topic), func(p *models.Post) {
		p.Status = models.PostStatusFailed
		p.ExtractedAt = nil
		p.ExtractionError = &reason
	})
}

func createPendingPost(f *Factory, source, topic *models.Source, session *models.DownloadSession) (*models.Post, error) {
	return f.CreatePost(source, session, withTopic(topic), func(p *models.Post) {
		p.Status = models.PostStatusPending
		p.ExtractedAt = nil
	})
}

func withTopic(topic *models.Source) func(*models.Post) {
	return func(p *models.Post) {
		if topic != nil {
			p.TopicID = &topic.ID
		}
	}
}

// closeSession settles the session tallies from the rows actually written,
// the way a real run settles from the store.
func closeSession(db *gorm.DB, session *models.DownloadSession) error {
	var extracted, failed, comments, queued, downloaded, failedDl int64

	if err := db.Model(&models.Post{}).
		Where("session_id = ? AND status = ?", session.ID, models.PostStatusExtracted).
		Count(&extracted).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Post{}).
		Where("session_id = ? AND status = ?", session.ID, models.PostStatusFailed).
		Count(&failed).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Comment{}).
		Where("session_id = ?", session.ID).
		Count(&comments).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Content{}).
		Where("session_id = ?", session.ID).
		Count(&queued).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Content{}).
		Where("session_id = ? AND downloaded = ?", session.ID, true).
		Count(&downloaded).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Content{}).
		Where("session_id = ? AND downloaded = ? AND download_error IS NOT NULL", session.ID, false).
		Count(&failedDl).Error; err != nil {
		return err
	}

	var discovered int64
	if err := db.Model(&models.Post{}).
		Where("session_id = ?", session.ID).
		Count(&discovered).Error; err != nil {
		return err
	}
	var scanned int64
	if err := db.Model(&models.Post{}).
		Where("session_id = ?", session.ID).
		Distinct("author_id").
		Count(&scanned).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	return db.Model(session).Updates(map[string]interface{}{
		"ended_at":           now,
		"sources_scanned":    scanned,
		"posts_discovered":   discovered,
		"posts_extracted":    extracted,
		"posts_failed":       failed,
		"comments_harvested": comments,
		"content_queued":     queued,
		"content_downloaded": downloaded,
		"content_failed":     failedDl,
	}).Error
}
