// Package seed provides helpers to create demo data for development
// databases. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"

	"feedstash/internal/models"
)

// Factory builds domain entities and persists them to the database. It is
// a thin helper used by the seeder and tests.
type Factory struct {
	db *gorm.DB
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	return &Factory{db: db}
}

// CreateSource constructs and persists a sample user source with the
// application defaults. Optional override functions may modify the
// generated source before saving.
func (f *Factory) CreateSource(overrides ...func(*models.Source)) (*models.Source, error) {
	name := fmt.Sprintf("%s%d", gofakeit.Username(), gofakeit.Number(100, 999))
	source := models.NewSource(name, models.SourceKindUser, time.Now().UTC().AddDate(-1, 0, 0))

	for _, override := range overrides {
		override(source)
	}

	if err := f.db.Create(source).Error; err != nil {
		return nil, err
	}
	return source, nil
}

// CreateSession constructs and persists an open download session.
func (f *Factory) CreateSession(name string, overrides ...func(*models.DownloadSession)) (*models.DownloadSession, error) {
	session := &models.DownloadSession{
		RunID:             gofakeit.UUID(),
		Name:              name,
		StartedAt:         time.Now().UTC().Add(-time.Hour),
		ExtractionWorkers: 4,
		DownloadWorkers:   4,
	}

	for _, override := range overrides {
		override(session)
	}

	if err := f.db.Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// CreatePost constructs and persists an extracted post for the given
// source, stamped with the given session.
func (f *Factory) CreatePost(source *models.Source, session *models.DownloadSession, overrides ...func(*models.Post)) (*models.Post, error) {
	postedAt := spreadBack(90)
	extractedAt := postedAt.Add(time.Duration(gofakeit.Number(1, 72)) * time.Hour)

	post := &models.Post{
		RemoteID:    gofakeit.LetterN(7),
		Title:       gofakeit.Sentence(5),
		URL:         gofakeit.URL(),
		Domain:      gofakeit.DomainName(),
		Score:       gofakeit.Number(0, 50000),
		Nsfw:        gofakeit.Number(1, 10) == 1,
		PostedAt:    postedAt,
		Status:      models.PostStatusExtracted,
		ExtractedAt: &extractedAt,
		AuthorID:    source.ID,
		SessionID:   session.ID,
	}

	for _, override := range overrides {
		override(post)
	}

	if err := f.db.Create(post).Error; err != nil {
		return nil, err
	}
	return post, nil
}

// CreateContent constructs and persists a downloaded content row for the
// given post. The download title is derived from the post title the same
// way extraction derives it.
func (f *Factory) CreateContent(post *models.Post, source *models.Source, session *models.DownloadSession, overrides ...func(*models.Content)) (*models.Content, error) {
	ext := extensions[gofakeit.Number(0, len(extensions)-1)]
	host := mediaHosts[gofakeit.Number(0, len(mediaHosts)-1)]
	downloadedAt := time.Now().UTC().Add(-time.Duration(gofakeit.Number(1, 240)) * time.Minute)

	content := &models.Content{
		Title:             post.Title,
		DownloadTitle:     models.SanitizeDownloadTitle(post.Title),
		Extension:         ext,
		URL:               fmt.Sprintf("https://%s/%s.%s", host, gofakeit.UUID(), ext),
		Directory:         models.BuildSaveDirectory("downloads", source.SaveStructure, source.Name, ""),
		Downloaded:        true,
		DownloadedAt:      &downloadedAt,
		PostID:            post.ID,
		SourceID:          source.ID,
		SessionID:         session.ID,
		DownloadSessionID: &session.ID,
	}

	for _, override := range overrides {
		override(content)
	}

	if err := f.db.Create(content).Error; err != nil {
		return nil, err
	}
	return content, nil
}

// CreateComment constructs and persists a sample comment on the provided
// post.
func (f *Factory) CreateComment(post *models.Post, session *models.DownloadSession, overrides ...func(*models.Comment)) (*models.Comment, error) {
	comment := &models.Comment{
		RemoteID:  gofakeit.LetterN(7),
		Body:      gofakeit.Sentence(12),
		Author:    gofakeit.Username(),
		Score:     gofakeit.Number(-5, 500),
		PostedAt:  post.PostedAt.Add(time.Duration(gofakeit.Number(5, 600)) * time.Minute),
		PostID:    post.ID,
		SessionID: session.ID,
	}

	for _, override := range overrides {
		override(comment)
	}

	if err := f.db.Create(comment).Error; err != nil {
		return nil, err
	}
	return comment, nil
}

// spreadBack returns a timestamp scattered over the last maxDays days so
// seeded feeds look organically aged.
func spreadBack(maxDays int) time.Time {
	daysBack := gofakeit.Number(0, maxDays-1)
	hoursBack := gofakeit.Number(0, 23)
	minsBack := gofakeit.Number(0, 59)
	return time.Now().UTC().
		Add(-time.Duration(daysBack)*24*time.Hour -
			time.Duration(hoursBack)*time.Hour -
			time.Duration(minsBack)*time.Minute)
}
