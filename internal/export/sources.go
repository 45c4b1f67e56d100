package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"feedstash/internal/models"
)

// sourcePageSize bounds one store read while exporting.
const sourcePageSize = 200

// SourceSpec is the yaml shape of one source. Boolean fields are pointers
// so an omitted key falls back to the application default instead of
// being read as false.
type SourceSpec struct {
	Name            string     `yaml:"name"`
	Kind            string     `yaml:"kind,omitempty"`
	PostLimit       int        `yaml:"post_limit,omitempty"`
	AvoidDuplicates *bool      `yaml:"avoid_duplicates,omitempty"`
	DownloadVideos  *bool      `yaml:"download_videos,omitempty"`
	DownloadImages  *bool      `yaml:"download_images,omitempty"`
	CommentPolicy   string     `yaml:"comment_policy,omitempty"`
	NsfwPolicy      string     `yaml:"nsfw_policy,omitempty"`
	SaveStructure   string     `yaml:"save_structure,omitempty"`
	DateCutoff      *time.Time `yaml:"date_cutoff,omitempty"`
	LockSettings    *bool      `yaml:"lock_settings,omitempty"`
	Enabled         *bool      `yaml:"enabled,omitempty"`
}

type sourceDocument struct {
	Sources []SourceSpec `yaml:"sources"`
}

// ImportResult summarizes one import pass.
type ImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// ExportSources writes every stored source as a yaml document that
// ImportSources accepts back.
func (e *Exporter) ExportSources(ctx context.Context, w io.Writer) error {
	doc := sourceDocument{Sources: []SourceSpec{}}
	for offset := 0; ; offset += sourcePageSize {
		page, err := e.sources.List(ctx, "", sourcePageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list sources: %w", err)
		}
		for _, source := range page {
			doc.Sources = append(doc.Sources, specFromSource(source))
		}
		if len(page) < sourcePageSize {
			break
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// ImportSources reads a yaml source document and registers every source
// that is not already known. Known names are skipped, never overwritten;
// an import must not clobber settings an operator tuned by hand.
func (e *Exporter) ImportSources(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc sourceDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse source document: %w", err)
	}

	result := &ImportResult{}
	for i, spec := range doc.Sources {
		if err := validateSpec(spec); err != nil {
			return nil, fmt.Errorf("source %d: %w", i+1, err)
		}
		_, err := e.sources.GetByName(ctx, spec.Name)
		if err == nil {
			result.Skipped++
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up source %q: %w", spec.Name, err)
		}
		if err := e.sources.Create(ctx, e.sourceFromSpec(spec)); err != nil {
			return nil, fmt.Errorf("failed to create source %q: %w", spec.Name, err)
		}
		result.Created++
	}
	return result, nil
}

func specFromSource(source *models.Source) SourceSpec {
	return SourceSpec{
		Name:            source.Name,
		Kind:            source.Kind,
		PostLimit:       source.PostLimit,
		AvoidDuplicates: ptr(source.AvoidDuplicates),
		DownloadVideos:  ptr(source.DownloadVideos),
		DownloadImages:  ptr(source.DownloadImages),
		CommentPolicy:   source.CommentPolicy,
		NsfwPolicy:      source.NsfwPolicy,
		SaveStructure:   source.SaveStructure,
		DateCutoff:      source.DateCutoff,
		LockSettings:    ptr(source.LockSettings),
		Enabled:         ptr(source.Enabled),
	}
}

func (e *Exporter) sourceFromSpec(spec SourceSpec) *models.Source {
	kind := spec.Kind
	if kind == "" {
		kind = models.SourceKindUser
	}
	source := models.NewSource(spec.Name, kind, e.dateFloor)
	if e.defaultPostLimit > 0 {
		source.PostLimit = e.defaultPostLimit
	}
	if spec.PostLimit > 0 {
		source.PostLimit = spec.PostLimit
	}
	if spec.AvoidDuplicates != nil {
		source.AvoidDuplicates = *spec.AvoidDuplicates
	}
	if spec.DownloadVideos != nil {
		source.DownloadVideos = *spec.DownloadVideos
	}
	if spec.DownloadImages != nil {
		source.DownloadImages = *spec.DownloadImages
	}
	if spec.CommentPolicy != "" {
		source.CommentPolicy = spec.CommentPolicy
	}
	if spec.NsfwPolicy != "" {
		source.NsfwPolicy = spec.NsfwPolicy
	}
	if spec.SaveStructure != "" {
		source.SaveStructure = spec.SaveStructure
	}
	if spec.DateCutoff != nil {
		cutoff := spec.DateCutoff.UTC()
		source.DateCutoff = &cutoff
	}
	if spec.LockSettings != nil {
		source.LockSettings = *spec.LockSettings
	}
	if spec.Enabled != nil {
		source.Enabled = *spec.Enabled
	}
	return source
}

func validateSpec(spec SourceSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("missing name")
	}
	switch spec.Kind {
	case "", models.SourceKindUser, models.SourceKindTopic:
	default:
		return fmt.Errorf("unknown kind %q", spec.Kind)
	}
	switch spec.CommentPolicy {
	case "", models.CommentsNone, models.CommentsAuthor, models.CommentsAll:
	default:
		return fmt.Errorf("unknown comment policy %q", spec.CommentPolicy)
	}
	switch spec.NsfwPolicy {
	case "", models.NsfwExclude, models.NsfwInclude, models.NsfwOnly:
	default:
		return fmt.Errorf("unknown nsfw policy %q", spec.NsfwPolicy)
	}
	switch spec.SaveStructure {
	case "", models.SaveFlat, models.SaveByAuthor, models.SaveBySource, models.SaveSourceAuthor:
	default:
		return fmt.Errorf("unknown save structure %q", spec.SaveStructure)
	}
	return nil
}

func ptr(b bool) *bool { return &b }
