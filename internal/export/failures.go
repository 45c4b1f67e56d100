// Package export renders stored archive state into operator-facing
// documents: failure reports for runs and a yaml source list usable for
// backup and re-import.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"feedstash/internal/config"
	"feedstash/internal/repository"
)

// Failure report output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "txt"
)

// maxFailureRows caps one report. Failures past the cap belong in the
// next report, not in an unbounded response body.
const maxFailureRows = 1000

var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat normalizes a user-supplied format name. Empty means json.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatText, "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// PostFailure is one post whose extraction failed.
type PostFailure struct {
	PostID   uint      `json:"post_id"`
	Source   string    `json:"source"`
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	Domain   string    `json:"domain"`
	PostedAt time.Time `json:"posted_at"`
	Reason   string    `json:"reason"`
}

// ContentFailure is one content row whose download failed.
type ContentFailure struct {
	ContentID uint   `json:"content_id"`
	PostID    uint   `json:"post_id"`
	Source    string `json:"source"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	File      string `json:"file"`
	Reason    string `json:"reason"`
}

// FailureReport collects everything that went wrong in one session, or
// across all sessions when SessionID is zero.
type FailureReport struct {
	SessionID   uint             `json:"session_id,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
	Posts       []PostFailure    `json:"posts"`
	Content     []ContentFailure `json:"content"`
}

// Exporter reads failure state and source settings out of the store.
type Exporter struct {
	sources          repository.SourceRepository
	posts            repository.PostRepository
	contents         repository.ContentRepository
	dateFloor        time.Time
	defaultPostLimit int
}

func NewExporter(sources repository.SourceRepository, posts repository.PostRepository, contents repository.ContentRepository, cfg *config.Config) *Exporter {
	return &Exporter{
		sources:          sources,
		posts:            posts,
		contents:         contents,
		dateFloor:        cfg.DateFloorTime(),
		defaultPostLimit: cfg.DefaultPostLimit,
	}
}

// BuildFailureReport assembles the failed posts and failed content for
// sessionID; zero widens the report to every session.
func (e *Exporter) BuildFailureReport(ctx context.Context, sessionID uint) (*FailureReport, error) {
	report := &FailureReport{
		SessionID:   sessionID,
		GeneratedAt: time.Now().UTC(),
		Posts:       []PostFailure{},
		Content:     []ContentFailure{},
	}

	posts, err := e.posts.ListFailed(ctx, sessionID, maxFailureRows, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed posts: %w", err)
	}
	for _, post := range posts {
		row := PostFailure{
			PostID:   post.ID,
			Title:    post.Title,
			URL:      post.URL,
			Domain:   post.Domain,
			PostedAt: post.PostedAt,
		}
		if post.Author != nil {
			row.Source = post.Author.Name
		}
		if post.ExtractionError != nil {
			row.Reason = *post.ExtractionError
		}
		report.Posts = append(report.Posts, row)
	}

	contents, err := e.contents.ListFailed(ctx, sessionID, maxFailureRows, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed content: %w", err)
	}
	for _, content := range contents {
		row := ContentFailure{
			ContentID: content.ID,
			PostID:    content.PostID,
			Title:     content.Title,
			URL:       content.URL,
			File:      content.FilePath(),
		}
		if content.Source != nil {
			row.Source = content.Source.Name
		}
		if content.DownloadError != nil {
			row.Reason = *content.DownloadError
		}
		report.Content = append(report.Content, row)
	}

	return report, nil
}

// WriteFailureReport renders the report to w in the given format.
func WriteFailureReport(w io.Writer, report *FailureReport, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatCSV:
		return writeFailureCSV(w, report)
	case FormatText:
		return writeFailureText(w, report)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeFailureCSV(w io.Writer, report *FailureReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"kind", "id", "source", "title", "url", "location", "posted_at", "reason"}); err != nil {
		return err
	}
	for _, p := range report.Posts {
		record := []string{
			"post",
			strconv.FormatUint(uint64(p.PostID), 10),
			p.Source,
			p.Title,
			p.URL,
			p.Domain,
			p.PostedAt.UTC().Format(time.RFC3339),
			p.Reason,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	for _, c := range report.Content {
		record := []string{
			"content",
			strconv.FormatUint(uint64(c.ContentID), 10),
			c.Source,
			c.Title,
			c.URL,
			c.File,
			"",
			c.Reason,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeFailureText(w io.Writer, report *FailureReport) error {
	scope := "all sessions"
	if report.SessionID != 0 {
		scope = fmt.Sprintf("session %d", report.SessionID)
	}
	if _, err := fmt.Fprintf(w, "Failure report for %s, generated %s\n\n", scope, report.GeneratedAt.Format(time.RFC3339)); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Failed posts: %d\n", len(report.Posts))
	for _, p := range report.Posts {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", p.Source, p.Title, p.Reason)
	}
	fmt.Fprintf(tw, "Failed content: %d\n", len(report.Content))
	for _, c := range report.Content {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Source, c.Title, c.Reason)
	}
	return tw.Flush()
}
