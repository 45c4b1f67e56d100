package server

import (
	"bytes"
	"fmt"

	"feedstash/internal/cache"
	"feedstash/internal/export"
	"feedstash/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetSessions handles GET /api/sessions
func (s *Server) GetSessions(c *fiber.Ctx) error {
	ctx := c.Context()
	page := parsePagination(c, 20)

	list, err := s.sessions.List(ctx, page.Limit, page.Offset)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(list)
}

// GetLatestSession handles GET /api/sessions/latest
func (s *Server) GetLatestSession(c *fiber.Ctx) error {
	ctx := c.Context()

	latest, err := s.sessions.Latest(ctx)
	if err != nil {
		return respondStoreError(c, err, "Session", "latest")
	}

	return c.JSON(latest)
}

// GetSession handles GET /api/sessions/:id
func (s *Server) GetSession(c *fiber.Ctx) error {
	ctx := c.Context()
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return respondStoreError(c, err, "Session", id)
	}

	return c.JSON(sess)
}

// GetSessionPosts handles GET /api/sessions/:id/posts
func (s *Server) GetSessionPosts(c *fiber.Ctx) error {
	ctx := c.Context()
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	if _, err := s.sessions.GetByID(ctx, id); err != nil {
		return respondStoreError(c, err, "Session", id)
	}

	posts, err := s.posts.ListBySession(ctx, id)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(posts)
}

// GetSessionFailures handles GET /api/sessions/:id/failures?format=json|csv|txt
func (s *Server) GetSessionFailures(c *fiber.Ctx) error {
	ctx := c.Context()
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Unknown failure report format"))
	}

	if _, err := s.sessions.GetByID(ctx, id); err != nil {
		return respondStoreError(c, err, "Session", id)
	}

	// The report is cached per session; tally updates and session close
	// both invalidate it, so a short TTL only covers the gaps.
	var report export.FailureReport
	err = cache.Aside(ctx, cache.SessionFailuresKey(id), &report, cache.FailureReportTTL, func() error {
		built, err := s.exporter.BuildFailureReport(ctx, id)
		if err != nil {
			return err
		}
		report = *built
		return nil
	})
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	var buf bytes.Buffer
	if err := export.WriteFailureReport(&buf, &report, format); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	switch format {
	case export.FormatCSV:
		c.Set(fiber.HeaderContentType, "text/csv")
		c.Set(fiber.HeaderContentDisposition,
			fmt.Sprintf(`attachment; filename="failures-%d.csv"`, id))
	case export.FormatText:
		c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition,
			fmt.Sprintf(`attachment; filename="failures-%d.txt"`, id))
	default:
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return c.Send(buf.Bytes())
}
