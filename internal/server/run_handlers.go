package server

import (
	"context"
	"errors"
	"time"

	"feedstash/internal/models"
	"feedstash/internal/observability"
	"feedstash/internal/session"

	"github.com/gofiber/fiber/v2"
)

// StartRun handles POST /api/runs. The run itself is detached from the
// request; progress streams over the websocket and the session ledger.
// @Summary Start an archive run
// @Description The run is asynchronous. Poll /runs/status or subscribe to /ws/progress to follow it.
// @Tags runs
// @Accept json
// @Produce json
// @Param request body object{name=string,source_ids=[]int,include_backlog=bool} false "Run options"
// @Success 202 {object} object{status=string}
// @Failure 400 {object} object{error=string}
// @Failure 409 {object} object{error=string}
// @Router /runs [post]
func (s *Server) StartRun(c *fiber.Ctx) error {
	var req struct {
		Name           string `json:"name"`
		SourceIDs      []uint `json:"source_ids"`
		IncludeBacklog bool   `json:"include_backlog"`
	}
	// An empty body starts a full run with defaults.
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid request body"))
		}
	}

	if s.orchestrator.Running() {
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewConflictError("A run is already in progress"))
	}

	input := session.RunInput{
		Name:           req.Name,
		SourceIDs:      req.SourceIDs,
		IncludeBacklog: req.IncludeBacklog,
	}

	go func() {
		// The request context dies with the response; the run gets its own.
		ctx := context.Background()
		if _, err := s.orchestrator.Run(ctx, input); err != nil && !errors.Is(err, session.ErrRunInProgress) {
			observability.LogAsyncOperationError(ctx, "server.run", err, map[string]interface{}{
				"name": input.Name,
			})
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
	})
}

// GetRunStatus handles GET /api/runs/status
// @Summary Current run status
// @Tags runs
// @Produce json
// @Success 200 {object} object{running=bool,scheduled=bool,subscribers=int,next_run=string}
// @Router /runs/status [get]
func (s *Server) GetRunStatus(c *fiber.Ctx) error {
	status := fiber.Map{
		"running":     s.orchestrator.Running(),
		"scheduled":   s.scheduler.Scheduled(),
		"subscribers": s.hub.SubscriberCount(),
	}
	if next := s.scheduler.NextRun(); !next.IsZero() {
		status["next_run"] = next.UTC().Format(time.RFC3339)
	}
	return c.JSON(status)
}
