package server

import (
	"bytes"
	"errors"
	"time"

	"feedstash/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetSources handles GET /api/sources
// @Summary List sources
// @Tags sources
// @Produce json
// @Param kind query string false "Filter by kind (user or topic)"
// @Param limit query int false "Limit results" default(50)
// @Param offset query int false "Offset for pagination" default(0)
// @Success 200 {array} map[string]interface{}
// @Failure 400 {object} object{error=string}
// @Router /sources [get]
func (s *Server) GetSources(c *fiber.Ctx) error {
	ctx := c.Context()
	kind := c.Query("kind")
	if kind != "" && !validSourceKind(kind) {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Unknown source kind"))
	}

	page := parsePagination(c, 50)
	list, err := s.sources.List(ctx, kind, page.Limit, page.Offset)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(list)
}

// CreateSource handles POST /api/sources
// @Summary Register a source
// @Tags sources
// @Accept json
// @Produce json
// @Param request body object{name=string,kind=string} true "Source to register"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} object{error=string}
// @Failure 409 {object} object{error=string}
// @Router /sources [post]
func (s *Server) CreateSource(c *fiber.Ctx) error {
	ctx := c.Context()

	var req struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if req.Name == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Source name is required"))
	}
	if req.Kind == "" {
		req.Kind = models.SourceKindUser
	}
	if !validSourceKind(req.Kind) {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Unknown source kind"))
	}

	// Check if source already exists
	if _, err := s.sources.GetByName(ctx, req.Name); err == nil {
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewConflictError("Source already exists"))
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	source := models.NewSource(req.Name, req.Kind, s.config.DateFloorTime())
	if s.config.DefaultPostLimit > 0 {
		source.PostLimit = s.config.DefaultPostLimit
	}
	if err := s.sources.Create(ctx, source); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.Status(fiber.StatusCreated).JSON(source)
}

// GetSource handles GET /api/sources/:id
// @Summary Get source by ID
// @Tags sources
// @Produce json
// @Param id path int true "Source ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} object{error=string}
// @Router /sources/{id} [get]
func (s *Server) GetSource(c *fiber.Ctx) error {
	ctx := c.Context()
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	source, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return respondStoreError(c, err, "Source", id)
	}

	return c.JSON(source)
}

// UpdateSource handles PUT /api/sources/:id. Only settings and flags move;
// name, kind and the watermark are immutable through this route.
// @Summary Update source settings
// @Tags sources
// @Accept json
// @Produce json
// @Param id path int true "Source ID"
// @Param request body object{post_limit=int,comment_policy=string,nsfw_policy=string,save_structure=string,date_cutoff=string,lock_settings=bool,enabled=bool} true "Settings to change"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} object{error=string}
// @Failure 404 {object} object{error=string}
// @Router /sources/{id} [put]
func (s *Server) UpdateSource(c *fiber.Ctx) error {
	ctx := c.Context()
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	var req struct {
		PostLimit       *int       `json:"post_limit"`
		AvoidDuplicates *bool      `json:"avoid_duplicates"`
		DownloadVideos  *bool      `json:"download_videos"`
		DownloadImages  *bool      `json:"download_images"`
		CommentPolicy   *string    `json:"comment_policy"`
		NsfwPolicy      *string    `json:"nsfw_policy"`
		SaveStructure   *string    `json:"save_structure"`
		DateCutoff      *time.Time `json:"date_cutoff"`
		LockSettings    *bool      `json:"lock_settings"`
		Enabled         *bool      `json:"enabled"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	source, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return respondStoreError(c, err, "Source", id)
	}

	if req.PostLimit != nil {
		if *req.PostLimit < 0 {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Post limit must not be negative"))
		}
		source.PostLimit = *req.PostLimit
	}
	if req.AvoidDuplicates != nil {
		source.AvoidDuplicates = *req.AvoidDuplicates
	}
	if req.DownloadVideos != nil {
		source.DownloadVideos = *req.DownloadVideos
	}
	if req.DownloadImages != nil {
		source.DownloadImages = *req.DownloadImages
	}
	if req.CommentPolicy != nil {
		if !validCommentPolicy(*req.CommentPolicy) {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Unknown comment policy"))
		}
		source.CommentPolicy = *req.CommentPolicy
	}
	if req.NsfwPolicy != nil {
		if !validNsfwPolicy(*req.NsfwPolicy) {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Unknown nsfw policy"))
		}
		source.NsfwPolicy = *req.NsfwPolicy
	}
	if req.SaveStructure != nil {
		if !validSaveStructure(*req.SaveStructure) {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Unknown save structure"))
		}
		source.SaveStructure = *req.SaveStructure
	}
	if req.DateCutoff != nil {
		cutoff := req.DateCutoff.UTC()
		source.DateCutoff = &cutoff
	}
	if req.LockSettings != nil {
		source.LockSettings = *req.LockSettings
	}
	if req.Enabled != nil {
		source.Enabled = *req.Enabled
	}

	if err := s.sources.Update(ctx, source); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(source)
}

// DeleteSource handles DELETE /api/sources/:id
// @Summary Delete a source
// @Tags sources
// @Param id path int true "Source ID"
// @Success 204 "No Content"
// @Failure 404 {object} object{error=string}
// @Router /sources/{id} [delete]
func (s *Server) DeleteSource(c *fiber.Ctx) error {
	ctx := c.Context()
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	if _, err := s.sources.GetByID(ctx, id); err != nil {
		return respondStoreError(c, err, "Source", id)
	}

	if err := s.sources.Delete(ctx, id); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// BulkUpdateSourceSettings handles PUT /api/sources/settings. Sources with
// locked settings are silently left out; the response reports how many rows
// actually changed.
// @Summary Update settings across sources
// @Tags sources
// @Accept json
// @Produce json
// @Param request body object{ids=[]int,settings=object{post_limit=int,comment_policy=string,nsfw_policy=string}} true "Source IDs and settings to apply"
// @Success 200 {object} object{requested=int,updated=int}
// @Failure 400 {object} object{error=string}
// @Router /sources/settings [put]
func (s *Server) BulkUpdateSourceSettings(c *fiber.Ctx) error {
	ctx := c.Context()

	var req struct {
		IDs      []uint                 `json:"ids"`
		Settings map[string]interface{} `json:"settings"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if len(req.IDs) == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("At least one source ID is required"))
	}
	if len(req.Settings) == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("No settings provided"))
	}
	if msg := validateSettingValues(req.Settings); msg != "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError(msg))
	}

	updated, err := s.sources.BulkUpdateSettings(ctx, req.IDs, req.Settings)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	return c.JSON(fiber.Map{
		"requested": len(req.IDs),
		"updated":   updated,
	})
}

// ActivateSource handles POST /api/sources/:id/activate
// @Summary Reactivate a source
// @Tags sources
// @Produce json
// @Param id path int true "Source ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} object{error=string}
// @Router /sources/{id}/activate [post]
func (s *Server) ActivateSource(c *fiber.Ctx) error {
	return s.setSourceActive(c, true)
}

// DeactivateSource handles POST /api/sources/:id/deactivate
// @Summary Deactivate a source
// @Tags sources
// @Produce json
// @Param id path int true "Source ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} object{error=string}
// @Router /sources/{id}/deactivate [post]
func (s *Server) DeactivateSource(c *fiber.Ctx) error {
	return s.setSourceActive(c, false)
}

func (s *Server) setSourceActive(c *fiber.Ctx, active bool) error {
	ctx := c.Context()
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	if _, err := s.sources.GetByID(ctx, id); err != nil {
		return respondStoreError(c, err, "Source", id)
	}

	if err := s.sources.SetActive(ctx, id, active); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	source, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return respondStoreError(c, err, "Source", id)
	}

	return c.JSON(source)
}

// ExportSources handles GET /api/sources/export
// @Summary Export sources as yaml
// @Tags sources
// @Produce application/x-yaml
// @Success 200 {string} string "yaml document"
// @Router /sources/export [get]
func (s *Server) ExportSources(c *fiber.Ctx) error {
	ctx := c.Context()

	var buf bytes.Buffer
	if err := s.exporter.ExportSources(ctx, &buf); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, err)
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="sources.yml"`)
	return c.Send(buf.Bytes())
}

// ImportSources handles POST /api/sources/import
// @Summary Import sources from yaml
// @Tags sources
// @Accept application/x-yaml
// @Produce json
// @Success 200 {object} object{created=int,skipped=int}
// @Failure 400 {object} object{error=string}
// @Router /sources/import [post]
func (s *Server) ImportSources(c *fiber.Ctx) error {
	ctx := c.Context()

	result, err := s.exporter.ImportSources(ctx, bytes.NewReader(c.Body()))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError(err.Error()))
	}

	return c.JSON(result)
}

func validSourceKind(kind string) bool {
	return kind == models.SourceKindUser || kind == models.SourceKindTopic
}

func validCommentPolicy(policy string) bool {
	switch policy {
	case models.CommentsNone, models.CommentsAuthor, models.CommentsAll:
		return true
	}
	return false
}

func validNsfwPolicy(policy string) bool {
	switch policy {
	case models.NsfwExclude, models.NsfwInclude, models.NsfwOnly:
		return true
	}
	return false
}

func validSaveStructure(structure string) bool {
	switch structure {
	case models.SaveFlat, models.SaveByAuthor, models.SaveBySource, models.SaveSourceAuthor:
		return true
	}
	return false
}

// validateSettingValues checks the enum-valued keys of a bulk settings
// payload. Unknown keys are left alone; the store filters them out.
func validateSettingValues(settings map[string]interface{}) string {
	if v, ok := settings["comment_policy"].(string); ok && !validCommentPolicy(v) {
		return "Unknown comment policy"
	}
	if v, ok := settings["nsfw_policy"].(string); ok && !validNsfwPolicy(v) {
		return "Unknown nsfw policy"
	}
	if v, ok := settings["save_structure"].(string); ok && !validSaveStructure(v) {
		return "Unknown save structure"
	}
	return ""
}
