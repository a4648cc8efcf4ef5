package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/pkg/response"
)

// CoverAPI is the cover generation service as used by the HTTP layer
type CoverAPI interface {
	DefaultMode() model.GenerationMode
	Generate(ctx context.Context, postID string, mode model.GenerationMode) (*model.GenerateResult, error)
	Regenerate(ctx context.Context, postID string, mode model.GenerationMode) (*model.GenerateResult, error)
	BatchGenerate(ctx context.Context, postIDs []string, mode model.GenerationMode) (*model.BatchResult, error)
	History(ctx context.Context, postID string) ([]model.GenerationHistoryEntry, error)
	Status(ctx context.Context, postID string) (*model.CoverStatus, error)
	TriggerRecheck(ctx context.Context, postID string) (*model.GenerationJob, error)
	HandlePublished(ctx context.Context, postID string) (bool, error)
	TestConnections(ctx context.Context) model.ConnectionReport
}

type CoverHandler struct {
	covers    CoverAPI
	validator *validator.Validate
}

func NewCoverHandler(covers CoverAPI, v *validator.Validate) *CoverHandler {
	return &CoverHandler{covers: covers, validator: v}
}

// Register mounts the cover routes on an authenticated router.
func (h *CoverHandler) Register(api fiber.Router, generateLimit, batchLimit fiber.Handler) {
	covers := api.Group("/covers")
	covers.Post("/batch", batchLimit, h.Batch)
	covers.Post("/:postId/generate", generateLimit, h.Generate)
	covers.Post("/:postId/regenerate", generateLimit, h.Regenerate)
	covers.Post("/:postId/recheck", h.Recheck)
	covers.Get("/:postId/status", h.Status)
	covers.Get("/:postId/history", h.History)

	api.Post("/posts/:postId/published", h.Published)
	api.Get("/connections/test", h.TestConnections)
}

// mode resolves the generation mode from the ?mode query or the JSON body.
func (h *CoverHandler) mode(c *fiber.Ctx) (model.GenerationMode, error) {
	var req model.GenerateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return "", err
		}
	}
	if q := c.Query("mode"); q != "" {
		req.Mode = q
	}
	if err := h.validator.Struct(&req); err != nil {
		return "", err
	}
	return model.ParseMode(req.Mode, h.covers.DefaultMode()), nil
}

func generated(c *fiber.Ctx, res *model.GenerateResult) error {
	if res.Status == model.JobStatusProcessing {
		return response.Accepted(c, res)
	}
	return response.OK(c, res)
}

// Generate handles POST /api/covers/:postId/generate
// @Summary      Generate cover
// @Description  Generate a featured image for a post. Async mode returns 202 with the task id; sync mode waits for the image.
// @Tags         Covers
// @Accept       json
// @Produce      json
// @Param        postId path string true "Post ID"
// @Param        mode query string false "sync or async"
// @Success      200 {object} model.GenerateResult
// @Success      202 {object} model.GenerateResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/covers/{postId}/generate [post]
func (h *CoverHandler) Generate(c *fiber.Ctx) error {
	mode, err := h.mode(c)
	if err != nil {
		return invalidRequest(c, err)
	}

	res, err := h.covers.Generate(c.UserContext(), c.Params("postId"), mode)
	if err != nil {
		return writeError(c, err)
	}
	return generated(c, res)
}

// Regenerate handles POST /api/covers/:postId/regenerate
// @Summary      Regenerate cover
// @Description  Delete the current featured image and generate a new one
// @Tags         Covers
// @Produce      json
// @Param        postId path string true "Post ID"
// @Param        mode query string false "sync or async"
// @Success      200 {object} model.GenerateResult
// @Success      202 {object} model.GenerateResult
// @Failure      404 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/covers/{postId}/regenerate [post]
func (h *CoverHandler) Regenerate(c *fiber.Ctx) error {
	mode, err := h.mode(c)
	if err != nil {
		return invalidRequest(c, err)
	}

	res, err := h.covers.Regenerate(c.UserContext(), c.Params("postId"), mode)
	if err != nil {
		return writeError(c, err)
	}
	return generated(c, res)
}

// Batch handles POST /api/covers/batch
// @Summary      Batch generate covers
// @Description  Generate covers for the given posts, or for every published post without a featured image
// @Tags         Covers
// @Accept       json
// @Produce      json
// @Param        request body model.BatchRequest false "Batch request"
// @Success      200 {object} model.BatchResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/covers/batch [post]
func (h *CoverHandler) Batch(c *fiber.Ctx) error {
	var req model.BatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidRequest(c, err)
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return invalidRequest(c, err)
	}

	res, err := h.covers.BatchGenerate(c.UserContext(), req.PostIDs, model.ParseMode(req.Mode, h.covers.DefaultMode()))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, res)
}

// Status handles GET /api/covers/:postId/status
// @Summary      Cover status
// @Description  Current generation job and featured image of a post
// @Tags         Covers
// @Produce      json
// @Param        postId path string true "Post ID"
// @Success      200 {object} model.CoverStatus
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/covers/{postId}/status [get]
func (h *CoverHandler) Status(c *fiber.Ctx) error {
	res, err := h.covers.Status(c.UserContext(), c.Params("postId"))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, res)
}

// History handles GET /api/covers/:postId/history
// @Summary      Generation history
// @Description  Last 10 generation attempts of a post, oldest first
// @Tags         Covers
// @Produce      json
// @Param        postId path string true "Post ID"
// @Success      200 {array} model.GenerationHistoryEntry
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/covers/{postId}/history [get]
func (h *CoverHandler) History(c *fiber.Ctx) error {
	history, err := h.covers.History(c.UserContext(), c.Params("postId"))
	if err != nil {
		return writeError(c, err)
	}
	if history == nil {
		history = []model.GenerationHistoryEntry{}
	}
	return response.OK(c, history)
}

// Recheck handles POST /api/covers/:postId/recheck
// @Summary      Recheck cover job
// @Description  Schedule an immediate status check of the post's processing job
// @Tags         Covers
// @Produce      json
// @Param        postId path string true "Post ID"
// @Success      202 {object} model.GenerationJob
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/covers/{postId}/recheck [post]
func (h *CoverHandler) Recheck(c *fiber.Ctx) error {
	job, err := h.covers.TriggerRecheck(c.UserContext(), c.Params("postId"))
	if err != nil {
		return writeError(c, err)
	}
	if job.Terminal() {
		return response.OK(c, job)
	}
	return response.Accepted(c, job)
}

// Published handles POST /api/posts/:postId/published
// @Summary      Post published hook
// @Description  Schedule automatic cover generation for a newly published post
// @Tags         Posts
// @Produce      json
// @Param        postId path string true "Post ID"
// @Success      200 {object} map[string]bool
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/posts/{postId}/published [post]
func (h *CoverHandler) Published(c *fiber.Ctx) error {
	scheduled, err := h.covers.HandlePublished(c.UserContext(), c.Params("postId"))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, fiber.Map{"scheduled": scheduled})
}

// TestConnections handles GET /api/connections/test
// @Summary      Test provider connections
// @Tags         Covers
// @Produce      json
// @Success      200 {object} model.ConnectionReport
// @Security     BearerAuth
// @Router       /api/connections/test [get]
func (h *CoverHandler) TestConnections(c *fiber.Ctx) error {
	return response.OK(c, h.covers.TestConnections(c.UserContext()))
}
