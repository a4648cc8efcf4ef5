package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/pkg/response"
)

// PostWriter is the writable post catalogue
type PostWriter interface {
	GetPost(ctx context.Context, postID string) (*model.Post, error)
	UpsertPost(ctx context.Context, post *model.Post) error
}

// PublishHook is notified when a post becomes published
type PublishHook interface {
	HandlePublished(ctx context.Context, postID string) (bool, error)
}

type PostHandler struct {
	posts     PostWriter
	hook      PublishHook
	validator *validator.Validate
}

func NewPostHandler(posts PostWriter, hook PublishHook, v *validator.Validate) *PostHandler {
	return &PostHandler{posts: posts, hook: hook, validator: v}
}

// Upsert handles PUT /api/posts/:postId
// @Summary      Sync post
// @Description  Create or update a post. A transition to published schedules automatic cover generation.
// @Tags         Posts
// @Accept       json
// @Produce      json
// @Param        postId path string true "Post ID"
// @Param        request body model.UpsertPostRequest true "Post"
// @Success      200 {object} model.UpsertPostResult
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/posts/{postId} [put]
func (h *PostHandler) Upsert(c *fiber.Ctx) error {
	var req model.UpsertPostRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidRequest(c, err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return invalidRequest(c, err)
	}

	ctx := c.UserContext()
	postID := c.Params("postId")

	wasPublished := false
	previous, err := h.posts.GetPost(ctx, postID)
	switch {
	case err == nil:
		wasPublished = previous.Status == model.PostStatusPublished
	case model.KindOf(err) != model.ErrKindNotFound:
		return writeError(c, err)
	}

	post := &model.Post{ID: postID, Title: req.Title, Content: req.Content, Status: req.Status}
	if err := h.posts.UpsertPost(ctx, post); err != nil {
		return writeError(c, err)
	}

	result := &model.UpsertPostResult{Post: post}
	if !wasPublished && post.Status == model.PostStatusPublished {
		scheduled, err := h.hook.HandlePublished(ctx, postID)
		if err != nil {
			return writeError(c, err)
		}
		result.AutoGenerated = scheduled
	}

	if stored, err := h.posts.GetPost(ctx, postID); err == nil {
		result.Post = stored
	}
	return response.OK(c, result)
}
