package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/generatecover/api/internal/model"
	"github.com/generatecover/api/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		out := make(map[string]string, len(validationErrors))
		for _, e := range validationErrors {
			out[e.Field()] = e.Tag()
		}
		return out
	}
	return nil
}

// invalidRequest reports a body that failed to parse or validate.
func invalidRequest(c *fiber.Ctx, err error) error {
	if details := formatValidationErrors(err); details != nil {
		return response.ValidationError(c, "Validation failed", details)
	}
	return response.ValidationError(c, "Invalid request body", nil)
}

// writeError maps a generation error onto the HTTP error envelope.
func writeError(c *fiber.Ctx, err error) error {
	message := err.Error()
	switch model.KindOf(err) {
	case model.ErrKindNotFound:
		return response.NotFound(c, message)
	case model.ErrKindConflict:
		return response.Conflict(c, message)
	case model.ErrKindEmptyContent:
		return response.Unprocessable(c, response.CodeEmptyContent, message)
	case model.ErrKindConfiguration:
		return response.Unavailable(c, message)
	case model.ErrKindTaskFailed:
		return response.JobFailed(c, message)
	case model.ErrKindProvider, model.ErrKindPrompt, model.ErrKindTimeout, model.ErrKindRequest:
		return response.AIError(c, message)
	default:
		return response.ServiceError(c, message)
	}
}
