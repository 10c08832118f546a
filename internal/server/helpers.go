// Package server contains HTTP and WebSocket handlers for the social graph API.
package server

import (
	"errors"

	"stride/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

const maxPageParam = 10000

// currentUserID reads the authenticated user ID set by AuthRequired.
func currentUserID(c *fiber.Ctx) string {
	if uid, ok := c.Locals("userID").(string); ok {
		return uid
	}
	return ""
}

// parseUserParam extracts a route parameter by name as a non-empty user ID.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
func (s *Server) parseUserParam(c *fiber.Ctx, param string) (string, error) {
	id := c.Params(param)
	if id == "" {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid user ID"))
		return "", errResponseWritten
	}
	return id, nil
}

// parsePage extracts a non-negative page query parameter.
func parsePage(c *fiber.Ctx) int {
	page := c.QueryInt("page", 0)
	if page < 0 {
		page = 0
	}
	if page > maxPageParam {
		page = maxPageParam
	}
	return page
}

// respondServiceError maps a service-layer error onto its HTTP status.
func respondServiceError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusForError(err), err)
}
