package server

import (
	"stride/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetFeedPage handles GET /api/feed
func (s *Server) GetFeedPage(c *fiber.Ctx) error {
	userID := currentUserID(c)
	page := parsePage(c)

	items, err := s.cacheSvc.LoadFeedPage(c.UserContext(), userID, page)
	if err != nil {
		return respondServiceError(c, err)
	}

	// Warm the next page while the client renders this one.
	s.cacheSvc.PreloadNextFeedPage(c.UserContext(), userID, page)

	return c.JSON(fiber.Map{
		"items": items,
		"page":  page,
	})
}

// RefreshFeed handles POST /api/feed/refresh
func (s *Server) RefreshFeed(c *fiber.Ctx) error {
	userID := currentUserID(c)
	userInitiated := c.QueryBool("user_initiated", true)

	items, err := s.cacheSvc.RefreshFeed(c.UserContext(), userID, userInitiated)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"items": items, "page": 0})
}

// AppLaunch handles POST /api/lifecycle/launch
func (s *Server) AppLaunch(c *fiber.Ctx) error {
	s.cacheSvc.HandleAppLaunch(c.UserContext(), currentUserID(c))
	return c.SendStatus(fiber.StatusAccepted)
}

// AppBecomeActive handles POST /api/lifecycle/active
func (s *Server) AppBecomeActive(c *fiber.Ctx) error {
	s.cacheSvc.HandleAppBecomeActive(c.UserContext(), currentUserID(c))
	return c.SendStatus(fiber.StatusAccepted)
}

// UserLogin handles POST /api/lifecycle/login
func (s *Server) UserLogin(c *fiber.Ctx) error {
	s.cacheSvc.HandleUserLogin(c.UserContext(), currentUserID(c))
	return c.SendStatus(fiber.StatusAccepted)
}

// UserLogout handles POST /api/lifecycle/logout. Purges every cache entry
// scoped to the user so nothing leaks into the next session on this device.
func (s *Server) UserLogout(c *fiber.Ctx) error {
	s.cacheSvc.HandleUserLogout(currentUserID(c))
	return c.SendStatus(fiber.StatusAccepted)
}

// CacheHealth handles GET /api/cache/health
func (s *Server) CacheHealth(c *fiber.Ctx) error {
	return c.JSON(s.cacheSvc.GetCacheHealthReport())
}

// OptimizeCache handles POST /api/cache/optimize
func (s *Server) OptimizeCache(c *fiber.Ctx) error {
	removed := s.cacheSvc.OptimizeCache()
	return c.JSON(fiber.Map{"removed": removed})
}

// ClearCache handles POST /api/cache/clear
func (s *Server) ClearCache(c *fiber.Ctx) error {
	s.socialSvc.ClearRelationshipCache()
	return c.SendStatus(fiber.StatusNoContent)
}

type preloadBody struct {
	UserIDs []string `json:"user_ids"`
}

// PreloadRelationships handles POST /api/cache/preload
func (s *Server) PreloadRelationships(c *fiber.Ctx) error {
	var body preloadBody
	if err := c.BodyParser(&body); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if len(body.UserIDs) == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("user_ids must not be empty"))
	}

	s.socialSvc.PreloadRelationships(c.UserContext(), body.UserIDs)
	return c.SendStatus(fiber.StatusAccepted)
}
