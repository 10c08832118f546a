// Package server contains HTTP and WebSocket handlers for the social graph API.
package server

import (
	"stride/internal/models"
	"stride/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// FollowUser handles POST /api/social/follow/:userId
func (s *Server) FollowUser(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	rel, err := s.socialSvc.Follow(c.UserContext(), userID, targetID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rel)
}

// UnfollowUser handles DELETE /api/social/follow/:userId
func (s *Server) UnfollowUser(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	if err := s.socialSvc.Unfollow(c.UserContext(), userID, targetID); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type followRequestBody struct {
	Message string `json:"message"`
}

// RequestFollow handles POST /api/social/requests/:userId
func (s *Server) RequestFollow(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	var body followRequestBody
	if len(c.Body()) > 0 {
		if parseErr := c.BodyParser(&body); parseErr != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid request body"))
		}
	}

	req, err := s.socialSvc.RequestFollow(c.UserContext(), userID, targetID, body.Message)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// AcceptFollowRequest handles POST /api/social/requests/:requestId/accept
func (s *Server) AcceptFollowRequest(c *fiber.Ctx) error {
	return s.respondToRequest(c, true)
}

// RejectFollowRequest handles POST /api/social/requests/:requestId/reject
func (s *Server) RejectFollowRequest(c *fiber.Ctx) error {
	return s.respondToRequest(c, false)
}

func (s *Server) respondToRequest(c *fiber.Ctx, accept bool) error {
	userID := currentUserID(c)
	requestID, err := s.parseUserParam(c, "requestId")
	if err != nil {
		return nil
	}

	if err := s.socialSvc.RespondToFollowRequest(c.UserContext(), userID, requestID, accept); err != nil {
		return respondServiceError(c, err)
	}
	status := "rejected"
	if accept {
		status = "accepted"
	}
	return c.JSON(fiber.Map{"request_id": requestID, "status": status})
}

// BlockUser handles POST /api/social/block/:userId
func (s *Server) BlockUser(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	if err := s.socialSvc.BlockUser(c.UserContext(), userID, targetID); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnblockUser handles DELETE /api/social/block/:userId
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	if err := s.socialSvc.UnblockUser(c.UserContext(), userID, targetID); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MuteUser handles POST /api/social/mute/:userId
func (s *Server) MuteUser(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	if err := s.socialSvc.MuteUser(c.UserContext(), userID, targetID); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnmuteUser handles DELETE /api/social/mute/:userId
func (s *Server) UnmuteUser(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	if err := s.socialSvc.UnmuteUser(c.UserContext(), userID, targetID); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type reportBody struct {
	Reason string `json:"reason"`
}

// ReportUser handles POST /api/social/report/:userId
func (s *Server) ReportUser(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	var body reportBody
	if len(c.Body()) > 0 {
		if parseErr := c.BodyParser(&body); parseErr != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid request body"))
		}
	}

	if err := s.socialSvc.ReportUser(c.UserContext(), userID, targetID, body.Reason); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// RelationshipStatus handles GET /api/social/status/:userId
func (s *Server) RelationshipStatus(c *fiber.Ctx) error {
	userID := currentUserID(c)
	targetID, err := s.parseUserParam(c, "userId")
	if err != nil {
		return nil
	}

	status, err := s.socialSvc.CheckRelationship(c.UserContext(), userID, targetID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"user_id": targetID, "status": status})
}

// GetFollowers handles GET /api/users/me/followers
func (s *Server) GetFollowers(c *fiber.Ctx) error {
	userID := currentUserID(c)
	page := parsePage(c)

	followers, err := s.socialSvc.GetFollowers(c.UserContext(), userID, page)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"followers": followers,
		"page":      page,
		"page_size": repository.DefaultPageSize,
	})
}

// GetFollowing handles GET /api/users/me/following
func (s *Server) GetFollowing(c *fiber.Ctx) error {
	userID := currentUserID(c)
	page := parsePage(c)

	following, err := s.socialSvc.GetFollowing(c.UserContext(), userID, page)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"following": following,
		"page":      page,
		"page_size": repository.DefaultPageSize,
	})
}

// GetMutualFollowers handles GET /api/users/me/mutuals
func (s *Server) GetMutualFollowers(c *fiber.Ctx) error {
	userID := currentUserID(c)
	limit := c.QueryInt("limit", repository.DefaultPageSize)

	mutuals, err := s.socialSvc.GetMutualFollowers(c.UserContext(), userID, limit)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"mutuals": mutuals})
}

// GetFollowerCount handles GET /api/users/:id/followers/count
func (s *Server) GetFollowerCount(c *fiber.Ctx) error {
	userID, err := s.parseUserParam(c, "id")
	if err != nil {
		return nil
	}

	count, err := s.socialSvc.GetFollowerCount(c.UserContext(), userID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"user_id": userID, "followers": count})
}

// GetFollowingCount handles GET /api/users/:id/following/count
func (s *Server) GetFollowingCount(c *fiber.Ctx) error {
	userID, err := s.parseUserParam(c, "id")
	if err != nil {
		return nil
	}

	count, err := s.socialSvc.GetFollowingCount(c.UserContext(), userID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"user_id": userID, "following": count})
}

// GetUserProfile handles GET /api/users/:id/profile
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	userID, err := s.parseUserParam(c, "id")
	if err != nil {
		return nil
	}
	force := c.QueryBool("force", false)

	profile, err := s.cacheSvc.RefreshUserProfile(c.UserContext(), userID, force)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(profile)
}
