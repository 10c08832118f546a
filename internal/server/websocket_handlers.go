// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"stride/internal/observability"
)

const wsTicketTTL = 30 * time.Second

// IssueWSTicket mints a short-lived single-use ticket the client presents
// when opening the websocket. Browsers cannot set Authorization headers on
// websocket upgrades, so the ticket carries the authenticated identity.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	if s.redis == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "realtime is unavailable")
	}

	userID := currentUserID(c)
	ticket := uuid.NewString()
	key := "ws_ticket:" + ticket
	if err := s.redis.Set(c.UserContext(), key, userID, wsTicketTTL).Err(); err != nil {
		slog.Error("failed to store websocket ticket", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not issue ticket")
	}

	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}

// WebsocketHandler returns the websocket handler that registers connections
// with the Hub. Authentication is handled by route middleware and userID is
// read from connection locals.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		observability.WebSocketConnectionsTotal.Inc()
		defer observability.WebSocketConnectionsTotal.Dec()

		userID, ok := conn.Locals("userID").(string)
		if !ok || userID == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		if s.hub == nil {
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			slog.Warn("websocket registration refused", "user_id", userID, "error", err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		defer s.hub.UnregisterClient(client)

		welcome, merr := json.Marshal(fiber.Map{
			"type": "connected",
			"payload": fiber.Map{
				"user_id": userID,
			},
		})
		if merr == nil {
			client.TrySend(welcome)
		}

		// Write pump in a goroutine; read pump blocks until disconnect.
		go client.WritePump()
		client.ReadPump()
	})
}
