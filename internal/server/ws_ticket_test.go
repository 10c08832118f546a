package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/internal/config"
)

func newTicketFixture(t *testing.T) (*Server, *fiber.App, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	s := &Server{
		config: &config.Config{JWTSecret: testJWTSecret},
		redis:  rdb,
	}

	app := fiber.New()
	app.Get("/api/ws/test", s.AuthRequired(), func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"userID": c.Locals("userID")})
	})
	app.Get("/api/other", s.AuthRequired(), func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"userID": c.Locals("userID")})
	})
	app.Post("/api/ws/ticket", s.AuthRequired(), s.IssueWSTicket)

	return s, app, rdb
}

func TestIssueWSTicket(t *testing.T) {
	_, app, rdb := newTicketFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/ws/ticket", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-42"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Ticket)
	assert.Equal(t, 30, body.ExpiresIn)

	ctx := context.Background()
	userID, err := rdb.Get(ctx, "ws_ticket:"+body.Ticket).Result()
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)

	ttl, err := rdb.TTL(ctx, "ws_ticket:"+body.Ticket).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 30*time.Second)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestIssueWSTicket_NoRedis(t *testing.T) {
	s := &Server{config: &config.Config{JWTSecret: testJWTSecret}}
	app := fiber.New()
	app.Post("/api/ws/ticket", s.AuthRequired(), s.IssueWSTicket)

	req := httptest.NewRequest(http.MethodPost, "/api/ws/ticket", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-42"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAuthRequired_WSTicket(t *testing.T) {
	_, app, rdb := newTicketFixture(t)
	ctx := context.Background()

	t.Run("valid ticket is consumed on first use", func(t *testing.T) {
		require.NoError(t, rdb.Set(ctx, "ws_ticket:ticket-1", "user-7", time.Minute).Err())

		req := httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket=ticket-1", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "user-7", body["userID"])
		_ = resp.Body.Close()

		exists, err := rdb.Exists(ctx, "ws_ticket:ticket-1").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(0), exists, "ticket should be single-use")
	})

	t.Run("reused ticket is rejected on WS path", func(t *testing.T) {
		require.NoError(t, rdb.Set(ctx, "ws_ticket:ticket-2", "user-7", time.Minute).Err())

		req := httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket=ticket-2", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()

		req2 := httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket=ticket-2", nil)
		resp2, err := app.Test(req2)
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	})

	t.Run("unknown ticket is rejected on WS path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/ws/test?ticket=nope", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ticket works on non-WS path too", func(t *testing.T) {
		require.NoError(t, rdb.Set(ctx, "ws_ticket:ticket-3", "user-9", time.Minute).Err())

		req := httptest.NewRequest(http.MethodGet, "/api/other?ticket=ticket-3", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		exists, err := rdb.Exists(ctx, "ws_ticket:ticket-3").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(0), exists)
	})

	t.Run("invalid ticket on non-WS path falls back to JWT", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/other?ticket=bogus", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "user-11"))
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "user-11", body["userID"])
	})

	t.Run("WS path rejects token query param fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/api/ws/test?token="+signToken(t, "user-12"), nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
