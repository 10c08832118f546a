// Package server contains HTTP and WebSocket handlers for the social graph API.
package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"stride/internal/antispam"
	"stride/internal/cache"
	"stride/internal/config"
	"stride/internal/database"
	"stride/internal/featureflags"
	"stride/internal/middleware"
	"stride/internal/models"
	"stride/internal/notifications"
	"stride/internal/ratelimit"
	"stride/internal/repository"
	"stride/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	engine       *cache.Engine
	flags        *featureflags.Manager
	store        *repository.RelationshipStore
	limiter      *ratelimit.Limiter
	spam         *antispam.Engine
	fanout       *notifications.FanOut
	notifier     *notifications.Notifier
	hub          *notifications.Hub
	socialSvc    *service.SocialService
	cacheSvc     *service.CacheService
	sweepStop    func()
	bridgeCancel func()
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize database
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Initialize Redis
	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	engine := cache.NewEngine(cache.WithCapacity(cfg.CacheCapacity))
	remote := repository.NewGormSocialStore(db)
	store := repository.NewRelationshipStore(remote, engine)

	rateLimiter := ratelimit.NewLimiter(redisClient, ratelimit.WithLimits(cfg.RateLimits()))
	spamEngine := antispam.NewEngine(redisClient)
	fanout := notifications.NewFanOut()

	// Initialize Prometheus metrics
	prom := middleware.InitMetrics("stride-api")

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prom,
		engine:         engine,
		flags:          featureflags.NewManager(cfg.FeatureFlags),
		store:          store,
		limiter:        rateLimiter,
		spam:           spamEngine,
		fanout:         fanout,
	}
	server.socialSvc = service.NewSocialService(store, rateLimiter, spamEngine, fanout)
	server.cacheSvc = service.NewCacheService(store)

	// Initialize notifier and hub if Redis is available
	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
		server.hub = notifications.NewHub(redisClient)
	}

	return server, nil
}

// SocialService exposes the coordinator, for tests and bootstrap code.
func (s *Server) SocialService() *service.SocialService { return s.socialSvc }

// CacheService exposes the cache orchestration layer.
func (s *Server) CacheService() *service.CacheService { return s.cacheSvc }

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// OpenTelemetry spans per request
	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	// Backwards-compatible legacy route: map /health to readiness (keeps existing scripts working)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Stride Social Graph Metrics Dashboard",
	}))

	// Protected routes
	protected := api.Group("", s.AuthRequired())

	// WebSocket ticket issuance
	api.Post("/ws/ticket", s.AuthRequired(), s.IssueWSTicket)

	// Social graph routes
	social := protected.Group("/social")
	social.Post("/follow/:userId", middleware.RateLimit(
		s.redis, 30, time.Minute, "follow"), s.FollowUser)
	social.Delete("/follow/:userId", s.UnfollowUser)
	// Specific /requests routes before generic /:userId
	social.Post("/requests/:userId", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "follow_request"), s.RequestFollow)
	social.Post("/requests/:requestId/accept", s.AcceptFollowRequest)
	social.Post("/requests/:requestId/reject", s.RejectFollowRequest)
	social.Post("/block/:userId", s.BlockUser)
	social.Delete("/block/:userId", s.UnblockUser)
	social.Post("/mute/:userId", s.MuteUser)
	social.Delete("/mute/:userId", s.UnmuteUser)
	social.Post("/report/:userId", middleware.RateLimit(
		s.redis, 10, time.Minute, "report"), s.ReportUser)
	social.Get("/status/:userId", s.RelationshipStatus)

	// Feature flags for the current user
	protected.Get("/flags", s.GetFeatureFlags)

	// Relationship read routes
	users := protected.Group("/users")
	users.Get("/me/followers", s.GetFollowers)
	users.Get("/me/following", s.GetFollowing)
	users.Get("/me/mutuals", s.GetMutualFollowers)
	users.Get("/:id/followers/count", s.GetFollowerCount)
	users.Get("/:id/following/count", s.GetFollowingCount)
	users.Get("/:id/profile", s.GetUserProfile)

	// Feed routes
	feed := protected.Group("/feed")
	feed.Get("/", s.GetFeedPage)
	feed.Post("/refresh", s.RefreshFeed)

	// App lifecycle hooks
	lifecycle := protected.Group("/lifecycle")
	lifecycle.Post("/launch", s.AppLaunch)
	lifecycle.Post("/active", s.AppBecomeActive)
	lifecycle.Post("/login", s.UserLogin)
	lifecycle.Post("/logout", s.UserLogout)

	// Cache administration
	admin := protected.Group("/cache")
	admin.Get("/health", s.CacheHealth)
	admin.Post("/optimize", s.OptimizeCache)
	admin.Post("/clear", s.ClearCache)
	admin.Post("/preload", s.PreloadRelationships)

	// Websocket event stream - protected by AuthRequired
	ws := api.Group("/ws", s.AuthRequired())
	ws.Get("/", s.WebsocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Gating fails closed without Redis, so readiness requires it.
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns the authentication middleware
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		isWSPath := strings.HasPrefix(path, "/api/ws")

		// 1. Try WebSocket ticket first (short-lived, single-use)
		ticket := c.Query("ticket")
		if ticket != "" && s.redis != nil {
			key := fmt.Sprintf("ws_ticket:%s", ticket)
			userID, err := s.redis.Get(c.Context(), key).Result()
			if err == nil && userID != "" {
				// Valid ticket; delete immediately (single-use)
				s.redis.Del(c.Context(), key)

				c.Locals("userID", userID)
				// Sync to UserContext for logging and downstream services
				ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, userID)
				c.SetUserContext(ctx)
				return c.Next()
			}
			// If ticket was provided but invalid/expired, we fail if it's a WS path
			if isWSPath {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
		}

		// 2. Fall back to JWT (Bearer token or query param)
		authHeader := c.Get("Authorization")
		tokenString := ""
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// Reject token in query param for WS routes (must use ticket)
		if tokenString == "" && !isWSPath {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		// Parse and validate token
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			// Validate signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
			}
			return []byte(s.config.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		// Extract claims
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token claims"))
		}

		// Validate issuer and audience
		if issuer, issuerOk := claims["iss"].(string); !issuerOk || issuer != "stride-api" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token issuer"))
		}
		if audience, audienceOk := claims["aud"].(string); !audienceOk || audience != "stride-client" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token audience"))
		}

		// Extract user ID from subject claim
		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid subject claim"))
		}

		// Check JTI for revocation
		if jti, exists := claims["jti"].(string); exists && jti != "" {
			if s.redis != nil {
				isBlacklisted, err := s.redis.Exists(c.Context(), "blacklist:"+jti).Result()
				if err == nil && isBlacklisted > 0 {
					return models.RespondWithError(c, fiber.StatusUnauthorized,
						models.NewUnauthorizedError("Token has been revoked"))
				}
			}
		}

		// Store user ID in context
		c.Locals("userID", sub)
		// Sync to UserContext for logging and downstream services
		ctx := context.WithValue(c.UserContext(), middleware.UserIDKey, sub)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "Stride Social Graph API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Custom error handler
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	s.sweepStop = s.engine.StartSweeper(s.config.CacheSweepInterval)
	s.startEventBridge()

	// Wire the hub to the Redis subscriber if available
	if s.notifier != nil && s.hub != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				log.Printf("failed to start %s wiring: %v", s.hub.Name(), err)
			}
		}()
	}

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// startEventBridge forwards fan-out events into the Redis bridge so every
// instance's websocket clients observe them.
func (s *Server) startEventBridge() {
	if s.notifier == nil {
		return
	}
	events, unsubscribe := s.fanout.Subscribe("redis-bridge", notifications.DefaultSubscriberBuffer)
	s.bridgeCancel = unsubscribe
	go func() {
		for event := range events {
			if err := s.notifier.PublishEvent(context.Background(), event); err != nil {
				log.Printf("failed to publish relationship event: %v", err)
			}
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop all wiring goroutines
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// Shutdown the HTTP/WS server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Close WebSocket connections gracefully
	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			log.Printf("error shutting down %s: %v", s.hub.Name(), err)
		}
	}

	// Stop the event bridge and drain the fan-out
	if s.bridgeCancel != nil {
		s.bridgeCancel()
	}
	if err := s.fanout.Shutdown(ctx); err != nil {
		log.Printf("error shutting down fan-out: %v", err)
	}

	if s.sweepStop != nil {
		s.sweepStop()
	}

	// Close database connection
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	// Close Redis connection
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
