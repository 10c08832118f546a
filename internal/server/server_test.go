package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stride/internal/antispam"
	"stride/internal/cache"
	"stride/internal/config"
	"stride/internal/models"
	"stride/internal/notifications"
	"stride/internal/ratelimit"
	"stride/internal/repository"
	"stride/internal/service"
)

const testJWTSecret = "test-secret-key-12345678901234567890123456789012"

type testDeps struct {
	db  *gorm.DB
	mr  *miniredis.Miniredis
	rdb *redis.Client
}

// newTestServer builds a Server on sqlite and miniredis with all routes
// mounted. The Prometheus middleware is left nil so repeated fixtures do
// not fight over collector registration.
func newTestServer(t *testing.T) (*Server, *fiber.App, *testDeps) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserProfile{},
		&models.Relationship{},
		&models.FollowRequest{},
		&models.FeedItem{},
	))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	engine := cache.NewEngine(cache.WithCapacity(1000))
	remote := repository.NewGormSocialStore(db)
	store := repository.NewRelationshipStore(remote, engine)
	fanout := notifications.NewFanOut()

	s := &Server{
		config:  &config.Config{JWTSecret: testJWTSecret},
		db:      db,
		redis:   rdb,
		engine:  engine,
		store:   store,
		limiter: ratelimit.NewLimiter(rdb),
		spam:    antispam.NewEngine(rdb),
		fanout:  fanout,
	}
	s.socialSvc = service.NewSocialService(store, s.limiter, s.spam, fanout)
	s.cacheSvc = service.NewCacheService(store)

	app := fiber.New()
	s.SetupRoutes(app)

	return s, app, &testDeps{db: db, mr: mr, rdb: rdb}
}

func addProfile(t *testing.T, db *gorm.DB, id, username string, private bool) {
	t.Helper()
	require.NoError(t, db.Create(&models.UserProfile{
		ID:          id,
		Username:    username,
		DisplayName: username,
		Private:     private,
	}).Error)
}

// signToken mints a valid token for the given user. Mutators can corrupt
// individual claims to exercise rejection paths.
func signToken(t *testing.T, sub string, mutate ...func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"iss": "stride-api",
		"aud": "stride-client",
		"exp": time.Now().Add(time.Hour).Unix(),
		"jti": uuid.NewString(),
	}
	for _, m := range mutate {
		m(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	str, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return str
}

// doJSON performs an authenticated request and decodes the JSON response
// body into a generic map. A nil body sends an empty request.
func doJSON(t *testing.T, app *fiber.App, method, target, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && resp.Header.Get("Content-Type") != "" {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}
