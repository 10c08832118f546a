package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUser_EndToEnd(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	addProfile(t, deps.db, "u2", "trail_sam", false)
	token := signToken(t, "u1")

	status, body := doJSON(t, app, http.MethodPost, "/api/social/follow/u2", token, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "u1", body["follower_id"])
	assert.Equal(t, "u2", body["following_id"])
	assert.Equal(t, "active", body["status"])

	status, body = doJSON(t, app, http.MethodGet, "/api/social/status/u2", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "following", body["status"])

	// Following again conflicts.
	status, _ = doJSON(t, app, http.MethodPost, "/api/social/follow/u2", token, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestFollowUser_SelfRejected(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	token := signToken(t, "u1")

	status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/u1", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestFollowUser_UnknownTarget(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	token := signToken(t, "u1")

	status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/ghost", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFollowUser_RequiresAuth(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)

	status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/u1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUnfollowUser_Idempotent(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	addProfile(t, deps.db, "u2", "trail_sam", false)
	token := signToken(t, "u1")

	status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/u2", token, nil)
	require.Equal(t, http.StatusCreated, status)

	status, _ = doJSON(t, app, http.MethodDelete, "/api/social/follow/u2", token, nil)
	assert.Equal(t, http.StatusNoContent, status)

	// A second unfollow is a silent no-op.
	status, _ = doJSON(t, app, http.MethodDelete, "/api/social/follow/u2", token, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestFollowRequestFlow_PrivateAccount(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	addProfile(t, deps.db, "priv", "quiet_km", true)
	requester := signToken(t, "u1")
	target := signToken(t, "priv")

	// Direct follow on a private account is refused.
	status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/priv", requester, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, body := doJSON(t, app, http.MethodPost, "/api/social/requests/priv", requester,
		map[string]string{"message": "ran the same trail last week"})
	require.Equal(t, http.StatusCreated, status)
	requestID, _ := body["id"].(string)
	require.NotEmpty(t, requestID)
	assert.Equal(t, "pending", body["status"])

	// Only the target can answer.
	status, _ = doJSON(t, app, http.MethodPost, "/api/social/requests/"+requestID+"/accept", requester, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = doJSON(t, app, http.MethodPost, "/api/social/requests/"+requestID+"/accept", target, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "accepted", body["status"])

	status, body = doJSON(t, app, http.MethodGet, "/api/social/status/priv", requester, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "following", body["status"])

	// The request is settled; answering again conflicts.
	status, _ = doJSON(t, app, http.MethodPost, "/api/social/requests/"+requestID+"/reject", target, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestBlockUser_SeversAndDominates(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	addProfile(t, deps.db, "u2", "trail_sam", false)
	blocker := signToken(t, "u1")
	blocked := signToken(t, "u2")

	status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/u2", blocker, nil)
	require.Equal(t, http.StatusCreated, status)

	status, _ = doJSON(t, app, http.MethodPost, "/api/social/block/u2", blocker, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, body := doJSON(t, app, http.MethodGet, "/api/social/status/u2", blocker, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "blocked", body["status"])

	// The blocked side cannot follow back.
	status, _ = doJSON(t, app, http.MethodPost, "/api/social/follow/u1", blocked, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = doJSON(t, app, http.MethodDelete, "/api/social/block/u2", blocker, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, body = doJSON(t, app, http.MethodGet, "/api/social/status/u2", blocker, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "notFollowing", body["status"])
}

func TestMuteUser_KeepsFollowVisible(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	addProfile(t, deps.db, "u2", "trail_sam", false)
	token := signToken(t, "u1")

	status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/u2", token, nil)
	require.Equal(t, http.StatusCreated, status)

	status, _ = doJSON(t, app, http.MethodPost, "/api/social/mute/u2", token, nil)
	require.Equal(t, http.StatusNoContent, status)

	// Following outranks muted in the status report.
	status, body := doJSON(t, app, http.MethodGet, "/api/social/status/u2", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "following", body["status"])

	status, _ = doJSON(t, app, http.MethodDelete, "/api/social/mute/u2", token, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestReportUser_Accepted(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	addProfile(t, deps.db, "u2", "trail_sam", false)
	token := signToken(t, "u1")

	status, _ := doJSON(t, app, http.MethodPost, "/api/social/report/u2", token,
		map[string]string{"reason": "bot account"})
	assert.Equal(t, http.StatusAccepted, status)
}

func TestGetFollowersAndCounts(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	addProfile(t, deps.db, "u2", "trail_sam", false)
	addProfile(t, deps.db, "u3", "quiet_km", false)

	for _, follower := range []string{"u2", "u3"} {
		status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/u1", signToken(t, follower), nil)
		require.Equal(t, http.StatusCreated, status)
	}

	token := signToken(t, "u1")
	status, body := doJSON(t, app, http.MethodGet, "/api/users/me/followers", token, nil)
	require.Equal(t, http.StatusOK, status)
	followers, ok := body["followers"].([]any)
	require.True(t, ok)
	assert.Len(t, followers, 2)

	status, body = doJSON(t, app, http.MethodGet, "/api/users/u1/followers/count", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["followers"])

	status, body = doJSON(t, app, http.MethodGet, "/api/users/u1/following/count", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["following"])
}

func TestGetMutualFollowers(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	addProfile(t, deps.db, "u2", "trail_sam", false)
	u1 := signToken(t, "u1")
	u2 := signToken(t, "u2")

	status, _ := doJSON(t, app, http.MethodPost, "/api/social/follow/u2", u1, nil)
	require.Equal(t, http.StatusCreated, status)
	status, _ = doJSON(t, app, http.MethodPost, "/api/social/follow/u1", u2, nil)
	require.Equal(t, http.StatusCreated, status)

	status, body := doJSON(t, app, http.MethodGet, "/api/users/me/mutuals", u1, nil)
	require.Equal(t, http.StatusOK, status)
	mutuals, ok := body["mutuals"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"u2"}, mutuals)
}

func TestGetUserProfile(t *testing.T) {
	_, app, deps := newTestServer(t)
	addProfile(t, deps.db, "u1", "runner_jo", false)
	token := signToken(t, "u1")

	status, body := doJSON(t, app, http.MethodGet, "/api/users/u1/profile", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "runner_jo", body["username"])

	status, _ = doJSON(t, app, http.MethodGet, "/api/users/ghost/profile", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthEndpoints(t *testing.T) {
	_, app, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	resp2, err := app.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}
