// Package service holds the business logic that sits between the HTTP and
// websocket surfaces and the stores underneath.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stride/internal/antispam"
	"stride/internal/models"
	"stride/internal/observability"
	"stride/internal/ratelimit"
	"stride/internal/repository"
)

// RateGate is the slice of the rate limiter the social service needs.
type RateGate interface {
	Allow(ctx context.Context, action ratelimit.Action, userID string) (ratelimit.Result, error)
	ResetLimits(ctx context.Context, userID string) error
}

// SpamGate is the slice of the anti-spam engine the social service needs.
type SpamGate interface {
	CheckForSpam(ctx context.Context, userID string, action antispam.Action) (antispam.CheckResult, error)
	ReportSpam(ctx context.Context, reporterID, targetID, reason string) error
}

// EventPublisher receives a relationship event after every successful
// mutating operation.
type EventPublisher interface {
	Publish(event models.RelationshipEvent)
}

// SocialService orchestrates every mutating social graph operation. Each
// call validates its inputs, gates through the rate limiter and the
// anti-spam engine, writes through the relationship store, invalidates the
// affected cache entries, and publishes a change event.
//
// At most one mutating call may be in flight per user pair; an overlapping
// call for the same pair is rejected rather than double-applied.
type SocialService struct {
	store   *repository.RelationshipStore
	limiter RateGate
	spam    SpamGate
	events  EventPublisher

	mu       sync.Mutex
	inflight map[string]struct{}

	now func() time.Time
}

// SocialOption configures a SocialService.
type SocialOption func(*SocialService)

// WithSocialClock overrides the time source, for tests.
func WithSocialClock(now func() time.Time) SocialOption {
	return func(s *SocialService) { s.now = now }
}

// NewSocialService returns a new SocialService.
func NewSocialService(store *repository.RelationshipStore, limiter RateGate, spam SpamGate, events EventPublisher, opts ...SocialOption) *SocialService {
	s := &SocialService{
		store:    store,
		limiter:  limiter,
		spam:     spam,
		events:   events,
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pairKey is order-insensitive so that opposing mutations on the same two
// users serialize against each other.
func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "\x00" + ids[1]
}

func (s *SocialService) beginMutation(actorID, targetID string) (func(), error) {
	key := pairKey(actorID, targetID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return nil, models.NewConflictError("another operation for this user pair is in progress")
	}
	s.inflight[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}, nil
}

func validatePair(actorID, targetID string) error {
	if actorID == "" || targetID == "" {
		return models.NewValidationError("user ID must not be empty")
	}
	if actorID == targetID {
		return models.NewValidationError("cannot perform this operation on yourself")
	}
	return nil
}

func (s *SocialService) publish(eventType models.RelationshipEventType, actorID, targetID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(models.RelationshipEvent{
		Type:       eventType,
		ActorID:    actorID,
		TargetID:   targetID,
		OccurredAt: s.now(),
	})
}

func (s *SocialService) invalidatePair(actorID, targetID string) {
	s.store.InvalidateUser(actorID)
	s.store.InvalidateUser(targetID)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return models.ErrorCode(err)
}

// Follow creates an active follow edge from userID to targetID. Private
// targets cannot be followed directly; callers use RequestFollow instead.
// A retried identical call after a prior success surfaces Duplicate, never
// a second write.
func (s *SocialService) Follow(ctx context.Context, userID, targetID string) (rel *models.Relationship, err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "Follow")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("follow", outcome(err)).Inc() }()

	if err = validatePair(userID, targetID); err != nil {
		return nil, err
	}
	release, err := s.beginMutation(userID, targetID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err = s.gate(ctx, ratelimit.ActionFollow, userID, antispam.Action{Kind: antispam.KindFollow}); err != nil {
		return nil, err
	}

	profile, err := s.store.GetProfile(ctx, targetID, false)
	if err != nil {
		return nil, err
	}

	if err = s.checkNotBlocked(ctx, userID, targetID); err != nil {
		return nil, err
	}

	if profile.Private {
		return nil, models.NewPrivacyError("this account is private; send a follow request instead")
	}

	existing, err := s.store.GetRelationship(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == models.RelationshipStatusActive {
			return nil, models.NewDuplicateError("already following this user")
		}
		// A muted placeholder edge upgrades to a real follow with
		// notifications off.
		existing.Status = models.RelationshipStatusActive
		existing.NotificationsEnabled = false
		if err = s.store.Remote().UpdateRelationship(ctx, existing); err != nil {
			return nil, err
		}
		rel = existing
	} else {
		rel = models.NewRelationship(userID, targetID, models.RelationshipStatusActive)
		if err = s.store.Remote().CreateRelationship(ctx, rel); err != nil {
			return nil, err
		}
	}

	s.invalidatePair(userID, targetID)
	s.publish(models.RelationshipAdded, userID, targetID)
	return rel, nil
}

// Unfollow removes the follow edge from userID to targetID. Calling it
// when not following is a no-op success.
func (s *SocialService) Unfollow(ctx context.Context, userID, targetID string) (err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "Unfollow")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("unfollow", outcome(err)).Inc() }()

	if err = validatePair(userID, targetID); err != nil {
		return err
	}
	release, err := s.beginMutation(userID, targetID)
	if err != nil {
		return err
	}
	defer release()

	res, err := s.limiter.Allow(ctx, ratelimit.ActionUnfollow, userID)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return models.NewRateLimitError(string(ratelimit.ActionUnfollow), res.ResetTime)
	}

	existing, err := s.store.GetRelationship(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Status == models.RelationshipStatusBlocked {
		// Not following; nothing to undo. Blocks are lifted via
		// UnblockUser, never as a side effect of unfollow.
		return nil
	}

	if err = s.store.Remote().DeleteRelationship(ctx, userID, targetID); err != nil {
		return err
	}

	s.invalidatePair(userID, targetID)
	s.publish(models.RelationshipRemoved, userID, targetID)
	return nil
}

// RequestFollow creates a pending follow request toward a private target.
// At most one pending request may exist per pair; an expired one is lazily
// marked expired and replaced.
func (s *SocialService) RequestFollow(ctx context.Context, userID, targetID, message string) (req *models.FollowRequest, err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "RequestFollow")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("follow_request", outcome(err)).Inc() }()

	if err = validatePair(userID, targetID); err != nil {
		return nil, err
	}
	release, err := s.beginMutation(userID, targetID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err = s.gate(ctx, ratelimit.ActionFollowRequest, userID, antispam.Action{Kind: antispam.KindMessage, Content: message}); err != nil {
		return nil, err
	}

	if _, err = s.store.GetProfile(ctx, targetID, false); err != nil {
		return nil, err
	}
	if err = s.checkNotBlocked(ctx, userID, targetID); err != nil {
		return nil, err
	}

	existing, err := s.store.GetRelationship(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == models.RelationshipStatusActive {
		return nil, models.NewDuplicateError("already following this user")
	}

	now := s.now()
	pending, err := s.store.Remote().GetPendingRequest(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		if pending.IsPending(now) {
			return nil, models.NewDuplicateError("a follow request is already pending")
		}
		if pending.IsExpired(now) {
			if err = s.store.Remote().ResolveFollowRequest(ctx, pending.ID, models.FollowRequestStatusExpired); err != nil {
				return nil, err
			}
		}
	}

	req = &models.FollowRequest{
		ID:          uuid.NewString(),
		RequesterID: userID,
		TargetID:    targetID,
		Status:      models.FollowRequestStatusPending,
		Message:     message,
		CreatedAt:   now,
		ExpiresAt:   now.Add(models.DefaultFollowRequestTTL),
	}
	if err = s.store.Remote().CreateFollowRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// RespondToFollowRequest accepts or rejects a pending request addressed to
// userID. Accepting creates the follow edge; an expired request is lazily
// marked expired and can no longer be answered.
func (s *SocialService) RespondToFollowRequest(ctx context.Context, userID, requestID string, accept bool) (err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "RespondToFollowRequest")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("respond_follow_request", outcome(err)).Inc() }()

	if userID == "" || requestID == "" {
		return models.NewValidationError("user ID and request ID must not be empty")
	}

	req, err := s.store.Remote().GetFollowRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.TargetID != userID {
		return models.NewUnauthorizedError("You can only respond to follow requests sent to you")
	}

	release, err := s.beginMutation(req.RequesterID, req.TargetID)
	if err != nil {
		return err
	}
	defer release()

	now := s.now()
	if req.IsExpired(now) {
		if resolveErr := s.store.Remote().ResolveFollowRequest(ctx, req.ID, models.FollowRequestStatusExpired); resolveErr != nil {
			return resolveErr
		}
		return models.NewConflictError("follow request has expired")
	}
	if !req.IsPending(now) {
		return models.NewConflictError("follow request is not pending")
	}

	if !accept {
		return s.store.Remote().ResolveFollowRequest(ctx, req.ID, models.FollowRequestStatusRejected)
	}

	if err = s.store.Remote().ResolveFollowRequest(ctx, req.ID, models.FollowRequestStatusAccepted); err != nil {
		return err
	}
	rel := models.NewRelationship(req.RequesterID, req.TargetID, models.RelationshipStatusActive)
	if err = s.store.Remote().CreateRelationship(ctx, rel); err != nil && models.ErrorCode(err) != models.CodeDuplicate {
		return err
	}

	s.invalidatePair(req.RequesterID, req.TargetID)
	s.publish(models.RelationshipAdded, req.RequesterID, req.TargetID)
	return nil
}

// CheckRelationship classifies the pair (userID, targetID) from userID's
// point of view. Blocked in either direction dominates everything else;
// then mutual follow, one-way follow, mute, an open request, and finally
// not following.
func (s *SocialService) CheckRelationship(ctx context.Context, userID, targetID string) (models.PairStatus, error) {
	if userID == "" || targetID == "" {
		return "", models.NewValidationError("user ID must not be empty")
	}
	if userID == targetID {
		return "", models.NewValidationError("cannot check a relationship with yourself")
	}

	forward, err := s.store.GetRelationship(ctx, userID, targetID)
	if err != nil {
		return "", err
	}
	reverse, err := s.store.GetRelationship(ctx, targetID, userID)
	if err != nil {
		return "", err
	}

	if (forward != nil && forward.Status == models.RelationshipStatusBlocked) ||
		(reverse != nil && reverse.Status == models.RelationshipStatusBlocked) {
		return models.PairStatusBlocked, nil
	}
	forwardActive := forward != nil && forward.Status == models.RelationshipStatusActive
	reverseActive := reverse != nil && reverse.Status == models.RelationshipStatusActive
	if forwardActive && reverseActive {
		return models.PairStatusMutualFollow, nil
	}
	if forwardActive {
		return models.PairStatusFollowing, nil
	}
	if forward != nil && forward.Status == models.RelationshipStatusMuted {
		return models.PairStatusMuted, nil
	}

	pending, err := s.store.Remote().GetPendingRequest(ctx, userID, targetID)
	if err != nil {
		return "", err
	}
	if pending != nil {
		now := s.now()
		if pending.IsPending(now) {
			return models.PairStatusPending, nil
		}
		if pending.IsExpired(now) {
			_ = s.store.Remote().ResolveFollowRequest(ctx, pending.ID, models.FollowRequestStatusExpired)
		}
	}

	return models.PairStatusNotFollowing, nil
}

// BlockUser removes any follow edges between the two users in both
// directions, cancels open follow requests, and records a blocked edge
// that prevents future follows from the blocked party.
func (s *SocialService) BlockUser(ctx context.Context, userID, targetID string) (err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "BlockUser")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("block", outcome(err)).Inc() }()

	if err = validatePair(userID, targetID); err != nil {
		return err
	}
	release, err := s.beginMutation(userID, targetID)
	if err != nil {
		return err
	}
	defer release()

	res, err := s.limiter.Allow(ctx, ratelimit.ActionBlock, userID)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return models.NewRateLimitError(string(ratelimit.ActionBlock), res.ResetTime)
	}

	existing, err := s.store.GetRelationship(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == models.RelationshipStatusBlocked {
		return models.NewDuplicateError("user is already blocked")
	}

	if err = s.store.Remote().DeleteRelationship(ctx, userID, targetID); err != nil {
		return err
	}
	if err = s.store.Remote().DeleteRelationship(ctx, targetID, userID); err != nil {
		return err
	}
	s.cancelPendingRequest(ctx, userID, targetID)
	s.cancelPendingRequest(ctx, targetID, userID)

	rel := models.NewRelationship(userID, targetID, models.RelationshipStatusBlocked)
	rel.NotificationsEnabled = false
	if err = s.store.Remote().CreateRelationship(ctx, rel); err != nil {
		return err
	}

	s.invalidatePair(userID, targetID)
	s.publish(models.RelationshipBlocked, userID, targetID)
	return nil
}

// UnblockUser lifts an existing block. Unblocking a user who is not
// blocked is a no-op success.
func (s *SocialService) UnblockUser(ctx context.Context, userID, targetID string) (err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "UnblockUser")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("unblock", outcome(err)).Inc() }()

	if err = validatePair(userID, targetID); err != nil {
		return err
	}
	release, err := s.beginMutation(userID, targetID)
	if err != nil {
		return err
	}
	defer release()

	existing, err := s.store.GetRelationship(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Status != models.RelationshipStatusBlocked {
		return nil
	}

	if err = s.store.Remote().DeleteRelationship(ctx, userID, targetID); err != nil {
		return err
	}

	s.invalidatePair(userID, targetID)
	s.publish(models.RelationshipUnblocked, userID, targetID)
	return nil
}

// MuteUser silences notifications from targetID. Muting an existing follow
// flips its notifications flag; muting without a follow records a
// mute-only edge so the preference survives a later follow.
func (s *SocialService) MuteUser(ctx context.Context, userID, targetID string) (err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "MuteUser")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("mute", outcome(err)).Inc() }()

	if err = validatePair(userID, targetID); err != nil {
		return err
	}
	release, err := s.beginMutation(userID, targetID)
	if err != nil {
		return err
	}
	defer release()

	existing, err := s.store.GetRelationship(ctx, userID, targetID)
	if err != nil {
		return err
	}
	switch {
	case existing == nil:
		rel := models.NewRelationship(userID, targetID, models.RelationshipStatusMuted)
		rel.NotificationsEnabled = false
		if err = s.store.Remote().CreateRelationship(ctx, rel); err != nil {
			return err
		}
	case existing.Status == models.RelationshipStatusBlocked:
		return models.NewConflictError("cannot mute a blocked user")
	case !existing.NotificationsEnabled:
		return nil
	default:
		existing.NotificationsEnabled = false
		if err = s.store.Remote().UpdateRelationship(ctx, existing); err != nil {
			return err
		}
	}

	s.store.InvalidateUser(userID)
	s.publish(models.RelationshipMuted, userID, targetID)
	return nil
}

// UnmuteUser restores notifications from targetID. Unmuting a user who is
// not muted is a no-op success.
func (s *SocialService) UnmuteUser(ctx context.Context, userID, targetID string) (err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "UnmuteUser")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("unmute", outcome(err)).Inc() }()

	if err = validatePair(userID, targetID); err != nil {
		return err
	}
	release, err := s.beginMutation(userID, targetID)
	if err != nil {
		return err
	}
	defer release()

	existing, err := s.store.GetRelationship(ctx, userID, targetID)
	if err != nil {
		return err
	}
	switch {
	case existing == nil:
		return nil
	case existing.Status == models.RelationshipStatusMuted:
		// Mute-only edge; removing it restores the default.
		if err = s.store.Remote().DeleteRelationship(ctx, userID, targetID); err != nil {
			return err
		}
	case existing.Status == models.RelationshipStatusActive && !existing.NotificationsEnabled:
		existing.NotificationsEnabled = true
		if err = s.store.Remote().UpdateRelationship(ctx, existing); err != nil {
			return err
		}
	default:
		return nil
	}

	s.store.InvalidateUser(userID)
	s.publish(models.RelationshipUnmuted, userID, targetID)
	return nil
}

// ReportUser records a spam report against targetID, raising its spam
// score by a fixed penalty.
func (s *SocialService) ReportUser(ctx context.Context, userID, targetID, reason string) (err error) {
	ctx, span := observability.GetTraceLayer().TraceServiceCall(ctx, "social", "ReportUser")
	defer span.End()
	defer func() { observability.SocialOperations.WithLabelValues("report", outcome(err)).Inc() }()

	if err = validatePair(userID, targetID); err != nil {
		return err
	}

	res, err := s.limiter.Allow(ctx, ratelimit.ActionReport, userID)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return models.NewRateLimitError(string(ratelimit.ActionReport), res.ResetTime)
	}

	return s.spam.ReportSpam(ctx, userID, targetID, reason)
}

// GetFollowers returns a cache-first page of follower IDs.
func (s *SocialService) GetFollowers(ctx context.Context, userID string, page int) ([]string, error) {
	return s.store.GetFollowers(ctx, userID, page)
}

// GetFollowing returns a cache-first page of followed IDs.
func (s *SocialService) GetFollowing(ctx context.Context, userID string, page int) ([]string, error) {
	return s.store.GetFollowing(ctx, userID, page)
}

// GetMutualFollowers returns up to limit users who follow and are
// followed by userID.
func (s *SocialService) GetMutualFollowers(ctx context.Context, userID string, limit int) ([]string, error) {
	return s.store.GetMutualFollowers(ctx, userID, limit)
}

// GetFollowerCount returns the cached follower count for userID.
func (s *SocialService) GetFollowerCount(ctx context.Context, userID string) (int64, error) {
	return s.store.GetFollowerCount(ctx, userID)
}

// GetFollowingCount returns the cached following count for userID.
func (s *SocialService) GetFollowingCount(ctx context.Context, userID string) (int64, error) {
	return s.store.GetFollowingCount(ctx, userID)
}

// ClearRelationshipCache drops every cached relationship read.
func (s *SocialService) ClearRelationshipCache() {
	s.store.ClearCache()
}

// PreloadRelationships warms the cache for the given users.
func (s *SocialService) PreloadRelationships(ctx context.Context, userIDs []string) {
	s.store.Preload(ctx, userIDs)
}

// gate runs the rate limiter and the anti-spam engine for a mutating
// action. A backing-store failure in either denies the action; an
// unchecked write is worse than a refused one.
func (s *SocialService) gate(ctx context.Context, action ratelimit.Action, userID string, spamAction antispam.Action) error {
	res, err := s.limiter.Allow(ctx, action, userID)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return models.NewRateLimitError(string(action), res.ResetTime)
	}

	check, err := s.spam.CheckForSpam(ctx, userID, spamAction)
	if err != nil {
		return err
	}
	if check.IsSpam {
		return models.NewSpamError(check.Reason)
	}
	return nil
}

// checkNotBlocked fails with PrivacyRestriction when the target blocks the
// actor, and with Validation when the actor blocks the target.
func (s *SocialService) checkNotBlocked(ctx context.Context, actorID, targetID string) error {
	reverse, err := s.store.GetRelationship(ctx, targetID, actorID)
	if err != nil {
		return err
	}
	if reverse != nil && reverse.Status == models.RelationshipStatusBlocked {
		return models.NewPrivacyError("this user is not accepting follows from you")
	}

	forward, err := s.store.GetRelationship(ctx, actorID, targetID)
	if err != nil {
		return err
	}
	if forward != nil && forward.Status == models.RelationshipStatusBlocked {
		return models.NewValidationError("unblock this user before following them")
	}
	return nil
}

func (s *SocialService) cancelPendingRequest(ctx context.Context, requesterID, targetID string) {
	pending, err := s.store.Remote().GetPendingRequest(ctx, requesterID, targetID)
	if err != nil || pending == nil {
		return
	}
	_ = s.store.Remote().ResolveFollowRequest(ctx, pending.ID, models.FollowRequestStatusRejected)
}
