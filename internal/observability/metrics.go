package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// CacheHits counts cache engine hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stride_cache_hits_total",
		Help: "Total number of cache engine hits",
	})

	// CacheMisses counts cache engine misses.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stride_cache_misses_total",
		Help: "Total number of cache engine misses",
	})

	// CacheEvictions counts implicit cache removals by cause (ttl, capacity).
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_cache_evictions_total",
		Help: "Total number of implicit cache evictions by cause",
	}, []string{"cause"})

	// RateLimitDenials counts denied actions by action name.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_ratelimit_denials_total",
		Help: "Total number of rate-limited actions by action",
	}, []string{"action"})

	// SpamDetections counts actions flagged by the anti-spam engine.
	SpamDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_spam_detections_total",
		Help: "Total number of actions flagged as spam by action kind",
	}, []string{"kind"})

	// SpamReports counts user-submitted spam reports.
	SpamReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stride_spam_reports_total",
		Help: "Total number of spam reports recorded",
	})

	// SocialOperations counts mutating social graph operations by outcome.
	SocialOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_social_operations_total",
		Help: "Total number of social graph operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// EventsPublished counts relationship events entering the fan-out.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_events_published_total",
		Help: "Total number of relationship events published by type",
	}, []string{"type"})

	// FanoutCoalesced counts events merged under subscriber backpressure.
	FanoutCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_fanout_coalesced_total",
		Help: "Total number of events coalesced per subscriber due to backpressure",
	}, []string{"subscriber"})

	// CacheHealthReports counts emitted cache health snapshots.
	CacheHealthReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stride_cache_health_reports_total",
		Help: "Total number of cache health reports generated",
	})

	// WebSocketConnectionsTotal is the gauge of active WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stride_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)
