package pool

import (
	"github.com/go-mcpgw/mcpool/lib/metrics"
)

// Pool metrics for Prometheus exposition.
var (
	// AcquireTotal counts all session acquisition attempts.
	AcquireTotal = metrics.NewCounter(
		"mcpool_acquire_total",
		"Total session acquisition attempts",
	)

	// AcquireTimeouts counts acquisitions that failed on timeout.
	AcquireTimeouts = metrics.NewCounter(
		"mcpool_acquire_timeouts_total",
		"Total session acquisitions that timed out",
	)

	// AcquireRejections counts acquisitions rejected by draining or closed pools.
	AcquireRejections = metrics.NewCounter(
		"mcpool_acquire_rejections_total",
		"Total session acquisitions rejected by draining or closed pools",
	)

	// AcquireLatency tracks how long callers wait for a session.
	AcquireLatency = metrics.NewHistogram(
		"mcpool_acquire_latency_seconds",
		"Time callers spend waiting for a session",
		metrics.DefaultLatencyBuckets,
	)

	// PrePingFailures counts sessions evicted by a failed pre-acquire probe.
	PrePingFailures = metrics.NewCounter(
		"mcpool_pre_ping_failures_total",
		"Sessions evicted because the pre-acquire probe failed",
	)
)
