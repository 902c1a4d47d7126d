package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/pifan/internal/metrics"
	"codeberg.org/mutker/pifan/internal/shadow"
)

// Sampler produces one metrics snapshot per call.
type Sampler interface {
	Sample(ctx context.Context, now time.Time) metrics.Snapshot
}

// Document is the /api/system payload: the latest metrics snapshot plus the
// shadow fan state.
type Document struct {
	metrics.Snapshot
	FanControl shadow.View `json:"fan_control"`
}

// Health reports liveness of the sampling loop.
type Health struct {
	Status       string     `json:"status"`
	LastSampleAt *time.Time `json:"last_sample_at,omitempty"`
	Subscribers  int        `json:"subscribers"`
}
