package pulse

import (
	"math"
	"sort"
	"time"
)

// HealthStatus is the traffic-light state of a project.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthError    HealthStatus = "error"
)

// HealthThresholds configures ComputeHealth.
type HealthThresholds struct {
	Window time.Duration

	// Error requires both of these.
	ErrorRateCritical float64
	P95CriticalMs     float64

	// Degraded requires either of these.
	ErrorRateDegraded float64
	P95DegradedMs     float64
}

// DefaultHealthThresholds returns a 30s window with 5%/2000ms for error and
// 1%/500ms for degraded.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		Window:            30 * time.Second,
		ErrorRateCritical: 0.05,
		P95CriticalMs:     2000,
		ErrorRateDegraded: 0.01,
		P95DegradedMs:     500,
	}
}

// Health is the derived status plus the figures it was computed from.
type Health struct {
	Status      HealthStatus `json:"status" yaml:"status"`
	ErrorRate   float64      `json:"error_rate" yaml:"error_rate"`
	P95Ms       float64      `json:"p95_ms" yaml:"p95_ms"`
	SampleSize  int          `json:"sample_size" yaml:"sample_size"`
	ErrorCount  int          `json:"error_count" yaml:"error_count"`
	WindowStart time.Time    `json:"window_start" yaml:"window_start"`
	WindowEnd   time.Time    `json:"window_end" yaml:"window_end"`
}

// IsFailure reports whether a completed span counts against the error rate:
// a 5xx response or an ERROR span status.
func IsFailure(s Span) bool {
	return s.HTTPStatusCode >= 500 || s.StatusCode == StatusCodeError
}

// ComputeHealth evaluates completed spans that started within the trailing
// window ending at now. No samples is healthy.
func ComputeHealth(spans []Span, now time.Time, th HealthThresholds) Health {
	windowStart := now.Add(-th.Window)
	h := Health{
		Status:      HealthHealthy,
		WindowStart: windowStart,
		WindowEnd:   now,
	}

	var durations []float64
	for _, s := range spans {
		if s.IsPending() || !InRange(s, windowStart, now) {
			continue
		}
		durations = append(durations, s.DurationMs)
		if IsFailure(s) {
			h.ErrorCount++
		}
	}

	h.SampleSize = len(durations)
	if h.SampleSize == 0 {
		return h
	}

	h.ErrorRate = float64(h.ErrorCount) / float64(h.SampleSize)
	h.P95Ms = Percentile(durations, 95)

	switch {
	case h.ErrorRate >= th.ErrorRateCritical && h.P95Ms >= th.P95CriticalMs:
		h.Status = HealthError
	case h.ErrorRate >= th.ErrorRateDegraded || h.P95Ms >= th.P95DegradedMs:
		h.Status = HealthDegraded
	}
	return h
}

// Percentile returns the nearest-rank percentile of values. It sorts a copy.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
