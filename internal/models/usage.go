package models

import "time"

// Metric identifies a metered resource dimension.
type Metric string

const (
	MetricStorage  Metric = "storage"
	MetricStreams  Metric = "streams"
	MetricSessions Metric = "sessions"
	MetricAPICalls Metric = "api_calls"
)

// AllMetrics lists every metered dimension in evaluation order.
var AllMetrics = []Metric{MetricStorage, MetricStreams, MetricSessions, MetricAPICalls}

// UsageCounters holds a user's current consumption across metered dimensions.
type UsageCounters struct {
	UserID             string    `json:"userId"`
	StorageBytes       int64     `json:"storageBytes"`
	ActiveStreams      int64     `json:"activeStreams"`
	ConcurrentSessions int64     `json:"concurrentSessions"`
	APICallsInWindow   int64     `json:"apiCallsInWindow"`
	WindowStartedAt    time.Time `json:"windowStartedAt"`
}

// Value returns the counter for a metric.
func (c *UsageCounters) Value(metric Metric) int64 {
	switch metric {
	case MetricStorage:
		return c.StorageBytes
	case MetricStreams:
		return c.ActiveStreams
	case MetricSessions:
		return c.ConcurrentSessions
	case MetricAPICalls:
		return c.APICallsInWindow
	default:
		return 0
	}
}

// Add applies a delta to the counter for a metric.
func (c *UsageCounters) Add(metric Metric, delta int64) {
	switch metric {
	case MetricStorage:
		c.StorageBytes += delta
	case MetricStreams:
		c.ActiveStreams += delta
	case MetricSessions:
		c.ConcurrentSessions += delta
	case MetricAPICalls:
		c.APICallsInWindow += delta
	}
}

// ResetWindow clears the windowed counters and starts a new counting window.
// Gauge-like counters (storage, streams, sessions) carry across windows.
func (c *UsageCounters) ResetWindow(now time.Time) {
	c.APICallsInWindow = 0
	c.WindowStartedAt = now
}

// TierLimits is immutable reference data describing a usage-limit tier.
type TierLimits struct {
	TierID               string        `json:"tierId"`
	StorageCap           int64         `json:"storageCap"`
	StreamCap            int64         `json:"streamCap"`
	ConcurrentSessionCap int64         `json:"concurrentSessionCap"`
	APICallCap           int64         `json:"apiCallCap"`
	WindowDuration       time.Duration `json:"windowDuration"`
	GraceDuration        time.Duration `json:"graceDuration"`
	ThrottleDelay        time.Duration `json:"throttleDelay"`
}

// Cap returns the limit for a metric. Zero means unlimited.
func (t *TierLimits) Cap(metric Metric) int64 {
	switch metric {
	case MetricStorage:
		return t.StorageCap
	case MetricStreams:
		return t.StreamCap
	case MetricSessions:
		return t.ConcurrentSessionCap
	case MetricAPICalls:
		return t.APICallCap
	default:
		return 0
	}
}

// UsagePercent computes current usage as a percentage of a limit, capped at
// 100 for display purposes. Underlying counters are never clamped.
func UsagePercent(current, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	pct := float64(current) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// DefaultTiers returns the built-in tier profiles, used to seed the store.
func DefaultTiers() []TierLimits {
	return []TierLimits{
		{
			TierID:               "basic",
			StorageCap:           10 << 30, // 10 GiB
			StreamCap:            2,
			ConcurrentSessionCap: 1,
			APICallCap:           1000,
			WindowDuration:       time.Hour,
			GraceDuration:        24 * time.Hour,
			ThrottleDelay:        2 * time.Second,
		},
		{
			TierID:               "premium",
			StorageCap:           100 << 30, // 100 GiB
			StreamCap:            5,
			ConcurrentSessionCap: 3,
			APICallCap:           10000,
			WindowDuration:       time.Hour,
			GraceDuration:        72 * time.Hour,
			ThrottleDelay:        500 * time.Millisecond,
		},
		{
			TierID:               "enterprise",
			StorageCap:           1 << 40, // 1 TiB
			StreamCap:            20,
			ConcurrentSessionCap: 10,
			APICallCap:           100000,
			WindowDuration:       time.Hour,
			GraceDuration:        7 * 24 * time.Hour,
			ThrottleDelay:        100 * time.Millisecond,
		},
	}
}
