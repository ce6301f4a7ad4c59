package authkit

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricSignUp MetricID = iota
	MetricSignUpRejected
	MetricSignInSuccess
	MetricSignInFailure
	MetricSignInRateLimited
	MetricCaptchaFailure
	MetricSecondFactorRequired
	MetricSecondFactorSuccess
	MetricSecondFactorFailure
	MetricBackupCodeUsed
	MetricBackupCodesRegenerated
	MetricEmailVerificationSent
	MetricEmailVerified
	MetricPasswordResetRequested
	MetricPasswordResetCompleted
	MetricMagicLinkSent
	MetricMagicLinkCompleted
	MetricSessionIssued
	MetricSessionRevoked
	MetricTrustedDeviceHit
	MetricValidateSuccess
	MetricValidateFailure

	metricCount
)

// NumMetrics is the number of defined counters; snapshot arrays have
// this length.
const NumMetrics = int(metricCount)

// HistogramID identifies one latency histogram.
type HistogramID uint16

const (
	HistSignIn HistogramID = iota
	HistSecondFactor
	HistValidate

	histogramCount
)

// HistogramBucketBounds are the upper bounds, in milliseconds, of the
// first seven histogram buckets. The eighth bucket is unbounded.
var HistogramBucketBounds = [7]int64{5, 10, 25, 50, 100, 250, 500}

// paddedCounter occupies a full cache line so hot counters on adjacent
// IDs do not false-share.
type paddedCounter struct {
	value uint64
	_     [56]byte
}

type metricHistogram struct {
	buckets [8]uint64
}

// Metrics is a fixed-size set of lock-free counters and histograms.
type Metrics struct {
	enabled    bool
	histograms bool
	counters   [metricCount]paddedCounter
	latency    [histogramCount]metricHistogram
}

func newMetrics(enabled, histograms bool) *Metrics {
	return &Metrics{enabled: enabled, histograms: histograms}
}

// Inc increments a counter. No-op when metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample.
func (m *Metrics) Observe(id HistogramID, d time.Duration) {
	if m == nil || !m.enabled || !m.histograms || id >= histogramCount {
		return
	}
	atomic.AddUint64(&m.latency[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current count for one metric.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters at once. Index by MetricID.
func (m *Metrics) Snapshot() [NumMetrics]uint64 {
	var out [NumMetrics]uint64
	if m == nil {
		return out
	}
	for i := range out {
		out[i] = atomic.LoadUint64(&m.counters[i].value)
	}
	return out
}

// HistogramSnapshot copies one histogram's buckets.
func (m *Metrics) HistogramSnapshot(id HistogramID) [8]uint64 {
	var out [8]uint64
	if m == nil || id >= histogramCount {
		return out
	}
	for i := range out {
		out[i] = atomic.LoadUint64(&m.latency[id].buckets[i])
	}
	return out
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range HistogramBucketBounds {
		if ms <= bound {
			return i
		}
	}
	return len(HistogramBucketBounds)
}
