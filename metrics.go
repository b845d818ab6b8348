package goIdentity

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricSignUpSuccess counts created accounts.
	MetricSignUpSuccess MetricID = iota
	// MetricSignUpConflict counts sign-ups rejected for a taken email or username.
	MetricSignUpConflict
	// MetricSignUpWeakPassword counts sign-ups rejected by the strength scorer.
	MetricSignUpWeakPassword
	// MetricSignInSuccess counts sessions minted by SignIn.
	MetricSignInSuccess
	// MetricSignInFailure counts SignIn calls that returned an error.
	MetricSignInFailure
	// MetricSignInThrottled counts sign-ins refused by the failed-attempt limiter.
	MetricSignInThrottled
	// MetricSecondFactorRequired counts sign-ins stopped for a missing second factor.
	MetricSecondFactorRequired
	// MetricSecondFactorFailure counts rejected TOTP or recovery codes.
	MetricSecondFactorFailure
	// MetricSecondFactorSuccess counts accepted TOTP codes.
	MetricSecondFactorSuccess
	// MetricRecoveryCodeUsed counts consumed recovery codes.
	MetricRecoveryCodeUsed
	// MetricRecoveryCodesRegenerated counts recovery code regenerations.
	MetricRecoveryCodesRegenerated
	// MetricTwoFactorEnabled counts completed enrollments.
	MetricTwoFactorEnabled
	// MetricTwoFactorDisabled counts removed enrollments.
	MetricTwoFactorDisabled
	// MetricSessionCreated counts persisted sessions.
	MetricSessionCreated
	// MetricSessionLimitExceeded counts session creations rejected by the cap.
	MetricSessionLimitExceeded
	// MetricSessionDeleted counts explicit single-session deletions.
	MetricSessionDeleted
	// MetricSignOutAll counts all-session revocations.
	MetricSignOutAll
	// MetricTempCodeIssued counts issued temporary codes.
	MetricTempCodeIssued
	// MetricTempCodeConflict counts issuance rejected by an outstanding code.
	MetricTempCodeConflict
	// MetricTempCodeRedeemed counts consumed temporary codes.
	MetricTempCodeRedeemed
	// MetricTempCodeInvalid counts submitted codes that did not match.
	MetricTempCodeInvalid
	// MetricTempCodeRestored counts redeemed codes put back after the change they authorized failed.
	MetricTempCodeRestored
	// MetricMailFailure counts failed deliveries.
	MetricMailFailure
	// MetricPasswordRehashed counts hashes upgraded on sign-in.
	MetricPasswordRehashed
	// MetricAccountDeleted counts deleted accounts.
	MetricAccountDeleted
	// MetricSignInLatency is the SignIn latency histogram.
	MetricSignInLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets  [histBucketCount]uint64
	sumNanos uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free counter set. The zero value and a nil *Metrics are
// both safe to use and record nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// HistogramSums holds the total observed duration per histogram.
	HistogramSums map[MetricID]time.Duration
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics may return an error when input validation, dependency calls, or security checks fail.
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc describes the inc operation and its observable behavior.
//
// Inc may return an error when input validation, dependency calls, or security checks fail.
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only MetricSignInLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricSignInLatency {
		return
	}

	if d < 0 {
		d = 0
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
	atomic.AddUint64(&m.histograms[id].sumNanos, uint64(d))
}

// Value returns the current counter for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot may return an error when input validation, dependency calls, or security checks fail.
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, 1),
		HistogramSums: make(map[MetricID]time.Duration, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricSignInLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricSignInLatency].buckets[i])
		}
		s.Histograms[MetricSignInLatency] = buckets
		s.HistogramSums[MetricSignInLatency] = time.Duration(atomic.LoadUint64(&m.histograms[MetricSignInLatency].sumNanos))
	}

	return s
}

// Sign-in is dominated by one Argon2 verify, so the buckets start at 50ms.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 150:
		return 2
	case ms <= 250:
		return 3
	case ms <= 400:
		return 4
	case ms <= 600:
		return 5
	case ms <= 1000:
		return 6
	default:
		return 7
	}
}
