// Package ratelimit bounds request volume per identifier and endpoint using
// counters held in a shared store.
//
// Each window is split into precision buckets. A request is admitted only if
// the sum over the current bucket and the precision buckets before it is
// below max, and the admission is a single compare-and-increment in the
// store. The buckets considered always cover the trailing window, so no
// window-wide interval ever sees more than max admissions.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/zulandar/switchboard/internal/logger"
)

// Identifier types.
const (
	IdentifierPhone = "phone"
	IdentifierIP    = "ip"
)

// Result is the limiter's decision for one request.
type Result struct {
	Allowed      bool
	CurrentCount int
	Remaining    int
	RetryAfter   time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for headers.
func (r Result) RetryAfterSeconds() int {
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// CounterKey identifies one limited stream of requests.
type CounterKey struct {
	Identifier     string
	IdentifierType string
	Endpoint       string
}

// Store performs the atomic part of a check. buckets lists bucket start
// times in milliseconds, current bucket first. Admit increments the current
// bucket only if the sum over all buckets is below max, and returns the
// per-bucket counts after the operation in the same order.
type Store interface {
	Admit(ctx context.Context, key CounterKey, buckets []int64, max int, ttl time.Duration) (bool, []int, error)
}

// Limiter evaluates requests against a Store.
type Limiter struct {
	store     Store
	precision int
	log       *logger.Logger
	now       func() time.Time
}

// New creates a limiter. precision is the number of buckets per window.
func New(store Store, precision int, log *logger.Logger) *Limiter {
	if precision < 1 {
		precision = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Limiter{store: store, precision: precision, log: log.Named("ratelimit"), now: time.Now}
}

// SetClock overrides the time source.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Check admits or denies one request. A store failure admits the request.
func (l *Limiter) Check(ctx context.Context, identifier, identifierType, endpoint string, window time.Duration, max int) Result {
	key := CounterKey{Identifier: identifier, IdentifierType: identifierType, Endpoint: endpoint}
	if max < 1 {
		return Result{Allowed: false, RetryAfter: window}
	}

	nowMs := l.now().UnixMilli()
	bw := bucketWidth(window, l.precision)
	start := nowMs - nowMs%bw
	buckets := make([]int64, l.precision+1)
	for k := range buckets {
		buckets[k] = start - int64(k)*bw
	}

	admitted, counts, err := l.store.Admit(ctx, key, buckets, max, window+2*time.Duration(bw)*time.Millisecond)
	if err != nil {
		l.log.Warn("store unavailable, failing open",
			logger.String("endpoint", endpoint),
			logger.String("identifier_type", identifierType),
			logger.Error(err))
		return Result{Allowed: true, Remaining: max}
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	res := Result{Allowed: admitted, CurrentCount: total, Remaining: max - total}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !admitted {
		res.RetryAfter = retryAfter(counts, max, start, bw, nowMs)
	}
	return res
}

// bucketWidth rounds up so that precision buckets span at least the window.
func bucketWidth(window time.Duration, precision int) int64 {
	p := int64(precision)
	bw := (window.Milliseconds() + p - 1) / p
	if bw < 1 {
		bw = 1
	}
	return bw
}

// retryAfter finds when enough of the oldest buckets have aged out for the
// remaining sum to drop below max. Bucket k (0 = current) leaves the
// considered range once the current bucket start reaches start+(P+1-k)*bw.
func retryAfter(counts []int, max int, start, bw, nowMs int64) time.Duration {
	p := len(counts) - 1
	sum := 0
	for _, c := range counts {
		sum += c
	}
	j := p + 1
	for j > 0 && sum >= max {
		j--
		sum -= counts[j]
	}
	at := start + int64(p+1-j)*bw
	wait := time.Duration(at-nowMs) * time.Millisecond
	secs := math.Ceil(wait.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
