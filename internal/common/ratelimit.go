package common

import (
	"context"
	"sync"
	"time"
)

// BucketLimit configures one logical rate-limit bucket.
type BucketLimit struct {
	Limit  int           // admissions per trailing window
	Window time.Duration // window length
}

// SlidingWindow is a blocking rate limiter keyed by a logical bucket string
// (e.g. "edgar", "quote:alpha"). Acquire never rejects: callers block until
// the trailing window has a free slot or the context is cancelled.
//
// Each bucket keeps a monotonic list of admission timestamps trimmed on
// access, so memory is O(limit) per bucket. The admitted count over any
// trailing window never exceeds the bucket's limit.
type SlidingWindow struct {
	mu      sync.Mutex
	buckets map[string]*windowState
	limits  map[string]BucketLimit
	def     BucketLimit
	now     func() time.Time // injectable clock for testing
	sleep   func(ctx context.Context, d time.Duration) error
}

type windowState struct {
	admissions []time.Time
}

// NewSlidingWindow creates a limiter with a default bucket limit.
func NewSlidingWindow(defaultLimit int, defaultWindow time.Duration) *SlidingWindow {
	return &SlidingWindow{
		buckets: make(map[string]*windowState),
		limits:  make(map[string]BucketLimit),
		def:     BucketLimit{Limit: defaultLimit, Window: defaultWindow},
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetLimit configures a specific bucket. Safe to call concurrently with Acquire.
func (s *SlidingWindow) SetLimit(bucket string, limit int, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[bucket] = BucketLimit{Limit: limit, Window: window}
}

// Acquire blocks until the bucket has a free slot in its trailing window.
// Returns the context error on cancellation, nil otherwise.
func (s *SlidingWindow) Acquire(ctx context.Context, bucket string) error {
	for {
		wait, ok := s.tryAdmit(bucket)
		if ok {
			return nil
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit attempts an admission. On failure it returns the duration until
// the oldest blocking admission leaves the window.
func (s *SlidingWindow) tryAdmit(bucket string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limits[bucket]
	if !ok {
		lim = s.def
	}
	if lim.Limit <= 0 {
		return 0, true // unlimited bucket
	}

	st, ok := s.buckets[bucket]
	if !ok {
		st = &windowState{}
		s.buckets[bucket] = st
	}

	now := s.now()
	cutoff := now.Add(-lim.Window)

	// Trim admissions that have left the window.
	trim := 0
	for trim < len(st.admissions) && !st.admissions[trim].After(cutoff) {
		trim++
	}
	if trim > 0 {
		st.admissions = append(st.admissions[:0], st.admissions[trim:]...)
	}

	if len(st.admissions) < lim.Limit {
		st.admissions = append(st.admissions, now)
		return 0, true
	}

	// Oldest admission blocks; wake when it exits the window.
	wait := st.admissions[0].Add(lim.Window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InWindow reports the current admission count for a bucket (for stats).
func (s *SlidingWindow) InWindow(bucket string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.limits[bucket]
	if !ok {
		lim = s.def
	}
	st, ok := s.buckets[bucket]
	if !ok {
		return 0
	}

	cutoff := s.now().Add(-lim.Window)
	n := 0
	for _, ts := range st.admissions {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
