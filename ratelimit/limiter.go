// Package ratelimit bounds the number of events per key inside a trailing
// time window.
//
// State is process-local: every instance counts on its own, so a deployment
// with several instances behind a balancer multiplies the effective limit.
// Moving the records into the shared store is the fix when that matters.
package ratelimit

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mqy/minichat/clock"
)

var rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "minichat",
	Name:      "ratelimit_rejected_total",
	Help:      "Number of events rejected by a rate limiter.",
}, []string{"limiter"})

// Limiter is a sliding-window log: it keeps the timestamps of the accepted
// events of every key and allows a new one while fewer than limit of them
// fall within the last window.
type Limiter struct {
	mu sync.Mutex

	name   string
	limit  int
	window time.Duration
	clock  clock.Clock

	records     map[string][]time.Time
	lastCleanup time.Time
}

func New(name string, limit int, window time.Duration, c clock.Clock) *Limiter {
	return &Limiter{
		name:        name,
		limit:       limit,
		window:      window,
		clock:       c,
		records:     make(map[string][]time.Time),
		lastCleanup: c.Now(),
	}
}

// Allow records an event for key and reports whether it is within the
// limit. A rejected event is not recorded. When rejected, retryAfter is
// the time until the oldest event in the window expires.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.window {
		l.cleanup(cutoff)
		l.lastCleanup = now
	}

	times := prune(l.records[key], cutoff)
	if len(times) >= l.limit {
		l.records[key] = times
		retryAfter = times[0].Sub(cutoff)
		rejectedTotal.WithLabelValues(l.name).Inc()
		glog.V(5).Infof("ratelimit %s: reject key %s, retry after %s", l.name, key, retryAfter)
		return false, retryAfter
	}

	l.records[key] = append(times, now)
	return true, 0
}

// cleanup drops keys whose events are all older than cutoff.
// Must hold l.mu.
func (l *Limiter) cleanup(cutoff time.Time) {
	for key, times := range l.records {
		if times = prune(times, cutoff); len(times) == 0 {
			delete(l.records, key)
		} else {
			l.records[key] = times
		}
	}
}

// prune returns the suffix of times newer than cutoff. times is sorted.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
