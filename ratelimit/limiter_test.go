package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mqy/minichat/clock"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAllowsUpToLimit(t *testing.T) {
	l := New("login", 5, 15*time.Minute, clock.Fake(t0))

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow("10.0.0.1")
		assert.True(t, ok, "attempt %d should be allowed", i+1)
	}

	ok, retryAfter := l.Allow("10.0.0.1")
	assert.False(t, ok, "6th attempt should be rejected")
	assert.Equal(t, 15*time.Minute, retryAfter)
}

func TestKeysAreIndependent(t *testing.T) {
	l := New("message", 10, time.Minute, clock.Fake(t0))
	for i := 0; i < 10; i++ {
		l.Allow("alice")
	}
	ok, _ := l.Allow("alice")
	assert.False(t, ok)

	ok, _ = l.Allow("bob")
	assert.True(t, ok)
}

func TestWindowSlides(t *testing.T) {
	c := clock.Fake(t0)
	l := New("message", 10, time.Minute, c)

	// 5 events at t0, 5 at t0+30s.
	for i := 0; i < 5; i++ {
		l.Allow("alice")
	}
	c.Advance(30 * time.Second)
	for i := 0; i < 5; i++ {
		l.Allow("alice")
	}
	ok, retryAfter := l.Allow("alice")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retryAfter)

	c.Advance(30*time.Second - time.Millisecond)
	ok, _ = l.Allow("alice")
	assert.False(t, ok, "t0 batch is still inside the window")

	// the t0 batch expires once a full window has passed.
	c.Advance(time.Millisecond)
	for i := 0; i < 5; i++ {
		ok, _ = l.Allow("alice")
		assert.True(t, ok)
	}
	ok, _ = l.Allow("alice")
	assert.False(t, ok)
}

func TestRejectedAreNotRecorded(t *testing.T) {
	c := clock.Fake(t0)
	l := New("login", 1, time.Minute, c)

	ok, _ := l.Allow("k")
	assert.True(t, ok)
	for i := 0; i < 10; i++ {
		c.Advance(time.Second)
		ok, _ = l.Allow("k")
		assert.False(t, ok)
	}

	// only the first event counts, so the key frees up one window after it.
	c.Advance(51 * time.Second)
	ok, _ = l.Allow("k")
	assert.True(t, ok)
}

func TestCleanup(t *testing.T) {
	c := clock.Fake(t0)
	l := New("login", 5, time.Minute, c)

	l.Allow("expired")
	c.Advance(30 * time.Second)
	l.Allow("fresh")
	c.Advance(45 * time.Second)

	// triggers the sweep: "expired" is older than a window, "fresh" is not.
	l.Allow("other")

	l.mu.Lock()
	_, hasExpired := l.records["expired"]
	_, hasFresh := l.records["fresh"]
	l.mu.Unlock()
	assert.False(t, hasExpired, "fully expired entry should be removed")
	assert.True(t, hasFresh, "entry with valid timestamps should remain")
}
