package ratelimiter

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(1, 3, time.Minute)
	now := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		if !l.Allow("typing", now) {
			t.Fatalf("request %d inside burst must pass", i)
		}
	}
	if l.Allow("typing", now) {
		t.Fatal("burst exhausted, request must be throttled")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Unix(1000, 0)
	if !l.Allow("typing", now) || !l.Allow("reaction", now) {
		t.Fatal("distinct keys must have distinct buckets")
	}
	if l.Allow("typing", now) {
		t.Fatal("second hit on a drained key must be throttled")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	l := New(2, 1, time.Minute)
	now := time.Unix(1000, 0)
	l.Allow("chat", now)
	if l.Allow("chat", now) {
		t.Fatal("bucket must be empty")
	}
	if !l.Allow("chat", now.Add(time.Second)) {
		t.Fatal("tokens must refill at the configured rate")
	}
}

func TestIdleBucketsSweptOut(t *testing.T) {
	l := New(1, 1, time.Second)
	now := time.Unix(1000, 0)
	l.Allow("stale", now)
	// Past the sweep interval with the entry idle beyond its TTL.
	l.Allow("fresh", now.Add(2*time.Minute))
	if l.Keys() != 1 {
		t.Fatalf("idle bucket must be evicted, have %d", l.Keys())
	}
}

func TestNilAndBlankAllowEverything(t *testing.T) {
	var l *MapLimiter
	if !l.Allow("anything", time.Now()) {
		t.Fatal("nil limiter must allow")
	}
	if !New(1, 1, 0).Allow("  ", time.Now()) {
		t.Fatal("blank key must bypass limiting")
	}
}
