package gateway

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketBurstThenRefusal(t *testing.T) {
	tb := newTokenBucket(60, 3)
	for i := 0; i < 3; i++ {
		if !tb.allow() {
			t.Fatalf("request %d refused within burst", i)
		}
	}
	if tb.allow() {
		t.Fatal("request allowed past burst without refill")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := newTokenBucket(6000, 1) // 100 tokens/sec
	if !tb.allow() {
		t.Fatal("first request refused")
	}
	if tb.allow() {
		t.Fatal("second immediate request allowed")
	}
	time.Sleep(50 * time.Millisecond)
	if !tb.allow() {
		t.Fatal("request refused after refill window")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := newRateLimiter(60, 1)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("first key refused")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("first key allowed past burst")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("second key refused despite separate bucket")
	}
}

func TestRateLimiterEviction(t *testing.T) {
	rl := newRateLimiter(60, 1)
	rl.Allow("a")
	rl.Allow("b")
	rl.EvictStale(0)
	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("buckets = %d, want all evicted", n)
	}
}

func TestRateLimiterEvictionLoopBoundsMap(t *testing.T) {
	rl := newRateLimiter(60, 1)
	rl.Allow("198.51.100.7")

	rl.mu.Lock()
	rl.buckets["198.51.100.7"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl.StartEviction(ctx, 5*time.Millisecond, 30*time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rl.mu.Lock()
		n := len(rl.buckets)
		rl.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("buckets = %d after eviction loop, want 0", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
