package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// =============================================================================
// Generators for property-based testing
// =============================================================================

func sessionKeyGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`[A-Z0-9, ]{1,24}`)
}

// =============================================================================
// Property: Actions within burst run immediately
// =============================================================================

func testRateLimiter_ActionsWithinBurst(t *rapid.T) {
	burst := rapid.IntRange(1, 100).Draw(t, "burst")
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: burst, CleanupInterval: time.Hour})
	defer rl.Stop()

	key := sessionKeyGenerator().Draw(t, "key")
	for i := 0; i < burst; i++ {
		if !rl.Allow(key) {
			t.Fatalf("action %d of burst %d should have been allowed", i+1, burst)
		}
	}
	if rl.Allow(key) {
		t.Fatalf("action beyond burst %d should have been paced", burst)
	}
}

func TestRateLimiter_ActionsWithinBurst(t *testing.T) {
	rapid.Check(t, testRateLimiter_ActionsWithinBurst)
}

func FuzzRateLimiter_ActionsWithinBurst(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_ActionsWithinBurst))
}

// =============================================================================
// Property: Sessions are paced independently
// =============================================================================

func testRateLimiter_SessionIndependence(t *rapid.T) {
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: 3, CleanupInterval: time.Hour})
	defer rl.Stop()

	key1 := sessionKeyGenerator().Draw(t, "key1")
	key2 := sessionKeyGenerator().Filter(func(s string) bool { return s != key1 }).Draw(t, "key2")

	for i := 0; i < 3; i++ {
		rl.Allow(key1)
	}
	if rl.Allow(key1) {
		t.Fatal("session 1 should be paced after exhausting burst")
	}
	if !rl.Allow(key2) {
		t.Fatal("session 2 must not be affected by session 1")
	}
}

func TestRateLimiter_SessionIndependence(t *testing.T) {
	rapid.Check(t, testRateLimiter_SessionIndependence)
}

func TestRateLimiter_DisabledNeverBlocks(t *testing.T) {
	rl := NewRateLimiter(DefaultConfig)
	defer rl.Stop()

	for i := 0; i < 1000; i++ {
		if err := rl.Wait(context.Background(), "4"); err != nil {
			t.Fatalf("Wait on disabled pacer: %v", err)
		}
	}
	if rl.Len() != 0 {
		t.Fatalf("disabled pacer created %d limiters", rl.Len())
	}

	var nilLimiter *RateLimiter
	if !nilLimiter.Allow("x") {
		t.Fatal("nil pacer must allow")
	}
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	if err := rl.Wait(context.Background(), "8"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx, "8"); err == nil {
		t.Fatal("second wait should fail: next token is far beyond the deadline")
	}
}

func TestRateLimiter_CleanupAndForget(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 10, Burst: 1, CleanupInterval: 10 * time.Millisecond})
	defer rl.Stop()

	rl.GetLimiter("a")
	rl.GetLimiter("b")
	rl.Forget("a")
	if rl.Len() != 1 {
		t.Fatalf("Len after Forget = %d, want 1", rl.Len())
	}

	time.Sleep(30 * time.Millisecond)
	rl.Cleanup()
	if rl.Len() != 0 {
		t.Fatalf("Len after Cleanup = %d, want 0", rl.Len())
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 1000, Burst: 1000, CleanupInterval: time.Hour})
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = rl.Allow("shared")
			}
		}()
	}
	wg.Wait()
	if rl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", rl.Len())
	}
	rl.Stop()
}
