package guard

import (
	"testing"
	"time"
)

func newTestGuard(t *testing.T) (*Guard, *time.Time) {
	t.Helper()
	g := New(Config{})
	now := time.Now()
	g.now = func() time.Time { return now }
	return g, &now
}

func TestBruteForceBlocker(t *testing.T) {
	const ip = "203.0.113.7"

	t.Run("blocks after threshold misses", func(t *testing.T) {
		g, _ := newTestGuard(t)
		for i := 0; i < 20; i++ {
			if !g.CheckLookup(ip) {
				t.Fatalf("blocked after only %d misses", i)
			}
			g.RecordMiss(ip, "AB12")
		}
		if g.CheckLookup(ip) {
			t.Error("lookup allowed after reaching the threshold")
		}
	})

	t.Run("block expires", func(t *testing.T) {
		g, now := newTestGuard(t)
		for i := 0; i < 20; i++ {
			g.RecordMiss(ip, "AB12")
		}
		if g.CheckLookup(ip) {
			t.Fatal("should be blocked")
		}
		*now = now.Add(5*time.Minute + time.Second)
		if !g.CheckLookup(ip) {
			t.Error("block should have expired")
		}
	})

	t.Run("hit resets the counter", func(t *testing.T) {
		g, _ := newTestGuard(t)
		for i := 0; i < 19; i++ {
			g.RecordMiss(ip, "AB12")
		}
		g.RecordHit(ip)
		for i := 0; i < 19; i++ {
			g.RecordMiss(ip, "AB12")
		}
		if !g.CheckLookup(ip) {
			t.Error("counter should have been reset by the hit")
		}
	})

	t.Run("long IDs never feed the blocker", func(t *testing.T) {
		g, _ := newTestGuard(t)
		for i := 0; i < 100; i++ {
			g.RecordMiss(ip, "AB12CD34EF")
		}
		if !g.CheckLookup(ip) {
			t.Error("long-ID misses must not block")
		}
	})

	t.Run("IPs are independent", func(t *testing.T) {
		g, _ := newTestGuard(t)
		for i := 0; i < 20; i++ {
			g.RecordMiss(ip, "AB12")
		}
		if !g.CheckLookup("198.51.100.9") {
			t.Error("unrelated IP blocked")
		}
	})
}

func TestCleanup(t *testing.T) {
	g, now := newTestGuard(t)
	g.RecordMiss("203.0.113.7", "AB12")
	g.Allow("203.0.113.7", BucketDownload)

	*now = now.Add(30 * time.Minute)
	g.cleanup()

	g.mu.Lock()
	trackers, limiters := len(g.trackers), len(g.limiters)
	g.mu.Unlock()
	if trackers != 0 {
		t.Errorf("trackers after cleanup = %d, want 0", trackers)
	}
	if limiters != 0 {
		t.Errorf("limiters after cleanup = %d, want 0", limiters)
	}
}

func TestRateLimits(t *testing.T) {
	const ip = "203.0.113.7"

	t.Run("burst then limited", func(t *testing.T) {
		g := New(Config{CreateRPS: 1, CreateBurst: 3})
		for i := 0; i < 3; i++ {
			if !g.Allow(ip, BucketCreate) {
				t.Fatalf("request %d should be within burst", i)
			}
		}
		if g.Allow(ip, BucketCreate) {
			t.Error("request beyond burst should be limited")
		}
		if g.RetryAfter(ip, BucketCreate) <= 0 {
			t.Error("RetryAfter should be positive when limited")
		}
	})

	t.Run("buckets are independent", func(t *testing.T) {
		g := New(Config{CreateRPS: 1, CreateBurst: 1, DownloadRPS: 1, DownloadBurst: 1})
		if !g.Allow(ip, BucketCreate) {
			t.Fatal("create should pass")
		}
		if !g.Allow(ip, BucketDownload) {
			t.Error("download bucket should be unaffected by create")
		}
	})
}

func TestAccessCodes(t *testing.T) {
	t.Run("verify round trip", func(t *testing.T) {
		hash := HashAccessCode("open sesame")
		if len(hash) != 64 {
			t.Errorf("hash length = %d, want 64 hex chars", len(hash))
		}
		if !VerifyAccessCode("open sesame", hash) {
			t.Error("correct code rejected")
		}
		if VerifyAccessCode("wrong", hash) {
			t.Error("wrong code accepted")
		}
	})

	t.Run("empty code never matches", func(t *testing.T) {
		if VerifyAccessCode("", HashAccessCode("code")) {
			t.Error("empty code accepted")
		}
	})
}
