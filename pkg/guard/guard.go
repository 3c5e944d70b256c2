// Package guard implements the per-IP access defenses: a brute-force blocker
// for short clip ID lookups, token-bucket rate limits for downloads, clip
// creation, and admin calls, and constant-time access-code verification.
//
// All state is in-process; a multi-node deployment needs a shared backing
// store, which this package deliberately does not presuppose.
package guard

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/qopy-app/qopy/pkg/metrics"
)

// Bucket selects a rate-limit keyspace. Admin calls are limited separately
// from public traffic.
type Bucket int

const (
	BucketDownload Bucket = iota
	BucketCreate
	BucketAdmin
)

// shortIDMaxLen: lookups of IDs at or below this length feed the blocker.
const shortIDMaxLen = 6

// Config tunes the guard.
type Config struct {
	// BlockThreshold is the number of consecutive short-ID misses from one
	// IP before lookups are blocked. Default 20.
	BlockThreshold int `mapstructure:"block_threshold" yaml:"block_threshold"`

	// BlockDuration is how long a blocked IP stays blocked. Default 5m.
	BlockDuration time.Duration `mapstructure:"block_duration" yaml:"block_duration"`

	// CleanupInterval is how often stale tracker entries are swept. Default 1m.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`

	// Token bucket parameters per keyspace.
	DownloadRPS   float64 `mapstructure:"download_rps" yaml:"download_rps"`
	DownloadBurst int     `mapstructure:"download_burst" yaml:"download_burst"`
	CreateRPS     float64 `mapstructure:"create_rps" yaml:"create_rps"`
	CreateBurst   int     `mapstructure:"create_burst" yaml:"create_burst"`
	AdminRPS      float64 `mapstructure:"admin_rps" yaml:"admin_rps"`
	AdminBurst    int     `mapstructure:"admin_burst" yaml:"admin_burst"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.BlockThreshold == 0 {
		c.BlockThreshold = 20
	}
	if c.BlockDuration == 0 {
		c.BlockDuration = 5 * time.Minute
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Minute
	}
	if c.DownloadRPS == 0 {
		c.DownloadRPS = 10
	}
	if c.DownloadBurst == 0 {
		c.DownloadBurst = 20
	}
	if c.CreateRPS == 0 {
		c.CreateRPS = 2
	}
	if c.CreateBurst == 0 {
		c.CreateBurst = 10
	}
	if c.AdminRPS == 0 {
		c.AdminRPS = 5
	}
	if c.AdminBurst == 0 {
		c.AdminBurst = 10
	}
}

// tracker is the per-IP brute-force state.
type tracker struct {
	failures     int
	blockedUntil time.Time
	lastSeen     time.Time
}

// Guard is the process-wide access guard.
type Guard struct {
	config Config

	mu       sync.Mutex
	trackers map[string]*tracker
	limiters map[limiterKey]*limiterEntry

	// now is replaceable for tests.
	now func() time.Time
}

type limiterKey struct {
	ip     string
	bucket Bucket
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Guard with the given configuration.
func New(config Config) *Guard {
	config.ApplyDefaults()
	return &Guard{
		config:   config,
		trackers: make(map[string]*tracker),
		limiters: make(map[limiterKey]*limiterEntry),
		now:      time.Now,
	}
}

// Run sweeps stale tracker and limiter entries until the context is done.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.cleanup()
		}
	}
}

func (g *Guard) cleanup() {
	now := g.now()
	stale := 2 * g.config.BlockDuration

	g.mu.Lock()
	defer g.mu.Unlock()
	for ip, t := range g.trackers {
		if now.After(t.blockedUntil) && now.Sub(t.lastSeen) > stale {
			delete(g.trackers, ip)
		}
	}
	for key, e := range g.limiters {
		if now.Sub(e.lastSeen) > stale {
			delete(g.limiters, key)
		}
	}
}

// CheckLookup reports whether a clip lookup from ip may proceed. While an IP
// is blocked the caller must return 429 without touching the metadata store.
func (g *Guard) CheckLookup(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.trackers[ip]
	if !ok {
		return true
	}
	if g.now().Before(t.blockedUntil) {
		metrics.GuardBlocked.Inc()
		return false
	}
	return true
}

// RecordMiss records a 404 on a short-ID lookup. Hitting the threshold
// blocks the IP for the configured duration. Lookups of longer IDs do not
// feed the blocker.
func (g *Guard) RecordMiss(ip, clipID string) {
	if len(clipID) > shortIDMaxLen {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	t, ok := g.trackers[ip]
	if !ok {
		t = &tracker{}
		g.trackers[ip] = t
	}
	t.failures++
	t.lastSeen = now
	if t.failures >= g.config.BlockThreshold {
		t.blockedUntil = now.Add(g.config.BlockDuration)
		t.failures = 0
	}
}

// RecordHit resets an IP's failure counter after a successful lookup.
func (g *Guard) RecordHit(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.trackers[ip]; ok {
		t.failures = 0
		t.blockedUntil = time.Time{}
		t.lastSeen = g.now()
	}
}

// Allow consumes one token from the (ip, bucket) limiter. When it returns
// false the caller should respond 429; RetryAfter gives the hint.
func (g *Guard) Allow(ip string, bucket Bucket) bool {
	e := g.limiterFor(ip, bucket)
	if e.limiter.Allow() {
		return true
	}
	metrics.GuardRateLimited.Inc()
	return false
}

// RetryAfter estimates how long until a token is available for (ip, bucket).
func (g *Guard) RetryAfter(ip string, bucket Bucket) time.Duration {
	e := g.limiterFor(ip, bucket)
	r := e.limiter.Reserve()
	if !r.OK() {
		return g.config.BlockDuration
	}
	delay := r.Delay()
	r.Cancel()
	return delay
}

func (g *Guard) limiterFor(ip string, bucket Bucket) *limiterEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := limiterKey{ip: ip, bucket: bucket}
	e, ok := g.limiters[key]
	if !ok {
		var rps float64
		var burst int
		switch bucket {
		case BucketDownload:
			rps, burst = g.config.DownloadRPS, g.config.DownloadBurst
		case BucketCreate:
			rps, burst = g.config.CreateRPS, g.config.CreateBurst
		case BucketAdmin:
			rps, burst = g.config.AdminRPS, g.config.AdminBurst
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		g.limiters[key] = e
	}
	e.lastSeen = g.now()
	return e
}

// HashAccessCode returns the SHA-256 hex of an access code. The code itself
// is never logged or stored.
func HashAccessCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// VerifyAccessCode compares the SHA-256 of code against storedHash in
// constant time.
func VerifyAccessCode(code, storedHash string) bool {
	computed := HashAccessCode(code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
