package api

import "time"

// Config configures the qopy HTTP server. It is assembled from the loaded
// application configuration by the start command.
type Config struct {
	// Port is the HTTP port the server listens on. Default 8080.
	Port int

	// ReadTimeout is the maximum duration for reading an entire request.
	// Default 30s; chunk uploads stream within it.
	ReadTimeout time.Duration

	// WriteTimeout caps response writes. Default 5m to cover large clip
	// downloads on slow links.
	WriteTimeout time.Duration

	// IdleTimeout is the keep-alive idle limit. Default 2m.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain on shutdown. Default 10s.
	ShutdownTimeout time.Duration

	// BaseURL is the external base used when building clip URLs.
	BaseURL string

	// CORSOrigins is the cross-origin allowlist. Empty means same-origin only.
	CORSOrigins []string

	// TrustProxy honors X-Forwarded-For / X-Real-IP when resolving client IPs.
	TrustProxy bool

	// AdminToken protects /api/admin. Empty disables the admin surface.
	AdminToken string

	// MetricsEnabled serves /metrics on the main router.
	MetricsEnabled bool

	// MaxInlineText caps the payload of POST /api/clip.
	MaxInlineText int64

	// HSTS emits Strict-Transport-Security headers. Enable only behind TLS.
	HSTS bool
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.MaxInlineText == 0 {
		c.MaxInlineText = 1 << 20
	}
}
