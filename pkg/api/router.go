package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qopy-app/qopy/internal/logger"
	"github.com/qopy-app/qopy/pkg/api/handlers"
	"github.com/qopy-app/qopy/pkg/clip"
	"github.com/qopy-app/qopy/pkg/guard"
	"github.com/qopy-app/qopy/pkg/store"
	"github.com/qopy-app/qopy/pkg/sweeper"
	"github.com/qopy-app/qopy/pkg/upload"
)

// Services bundles the components the HTTP surface exposes.
type Services struct {
	Manager *upload.Manager
	Clips   *clip.Service
	Guard   *guard.Guard
	Store   *store.GORMStore
	Sweeper *sweeper.Sweeper

	// StoragePath is probed by the readiness check.
	StoragePath string
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
func NewRouter(config Config, svc Services) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	if config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(config.HSTS))
	if len(config.CORSOrigins) > 0 {
		r.Use(corsMiddleware(config.CORSOrigins))
	}

	uploadHandler := handlers.NewUploadHandler(svc.Manager, svc.Guard, config.BaseURL)
	clipHandler := handlers.NewClipHandler(svc.Clips, svc.Guard, config.BaseURL, config.MaxInlineText)
	fileHandler := handlers.NewFileHandler(svc.Clips, svc.Guard)
	healthHandler := handlers.NewHealthHandler(svc.Store, svc.StoragePath)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if config.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Non-streaming endpoints get a request timeout; chunk uploads and
		// downloads rely on the server's read/write timeouts instead.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/upload/init", uploadHandler.Init)
			r.Post("/upload/{uploadId}/complete", uploadHandler.Complete)
			r.Delete("/upload/{uploadId}", uploadHandler.Abort)

			r.Post("/clip", clipHandler.CreateText)
			r.Get("/clip/{clipId}/info", clipHandler.Info)
			r.Get("/file/{clipId}/info", fileHandler.Info)
			r.Get("/file/{clipId}", fileHandler.LegacyDownload)
		})

		r.Post("/upload/{uploadId}/chunk/{n}", uploadHandler.Chunk)
		r.Post("/clip/{clipId}", clipHandler.Fetch)
		r.Post("/file/{clipId}", fileHandler.Download)

		if config.AdminToken != "" {
			adminHandler := handlers.NewAdminHandler(svc.Store, svc.Clips, svc.Sweeper)
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Use(adminAuth(config.AdminToken, svc.Guard))

				r.Get("/clips", adminHandler.ListClips)
				r.Delete("/clips/{clipId}", adminHandler.DeleteClip)
				r.Post("/sweep", adminHandler.Sweep)
				r.Get("/stats", adminHandler.Stats)
			})
		}
	})

	return r
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("request completed",
			logger.KeyRequestID, requestID,
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyClientIP, clientIP(r),
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDuration, time.Since(start).String(),
		)
	})
}

// securityHeaders sets the browser hardening headers on every response.
func securityHeaders(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware answers preflight requests and stamps allowed origins.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		allowedSet[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowedSet[origin]; ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Vary", "Origin")
					h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					h.Set("Access-Control-Max-Age", "600")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminAuth requires a constant-time bearer token match and applies the admin
// rate-limit keyspace.
func adminAuth(token string, g *guard.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !g.Allow(ip, guard.BucketAdmin) {
				handlers.TooManyRequests(w, g.RetryAfter(ip, guard.BucketAdmin), "admin rate limit exceeded")
				return
			}

			auth := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				handlers.Unauthorized(w, "missing or invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP mirrors the handlers' client IP resolution for middleware use.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}
