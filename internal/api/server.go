package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aster0/aster/internal/artifact"
	"github.com/aster0/aster/internal/dispatch"
	"github.com/aster0/aster/internal/memory"
	"github.com/aster0/aster/internal/session"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    *slog.Logger
	Flow      *dispatch.Flow  // Optional: nil disables chat endpoints
	Sessions  *session.Store  // Required
	Artifacts *artifact.Store // Optional: nil disables artifact endpoints
	Memories  *memory.Store   // Optional: nil disables memory endpoints
	Pool      *pgxpool.Pool   // Optional: nil disables pool stats in /ready
	TitleFn   TitleFunc       // Optional: nil falls back to query truncation

	HMACSecret  []byte   // Required: 32+ bytes, signs uid cookies and CSRF tokens
	CORSOrigins []string // Allowed origins for CORS
	IsDev       bool     // Allows HTTP cookies (no Secure flag) and disables HSTS
	TrustProxy  bool     // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int      // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if len(cfg.HMACSecret) < 32 {
		return nil, errors.New("hmac secret must be at least 32 bytes")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sm := &sessionManager{
		store:      cfg.Sessions,
		hmacSecret: cfg.HMACSecret,
		isDev:      cfg.IsDev,
		logger:     logger,
	}

	mux := http.NewServeMux()

	// CSRF token provisioning
	mux.HandleFunc("GET /api/v1/csrf-token", sm.csrfToken)

	// Session CRUD
	mux.HandleFunc("GET /api/v1/sessions", sm.listSessions)
	mux.HandleFunc("POST /api/v1/sessions", sm.createSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sm.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sm.getSessionMessages)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sm.deleteSession)

	// Dispatch
	ch := &chatHandler{flow: cfg.Flow, sm: sm, titleFn: cfg.TitleFn, logger: logger}
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("GET /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	// Artifacts (optional)
	if cfg.Artifacts != nil {
		ah := &artifactHandler{store: cfg.Artifacts, sessions: cfg.Sessions, logger: logger}
		mux.HandleFunc("GET /api/v1/artifacts/{id}", ah.getArtifact)
		mux.HandleFunc("GET /api/v1/sessions/{id}/artifacts", ah.listSessionArtifacts(sm))
	}

	// Memory management (optional)
	if cfg.Memories != nil {
		mh := &memoryHandler{store: cfg.Memories, logger: logger}
		mux.HandleFunc("GET /api/v1/memories", mh.listMemories)
		mux.HandleFunc("DELETE /api/v1/memories/{id}", mh.deleteMemory)
	}

	// Rate limiter: per-IP token bucket, 1 token/sec refill.
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → User → Session → CSRF → Routes
	// RequestID precedes Logging so request_id appears in log attributes.
	// CORS precedes RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = csrfMiddleware(sm, logger)(handler)
	handler = sessionMiddleware(sm)(handler)
	handler = userMiddleware(sm)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes stay outside the middleware stack so orchestrators can
	// poll them without cookies, CSRF, or rate limiting.
	topMux := http.NewServeMux()
	topMux.Handle("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
