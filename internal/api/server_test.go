package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aster0/aster/internal/log"
	"github.com/aster0/aster/internal/session"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Logger:     log.NewNop(),
		Sessions:   &session.Store{}, // zero-value store: requests must be rejected before reaching it
		HMACSecret: testSecret(),
		IsDev:      true,
	})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return srv
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()

	t.Run("missing session store", func(t *testing.T) {
		t.Parallel()
		_, err := NewServer(ServerConfig{HMACSecret: testSecret()})
		if err == nil {
			t.Error("NewServer() accepted a nil session store")
		}
	})

	t.Run("short hmac secret", func(t *testing.T) {
		t.Parallel()
		_, err := NewServer(ServerConfig{
			Sessions:   &session.Store{},
			HMACSecret: []byte("too short"),
		})
		if err == nil {
			t.Error("NewServer() accepted a short secret")
		}
	})
}

func TestServer_HealthOutsideMiddleware(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want %d", rec.Code, http.StatusOK)
	}
	// No middleware ran: no uid cookie was provisioned.
	if len(rec.Result().Cookies()) != 0 {
		t.Error("/health provisioned cookies; it must bypass the middleware stack")
	}
}

func TestServer_ReadyWithoutPool(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("/ready status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestServer_CSRFEnforcedOnMutations(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("{}"))
	srv.Handler().ServeHTTP(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestServer_ChatWithoutFlowUnavailable(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	// Acquire a pre-session CSRF token first, as a client would.
	tokenRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(tokenRec, httptest.NewRequest(http.MethodGet, "/api/v1/csrf-token", nil))
	if tokenRec.Code != http.StatusOK {
		t.Fatalf("csrf-token status = %d", tokenRec.Code)
	}

	// The token endpoint runs behind userMiddleware, so it is user-bound;
	// replay it with the provisioned uid cookie.
	var uidCookie *http.Cookie
	for _, c := range tokenRec.Result().Cookies() {
		if c.Name == userCookieName {
			uidCookie = c
		}
	}
	if uidCookie == nil {
		t.Fatal("uid cookie not provisioned by csrf-token request")
	}

	var tokenBody struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(tokenRec.Body.Bytes(), &tokenBody); err != nil {
		t.Fatalf("decode token body: %v", err)
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"query":"hi","sessionId":"00000000-0000-0000-0000-000000000001"}`))
	r.AddCookie(uidCookie)
	r.Header.Set("X-CSRF-Token", tokenBody.CSRFToken)
	srv.Handler().ServeHTTP(rec, r)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d: %s", rec.Code, http.StatusServiceUnavailable, rec.Body.String())
	}
}

func TestServer_SecurityHeaders(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/csrf-token", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Request-ID"); got == "" {
		t.Error("X-Request-ID not set")
	}
}
