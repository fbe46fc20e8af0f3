package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aster0/aster/internal/log"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func testSessionManager() *sessionManager {
	return &sessionManager{
		hmacSecret: testSecret(),
		isDev:      true,
		logger:     log.NewNop(),
	}
}

func TestSignAndVerifyUID(t *testing.T) {
	t.Parallel()

	uid := uuid.New().String()
	signed := signUID(uid, testSecret())

	got, ok := verifySignedUID(signed, testSecret())
	if !ok {
		t.Fatal("verifySignedUID() rejected a valid signature")
	}
	if got != uid {
		t.Errorf("uid = %q, want %q", got, uid)
	}
}

func TestVerifySignedUID_Rejects(t *testing.T) {
	t.Parallel()

	uid := uuid.New().String()
	signed := signUID(uid, testSecret())

	tests := []struct {
		name  string
		value string
	}{
		{"tampered uid", "x" + signed},
		{"tampered signature", signed[:len(signed)-2] + "xx"},
		{"no separator", strings.ReplaceAll(signed, ".", "_")},
		{"empty", ""},
		{"signed with a different secret", signUID(uid, []byte("another-secret-another-secret-xx"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, ok := verifySignedUID(tt.value, testSecret()); ok {
				t.Errorf("verifySignedUID(%q) accepted", tt.value)
			}
		})
	}
}

func TestCSRFTokenRoundTrip(t *testing.T) {
	t.Parallel()

	sm := testSessionManager()
	userID := uuid.New().String()

	token := sm.NewCSRFToken(userID)
	if err := sm.CheckCSRF(userID, token); err != nil {
		t.Errorf("CheckCSRF() error: %v", err)
	}

	if err := sm.CheckCSRF("other-user", token); !errors.Is(err, ErrCSRFInvalid) {
		t.Errorf("CheckCSRF(other user) = %v, want ErrCSRFInvalid", err)
	}
}

func TestCheckCSRF_Errors(t *testing.T) {
	t.Parallel()

	sm := testSessionManager()
	userID := uuid.New().String()

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrCSRFRequired},
		{"no separator", "justonepart", ErrCSRFMalformed},
		{"bad timestamp", "notanumber:sig", ErrCSRFMalformed},
		{"bad signature encoding", "123:!!!", ErrCSRFMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := sm.CheckCSRF(userID, tt.token); !errors.Is(err, tt.want) {
				t.Errorf("CheckCSRF(%q) = %v, want %v", tt.token, err, tt.want)
			}
		})
	}
}

func TestCheckCSRF_Expired(t *testing.T) {
	t.Parallel()

	sm := testSessionManager()
	userID := uuid.New().String()

	// A correctly signed token with an expired timestamp.
	old := time.Now().Add(-2 * csrfTokenTTL).Unix()
	token := signCSRFAt(sm.hmacSecret, userID, old)

	if err := sm.CheckCSRF(userID, token); !errors.Is(err, ErrCSRFExpired) {
		t.Errorf("CheckCSRF(expired) = %v, want ErrCSRFExpired", err)
	}
}

// signCSRFAt builds a token for an arbitrary timestamp. Mirrors the
// production format: "timestamp:base64url(HMAC(userID:timestamp))".
func signCSRFAt(secret []byte, userID string, timestamp int64) string {
	h := hmac.New(sha256.New, secret)
	fmt.Fprintf(h, "%s:%d", userID, timestamp)
	return fmt.Sprintf("%d:%s", timestamp, base64.URLEncoding.EncodeToString(h.Sum(nil)))
}

func TestPreSessionCSRFRoundTrip(t *testing.T) {
	t.Parallel()

	sm := testSessionManager()
	token := sm.NewPreSessionCSRFToken()

	if !isPreSessionToken(token) {
		t.Fatalf("token %q missing pre-session prefix", token)
	}
	if err := sm.CheckPreSessionCSRF(token); err != nil {
		t.Errorf("CheckPreSessionCSRF() error: %v", err)
	}

	if err := sm.CheckPreSessionCSRF("pre:x:y"); !errors.Is(err, ErrCSRFMalformed) {
		t.Errorf("CheckPreSessionCSRF(malformed) = %v, want ErrCSRFMalformed", err)
	}
	if err := sm.CheckPreSessionCSRF("no-prefix"); !errors.Is(err, ErrCSRFMalformed) {
		t.Errorf("CheckPreSessionCSRF(no prefix) = %v, want ErrCSRFMalformed", err)
	}
}

func TestSessionID_FromCookie(t *testing.T) {
	t.Parallel()

	sm := testSessionManager()
	want := uuid.New()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: want.String()})

	got, err := sm.SessionID(r)
	if err != nil {
		t.Fatalf("SessionID() error: %v", err)
	}
	if got != want {
		t.Errorf("SessionID() = %v, want %v", got, want)
	}
}

func TestSessionID_Errors(t *testing.T) {
	t.Parallel()

	sm := testSessionManager()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := sm.SessionID(r); !errors.Is(err, ErrSessionCookieNotFound) {
		t.Errorf("SessionID(no cookie) = %v, want ErrSessionCookieNotFound", err)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "not-a-uuid"})
	if _, err := sm.SessionID(r); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("SessionID(bad uuid) = %v, want ErrSessionInvalid", err)
	}
}

func TestUserID_FromSignedCookie(t *testing.T) {
	t.Parallel()

	sm := testSessionManager()
	uid := uuid.New().String()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: userCookieName, Value: signUID(uid, sm.hmacSecret)})

	if got := sm.UserID(r); got != uid {
		t.Errorf("UserID() = %q, want %q", got, uid)
	}
}

func TestUserID_RejectsUnsignedAndNonUUID(t *testing.T) {
	t.Parallel()

	sm := testSessionManager()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: userCookieName, Value: "plain-value"})
	if got := sm.UserID(r); got != "" {
		t.Errorf("UserID(unsigned) = %q, want empty", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: userCookieName, Value: signUID("not-a-uuid", sm.hmacSecret)})
	if got := sm.UserID(r); got != "" {
		t.Errorf("UserID(non-uuid) = %q, want empty", got)
	}
}

func TestRequireOwnership_InputValidation(t *testing.T) {
	t.Parallel()

	sm := testSessionManager() // nil store: must fail before any store call

	t.Run("invalid id", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope", nil)
		r.SetPathValue("id", "nope")

		if _, ok := sm.requireOwnership(rec, r); ok {
			t.Error("requireOwnership() accepted an invalid ID")
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("missing user identity", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.SetPathValue("id", uuid.New().String())

		if _, ok := sm.requireOwnership(rec, r); ok {
			t.Error("requireOwnership() accepted a request without identity")
		}
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})
}

