package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aster0/aster/internal/session"
)

// Sentinel errors for session/CSRF operations.
var (
	// ErrSessionCookieNotFound is returned when the session cookie is absent.
	ErrSessionCookieNotFound = errors.New("session cookie not found")
	// ErrSessionInvalid is returned when the session cookie is not a valid UUID.
	ErrSessionInvalid = errors.New("session ID invalid")
	// ErrCSRFRequired is returned when a state-changing request has no CSRF token.
	ErrCSRFRequired = errors.New("csrf token required")
	// ErrCSRFInvalid is returned when the CSRF token signature does not match.
	ErrCSRFInvalid = errors.New("csrf token invalid")
	// ErrCSRFExpired is returned when the CSRF token timestamp exceeds csrfTokenTTL.
	ErrCSRFExpired = errors.New("csrf token expired")
	// ErrCSRFMalformed is returned when the CSRF token format cannot be parsed.
	ErrCSRFMalformed = errors.New("csrf token malformed")
)

// Pre-session CSRF token prefix to distinguish from user-bound tokens.
const preSessionPrefix = "pre:"

// Cookie and CSRF configuration.
const (
	sessionCookieName    = "sid"
	userCookieName       = "uid"
	csrfTokenTTL         = 1 * time.Hour
	cookieMaxAge         = 30 * 24 * 3600 // 30 days in seconds
	csrfClockSkew        = 5 * time.Minute
	messagesDefaultLimit = 100
	sessionsDefaultLimit = 50
	createBodyMaxBytes   = 4 * 1024
)

// sessionManager handles session cookies, user identity, and CSRF tokens.
type sessionManager struct {
	store      *session.Store
	hmacSecret []byte
	isDev      bool
	logger     *slog.Logger
}

// SessionID extracts the active session ID from the sid cookie.
func (*sessionManager) SessionID(r *http.Request) (uuid.UUID, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return uuid.Nil, ErrSessionCookieNotFound
	}

	sessionID, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil, ErrSessionInvalid
	}

	return sessionID, nil
}

// UserID extracts the user identity from the uid cookie. Returns "" when
// the cookie is absent, the HMAC signature is invalid, or the value is not
// a UUID. Signature verification keeps the cookie tamper-evident; the UUID
// check keeps malformed owner IDs out of queries and memory storage.
func (sm *sessionManager) UserID(r *http.Request) string {
	cookie, err := r.Cookie(userCookieName)
	if err != nil {
		return ""
	}
	uid, ok := verifySignedUID(cookie.Value, sm.hmacSecret)
	if !ok {
		return ""
	}
	if _, err := uuid.Parse(uid); err != nil {
		return ""
	}
	return uid
}

// NewCSRFToken creates an HMAC-based token bound to the user ID.
// Format: "timestamp:signature".
func (sm *sessionManager) NewCSRFToken(userID string) string {
	timestamp := time.Now().Unix()
	message := fmt.Sprintf("%s:%d", userID, timestamp)

	h := hmac.New(sha256.New, sm.hmacSecret)
	h.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf("%d:%s", timestamp, signature)
}

// CheckCSRF verifies a user-bound CSRF token.
func (sm *sessionManager) CheckCSRF(userID, token string) error {
	if token == "" {
		return ErrCSRFRequired
	}

	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return ErrCSRFMalformed
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrCSRFMalformed
	}

	// The HMAC is verified before the timestamp so the response time does
	// not distinguish "expired" from "forged" tokens.
	message := fmt.Sprintf("%s:%d", userID, timestamp)
	h := hmac.New(sha256.New, sm.hmacSecret)
	h.Write([]byte(message))
	expectedSig := h.Sum(nil)

	actualSig, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return ErrCSRFMalformed
	}

	if subtle.ConstantTimeCompare(actualSig, expectedSig) != 1 {
		return ErrCSRFInvalid
	}

	age := time.Since(time.Unix(timestamp, 0))
	if age > csrfTokenTTL {
		return ErrCSRFExpired
	}
	if age < -csrfClockSkew {
		return ErrCSRFInvalid
	}

	return nil
}

// NewPreSessionCSRFToken creates an HMAC-based token for requests made
// before the uid cookie exists. Format: "pre:nonce:timestamp:signature".
func (sm *sessionManager) NewPreSessionCSRFToken() string {
	nonce := uuid.New().String()
	timestamp := time.Now().Unix()
	message := fmt.Sprintf("%s:%d", nonce, timestamp)

	h := hmac.New(sha256.New, sm.hmacSecret)
	h.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf("%s%s:%d:%s", preSessionPrefix, nonce, timestamp, signature)
}

// CheckPreSessionCSRF verifies a pre-session CSRF token.
func (sm *sessionManager) CheckPreSessionCSRF(token string) error {
	if token == "" {
		return ErrCSRFRequired
	}

	if !strings.HasPrefix(token, preSessionPrefix) {
		return ErrCSRFMalformed
	}

	tokenBody := strings.TrimPrefix(token, preSessionPrefix)
	parts := strings.SplitN(tokenBody, ":", 3)
	if len(parts) != 3 {
		return ErrCSRFMalformed
	}

	nonce := parts[0]
	timestamp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ErrCSRFMalformed
	}

	// HMAC before timestamp, same as CheckCSRF.
	message := fmt.Sprintf("%s:%d", nonce, timestamp)
	h := hmac.New(sha256.New, sm.hmacSecret)
	h.Write([]byte(message))
	expectedSig := h.Sum(nil)

	actualSig, err := base64.URLEncoding.DecodeString(parts[2])
	if err != nil {
		return ErrCSRFMalformed
	}

	if subtle.ConstantTimeCompare(actualSig, expectedSig) != 1 {
		return ErrCSRFInvalid
	}

	age := time.Since(time.Unix(timestamp, 0))
	if age > csrfTokenTTL {
		return ErrCSRFExpired
	}
	if age < -csrfClockSkew {
		return ErrCSRFInvalid
	}

	return nil
}

// requireOwnership verifies the requested session belongs to the caller.
// Returns the verified session ID and true, or writes an error response
// and returns false.
func (sm *sessionManager) requireOwnership(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		WriteError(w, http.StatusBadRequest, "missing_id", "session ID required", sm.logger)
		return uuid.Nil, false
	}

	targetID, err := uuid.Parse(idStr)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid session ID", sm.logger)
		return uuid.Nil, false
	}

	userID, ok := requireUserID(w, r, sm.logger)
	if !ok {
		return uuid.Nil, false
	}

	sess, err := sm.store.Get(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "session not found", sm.logger)
			return uuid.Nil, false
		}
		sm.logger.Error("checking session ownership", "error", err, "session_id", targetID)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to verify session", sm.logger)
		return uuid.Nil, false
	}

	if sess.OwnerID != userID {
		sm.logger.Warn("session ownership check failed",
			"target", targetID,
			"owner", sess.OwnerID,
			"caller", userID,
			"path", r.URL.Path,
		)
		// 404 rather than 403: a 403 would confirm the session exists.
		WriteError(w, http.StatusNotFound, "not_found", "session not found", sm.logger)
		return uuid.Nil, false
	}

	return targetID, true
}

func (sm *sessionManager) setSessionCookie(w http.ResponseWriter, sessionID uuid.UUID) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID.String(),
		Path:     "/",
		Secure:   !sm.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   cookieMaxAge,
	})
}

func (sm *sessionManager) setUserCookie(w http.ResponseWriter, userID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Value:    signUID(userID, sm.hmacSecret),
		Path:     "/",
		Secure:   !sm.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   cookieMaxAge,
	})
}

// signUID creates an HMAC-signed cookie value:
// "uid.base64url(HMAC-SHA256(secret, uid))".
func signUID(uid string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(uid))
	sig := base64.URLEncoding.EncodeToString(h.Sum(nil))
	return uid + "." + sig
}

// verifySignedUID splits a signed cookie value and verifies the signature.
// Returns the extracted UID and true, or "" and false on any failure.
func verifySignedUID(value string, secret []byte) (string, bool) {
	idx := strings.LastIndex(value, ".")
	if idx < 1 {
		return "", false
	}

	uid := value[:idx]
	sig, err := base64.URLEncoding.DecodeString(value[idx+1:])
	if err != nil {
		return "", false
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(uid))
	expected := h.Sum(nil)

	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return "", false
	}

	return uid, true
}

// csrfToken handles GET /api/v1/csrf-token. Returns a user-bound token when
// the uid cookie exists, otherwise a pre-session token.
func (sm *sessionManager) csrfToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if ok && userID != "" {
		WriteJSON(w, http.StatusOK, map[string]string{
			"csrfToken": sm.NewCSRFToken(userID),
		}, sm.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"csrfToken": sm.NewPreSessionCSRFToken(),
	}, sm.logger)
}

// sessionItem is the JSON representation of a session in list responses.
type sessionItem struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"messageCount"`
	UpdatedAt    string `json:"updatedAt"`
}

// messageItem is the JSON representation of a message in list responses.
type messageItem struct {
	ID        string             `json:"id"`
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	Mode      string             `json:"mode,omitempty"`
	Citations []session.Citation `json:"citations,omitempty"`
	Artifacts []artifactItem     `json:"artifacts,omitempty"`
	CreatedAt string             `json:"createdAt"`
}

// listSessions handles GET /api/v1/sessions.
func (sm *sessionManager) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		WriteJSON(w, http.StatusOK, map[string]any{"items": []sessionItem{}}, sm.logger)
		return
	}

	limit := min(parseIntParam(r, "limit", sessionsDefaultLimit), 200)
	offset := parseIntParam(r, "offset", 0)
	if offset > 10000 {
		WriteError(w, http.StatusBadRequest, "invalid_offset", "offset must be 10000 or less", sm.logger)
		return
	}

	sessions, err := sm.store.List(r.Context(), userID, limit, offset)
	if err != nil {
		sm.logger.Error("listing sessions", "error", err, "user_id", userID)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions", sm.logger)
		return
	}

	items := make([]sessionItem, len(sessions))
	for i, sess := range sessions {
		items[i] = sessionItem{
			ID:           sess.ID.String(),
			Title:        sess.Title,
			MessageCount: sess.MessageCount,
			UpdatedAt:    sess.UpdatedAt.Format(time.RFC3339),
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"items": items}, sm.logger)
}

// createSessionRequest is the optional body for POST /api/v1/sessions.
type createSessionRequest struct {
	Title string `json:"title"`
}

// createSession handles POST /api/v1/sessions. The new session becomes the
// active one via the sid cookie.
func (sm *sessionManager) createSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, sm.logger)
	if !ok {
		return
	}

	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, createBodyMaxBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", sm.logger)
			return
		}
	}

	sess, err := sm.store.Create(r.Context(), userID, session.TruncateTitle(req.Title))
	if err != nil {
		sm.logger.Error("creating session", "error", err)
		WriteError(w, http.StatusInternalServerError, "create_failed", "failed to create session", sm.logger)
		return
	}

	sm.setSessionCookie(w, sess.ID)

	WriteJSON(w, http.StatusCreated, map[string]string{
		"id":        sess.ID.String(),
		"csrfToken": sm.NewCSRFToken(userID),
	}, sm.logger)
}

// getSession handles GET /api/v1/sessions/{id}. Requires ownership.
func (sm *sessionManager) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sm.requireOwnership(w, r)
	if !ok {
		return
	}

	sess, err := sm.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "session not found", sm.logger)
			return
		}
		sm.logger.Error("getting session", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get session", sm.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"id":           sess.ID.String(),
		"title":        sess.Title,
		"messageCount": sess.MessageCount,
		"createdAt":    sess.CreatedAt.Format(time.RFC3339),
		"updatedAt":    sess.UpdatedAt.Format(time.RFC3339),
	}, sm.logger)
}

// getSessionMessages handles GET /api/v1/sessions/{id}/messages.
// Requires ownership.
func (sm *sessionManager) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := sm.requireOwnership(w, r)
	if !ok {
		return
	}

	limit := min(parseIntParam(r, "limit", messagesDefaultLimit), 1000)
	offset := parseIntParam(r, "offset", 0)
	if offset > 100000 {
		WriteError(w, http.StatusBadRequest, "invalid_offset", "offset must be 100000 or less", sm.logger)
		return
	}

	messages, err := sm.store.Messages(r.Context(), id, limit, offset)
	if err != nil {
		sm.logger.Error("getting messages", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get messages", sm.logger)
		return
	}

	items := make([]messageItem, len(messages))
	for i, msg := range messages {
		item := messageItem{
			ID:        msg.ID.String(),
			Role:      msg.Role,
			Content:   msg.Text(),
			Mode:      msg.Mode,
			Citations: msg.Citations,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
		for _, ref := range msg.Artifacts {
			item.Artifacts = append(item.Artifacts, toArtifactItem(ref))
		}
		items[i] = item
	}

	WriteJSON(w, http.StatusOK, map[string]any{"items": items}, sm.logger)
}

// deleteSession handles DELETE /api/v1/sessions/{id}. Requires ownership.
func (sm *sessionManager) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sm.requireOwnership(w, r)
	if !ok {
		return
	}

	if err := sm.store.Delete(r.Context(), id); err != nil {
		sm.logger.Error("deleting session", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete session", sm.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, sm.logger)
}
