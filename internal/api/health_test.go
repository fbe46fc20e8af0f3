package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aster0/aster/internal/log"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	health(log.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadiness_NilPool(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	readiness(nil, log.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
