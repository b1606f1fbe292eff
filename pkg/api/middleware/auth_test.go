package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/store/models"
)

func newAuthStore(t *testing.T) (*store.GORMStore, *models.User) {
	t.Helper()
	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	hash, _ := models.HashPassword("secret")
	token, _ := models.GenerateToken()
	u := &models.User{Username: "alice", PasswordHash: hash, Token: token, Enabled: true}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return s, u
}

func writeTestError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	if ce, ok := apperr.AsClient(err); ok {
		status = ce.Status
		msg = ce.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "description": msg})
}

func okHandler(t *testing.T, sawUser *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*sawUser = UserFrom(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireValidToken(t *testing.T) {
	s, u := newAuthStore(t)
	auth := NewAuth(s, nil, writeTestError)

	var sawUser bool
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TokenHeader, u.Token)
	rec := httptest.NewRecorder()
	auth.Require(okHandler(t, &sawUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !sawUser {
		t.Error("handler should see the authenticated user")
	}
}

func TestRequireMissingToken(t *testing.T) {
	s, _ := newAuthStore(t)
	auth := NewAuth(s, nil, writeTestError)

	var sawUser bool
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	auth.Require(okHandler(t, &sawUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRequireBadToken(t *testing.T) {
	s, _ := newAuthStore(t)
	auth := NewAuth(s, nil, writeTestError)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TokenHeader, "bogus")
	rec := httptest.NewRecorder()
	var sawUser bool
	auth.Require(okHandler(t, &sawUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestOptionalAnonymous(t *testing.T) {
	s, _ := newAuthStore(t)
	auth := NewAuth(s, nil, writeTestError)

	var sawUser bool
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	auth.Optional(okHandler(t, &sawUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, anonymous should pass", rec.Code)
	}
	if sawUser {
		t.Error("no token means no user in context")
	}
}

func TestOptionalBadTokenStillFails(t *testing.T) {
	s, _ := newAuthStore(t)
	auth := NewAuth(s, nil, writeTestError)

	var sawUser bool
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TokenHeader, "bogus")
	rec := httptest.NewRecorder()
	auth.Optional(okHandler(t, &sawUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, a presented token must be valid", rec.Code)
	}
}

func TestDisabledAccount(t *testing.T) {
	s, u := newAuthStore(t)
	if err := s.DB().Model(&models.User{}).Where("id = ?", u.ID).Update("enabled", false).Error; err != nil {
		t.Fatalf("disable: %v", err)
	}
	auth := NewAuth(s, nil, writeTestError)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TokenHeader, u.Token)
	rec := httptest.NewRecorder()
	var sawUser bool
	auth.Require(okHandler(t, &sawUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestFailureLimiterLockout(t *testing.T) {
	s, _ := newAuthStore(t)
	limiter := NewFailureLimiter(3, time.Hour)
	auth := NewAuth(s, limiter, writeTestError)

	var sawUser bool
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set(TokenHeader, "bogus")
		rec := httptest.NewRecorder()
		auth.Require(okHandler(t, &sawUser)).ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("attempt %d status = %d, want 403", i, rec.Code)
		}
	}

	// The budget is spent; even a valid token is rejected with 429.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set(TokenHeader, "anything")
	rec := httptest.NewRecorder()
	auth.Require(okHandler(t, &sawUser)).ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}

	// Another client is unaffected.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set(TokenHeader, "bogus")
	rec = httptest.NewRecorder()
	auth.Require(okHandler(t, &sawUser)).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("other client status = %d, want 403", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := ClientIP(req); got != "192.0.2.7" {
		t.Errorf("ClientIP = %q", got)
	}

	req.RemoteAddr = "no-port-here"
	if got := ClientIP(req); got != "no-port-here" {
		t.Errorf("ClientIP fallback = %q", got)
	}
}
