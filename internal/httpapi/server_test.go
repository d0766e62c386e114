package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockTrigger struct {
	calls []string
}

func (m *mockTrigger) TriggerPull(_ context.Context, seq string) bool {
	m.calls = append(m.calls, seq)
	return true
}

type mockAuth struct {
	callbackErr error
	resetErr    error

	callbacks []string
	resets    int
}

func (m *mockAuth) AuthURL() string { return "https://accounts.example.com/consent" }

func (m *mockAuth) HandleCallback(_ context.Context, code string) error {
	m.callbacks = append(m.callbacks, code)
	return m.callbackErr
}

func (m *mockAuth) Reset(_ context.Context) error {
	m.resets++
	return m.resetErr
}

func newTestServer() (*Server, *mockTrigger, *mockAuth) {
	trigger := &mockTrigger{}
	auth := &mockAuth{}
	s := NewServer(context.Background(), trigger, auth, slog.Default())
	return s, trigger, auth
}

func TestWebhook_TriggersPullFromHeaders(t *testing.T) {
	s, trigger, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/webhook/google", strings.NewReader(`{"ignored": true}`))
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-State", "exists")
	req.Header.Set("X-Goog-Message-Number", "42")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(trigger.calls) != 1 || trigger.calls[0] != "42" {
		t.Errorf("trigger calls = %v, want [42]", trigger.calls)
	}
}

func TestWebhook_SyncHandshakeDoesNotTrigger(t *testing.T) {
	s, trigger, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/webhook/google", nil)
	req.Header.Set("X-Goog-Channel-ID", "chan-1")
	req.Header.Set("X-Goog-Resource-State", "sync")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (handshake is acknowledged)", rec.Code)
	}
	if len(trigger.calls) != 0 {
		t.Errorf("trigger calls = %v, want none for a handshake", trigger.calls)
	}
}

func TestWebhook_GetRejected(t *testing.T) {
	s, trigger, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/webhook/google", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if len(trigger.calls) != 0 {
		t.Errorf("trigger calls = %v, want none", trigger.calls)
	}
}

func TestAuthStart_RedirectsToConsent(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://accounts.example.com/consent" {
		t.Errorf("Location = %q", loc)
	}
}

func TestAuthCallback_ExchangesCode(t *testing.T) {
	s, _, auth := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/oauth2/callback?code=abc123", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(auth.callbacks) != 1 || auth.callbacks[0] != "abc123" {
		t.Errorf("callbacks = %v, want [abc123]", auth.callbacks)
	}
}

func TestAuthCallback_MissingCode(t *testing.T) {
	s, _, auth := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/oauth2/callback", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(auth.callbacks) != 0 {
		t.Errorf("callbacks = %v, want none", auth.callbacks)
	}
}

func TestAuthCallback_ExchangeFailureIsLoud(t *testing.T) {
	s, _, auth := newTestServer()
	auth.callbackErr = errors.New("exchange rejected")

	req := httptest.NewRequest(http.MethodGet, "/oauth2/callback?code=abc123", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestAuthReset(t *testing.T) {
	s, _, auth := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/auth/reset", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if auth.resets != 1 {
		t.Errorf("resets = %d, want 1", auth.resets)
	}
}

func TestRoot_Liveness(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fieldrelay") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
