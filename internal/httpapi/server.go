// Package httpapi exposes FieldRelay's inbound HTTP surface: the calendar
// push-notification webhook, the OAuth authorization endpoints, and a static
// liveness root.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// PullTrigger starts an asynchronous delta pull for a notification.
// Implemented by [sync.Engine].
type PullTrigger interface {
	TriggerPull(ctx context.Context, seq string) bool
}

// Authorizer backs the authorization endpoints.
// Implemented by [gcal.Flow].
type Authorizer interface {
	AuthURL() string
	HandleCallback(ctx context.Context, code string) error
	Reset(ctx context.Context) error
}

// Server routes the inbound HTTP surface. Create one with [NewServer] and
// mount [Server.Handler].
type Server struct {
	trigger PullTrigger
	auth    Authorizer
	log     *slog.Logger

	// baseCtx is used for work outlasting a request, such as the
	// asynchronous pull spawned by a webhook delivery.
	baseCtx context.Context
}

// NewServer creates a Server. baseCtx should be the process lifetime context.
func NewServer(baseCtx context.Context, trigger PullTrigger, auth Authorizer, logger *slog.Logger) *Server {
	return &Server{
		trigger: trigger,
		auth:    auth,
		log:     logger,
		baseCtx: baseCtx,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/google", s.handleWebhook)
	mux.HandleFunc("GET /auth/google", s.handleAuthStart)
	mux.HandleFunc("GET /oauth2/callback", s.handleAuthCallback)
	mux.HandleFunc("/auth/reset", s.handleAuthReset)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// handleWebhook processes a push notification. Only transport-level headers
// are consulted; the body is never read for triggering. The transport is
// acknowledged with 200 regardless of downstream outcome.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	resourceID := r.Header.Get("X-Goog-Resource-ID")
	resourceState := r.Header.Get("X-Goog-Resource-State")
	seq := r.Header.Get("X-Goog-Message-Number")

	w.WriteHeader(http.StatusOK)

	// The provider's initial handshake for a new channel carries state
	// "sync" and signals nothing changed yet.
	if resourceState == "sync" {
		s.log.Info("watch channel handshake", "channel_id", channelID)
		return
	}

	s.log.Debug("change notification received",
		"channel_id", channelID,
		"resource_id", resourceID,
		"resource_state", resourceState,
		"message_number", seq,
	)
	s.trigger.TriggerPull(s.baseCtx, seq)
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.auth.AuthURL(), http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code parameter", http.StatusBadRequest)
		return
	}
	if err := s.auth.HandleCallback(r.Context(), code); err != nil {
		s.log.Error("authorization callback failed", "error", err)
		http.Error(w, fmt.Sprintf("authorization failed: %v", err), http.StatusInternalServerError)
		return
	}
	fmt.Fprintln(w, "Authorization complete. FieldRelay is now syncing this calendar.")
}

func (s *Server) handleAuthReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.auth.Reset(r.Context()); err != nil {
		s.log.Error("auth reset failed", "error", err)
		http.Error(w, fmt.Sprintf("reset failed: %v", err), http.StatusInternalServerError)
		return
	}
	fmt.Fprintln(w, "Stored credential cleared.")
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintln(w, "fieldrelay is running")
}
