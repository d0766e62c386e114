package gcal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
)

// OAuthConfig builds the oauth2 configuration for the calendar scopes. The
// redirect lands on the public callback endpoint served by this process.
func OAuthConfig(clientID, clientSecret, publicBaseURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  strings.TrimRight(publicBaseURL, "/") + "/oauth2/callback",
		Scopes:       []string{calendar.CalendarReadonlyScope},
	}
}

// TokenStore persists the long-lived credential obtained by the flow.
// Implemented by [state.Store].
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, token string) error
	DeleteRefreshToken(ctx context.Context) error
}

// Flow handles the authorization endpoints' backend work: consent URL,
// code exchange, credential persistence, and watch (re)registration after a
// successful exchange.
type Flow struct {
	cfg   *oauth2.Config
	store TokenStore
	watch *Manager
	log   *slog.Logger
}

// NewFlow creates a Flow. watch may be nil (sync-once mode registers no
// channels).
func NewFlow(cfg *oauth2.Config, store TokenStore, watch *Manager, logger *slog.Logger) *Flow {
	return &Flow{cfg: cfg, store: store, watch: watch, log: logger}
}

// AuthURL returns the provider consent URL. Offline access with forced
// consent so a refresh token is granted even on re-authorization.
func (f *Flow) AuthURL() string {
	return f.cfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code, persists the refresh
// token, and (re)registers the watch channel. Failures here are loud, as this
// is the explicit authorization path, not the webhook trigger site.
func (f *Flow) HandleCallback(ctx context.Context, code string) error {
	tok, err := f.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return fmt.Errorf("authorization response carried no refresh token")
	}
	if err := f.store.SaveRefreshToken(ctx, tok.RefreshToken); err != nil {
		return fmt.Errorf("persisting credential: %w", err)
	}
	f.log.Info("credential stored")

	if f.watch != nil {
		if err := f.watch.EnsureActive(ctx); err != nil {
			return fmt.Errorf("registering watch after authorization: %w", err)
		}
	}
	return nil
}

// Reset tears down the watch channel (best-effort) and clears the stored
// credential.
func (f *Flow) Reset(ctx context.Context) error {
	if f.watch != nil {
		if err := f.watch.Stop(ctx); err != nil {
			f.log.Warn("stopping watch during auth reset failed", "error", err)
		}
	}
	if err := f.store.DeleteRefreshToken(ctx); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	f.log.Info("credential cleared")
	return nil
}
