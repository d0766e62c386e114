// Package gcal wraps the Google Calendar API for the sync engine: delta
// listing with continuation tokens, the zero-result token probe, push-channel
// (watch) lifecycle, and the OAuth authorization flow that obtains the stored
// credential.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/fieldrelay/fieldrelay/internal/model"
)

// Sentinel errors surfaced by the adapter.
var (
	// ErrNoCredential reports that no refresh token is stored yet. The
	// webhook trigger site swallows it silently; the auth endpoints are
	// loud about it.
	ErrNoCredential = errors.New("gcal: no stored credential")

	// ErrTokenInvalid reports that the provider rejected the continuation
	// token (HTTP 410 Gone). The pull loop reseeds on it.
	ErrTokenInvalid = errors.New("gcal: sync token invalid")
)

// CredentialStore provides the persisted OAuth refresh token.
// Implemented by [state.Store].
type CredentialStore interface {
	GetRefreshToken(ctx context.Context) (string, error)
}

// Adapter provides the sync engine's view of one Google calendar.
// The underlying service is built lazily from the stored refresh token, so an
// Adapter constructed before first-time authorization is usable; its methods
// return [ErrNoCredential] until a credential exists.
type Adapter struct {
	oauth      *oauth2.Config
	creds      CredentialStore
	calendarID string
	log        *slog.Logger

	mu       sync.Mutex
	svc      *calendar.Service
	svcToken string // refresh token the cached service was built from
}

// NewAdapter creates an Adapter for the given calendar.
func NewAdapter(oauthCfg *oauth2.Config, creds CredentialStore, calendarID string, logger *slog.Logger) *Adapter {
	return &Adapter{
		oauth:      oauthCfg,
		creds:      creds,
		calendarID: calendarID,
		log:        logger,
	}
}

// service returns a calendar service authenticated with the stored refresh
// token, rebuilding it when the token changes (e.g. after an auth reset and
// re-authorization).
func (a *Adapter) service(ctx context.Context) (*calendar.Service, error) {
	token, err := a.creds.GetRefreshToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if token == "" {
		return nil, ErrNoCredential
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.svc != nil && a.svcToken == token {
		return a.svc, nil
	}

	ts := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: token})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	a.svc = svc
	a.svcToken = token
	return svc, nil
}

// ProbeSyncToken issues a zero-result listing (page size 1, deleted included,
// updatedMin = now) purely to obtain a fresh continuation token. No events
// from the probe are ever processed.
func (a *Adapter) ProbeSyncToken(ctx context.Context) (string, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return "", err
	}

	pageToken := ""
	for {
		call := svc.Events.List(a.calendarID).
			Context(ctx).
			MaxResults(1).
			ShowDeleted(true).
			UpdatedMin(time.Now().UTC().Format(time.RFC3339))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return "", fmt.Errorf("probing for sync token: %w", err)
		}
		if resp.NextSyncToken != "" {
			return resp.NextSyncToken, nil
		}
		if resp.NextPageToken == "" {
			return "", fmt.Errorf("probe returned neither sync token nor page token")
		}
		pageToken = resp.NextPageToken
	}
}

// Changes fetches one page of the delta since syncToken. The first page of a
// pull passes pageToken == ""; later pages pass the previous page's
// continuation cursor. A rejected token surfaces as [ErrTokenInvalid].
func (a *Adapter) Changes(ctx context.Context, syncToken, pageToken string) ([]model.Event, string, string, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, "", "", err
	}

	// The sync token identifies the delta query and must be repeated on
	// every page of it; the page token alone only selects the page.
	call := svc.Events.List(a.calendarID).
		Context(ctx).
		ShowDeleted(true).
		SyncToken(syncToken)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusGone {
			return nil, "", "", fmt.Errorf("listing changes: %w", ErrTokenInvalid)
		}
		return nil, "", "", fmt.Errorf("listing changes: %w", err)
	}

	events := make([]model.Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, toEvent(item))
	}
	return events, resp.NextPageToken, resp.NextSyncToken, nil
}
