package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/fieldrelay/fieldrelay/internal/state"
)

// renewThreshold is how long before expiration a watch channel is replaced.
const renewThreshold = time.Hour

// WatchStore persists the push-subscription registration.
// Implemented by [state.Store].
type WatchStore interface {
	GetWatchState(ctx context.Context) (*state.WatchState, error)
	SaveWatchState(ctx context.Context, ws *state.WatchState) error
	ClearWatchState(ctx context.Context) error
}

// Watch registers a push channel delivering change notifications for the
// adapter's calendar to address.
func (a *Adapter) Watch(ctx context.Context, address string) (*state.WatchState, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}

	ch := &calendar.Channel{
		Id:      uuid.NewString(),
		Type:    "web_hook",
		Address: address,
	}
	resp, err := svc.Events.Watch(a.calendarID, ch).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("registering watch channel: %w", err)
	}
	return &state.WatchState{
		ChannelID:  resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopWatch tears down a push channel. Stopping a channel the provider has
// already expired is not an error worth surfacing.
func (a *Adapter) StopWatch(ctx context.Context, channelID, resourceID string) error {
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	err = svc.Channels.Stop(&calendar.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("stopping watch channel %s: %w", channelID, err)
	}
	return nil
}

// Manager keeps exactly one live watch channel registered for the calendar.
// The watch lifecycle is independent from the sync token: registering,
// renewing, or stopping a channel never touches the stored token.
type Manager struct {
	adapter     *Adapter
	store       WatchStore
	callbackURL string
	log         *slog.Logger
}

// NewManager creates a Manager delivering notifications to callbackURL.
func NewManager(adapter *Adapter, store WatchStore, callbackURL string, logger *slog.Logger) *Manager {
	return &Manager{adapter: adapter, store: store, callbackURL: callbackURL, log: logger}
}

// EnsureActive registers a watch channel if none exists or the current one is
// within the renewal threshold of expiring. The replacement channel is
// registered before the old one is stopped so no notification gap opens.
func (m *Manager) EnsureActive(ctx context.Context) error {
	current, err := m.store.GetWatchState(ctx)
	if err != nil {
		return fmt.Errorf("loading watch state: %w", err)
	}
	if current != nil && time.Until(current.Expiration) > renewThreshold {
		return nil
	}

	ws, err := m.adapter.Watch(ctx, m.callbackURL)
	if err != nil {
		return err
	}
	if err := m.store.SaveWatchState(ctx, ws); err != nil {
		return fmt.Errorf("persisting watch state: %w", err)
	}

	if current != nil {
		if err := m.adapter.StopWatch(ctx, current.ChannelID, current.ResourceID); err != nil {
			m.log.Warn("stopping superseded watch channel failed", "channel_id", current.ChannelID, "error", err)
		}
	}
	m.log.Info("watch channel active", "channel_id", ws.ChannelID, "expires", ws.Expiration)
	return nil
}

// Stop tears down the active watch channel, if any, and clears the stored
// registration.
func (m *Manager) Stop(ctx context.Context) error {
	current, err := m.store.GetWatchState(ctx)
	if err != nil {
		return fmt.Errorf("loading watch state: %w", err)
	}
	if current == nil {
		return nil
	}
	if err := m.adapter.StopWatch(ctx, current.ChannelID, current.ResourceID); err != nil {
		m.log.Warn("stopping watch channel failed", "channel_id", current.ChannelID, "error", err)
	}
	return m.store.ClearWatchState(ctx)
}

// RunRenewal re-checks the registration on the given interval until ctx is
// cancelled. Missing credentials are expected before first-time setup and are
// skipped quietly.
func (m *Manager) RunRenewal(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.EnsureActive(ctx); err != nil {
				if errors.Is(err, ErrNoCredential) {
					continue
				}
				m.log.Error("watch renewal failed", "error", err)
			}
		}
	}
}
