package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldrelay/fieldrelay/internal/gcal"
	"github.com/fieldrelay/fieldrelay/internal/model"
)

// EventHandler processes one changed event. A handler error is logged and
// counted but never aborts the pull; sibling events still run and the token
// still advances.
type EventHandler func(ctx context.Context, ev *model.Event) error

// Puller drains the calendar change feed using the stored continuation token.
// The token is replaced only after the entire delta is consumed, so a crash
// mid-pull causes re-delivery rather than silent loss; that is safe because
// handler invocations are idempotent. Overlapping pulls are last-writer-wins
// on the stored token.
type Puller struct {
	src   ChangeSource
	store MappingStore
	log   *slog.Logger
}

// NewPuller creates a Puller wired to the change source and state store.
func NewPuller(src ChangeSource, store MappingStore, logger *slog.Logger) *Puller {
	return &Puller{src: src, store: store, log: logger}
}

// Pull fetches everything changed since the last successful pull and invokes
// handler once per event, in delivery order.
//
// When no token is stored yet, a zero-result probe seeds one and the pull
// returns without processing events. When the provider rejects the stored
// token, the pull is abandoned, a fresh token is seeded, and no partial token
// is stored.
func (p *Puller) Pull(ctx context.Context, handler EventHandler) error {
	token, err := p.store.GetSyncToken(ctx)
	if err != nil {
		return fmt.Errorf("loading sync token: %w", err)
	}
	if token == "" {
		return p.reseed(ctx)
	}

	var (
		pageToken string
		nextSync  string
		events    int
		failures  int
	)
	for {
		page, nextPage, pageSync, err := p.src.Changes(ctx, token, pageToken)
		if err != nil {
			if errors.Is(err, gcal.ErrTokenInvalid) {
				p.log.Warn("sync token rejected by provider, reseeding")
				return p.reseed(ctx)
			}
			return fmt.Errorf("fetching delta page: %w", err)
		}

		for i := range page {
			ev := &page[i]
			events++
			if err := handler(ctx, ev); err != nil {
				failures++
				p.log.Error("event reconciliation failed",
					"event_id", ev.ID,
					"error", err,
				)
			}
		}

		if pageSync != "" {
			nextSync = pageSync
		}
		if nextPage == "" {
			break
		}
		pageToken = nextPage
	}

	// Token replacement happens once, after the whole delta is drained,
	// never per page.
	if nextSync != "" {
		if err := p.store.SaveSyncToken(ctx, nextSync); err != nil {
			return fmt.Errorf("storing advanced sync token: %w", err)
		}
	}

	p.log.Debug("pull drained", "events", events, "failures", failures)
	return nil
}

// reseed obtains and stores a fresh continuation token via the zero-result
// probe. No events are processed on this path.
func (p *Puller) reseed(ctx context.Context) error {
	token, err := p.src.ProbeSyncToken(ctx)
	if err != nil {
		return fmt.Errorf("seeding sync token: %w", err)
	}
	if err := p.store.SaveSyncToken(ctx, token); err != nil {
		return fmt.Errorf("storing seeded sync token: %w", err)
	}
	p.log.Info("sync token seeded")
	return nil
}
