// Package sync implements the incremental synchronization engine that mirrors
// calendar events into field-service jobs. It receives change notifications,
// pulls the delta behind a stored continuation token, reconciles each event
// against the persisted event→job mapping, and applies idempotent
// create/update/cancel operations downstream.
//
// The package contains three main components:
//
//   - [Puller] drains the change feed page by page and advances the token.
//   - [Reconciler] converts one event into zero or one downstream mutation.
//   - [Engine] ties them together: notification dedup, async triggering,
//     fallback polling, and telemetry.
package sync

import (
	"context"

	"github.com/fieldrelay/fieldrelay/internal/model"
)

// ChangeSource provides the calendar delta feed and token reseeding.
// Implemented by [gcal.Adapter].
type ChangeSource interface {
	// ProbeSyncToken obtains a fresh continuation token without delivering
	// any events.
	ProbeSyncToken(ctx context.Context) (string, error)

	// Changes fetches one delta page. pageToken == "" starts a pull from
	// syncToken; otherwise the page cursor continues the current pull.
	// Returns the page's events in delivery order, the next page cursor
	// (empty on the last page), and the next sync token (set on the last
	// page).
	Changes(ctx context.Context, syncToken, pageToken string) (events []model.Event, nextPage, nextSync string, err error)
}

// JobClient applies mutations to the field-service backend.
// Implemented by [fieldservice.Client].
type JobClient interface {
	ResolveDefaultCustomer(ctx context.Context) (string, error)
	ResolveDirectoryID(ctx context.Context, kind, lookup string) (string, error)
	CreateJob(ctx context.Context, spec model.JobSpec) (string, error)
	UpdateJob(ctx context.Context, jobID string, spec model.JobSpec) error
	CancelJob(ctx context.Context, jobID string) error
}

// MappingStore provides the durable event→job mapping and the continuation
// token singleton. Implemented by [state.Store].
type MappingStore interface {
	GetMapping(ctx context.Context, eventID string) (string, error)
	PutMapping(ctx context.Context, eventID, jobID string) error
	DeleteMapping(ctx context.Context, eventID string) error
	GetSyncToken(ctx context.Context) (string, error)
	SaveSyncToken(ctx context.Context, token string) error
}
