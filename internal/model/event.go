// Package model defines shared types used across the sync engine and adapters.
package model

import "time"

// Event status values as reported by the calendar change feed.
const (
	StatusConfirmed = "confirmed"
	StatusTentative = "tentative"
	StatusCancelled = "cancelled"
)

// Event is the normalised representation of a calendar event as delivered by
// one page of a delta pull. It is transient; only the mapping it produces is
// persisted.
type Event struct {
	// ID is the calendar provider's event identifier. Stable across
	// reschedules and cancellations of the same event.
	ID string

	// Status is one of the Status* constants. Anything other than
	// StatusCancelled is treated as active.
	Status string

	// Summary is the event title.
	Summary string

	// Description is the event body text.
	Description string

	// Start and End are nil when the provider delivered no usable time.
	// For all-day events End is the last day the event covers, inclusive.
	Start *time.Time
	End   *time.Time

	// AllDay is true when the provider delivered date-only start/end values.
	AllDay bool

	// OrganizerEmail is used to resolve the job assignee. May be empty.
	OrganizerEmail string
}

// Cancelled reports whether the event has been cancelled at the source.
func (e *Event) Cancelled() bool {
	return e.Status == StatusCancelled
}

// JobSpec carries everything the downstream job client needs to create or
// reschedule a job.
type JobSpec struct {
	// CustomerID is the resolved downstream customer/account identifier.
	CustomerID string

	// Summary and Description come from the source event.
	Summary     string
	Description string

	// Start and End are always both set by the time a spec reaches the
	// client (the reconciler synthesises a missing end).
	Start time.Time
	End   time.Time

	// AllDay widens the schedule to start-of-day/end-of-day downstream.
	AllDay bool

	// AssigneeID is the resolved employee identifier, or empty for an
	// unassigned job.
	AssigneeID string
}
