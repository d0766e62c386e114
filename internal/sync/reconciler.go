package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldrelay/fieldrelay/internal/fieldservice"
	"github.com/fieldrelay/fieldrelay/internal/model"
)

// defaultEventDuration is the synthesised length of an active event that has
// a timed start but no end.
const defaultEventDuration = 60 * time.Minute

// Outcome describes what a single reconciliation did.
type Outcome int

const (
	OutcomeNone      Outcome = iota
	OutcomeCreated           // job created, mapping upserted
	OutcomeUpdated           // existing job rescheduled
	OutcomeCancelled         // job cancelled, mapping deleted
	OutcomeSkipped           // validation gap or lock busy
)

// Reconciler converts one source-of-truth event into zero or one downstream
// mutation. Replaying the same event with no intervening state change
// converges: the mapping lookup precedes any create, and recreation is gated
// strictly behind an update 404, never attempted speculatively.
type Reconciler struct {
	jobs  JobClient
	store MappingStore
	locks *lockSet
	log   *slog.Logger
}

// NewReconciler creates a Reconciler wired to the job client and mapping store.
func NewReconciler(jobs JobClient, store MappingStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		jobs:  jobs,
		store: store,
		locks: newLockSet(),
		log:   logger,
	}
}

// HandleEvent runs the per-event state machine. The per-event lock serialises
// concurrent attempts on the same event id; a busy event is skipped, trusting
// the in-flight reconciliation and the next pull.
func (r *Reconciler) HandleEvent(ctx context.Context, ev *model.Event) (Outcome, error) {
	if !r.locks.tryAcquire(ev.ID) {
		r.log.Debug("reconciliation already in flight, skipping", "event_id", ev.ID)
		return OutcomeSkipped, nil
	}
	defer r.locks.release(ev.ID)

	jobID, err := r.store.GetMapping(ctx, ev.ID)
	if err != nil {
		return OutcomeNone, fmt.Errorf("looking up mapping: %w", err)
	}

	if ev.Cancelled() {
		return r.handleCancelled(ctx, ev, jobID)
	}
	return r.handleActive(ctx, ev, jobID)
}

// handleCancelled cancels the downstream job (best-effort) and deletes the
// mapping. Without a mapping there is nothing to do.
func (r *Reconciler) handleCancelled(ctx context.Context, ev *model.Event, jobID string) (Outcome, error) {
	if jobID == "" {
		return OutcomeNone, nil
	}
	if err := r.jobs.CancelJob(ctx, jobID); err != nil {
		// Mapping removal proceeds regardless of the downstream outcome.
		r.log.Warn("downstream cancel failed", "event_id", ev.ID, "job_id", jobID, "error", err)
	}
	if err := r.store.DeleteMapping(ctx, ev.ID); err != nil {
		return OutcomeNone, fmt.Errorf("deleting mapping: %w", err)
	}
	r.log.Info("event cancelled, job released", "event_id", ev.ID, "job_id", jobID)
	return OutcomeCancelled, nil
}

// handleActive creates or reschedules the job for an active event.
func (r *Reconciler) handleActive(ctx context.Context, ev *model.Event, jobID string) (Outcome, error) {
	spec, ok := r.buildSpec(ctx, ev)
	if !ok {
		// Validation gap: any existing mapping stays untouched.
		return OutcomeSkipped, nil
	}

	if jobID != "" {
		err := r.jobs.UpdateJob(ctx, jobID, spec)
		if err == nil {
			return OutcomeUpdated, nil
		}
		if errors.Is(err, fieldservice.ErrNotFound) {
			// The job vanished out of band. Recreate and repoint the
			// mapping at the new id.
			newID, cerr := r.createJob(ctx, ev, spec)
			if cerr != nil {
				return OutcomeNone, fmt.Errorf("recreating job after 404: %w", cerr)
			}
			if err := r.store.PutMapping(ctx, ev.ID, newID); err != nil {
				return OutcomeNone, fmt.Errorf("remapping after recreation: %w", err)
			}
			r.log.Info("job recreated after downstream 404",
				"event_id", ev.ID, "old_job_id", jobID, "new_job_id", newID)
			return OutcomeCreated, nil
		}
		// Stale mapping stays in place; the next pull retries.
		return OutcomeNone, fmt.Errorf("updating job %s: %w", jobID, err)
	}

	newID, err := r.createJob(ctx, ev, spec)
	if err != nil {
		// The event stays unmapped and is retried on a later delta.
		return OutcomeNone, fmt.Errorf("creating job: %w", err)
	}
	if err := r.store.PutMapping(ctx, ev.ID, newID); err != nil {
		return OutcomeNone, fmt.Errorf("storing mapping: %w", err)
	}
	r.log.Info("job created", "event_id", ev.ID, "job_id", newID)
	return OutcomeCreated, nil
}

// buildSpec validates the event's times and assembles the job spec. It
// returns ok == false on a validation gap (skip-and-log, never fatal).
func (r *Reconciler) buildSpec(ctx context.Context, ev *model.Event) (model.JobSpec, bool) {
	if ev.Start == nil {
		r.log.Warn("event has no start time, skipping", "event_id", ev.ID)
		return model.JobSpec{}, false
	}

	start := *ev.Start
	var end time.Time
	switch {
	case ev.End != nil:
		end = *ev.End
	case !ev.AllDay:
		end = start.Add(defaultEventDuration)
	default:
		r.log.Warn("all-day event has no end date, skipping", "event_id", ev.ID)
		return model.JobSpec{}, false
	}

	spec := model.JobSpec{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       start,
		End:         end,
		AllDay:      ev.AllDay,
	}

	if ev.OrganizerEmail != "" {
		assignee, err := r.jobs.ResolveDirectoryID(ctx, fieldservice.KindEmployee, ev.OrganizerEmail)
		if err != nil {
			r.log.Warn("assignee resolution failed, leaving job unassigned",
				"event_id", ev.ID, "email", ev.OrganizerEmail, "error", err)
		} else {
			spec.AssigneeID = assignee
		}
	}
	return spec, true
}

// createJob resolves the destination account and submits the job. Recreation
// after a 404 goes through this same rate-limited path.
func (r *Reconciler) createJob(ctx context.Context, ev *model.Event, spec model.JobSpec) (string, error) {
	customerID, err := r.jobs.ResolveDefaultCustomer(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving destination account: %w", err)
	}
	spec.CustomerID = customerID
	return r.jobs.CreateJob(ctx, spec)
}
