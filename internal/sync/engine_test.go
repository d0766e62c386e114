package sync

import (
	"context"
	"testing"
	"time"

	"github.com/fieldrelay/fieldrelay/internal/model"
)

func newTestEngine(src *mockSource, jobs *mockJobs, store *mockStore) *Engine {
	puller := NewPuller(src, store, testLogger)
	rec := NewReconciler(jobs, store, testLogger)
	return NewEngine(puller, rec, 0, testLogger)
}

func TestPullOnce_CountsOutcomes(t *testing.T) {
	cancelled := model.Event{ID: "ev-gone", Status: model.StatusCancelled}
	noStart := model.Event{ID: "ev-odd", Status: model.StatusConfirmed}
	src := newMockSource("",
		sourcePage{
			events:   []model.Event{activeEvent("ev-1"), cancelled, noStart},
			nextSync: "T1",
		},
	)
	jobs := newMockJobs()
	store := newMockStore()
	store.token = "T0"
	_ = store.PutMapping(context.Background(), "ev-gone", "job-old")

	e := newTestEngine(src, jobs, store)
	stats, err := e.PullOnce(context.Background())
	if err != nil {
		t.Fatalf("PullOnce: %v", err)
	}

	if stats.Created != 1 {
		t.Errorf("Created = %d, want 1", stats.Created)
	}
	if stats.Cancelled != 1 {
		t.Errorf("Cancelled = %d, want 1", stats.Cancelled)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
	if store.storedToken() != "T1" {
		t.Errorf("stored token = %q, want T1", store.storedToken())
	}
}

func TestTriggerPull_DeduplicatesNotifications(t *testing.T) {
	src := newMockSource("",
		sourcePage{events: []model.Event{activeEvent("ev-1")}, nextSync: "T1"},
	)
	jobs := newMockJobs()
	store := newMockStore()
	store.token = "T0"

	e := newTestEngine(src, jobs, store)

	if !e.TriggerPull(context.Background(), "msg-1") {
		t.Error("first notification should start a pull")
	}
	if e.TriggerPull(context.Background(), "msg-1") {
		t.Error("repeated message number should be dropped")
	}

	// Wait for the async pull to land before the mocks go out of scope.
	deadline := time.After(2 * time.Second)
	for store.storedToken() != "T1" {
		select {
		case <-deadline:
			t.Fatal("async pull never completed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestTriggerPull_EmptySequenceAlwaysPulls(t *testing.T) {
	src := newMockSource("",
		sourcePage{nextSync: "T1"},
	)
	e := newTestEngine(src, newMockJobs(), func() *mockStore {
		s := newMockStore()
		s.token = "T0"
		return s
	}())

	// Notifications without a message number bypass the window.
	if !e.TriggerPull(context.Background(), "") {
		t.Error("sequence-less notification should still pull")
	}
	if !e.TriggerPull(context.Background(), "") {
		t.Error("second sequence-less notification should still pull")
	}
}
