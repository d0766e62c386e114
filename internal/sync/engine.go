package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/fieldrelay/fieldrelay/internal/gcal"
	"github.com/fieldrelay/fieldrelay/internal/model"
)

const (
	otelScope       = "fieldrelay/sync"
	spanPull        = "sync.pull"
	metricCreated   = "fieldrelay.sync.jobs.created"
	metricUpdated   = "fieldrelay.sync.jobs.updated"
	metricCancelled = "fieldrelay.sync.jobs.cancelled"
	metricSkipped   = "fieldrelay.sync.events.skipped"
	metricErrors    = "fieldrelay.sync.errors"
	metricDeduped   = "fieldrelay.sync.notifications.deduped"
)

// Stats tracks the mutations performed by a single pull.
type Stats struct {
	Created   int
	Updated   int
	Cancelled int
	Skipped   int
	Errors    int
}

// Engine orchestrates the sync lifecycle: notification-triggered pulls with
// dedup, a periodic fallback poll, and telemetry around each pull. Create one
// with [NewEngine].
type Engine struct {
	puller       *Puller
	rec          *Reconciler
	window       *Window
	pollInterval time.Duration
	log          *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntCreated   metric.Int64Counter
	cntUpdated   metric.Int64Counter
	cntCancelled metric.Int64Counter
	cntSkipped   metric.Int64Counter
	cntErrors    metric.Int64Counter
	cntDeduped   metric.Int64Counter
}

// NewEngine creates an Engine. pollInterval controls the fallback poll in
// [Engine.Run]; zero disables it.
func NewEngine(puller *Puller, rec *Reconciler, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		puller:       puller,
		rec:          rec,
		window:       NewWindow(defaultWindowSize),
		pollInterval: pollInterval,
		log:          logger,

		tracer:       tracer,
		cntCreated:   mustCounter(metricCreated, "Jobs created during sync"),
		cntUpdated:   mustCounter(metricUpdated, "Jobs rescheduled during sync"),
		cntCancelled: mustCounter(metricCancelled, "Jobs cancelled during sync"),
		cntSkipped:   mustCounter(metricSkipped, "Events skipped during sync"),
		cntErrors:    mustCounter(metricErrors, "Errors encountered during sync"),
		cntDeduped:   mustCounter(metricDeduped, "Duplicate notifications dropped"),
	}
}

// PullOnce performs a single pull, reconciling every changed event, and
// records a trace span and metrics.
func (e *Engine) PullOnce(ctx context.Context) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanPull)
	defer span.End()

	var stats Stats
	err := e.puller.Pull(ctx, func(ctx context.Context, ev *model.Event) error {
		outcome, herr := e.rec.HandleEvent(ctx, ev)
		switch outcome {
		case OutcomeCreated:
			stats.Created++
		case OutcomeUpdated:
			stats.Updated++
		case OutcomeCancelled:
			stats.Cancelled++
		case OutcomeSkipped:
			stats.Skipped++
		}
		if herr != nil {
			stats.Errors++
		}
		return herr
	})

	if stats.Created > 0 {
		e.cntCreated.Add(ctx, int64(stats.Created))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Cancelled > 0 {
		e.cntCancelled.Add(ctx, int64(stats.Cancelled))
	}
	if stats.Skipped > 0 {
		e.cntSkipped.Add(ctx, int64(stats.Skipped))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.Int("sync.created", stats.Created),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.cancelled", stats.Cancelled),
		attribute.Int("sync.skipped", stats.Skipped),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// TriggerPull handles one push notification: duplicates within the dedup
// window are dropped, anything new spawns an asynchronous pull. It returns
// immediately so the transport can be acknowledged; the return value reports
// whether a pull was started.
//
// A missing credential is swallowed silently here, expected before
// first-time setup; any other pull failure is logged.
func (e *Engine) TriggerPull(ctx context.Context, seq string) bool {
	if seq != "" && !e.window.Observe(seq) {
		e.log.Debug("duplicate notification dropped", "message_number", seq)
		e.cntDeduped.Add(ctx, 1)
		return false
	}

	go func() {
		stats, err := e.PullOnce(ctx)
		if err != nil {
			if errors.Is(err, gcal.ErrNoCredential) {
				return
			}
			e.log.Error("notification-triggered pull failed", "error", err)
			return
		}
		e.logStats("pull complete", stats)
	}()
	return true
}

// Run starts the fallback polling loop, covering notifications that never
// arrive. It blocks until ctx is cancelled. With a zero poll interval it
// only waits for cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if e.pollInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	// Immediate first pass.
	if stats, err := e.PullOnce(ctx); err != nil {
		if !errors.Is(err, gcal.ErrNoCredential) {
			e.log.Error("initial pull failed", "error", err)
		}
	} else {
		e.logStats("initial pull complete", stats)
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			stats, err := e.PullOnce(ctx)
			if err != nil {
				if !errors.Is(err, gcal.ErrNoCredential) {
					e.log.Error("fallback pull failed", "error", err)
				}
				continue
			}
			e.logStats("fallback pull complete", stats)
		}
	}
}

func (e *Engine) logStats(msg string, stats Stats) {
	e.log.Info(msg,
		"created", stats.Created,
		"updated", stats.Updated,
		"cancelled", stats.Cancelled,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
}
