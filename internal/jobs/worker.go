package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/Harvey-AU/index-inspector/internal/inspector"
	"github.com/Harvey-AU/index-inspector/internal/observability"
	"github.com/Harvey-AU/index-inspector/internal/quota"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// GroupWorker processes the status rows of one property at a time.
// A single GroupWorker is shared by all partitions of a run; each Process call
// only touches its own rows and the tracker of its own property.
type GroupWorker struct {
	cache     Cache
	inspector RemoteInspector
	quotas    *quota.Registry
	now       func() time.Time
}

// NewGroupWorker creates a worker
func NewGroupWorker(cache Cache, remote RemoteInspector, quotas *quota.Registry) *GroupWorker {
	if cache == nil {
		panic("response cache is required")
	}
	if remote == nil {
		panic("remote inspector is required")
	}
	if quotas == nil {
		panic("quota registry is required")
	}

	return &GroupWorker{
		cache:     cache,
		inspector: remote,
		quotas:    quotas,
		now:       time.Now,
	}
}

// Process resolves each row of a property in order and returns the updated rows
// together with the per-user usage delta.
//
// rows is updated in place, so callers pass a copy they own. A row whose lookup
// fails is returned unmodified. When ctx ends, Process stops before the next row
// and returns what it has done so far with Err set.
func (w *GroupWorker) Process(ctx context.Context, property string, rows []inspection.StatusRow) GroupResult {
	tracker := w.quotas.For(property)
	startSuspensions := tracker.Snapshot().Suspensions
	start := time.Now()

	res := GroupResult{
		Property: property,
		Rows:     rows,
		Usage:    make(map[string]inspection.Usage),
	}

	log.Info().
		Str("run_id", runIDFrom(ctx)).
		Str("property", property).
		Int("rows", len(rows)).
		Msg("Starting property worker")

	for i := range res.Rows {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		outcome, err := w.processRow(ctx, tracker, &res, i)
		if err != nil {
			res.Err = err
			break
		}

		res.Stats.Rows++
		switch outcome {
		case observability.OutcomeCacheHit:
			res.Stats.CacheHits++
		case observability.OutcomeFetched:
			res.Stats.Fetched++
		default:
			res.Stats.Skipped++
		}
	}

	res.Stats.Suspensions = tracker.Snapshot().Suspensions - startSuspensions

	event := log.Info()
	if res.Err != nil {
		event = log.Warn().Err(res.Err)
	}
	event.
		Str("run_id", runIDFrom(ctx)).
		Str("property", property).
		Int("processed", res.Stats.Rows).
		Int("cache_hits", res.Stats.CacheHits).
		Int("fetched", res.Stats.Fetched).
		Int("skipped", res.Stats.Skipped).
		Int("suspensions", res.Stats.Suspensions).
		Dur("duration", time.Since(start)).
		Msg("Property worker finished")

	return res
}

// processRow resolves a single row. It returns the row outcome, or an error only
// when ctx ended; every other failure leaves the row as it was and reports a skip.
func (w *GroupWorker) processRow(ctx context.Context, tracker *quota.Tracker, res *GroupResult, i int) (outcome string, err error) {
	row := &res.Rows[i]
	req := inspection.NewRequest(*row)
	start := time.Now()

	ctx, span := observability.StartRowSpan(ctx, observability.RowSpanInfo{
		RunID:    runIDFrom(ctx),
		Property: res.Property,
		URL:      req.InspectionURL,
		Position: row.Position,
	})
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("property", res.Property).
				Str("url", row.URL).
				Int("position", row.Position).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic while inspecting row")

			sentry.CurrentHub().Recover(r)
			span.SetStatus(codes.Error, "panic")
			outcome, err = observability.OutcomeSkipped, nil
		}

		if err == nil {
			span.SetAttributes(attribute.String("row.outcome", outcome))
			observability.RecordRow(ctx, observability.RowMetrics{
				Property: res.Property,
				Outcome:  outcome,
				Duration: time.Since(start),
			})
		}
	}()

	if req.InspectionURL == "" || req.SiteURL == "" {
		log.Warn().
			Str("property", res.Property).
			Str("url", row.URL).
			Int("position", row.Position).
			Msg("Row has no usable URL or property, skipping")
		return observability.OutcomeSkipped, nil
	}

	if err := w.waitForQuota(ctx, tracker); err != nil {
		return "", err
	}

	if result, ok := w.cache.Get(req.InspectionURL); ok {
		log.Debug().
			Str("property", res.Property).
			Str("url", req.InspectionURL).
			Msg("Using cached inspection result")
		w.applyResult(res, row, req.User, result)
		return observability.OutcomeCacheHit, nil
	}

	for {
		if err := tracker.Pace(ctx); err != nil {
			return "", err
		}

		result, err := w.inspector.Inspect(ctx, req)
		if err == nil {
			tracker.Record()
			w.applyResult(res, row, req.User, result)
			return observability.OutcomeFetched, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if inspector.IsRetryable(err) {
			// The inspector already waited out the cooldown.
			res.Stats.Retries++
			continue
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("inspection failed: %s", inspector.KindOf(err)))
		return observability.OutcomeSkipped, nil
	}
}

// waitForQuota suspends the property until its tracker grants another request
func (w *GroupWorker) waitForQuota(ctx context.Context, tracker *quota.Tracker) error {
	for tracker.TryConsume() == quota.MustWait {
		observability.RecordSuspension(ctx, tracker.Property())
		if err := tracker.Suspend(ctx); err != nil {
			return err
		}
	}
	return nil
}

// applyResult writes the status fields and the user's usage in one step
func (w *GroupWorker) applyResult(res *GroupResult, row *inspection.StatusRow, user string, result inspection.Result) {
	row.Result = result
	row.Inspected = true
	res.Usage[user] = res.Usage[user].Add(w.now())
}
