package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type runIDKey struct{}

// WithRunID attaches a run ID for Run to use instead of generating one
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Runner fans the status rows out to one worker per property and merges the
// results back once every worker has finished.
type Runner struct {
	worker *GroupWorker
	newID  func() string
}

// NewRunner creates a Runner around worker
func NewRunner(worker *GroupWorker) *Runner {
	if worker == nil {
		panic("group worker is required")
	}
	return &Runner{
		worker: worker,
		newID:  uuid.NewString,
	}
}

type partition struct {
	property string
	rows     []inspection.StatusRow
}

// Run processes rows and applies the outcome to rows and ledger.
//
// Each row is written back at its original index, so rows keeps its order and
// rows that were not resolved are left exactly as they were. Usage is added to
// ledger once all workers are done. If ctx ends, the partial results are still
// merged and ctx.Err() is returned alongside the summary.
func (r *Runner) Run(ctx context.Context, ledger *inspection.Ledger, rows []inspection.StatusRow) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: runIDFrom(ctx)}
	if summary.RunID == "" {
		summary.RunID = r.newID()
		ctx = WithRunID(ctx, summary.RunID)
	}

	partitions := partitionByProperty(rows)
	summary.Groups = len(partitions)

	log.Info().
		Str("run_id", summary.RunID).
		Int("rows", len(rows)).
		Int("properties", len(partitions)).
		Msg("Starting inspection run")

	results := make([]GroupResult, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range partitions {
		g.Go(func() error {
			results[i] = r.worker.Process(gctx, p.property, p.rows)
			return results[i].Err
		})
	}
	runErr := g.Wait()

	index := make(map[int]int, len(rows))
	for i, row := range rows {
		index[row.Position] = i
	}

	usage := make(map[string]userUsage)
	for _, res := range results {
		for _, row := range res.Rows {
			i, ok := index[row.Position]
			if !ok {
				continue
			}
			rows[i] = row
		}
		for user, delta := range res.Usage {
			key := inspection.UserKey(user)
			if key == "" {
				continue
			}
			entry := usage[key]
			name := strings.TrimSpace(user)
			if entry.name == "" || name < entry.name {
				entry.name = name
			}
			entry.delta = entry.delta.Merge(delta)
			usage[key] = entry
		}
		summary.Stats.Add(res.Stats)
	}

	summary.Users, summary.NewUsers = applyUsage(ledger, usage)
	summary.Duration = time.Since(start)

	for _, snap := range r.worker.quotas.Snapshots() {
		log.Debug().
			Str("run_id", summary.RunID).
			Str("property", snap.Property).
			Str("state", string(snap.State)).
			Int("count", snap.Count).
			Int("suspensions", snap.Suspensions).
			Msg("Property quota at end of run")
	}

	if runErr != nil {
		summary.Cancelled = true
		log.Warn().
			Err(runErr).
			Str("run_id", summary.RunID).
			Int("processed", summary.Rows).
			Msg("Inspection run stopped early")
		return summary, fmt.Errorf("inspection run %s interrupted: %w", summary.RunID, runErr)
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int("rows", summary.Rows).
		Int("cache_hits", summary.CacheHits).
		Int("fetched", summary.Fetched).
		Int("skipped", summary.Skipped).
		Int("suspensions", summary.Suspensions).
		Dur("duration", summary.Duration).
		Msg("Inspection run completed")

	return summary, nil
}

// partitionByProperty groups rows by property in sorted property order.
// Each partition holds copies of its rows in their original relative order.
func partitionByProperty(rows []inspection.StatusRow) []partition {
	byProperty := make(map[string][]inspection.StatusRow)
	for _, row := range rows {
		key := strings.TrimSpace(row.Property)
		byProperty[key] = append(byProperty[key], row)
	}

	out := make([]partition, 0, len(byProperty))
	for property, group := range byProperty {
		out = append(out, partition{property: property, rows: group})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].property < out[j].property })
	return out
}

// userUsage is the merged usage of every spelling of one ledger user.
// name is the smallest spelling seen so appended rows do not depend on map order.
type userUsage struct {
	name  string
	delta inspection.Usage
}

// applyUsage adds usage deltas to the ledger in user key order and reports how many
// users were touched and how many of those were appended
func applyUsage(ledger *inspection.Ledger, usage map[string]userUsage) (touched, appended int) {
	if ledger == nil {
		return 0, 0
	}

	keys := make([]string, 0, len(usage))
	for key := range usage {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := usage[key]
		if entry.delta.Count == 0 || key == "" {
			continue
		}
		touched++
		if ledger.Apply(entry.name, entry.delta) {
			appended++
			log.Info().Str("user", entry.name).Msg("User not found in ledger, added new row")
		}
	}
	return touched, appended
}
