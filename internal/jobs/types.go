package jobs

import (
	"time"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
)

// Stats counts what a worker did with its rows
type Stats struct {
	Rows        int `json:"rows"`
	CacheHits   int `json:"cache_hits"`
	Fetched     int `json:"fetched"`
	Skipped     int `json:"skipped"`
	Retries     int `json:"retries"`
	Suspensions int `json:"suspensions"`
}

// Add accumulates other into s
func (s *Stats) Add(other Stats) {
	s.Rows += other.Rows
	s.CacheHits += other.CacheHits
	s.Fetched += other.Fetched
	s.Skipped += other.Skipped
	s.Retries += other.Retries
	s.Suspensions += other.Suspensions
}

// GroupResult is everything one property worker produced.
// Rows holds the worker's copy of its partition with results applied;
// Usage holds the ledger delta per user.
type GroupResult struct {
	Property string
	Rows     []inspection.StatusRow
	Usage    map[string]inspection.Usage
	Stats    Stats

	// Err is set when the worker stopped early because its context ended.
	Err error
}

// Summary describes a completed run
type Summary struct {
	RunID     string        `json:"run_id"`
	Groups    int           `json:"groups"`
	Users     int           `json:"users"`
	NewUsers  int           `json:"new_users"`
	Duration  time.Duration `json:"duration"`
	Cancelled bool          `json:"cancelled"`
	Stats
}
