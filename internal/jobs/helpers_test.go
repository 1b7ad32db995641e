//go:build unit || !integration

package jobs

import (
	"context"
	"sync"

	"github.com/Harvey-AU/index-inspector/internal/cache"
	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/Harvey-AU/index-inspector/internal/quota"
)

// fakeInspector answers every request through fn and records the call order
type fakeInspector struct {
	mu    sync.Mutex
	calls []inspection.Request
	fn    func(call int, req inspection.Request) (inspection.Result, error)
}

func (f *fakeInspector) Inspect(ctx context.Context, req inspection.Request) (inspection.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	call := len(f.calls)
	f.mu.Unlock()

	if f.fn == nil {
		return passResult(), nil
	}
	return f.fn(call, req)
}

func (f *fakeInspector) Calls() []inspection.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inspection.Request(nil), f.calls...)
}

func passResult() inspection.Result {
	return inspection.Result{
		Verdict:        "PASS",
		IndexingState:  "INDEXING_ALLOWED",
		CoverageState:  "Submitted and indexed",
		RobotsTxtState: "ALLOWED",
		PageFetchState: "SUCCESSFUL",
		LastCrawlTime:  "2026-10-01T08:00:00Z",
		CrawledAs:      "MOBILE",
	}
}

// fastQuotas returns a registry with no pacing and an immediate cooldown
func fastQuotas(ceiling int) *quota.Registry {
	return quota.NewRegistry(quota.Config{
		Ceiling:           ceiling,
		Window:            0,
		Cooldown:          0,
		RequestsPerMinute: 0,
	})
}

func emptyCache() *cache.InMemoryCache[inspection.Result] {
	return cache.NewInMemoryCache[inspection.Result]()
}

func statusRows(property string, user string, urls ...string) []inspection.StatusRow {
	rows := make([]inspection.StatusRow, 0, len(urls))
	for i, u := range urls {
		rows = append(rows, inspection.StatusRow{
			Position: i,
			User:     user,
			Property: property,
			URL:      u,
		})
	}
	return rows
}
