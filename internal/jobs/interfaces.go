package jobs

import (
	"context"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
)

// Cache defines the read side of the response cache needed by GroupWorker
type Cache interface {
	Get(inspectionURL string) (inspection.Result, bool)
}

// RemoteInspector defines the remote lookup needed by GroupWorker.
// Implementations write successful results through to the cache.
type RemoteInspector interface {
	Inspect(ctx context.Context, req inspection.Request) (inspection.Result, error)
}
