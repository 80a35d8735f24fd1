package ports

import (
	"context"

	"contrisk/internal/risk"
)

// Analyzer serves risk results to transports and workers.
type Analyzer interface {
	Get(ctx context.Context, contractID string) (risk.Result, error)
	Refresh(ctx context.Context, contractID string) (risk.Result, error)
	Preview(ctx context.Context, snap risk.Snapshot) (risk.Result, error)
	Enqueue(ctx context.Context, contractID string) (jobID string, err error)
}
