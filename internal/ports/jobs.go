package ports

import (
	"context"
	"errors"
)

type RefreshJob struct {
	ID         string
	ContractID string
}

// RefreshJobRepository supports queueing, claiming and finishing risk refresh jobs.
type RefreshJobRepository interface {
	// Enqueue returns the id of the contract's queued or running job if one exists.
	Enqueue(ctx context.Context, contractID string) (jobID string, err error)
	ClaimNext(ctx context.Context) (job RefreshJob, found bool, err error)
	StartJobForContract(ctx context.Context, contractID string) (jobID string, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}

// ErrJobInFlight is returned by StartJobForContract when a worker already runs the contract's job.
var ErrJobInFlight = errors.New("refresh job already running")
