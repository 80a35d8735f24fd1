package ports

import (
	"context"

	"contrisk/internal/risk"
)

// ContractDataProvider resolves a contract id into the snapshot the engine scores.
// Unknown ids fail with *risk.NotFoundError.
type ContractDataProvider interface {
	GetContractSnapshot(ctx context.Context, contractID string) (risk.Snapshot, error)
}

// RiskResultSink persists an analysis result verbatim next to its score and level.
type RiskResultSink interface {
	SaveRiskAnalysis(ctx context.Context, contractID string, res risk.Result) error
}

// RiskResultReader replays a stored result without re-running the engine.
type RiskResultReader interface {
	GetRiskAnalysis(ctx context.Context, contractID string) (res risk.Result, found bool, err error)
}

// Notifier records that a contract crossed the notification threshold.
type Notifier interface {
	NotifyRisk(ctx context.Context, contractID string, res risk.Result) error
}
