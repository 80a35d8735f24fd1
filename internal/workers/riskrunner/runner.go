package riskrunner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"contrisk/internal/metrics"
	"contrisk/internal/ports"
)

// Processor performs the refresh work for a contract.
type Processor interface {
	Process(ctx context.Context, contractID string) error
}

// RefreshProcessor re-analyses the contract and stores the result.
type RefreshProcessor struct{ Analyzer ports.Analyzer }

func (p RefreshProcessor) Process(ctx context.Context, contractID string) error {
	_, err := p.Analyzer.Refresh(ctx, contractID)
	return err
}

// Run claims queued jobs every pollInterval and fans them out to concurrency
// workers. It blocks until ctx is done and every worker has returned.
func Run(ctx context.Context, repo ports.RefreshJobRepository, processor Processor, concurrency int, pollInterval time.Duration, logger *zap.Logger) {
	if concurrency < 1 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	jobsCh := make(chan ports.RefreshJob, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			log := logger.With(zap.Int("worker", idx))
			for job := range jobsCh {
				err := processor.Process(ctx, job.ContractID)
				finish(ctx, repo, job.ID, err, log.With(zap.String("contract_id", job.ContractID)))
			}
		}(i)
	}

	dispatch(ctx, repo, jobsCh, pollInterval, logger)
	close(jobsCh)
	wg.Wait()
}

func dispatch(ctx context.Context, repo ports.RefreshJobRepository, jobsCh chan<- ports.RefreshJob, pollInterval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			job, found, err := repo.ClaimNext(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("job claim failed", zap.Error(err))
				}
				break
			}
			if !found {
				break
			}
			select {
			case jobsCh <- job:
			case <-ctx.Done():
				// Claimed but never started; let it be retried.
				finish(ctx, repo, job.ID, ctx.Err(), logger)
				return
			}
		}
	}
}

// finish records a job outcome. Bookkeeping outlives ctx so that a shutdown
// does not leave jobs stuck in running.
func finish(ctx context.Context, repo ports.RefreshJobRepository, jobID string, procErr error, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if procErr != nil {
		metrics.ObserveJob("failed")
		logger.Warn("refresh job failed", zap.String("job_id", jobID), zap.Error(procErr))
		if err := repo.MarkFailed(ctx, jobID, procErr.Error()); err != nil {
			logger.Error("mark failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}
	metrics.ObserveJob("completed")
	if err := repo.MarkCompleted(ctx, jobID); err != nil {
		logger.Error("mark completed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// ProcessInline refreshes a specific contract synchronously through the same
// processor the workers use, tracking it as a job. When a worker already holds
// the contract's job the processor still runs, untracked. A failure to record
// the outcome is returned alongside the processing error.
func ProcessInline(ctx context.Context, repo ports.RefreshJobRepository, processor Processor, contractID string) error {
	jobID, err := repo.StartJobForContract(ctx, contractID)
	if errors.Is(err, ports.ErrJobInFlight) {
		return processor.Process(ctx, contractID)
	}
	if err != nil {
		return err
	}
	if err := processor.Process(ctx, contractID); err != nil {
		metrics.ObserveJob("failed")
		return multierr.Append(err, repo.MarkFailed(context.WithoutCancel(ctx), jobID, err.Error()))
	}
	metrics.ObserveJob("completed")
	return repo.MarkCompleted(ctx, jobID)
}
