// Package analysis serves contract risk results: it resolves contracts through
// the data provider, runs the engine, persists through the sink and decides
// whether a result warrants a notification.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"contrisk/internal/metrics"
	"contrisk/internal/ports"
	"contrisk/internal/risk"
)

type Service struct {
	engine   *risk.Engine
	provider ports.ContractDataProvider
	sink     ports.RiskResultSink
	reader   ports.RiskResultReader
	notifier ports.Notifier
	jobs     ports.RefreshJobRepository
	notifyAt risk.RiskLevel
	logger   *zap.Logger
}

type Option func(*Service)

// WithNotifyAt sets the lowest level that triggers a notification. Default high.
func WithNotifyAt(level risk.RiskLevel) Option {
	return func(s *Service) { s.notifyAt = level }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(engine *risk.Engine, provider ports.ContractDataProvider, sink ports.RiskResultSink, reader ports.RiskResultReader,
	notifier ports.Notifier, jobs ports.RefreshJobRepository, opts ...Option) *Service {
	s := &Service{
		engine:   engine,
		provider: provider,
		sink:     sink,
		reader:   reader,
		notifier: notifier,
		jobs:     jobs,
		notifyAt: risk.LevelHigh,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored result for a contract, analysing it first if none exists.
func (s *Service) Get(ctx context.Context, contractID string) (risk.Result, error) {
	res, found, err := s.reader.GetRiskAnalysis(ctx, contractID)
	if err != nil {
		return risk.Result{}, s.fail(contractID, err)
	}
	if found {
		metrics.ObserveResult(metrics.ModeCached, res)
		return res, nil
	}
	return s.Refresh(ctx, contractID)
}

// Refresh re-analyses a contract and stores the new result.
func (s *Service) Refresh(ctx context.Context, contractID string) (risk.Result, error) {
	snap, err := s.provider.GetContractSnapshot(ctx, contractID)
	if err != nil {
		return risk.Result{}, s.fail(contractID, err)
	}
	res, err := s.engine.Analyze(snap)
	if err != nil {
		return risk.Result{}, s.fail(contractID, err)
	}
	if err := s.sink.SaveRiskAnalysis(ctx, contractID, res); err != nil {
		return risk.Result{}, s.fail(contractID, fmt.Errorf("save risk analysis: %w", err))
	}
	metrics.ObserveResult(metrics.ModeRefresh, res)
	s.logger.Info("contract analysed",
		zap.String("contract_id", contractID),
		zap.Int("score", res.Score),
		zap.String("level", string(res.RiskLevel)),
		zap.Int("clauses", len(res.SensitiveClausesFound)),
	)

	if res.RiskLevel.Rank() >= s.notifyAt.Rank() {
		// The result is already stored; a lost notification does not undo it.
		if err := s.notifier.NotifyRisk(ctx, contractID, res); err != nil {
			s.logger.Warn("risk notification failed", zap.String("contract_id", contractID), zap.Error(err))
		}
	}
	return res, nil
}

// Preview analyses a caller supplied snapshot without storing anything.
func (s *Service) Preview(_ context.Context, snap risk.Snapshot) (risk.Result, error) {
	res, err := s.engine.Analyze(snap)
	if err != nil {
		return risk.Result{}, s.fail(snap.ID, err)
	}
	metrics.ObserveResult(metrics.ModePreview, res)
	return res, nil
}

// Enqueue schedules an asynchronous refresh and returns the job id.
func (s *Service) Enqueue(ctx context.Context, contractID string) (string, error) {
	jobID, err := s.jobs.Enqueue(ctx, contractID)
	if err != nil {
		return "", s.fail(contractID, err)
	}
	return jobID, nil
}

func (s *Service) fail(contractID string, err error) error {
	kind := "unavailable"
	switch {
	case errors.Is(err, risk.ErrNotFound):
		kind = "not_found"
	case errors.Is(err, risk.ErrInvalidInput):
		kind = "invalid_input"
	default:
		s.logger.Error("risk analysis failed", zap.String("contract_id", contractID), zap.Error(err))
	}
	metrics.ObserveError(kind)
	return err
}
