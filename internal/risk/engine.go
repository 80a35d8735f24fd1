package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Engine scores contracts. It holds no mutable state after construction and
// is safe for concurrent use.
type Engine struct {
	cfg      *Configuration
	registry *Registry
	logger   *zap.Logger
}

type Option func(*engineOptions)

type engineOptions struct {
	logger    *zap.Logger
	detectors []registryEntry
}

func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithDetector adds d to the registry, replacing a configured detector of the same type.
func WithDetector(d Detector, priority int) Option {
	return func(o *engineOptions) {
		o.detectors = append(o.detectors, registryEntry{detector: d, priority: priority})
	}
}

// New builds an engine from cfg. A nil cfg selects the embedded default catalog.
func New(cfg *Configuration, opts ...Option) (*Engine, error) {
	if cfg == nil {
		def, err := DefaultConfiguration()
		if err != nil {
			return nil, err
		}
		cfg = def
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := engineOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	registry := NewRegistry()
	for _, spec := range cfg.Clauses {
		d, err := NewPatternDetector(spec)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(d, spec.Priority); err != nil {
			return nil, err
		}
	}
	for _, e := range o.detectors {
		registry.Replace(e.detector, e.priority)
	}
	return &Engine{cfg: cfg, registry: registry, logger: o.logger}, nil
}

// Analyze scores a contract snapshot using the default configuration when cfg is nil.
// Callers analysing many contracts should build one Engine and reuse it.
func Analyze(snap Snapshot, cfg *Configuration) (Result, error) {
	e, err := New(cfg)
	if err != nil {
		return Result{}, err
	}
	return e.Analyze(snap)
}

// ClauseTypes returns the active clause vocabulary.
func (e *Engine) ClauseTypes() []ClauseType { return e.registry.Types() }

type validSnapshot struct {
	value     float64
	months    int
	hasPeriod bool
	doc       *Document
}

func (e *Engine) validate(snap Snapshot) (validSnapshot, error) {
	var v validSnapshot
	if strings.TrimSpace(snap.ID) == "" {
		return v, invalid("id", "is required")
	}
	if snap.Value == nil {
		return v, invalid("value", "is required")
	}
	v.value = *snap.Value
	if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
		return v, invalid("value", "must be a finite number")
	}
	if v.value < 0 {
		return v, invalid("value", "must not be negative, got %v", v.value)
	}

	start, hasStart, err := parseDate("effectiveDate", snap.EffectiveDate)
	if err != nil {
		return v, err
	}
	end, hasEnd, err := parseDate("terminationDate", snap.TerminationDate)
	if err != nil {
		return v, err
	}
	if hasStart && hasEnd {
		if end.Before(start) {
			return v, invalid("terminationDate", "precedes effectiveDate")
		}
		v.months = MonthsBetween(start, end)
		v.hasPeriod = true
	}

	if snap.ClientRiskSignal != nil {
		if err := snap.ClientRiskSignal.validate(); err != nil {
			return v, err
		}
	}
	v.doc = ParseDocument(snap.ClauseText)
	return v, nil
}

// Analyze produces one result for snap. Only structural input problems are
// errors; missing optional data lowers the affected sub-score instead, and a
// failing detector contributes no clauses and a warning.
func (e *Engine) Analyze(snap Snapshot) (Result, error) {
	v, err := e.validate(snap)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		ContractID:            snap.ID,
		Factors:               []Factor{},
		SensitiveClausesFound: []SensitiveClause{},
	}

	res.FinancialRisk = FinancialRisk{
		Value:     v.value,
		Currency:  strings.ToUpper(strings.TrimSpace(snap.Currency)),
		RiskLevel: e.cfg.Financial.levelFor(v.value),
	}
	if lvl := res.FinancialRisk.RiskLevel; lvl.Rank() > LevelLow.Rank() {
		res.Factors = append(res.Factors, e.factor(FactorFinancialExposure, lvl,
			fmt.Sprintf("Valor do contrato (%s) na faixa de risco %s",
				FormatAmount(v.value, res.FinancialRisk.Currency), LabelFor(lvl))))
	}

	res.DurationRisk = DurationRisk{Months: 0, RiskLevel: LevelLow}
	if v.hasPeriod {
		res.DurationRisk = DurationRisk{Months: v.months, RiskLevel: e.cfg.Duration.levelFor(float64(v.months))}
		if lvl := res.DurationRisk.RiskLevel; lvl.Rank() > LevelLow.Rank() {
			res.Factors = append(res.Factors, e.factor(FactorContractDuration, lvl,
				fmt.Sprintf("Vigência de %d meses na faixa de risco %s", v.months, LabelFor(lvl))))
		}
	}

	clauses, detectErr := e.detect(v.doc)
	res.SensitiveClausesFound = append(res.SensitiveClausesFound, clauses...)
	for _, err := range multierr.Errors(detectErr) {
		res.Warnings = append(res.Warnings, err.Error())
	}
	if detectErr != nil {
		e.logger.Warn("clause detection degraded",
			zap.String("contract_id", snap.ID), zap.Error(detectErr))
	}
	if len(clauses) > 0 {
		worst := LevelLow
		for _, c := range clauses {
			worst = worst.Max(c.RiskLevel)
		}
		res.Factors = append(res.Factors, e.factor(FactorSensitiveClauses, worst,
			fmt.Sprintf("%d cláusula(s) sensível(is) encontrada(s); maior risco %s", len(clauses), LabelFor(worst))))
	}

	res.Score = e.score(res)
	res.RiskLevel = LevelForScore(res.Score)

	if snap.ClientRiskSignal != nil {
		res.ExternalData = []ExternalSignal{snap.ClientRiskSignal.clone()}
	}

	e.logger.Debug("risk analysis complete",
		zap.String("contract_id", snap.ID),
		zap.Int("score", res.Score),
		zap.String("risk_level", string(res.RiskLevel)),
		zap.Int("clauses", len(res.SensitiveClausesFound)))
	return res, nil
}

func (e *Engine) factor(factorType string, level RiskLevel, description string) Factor {
	return Factor{
		Type:           factorType,
		Description:    description,
		Impact:         e.cfg.Impacts[level],
		Recommendation: e.cfg.recommendation(factorType, level),
	}
}

// sentenceKey identifies one sentence of a paragraph. Repeated sentences with
// the same text are told apart by occurrence, counted per detector; every
// detector reports a sentence at most once, so the n-th repeat agrees across
// detectors.
type sentenceKey struct {
	page, paragraph int
	text            string
	occurrence      int
}

// detect runs every detector in priority order and reports each sentence
// once. When several detectors claim a sentence the most severe clause is
// kept; priority only breaks ties between equal levels.
func (e *Engine) detect(doc *Document) ([]SensitiveClause, error) {
	if doc.Empty() {
		return nil, nil
	}
	claimed := make(map[sentenceKey]int)
	var (
		out  []SensitiveClause
		errs error
	)
	for _, entry := range e.registry.entries {
		found, err := runDetector(entry.detector, doc)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		seen := make(map[sentenceKey]int)
		for _, c := range found {
			key := sentenceKey{page: c.Location.Page, paragraph: c.Location.Paragraph, text: c.Text}
			n := seen[key]
			seen[key] = n + 1
			key.occurrence = n

			if i, ok := claimed[key]; ok {
				if c.RiskLevel.Rank() > out[i].RiskLevel.Rank() {
					out[i] = c
				}
				continue
			}
			claimed[key] = len(out)
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Location.Page != out[j].Location.Page {
			return out[i].Location.Page < out[j].Location.Page
		}
		return out[i].Location.Paragraph < out[j].Location.Paragraph
	})
	return out, errs
}

// runDetector isolates a detector so that an error or panic only costs its own clauses.
func runDetector(d Detector, doc *Document) (found []SensitiveClause, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = &DetectorError{ClauseType: d.ClauseType(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	found, err = d.Detect(doc)
	if err != nil {
		return nil, &DetectorError{ClauseType: d.ClauseType(), Err: err}
	}
	for _, c := range found {
		if !c.RiskLevel.Valid() {
			return nil, &DetectorError{ClauseType: d.ClauseType(), Err: fmt.Errorf("invalid risk level %q", c.RiskLevel)}
		}
	}
	return found, nil
}

// score blends the four components, each normalised to [0,1]. Every
// component is non-decreasing in the severity it measures, so the score is too.
func (e *Engine) score(res Result) int {
	w := e.cfg.Weights

	maxImpact := 0
	for _, f := range res.Factors {
		if f.Impact > maxImpact {
			maxImpact = f.Impact
		}
	}
	factors := float64(maxImpact) / 10

	financial := float64(res.FinancialRisk.RiskLevel.Rank()) / 3
	duration := float64(res.DurationRisk.RiskLevel.Rank()) / 3

	points := 0.0
	for _, c := range res.SensitiveClausesFound {
		points += e.cfg.ClausePoints[c.RiskLevel]
	}
	clauses := math.Min(1, points/e.cfg.ClauseSaturation)

	total := w.Factors*factors + w.Financial*financial + w.Duration*duration + w.Clauses*clauses
	score := int(math.Round(100 * total / w.sum()))
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}
