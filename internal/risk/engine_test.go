package risk

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(nil, opts...)
	require.NoError(t, err)
	return e
}

func TestAnalyzePenaltyContract(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Analyze(Snapshot{
		ID:              "c1",
		Value:           ptr(50000.0),
		Currency:        "BRL",
		EffectiveDate:   "2023-01-01",
		TerminationDate: "2026-01-01",
		ClauseText:      "Multa de 50% do valor total em caso de rescisão antecipada.",
	})
	require.NoError(t, err)

	assert.Equal(t, "c1", res.ContractID)
	assert.Equal(t, 36, res.DurationRisk.Months)
	assert.Equal(t, LevelHigh, res.DurationRisk.RiskLevel)
	assert.Equal(t, LevelMedium, res.FinancialRisk.RiskLevel)
	assert.Equal(t, "BRL", res.FinancialRisk.Currency)
	assert.Equal(t, 50000.0, res.FinancialRisk.Value)

	require.Len(t, res.SensitiveClausesFound, 1)
	clause := res.SensitiveClausesFound[0]
	assert.Equal(t, ClausePenalty, clause.Type)
	assert.Equal(t, LevelHigh, clause.RiskLevel)
	assert.Equal(t, Location{Page: 1, Paragraph: 1}, clause.Location)
	assert.Equal(t, "Multa de 50% do valor total em caso de rescisão antecipada.", clause.Text)
	assert.NotEmpty(t, clause.Recommendation)

	assert.GreaterOrEqual(t, res.Score, 30)
	assert.Less(t, res.Score, 85)
	assert.Contains(t, []RiskLevel{LevelMedium, LevelHigh}, res.RiskLevel)
	assert.Equal(t, LevelForScore(res.Score), res.RiskLevel)

	types := make([]string, 0, len(res.Factors))
	for _, f := range res.Factors {
		types = append(types, f.Type)
		assert.GreaterOrEqual(t, f.Impact, 1)
		assert.LessOrEqual(t, f.Impact, 10)
	}
	assert.Equal(t, []string{FactorFinancialExposure, FactorContractDuration, FactorSensitiveClauses}, types)
	assert.Empty(t, res.Warnings)
}

func TestAnalyzeMinimalContract(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Analyze(Snapshot{ID: "c2", Value: ptr(100.0)})
	require.NoError(t, err)

	assert.Equal(t, DurationRisk{Months: 0, RiskLevel: LevelLow}, res.DurationRisk)
	assert.Empty(t, res.SensitiveClausesFound)
	assert.NotNil(t, res.SensitiveClausesFound)
	assert.Empty(t, res.Factors)
	assert.Less(t, res.Score, 30)
	assert.Equal(t, LevelLow, res.RiskLevel)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sensitiveClausesFound":[]`)
	assert.Contains(t, string(raw), `"factors":[]`)
	assert.NotContains(t, string(raw), "externalData")
}

func TestAnalyzeMissingDatesEmitsNoDurationFactor(t *testing.T) {
	e := newTestEngine(t)
	for _, snap := range []Snapshot{
		{ID: "a", Value: ptr(5e6), EffectiveDate: "2020-01-01"},
		{ID: "b", Value: ptr(5e6), TerminationDate: "2030-01-01"},
	} {
		res, err := e.Analyze(snap)
		require.NoError(t, err)
		assert.Equal(t, DurationRisk{Months: 0, RiskLevel: LevelLow}, res.DurationRisk)
		for _, f := range res.Factors {
			assert.NotEqual(t, FactorContractDuration, f.Type)
		}
	}
}

func TestAnalyzeInvalidInput(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		name  string
		snap  Snapshot
		field string
	}{
		{"missing value", Snapshot{ID: "x"}, "value"},
		{"negative value", Snapshot{ID: "x", Value: ptr(-1.0)}, "value"},
		{"NaN value", Snapshot{ID: "x", Value: ptr(math.NaN())}, "value"},
		{"infinite value", Snapshot{ID: "x", Value: ptr(math.Inf(1))}, "value"},
		{"missing id", Snapshot{Value: ptr(10.0)}, "id"},
		{"malformed effective date", Snapshot{ID: "x", Value: ptr(10.0), EffectiveDate: "01/02/2023"}, "effectiveDate"},
		{"malformed termination date", Snapshot{ID: "x", Value: ptr(10.0), TerminationDate: "soon"}, "terminationDate"},
		{"termination before effective", Snapshot{ID: "x", Value: ptr(10.0), EffectiveDate: "2024-01-01", TerminationDate: "2023-01-01"}, "terminationDate"},
		{"non-finite signal", Snapshot{ID: "x", Value: ptr(10.0), ClientRiskSignal: &ExternalSignal{
			Source: "bureau", Details: map[string]Value{"score": NumberValue(math.NaN())},
		}}, "clientRiskSignal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Analyze(tc.snap)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidInput)
			var inputErr *InvalidInputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tc.field, inputErr.Field)
		})
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	e := newTestEngine(t)
	snap := Snapshot{
		ID:              "det",
		Value:           ptr(250000.0),
		Currency:        "brl",
		EffectiveDate:   "2022-03-15",
		TerminationDate: "2025-09-14T10:00:00Z",
		ClauseText: "Fica eleito o foro da comarca de Curitiba.\n\n" +
			"A obrigação de confidencialidade vigorará por prazo indeterminado. O preço será reajustado anualmente pelo IPCA.\f" +
			"Multa diária de 1% por dia de atraso.",
		ClientRiskSignal: &ExternalSignal{Source: "serasa", Kind: "credit_score", Details: map[string]Value{
			"score": NumberValue(612), "negativado": BoolValue(false), "faixa": StringValue("C"),
		}},
	}
	first, err := e.Analyze(snap)
	require.NoError(t, err)
	second, err := e.Analyze(snap)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	require.Len(t, first.ExternalData, 1)
	assert.Equal(t, "serasa", first.ExternalData[0].Source)
	assert.Equal(t, 41, first.DurationRisk.Months)
}

func TestAnalyzeDoesNotShareResultState(t *testing.T) {
	e := newTestEngine(t)
	snap := Snapshot{ID: "m", Value: ptr(50000.0), ClauseText: "Multa de 10%.",
		ClientRiskSignal: &ExternalSignal{Source: "s", Details: map[string]Value{"k": StringValue("v")}}}
	first, err := e.Analyze(snap)
	require.NoError(t, err)
	first.SensitiveClausesFound[0].Text = "mutated"
	first.ExternalData[0].Details["k"] = StringValue("mutated")

	second, err := e.Analyze(snap)
	require.NoError(t, err)
	assert.Equal(t, "Multa de 10%.", second.SensitiveClausesFound[0].Text)
	v, _ := snap.ClientRiskSignal.Details["k"].String()
	assert.Equal(t, "v", v)
}

type failingDetector struct {
	clauseType ClauseType
	panics     bool
}

func (f failingDetector) ClauseType() ClauseType { return f.clauseType }

func (f failingDetector) Detect(*Document) ([]SensitiveClause, error) {
	if f.panics {
		panic("nlp backend crashed")
	}
	return nil, errors.New("nlp backend timeout")
}

func TestAnalyzeSurvivesDetectorFailure(t *testing.T) {
	text := "Multa de 20% sobre o valor.\n\nAs partes manterão sigilo sobre as informações."
	for _, panics := range []bool{false, true} {
		e := newTestEngine(t, WithDetector(failingDetector{clauseType: ClauseConfidentiality, panics: panics}, 60))
		res, err := e.Analyze(Snapshot{ID: "f", Value: ptr(1000.0), ClauseText: text})
		require.NoError(t, err)

		require.Len(t, res.SensitiveClausesFound, 1)
		assert.Equal(t, ClausePenalty, res.SensitiveClausesFound[0].Type)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], string(ClauseConfidentiality))
	}
}

type stubDetector struct{}

func (stubDetector) ClauseType() ClauseType { return "garantia" }

func (stubDetector) Detect(doc *Document) ([]SensitiveClause, error) {
	var out []SensitiveClause
	for _, p := range doc.Pages {
		for _, para := range p.Paragraphs {
			for _, s := range para.Sentences {
				if Fold(s.Text) == "fianca bancaria obrigatoria." {
					out = append(out, SensitiveClause{Type: "garantia", Text: s.Text,
						Location: Location{Page: p.Number, Paragraph: para.Number}, RiskLevel: LevelCritical})
				}
			}
		}
	}
	return out, nil
}

func TestAnalyzeWithAdditionalDetector(t *testing.T) {
	e := newTestEngine(t, WithDetector(stubDetector{}, 10))
	assert.Contains(t, e.ClauseTypes(), ClauseType("garantia"))

	res, err := e.Analyze(Snapshot{ID: "g", Value: ptr(10.0), ClauseText: "Primeira parte.\f\nFiança bancária obrigatória."})
	require.NoError(t, err)
	require.Len(t, res.SensitiveClausesFound, 1)
	assert.Equal(t, ClauseType("garantia"), res.SensitiveClausesFound[0].Type)
	assert.Equal(t, Location{Page: 2, Paragraph: 1}, res.SensitiveClausesFound[0].Location)
	assert.Equal(t, LevelCritical, res.SensitiveClausesFound[0].RiskLevel)
}

func TestAnalyzeConcurrentUse(t *testing.T) {
	e := newTestEngine(t)
	want, err := e.Analyze(Snapshot{ID: "p", Value: ptr(75000.0), ClauseText: "Multa de 5%."})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Analyze(Snapshot{ID: "p", Value: ptr(75000.0), ClauseText: "Multa de 5%."})
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestPackageAnalyzeUsesDefaults(t *testing.T) {
	res, err := Analyze(Snapshot{ID: "c2", Value: ptr(100.0)}, nil)
	require.NoError(t, err)
	assert.Equal(t, LevelLow, res.RiskLevel)
}
