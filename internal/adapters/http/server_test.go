package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contrisk/internal/ports"
	"contrisk/internal/risk"
	"contrisk/internal/services/analysis"
	"contrisk/internal/workers/riskrunner"
)

func ptr[T any](v T) *T { return &v }

type memStore struct {
	mu        sync.Mutex
	contracts map[string]risk.Snapshot
	results   map[string]risk.Result
	readErr   error
}

func (m *memStore) GetContractSnapshot(_ context.Context, id string) (risk.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.contracts[id]
	if !ok {
		return risk.Snapshot{}, &risk.NotFoundError{ContractID: id}
	}
	return snap, nil
}

func (m *memStore) SaveRiskAnalysis(_ context.Context, id string, res risk.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[id] = res
	return nil
}

func (m *memStore) GetRiskAnalysis(_ context.Context, id string) (risk.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return risk.Result{}, false, m.readErr
	}
	res, ok := m.results[id]
	return res, ok, nil
}

func (m *memStore) NotifyRisk(context.Context, string, risk.Result) error { return nil }

type memJobs struct {
	mu        sync.Mutex
	completed []string
}

func (j *memJobs) Enqueue(_ context.Context, contractID string) (string, error) {
	if contractID == "missing" {
		return "", &risk.NotFoundError{ContractID: contractID}
	}
	return "job-" + contractID, nil
}

func (j *memJobs) ClaimNext(context.Context) (ports.RefreshJob, bool, error) {
	return ports.RefreshJob{}, false, nil
}

func (j *memJobs) StartJobForContract(_ context.Context, contractID string) (string, error) {
	return "job-" + contractID, nil
}

func (j *memJobs) MarkCompleted(_ context.Context, jobID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed = append(j.completed, jobID)
	return nil
}

func (j *memJobs) MarkFailed(context.Context, string, string) error { return nil }

const penaltyText = "Multa de 50% do valor total em caso de rescisão antecipada."

func newTestServer(t *testing.T) (*httptest.Server, *memStore, *memJobs) {
	t.Helper()
	engine, err := risk.New(nil)
	require.NoError(t, err)
	st := &memStore{
		contracts: map[string]risk.Snapshot{"c1": {
			ID: "c1", Value: ptr(50000.0), Currency: "BRL",
			EffectiveDate: "2023-01-01", TerminationDate: "2026-01-01", ClauseText: penaltyText,
		}},
		results: map[string]risk.Result{},
	}
	jobs := &memJobs{}
	svc := analysis.New(engine, st, st, st, st, jobs)
	srv := httptest.NewServer(New(svc, jobs, riskrunner.RefreshProcessor{Analyzer: svc}, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, st, jobs
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decodeError(t *testing.T, raw []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.True(t, strings.HasPrefix(env.RequestID, "req_"), env.RequestID)
	return env
}

func TestHealthzAndLevels(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, raw := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	resp, raw = do(t, http.MethodGet, srv.URL+"/risk/levels", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var levels []levelInfo
	require.NoError(t, json.Unmarshal(raw, &levels))
	require.Len(t, levels, 4)
	assert.Equal(t, levelInfo{Level: risk.LevelLow, Label: "Baixo", Color: "green", MinScore: 0}, levels[0])
	assert.Equal(t, levelInfo{Level: risk.LevelCritical, Label: "Crítico", Color: "red", MinScore: 85}, levels[3])
}

func TestAnalyzePreview(t *testing.T) {
	srv, st, _ := newTestServer(t)

	body := `{"id":"p1","value":50000,"currency":"BRL","effectiveDate":"2023-01-01","terminationDate":"2026-01-01",
		"clauseText":"` + penaltyText + `","clientRiskSignal":{"source":"serasa","details":{"score":700}}}`
	resp, raw := do(t, http.MethodPost, srv.URL+"/risk/analyze", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var res risk.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "p1", res.ContractID)
	assert.Equal(t, risk.LevelMedium, res.RiskLevel)
	require.Len(t, res.SensitiveClausesFound, 1)
	assert.Equal(t, risk.ClausePenalty, res.SensitiveClausesFound[0].Type)
	require.Len(t, res.ExternalData, 1)
	assert.Empty(t, st.results)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"missing value", `{"id":"p1"}`, http.StatusUnprocessableEntity, "invalid_input"},
		{"negative value", `{"id":"p1","value":-3}`, http.StatusUnprocessableEntity, "invalid_input"},
		{"bad date", `{"id":"p1","value":3,"effectiveDate":"ontem"}`, http.StatusUnprocessableEntity, "invalid_input"},
		{"malformed json", `{"id":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", `{"id":"p1","value":3,"score":99}`, http.StatusBadRequest, "bad_request"},
		{"nested signal detail", `{"id":"p1","value":3,"clientRiskSignal":{"source":"x","details":{"a":{"b":1}}}}`, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := do(t, http.MethodPost, srv.URL+"/risk/analyze", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			env := decodeError(t, raw)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}

	_, raw := do(t, http.MethodPost, srv.URL+"/risk/analyze", `{"id":"p1"}`)
	env := decodeError(t, raw)
	assert.Equal(t, map[string]any{"field": "value", "reason": "is required"}, env.Error.Details)
}

func TestGetContractRisk(t *testing.T) {
	srv, st, _ := newTestServer(t)

	resp, raw := do(t, http.MethodGet, srv.URL+"/contracts/c1/risk", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var res risk.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "c1", res.ContractID)
	assert.Contains(t, st.results, "c1")

	resp, raw = do(t, http.MethodGet, srv.URL+"/contracts/nope/risk", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, raw).Error.Code)

	st.readErr = errors.New("connection refused")
	resp, raw = do(t, http.MethodGet, srv.URL+"/contracts/c1/risk", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	env := decodeError(t, raw)
	assert.Equal(t, "risk analysis unavailable, retry", env.Error.Message)
	assert.NotContains(t, string(raw), "connection refused")
}

func TestRefreshContractRisk(t *testing.T) {
	srv, st, jobs := newTestServer(t)

	resp, raw := do(t, http.MethodPost, srv.URL+"/contracts/c1/risk/refresh", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"jobId":"job-c1","contractId":"c1"}`, string(raw))
	assert.Empty(t, st.results)

	resp, raw = do(t, http.MethodPost, srv.URL+"/contracts/c1/risk/refresh?wait=true&timeout=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var res risk.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "c1", res.ContractID)
	assert.Equal(t, []string{"job-c1"}, jobs.completed)

	resp, raw = do(t, http.MethodPost, srv.URL+"/contracts/c1/risk/refresh?wait=maybe", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", decodeError(t, raw).Error.Code)

	resp, _ = do(t, http.MethodPost, srv.URL+"/contracts/missing/risk/refresh", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/risk/analyze", `{"id":"m1","value":10}`)

	resp, raw := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "contrisk_analysis_results_total")
}
