package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"contrisk/internal/ports"
	"contrisk/internal/risk"
	"contrisk/internal/workers/riskrunner"
)

const defaultRefreshTimeout = 30

// Server exposes risk analysis over HTTP.
type Server struct {
	analyzer  ports.Analyzer
	jobs      ports.RefreshJobRepository
	processor riskrunner.Processor
	logger    *zap.Logger
}

func New(analyzer ports.Analyzer, jobs ports.RefreshJobRepository, processor riskrunner.Processor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{analyzer: analyzer, jobs: jobs, processor: processor, logger: logger}
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/risk/levels", s.getRiskLevels)
	r.Post("/risk/analyze", s.postRiskAnalyze)
	r.Get("/contracts/{id}/risk", s.getContractRisk)
	r.Post("/contracts/{id}/risk/refresh", s.postContractRiskRefresh)
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type levelInfo struct {
	Level    risk.RiskLevel `json:"level"`
	Label    string         `json:"label"`
	Color    string         `json:"color"`
	MinScore int            `json:"minScore"`
}

func (s *Server) getRiskLevels(w http.ResponseWriter, _ *http.Request) {
	out := make([]levelInfo, 0, len(risk.Levels))
	for _, l := range risk.Levels {
		out = append(out, levelInfo{Level: l, Label: risk.LabelFor(l), Color: risk.ColorClassFor(l), MinScore: risk.MinScore(l)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) postRiskAnalyze(w http.ResponseWriter, r *http.Request) {
	var snap risk.Snapshot
	if err := readJSON(r, &snap); err != nil {
		s.writeError(w, r, &badRequestError{msg: "invalid request body", err: err})
		return
	}
	res, err := s.analyzer.Preview(r.Context(), snap)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getContractRisk(w http.ResponseWriter, r *http.Request) {
	id, err := contractIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.analyzer.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type refreshParams struct {
	Wait    *bool
	Timeout *int
}

type refreshAccepted struct {
	JobID      string `json:"jobId"`
	ContractID string `json:"contractId"`
}

func (s *Server) postContractRiskRefresh(w http.ResponseWriter, r *http.Request) {
	id, err := contractIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var params refreshParams
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "wait", query, &params.Wait); err != nil {
		s.writeError(w, r, &badRequestError{msg: "invalid wait parameter", err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "timeout", query, &params.Timeout); err != nil {
		s.writeError(w, r, &badRequestError{msg: "invalid timeout parameter", err: err})
		return
	}

	if params.Wait == nil || !*params.Wait {
		jobID, err := s.analyzer.Enqueue(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, refreshAccepted{JobID: jobID, ContractID: id})
		return
	}

	timeout := defaultRefreshTimeout
	if params.Timeout != nil && *params.Timeout > 0 {
		timeout = *params.Timeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeout)*time.Second)
	defer cancel()
	// Same processor as the background workers.
	if err := riskrunner.ProcessInline(ctx, s.jobs, s.processor, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.analyzer.Get(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func contractIDParam(r *http.Request) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", &badRequestError{msg: "invalid contract id", err: err}
	}
	return id, nil
}

type badRequestError struct {
	msg string
	err error
}

func (e *badRequestError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

type ctxKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := "req_" + uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return "req_" + uuid.NewString()
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type errorEnvelope struct {
	RequestID string    `json:"request_id"`
	Error     errorBody `json:"error"`
}

// writeError maps an error onto the response. Anything unexpected is reported
// as a retryable outage, never as a partial result.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status = http.StatusServiceUnavailable
		body   = errorBody{Code: "unavailable", Message: "risk analysis unavailable, retry"}
		inv    *risk.InvalidInputError
		nf     *risk.NotFoundError
		bad    *badRequestError
	)
	switch {
	case errors.As(err, &bad):
		status, body = http.StatusBadRequest, errorBody{Code: "bad_request", Message: bad.msg, Details: bad.err.Error()}
	case errors.As(err, &inv):
		status, body = http.StatusUnprocessableEntity, errorBody{Code: "invalid_input", Message: inv.Error(),
			Details: map[string]string{"field": inv.Field, "reason": inv.Reason}}
	case errors.As(err, &nf):
		status, body = http.StatusNotFound, errorBody{Code: "not_found", Message: nf.Error(),
			Details: map[string]string{"contractId": nf.ContractID}}
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorEnvelope{RequestID: requestIDFrom(r.Context()), Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
