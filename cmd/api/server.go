package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
	"github.com/WessleyAI/wessley-valuation/engine/domain"
	"github.com/WessleyAI/wessley-valuation/engine/ledger"
	"github.com/WessleyAI/wessley-valuation/engine/pricing"
	"github.com/WessleyAI/wessley-valuation/engine/similar"
	"github.com/WessleyAI/wessley-valuation/pkg/config"
	"github.com/WessleyAI/wessley-valuation/pkg/metrics"
	"github.com/WessleyAI/wessley-valuation/pkg/mid"
	"github.com/WessleyAI/wessley-valuation/pkg/repo"
	"github.com/WessleyAI/wessley-valuation/pkg/resilience"
)

// ledgerReader is the read side of the estimate ledger.
type ledgerReader interface {
	Get(ctx context.Context, id string) (ledger.Entry, error)
	List(ctx context.Context, q ledger.Query) ([]ledger.Entry, error)
}

// similarFinder looks up past valuations near a pipeline run.
type similarFinder interface {
	Similar(ctx context.Context, tr pricing.Trace, k int) ([]similar.Match, error)
}

type server struct {
	est      *pricing.Estimator
	cache    *artifact.Cache
	ledger   ledgerReader
	similar  similarFinder
	reg      *metrics.Registry
	logger   *slog.Logger
	validate func(domain.Record) error
	workers  int
	maxBatch int

	reloadFailures *metrics.Counter
}

func (s *server) routes() *http.ServeMux {
	s.reloadFailures = s.reg.Counter("wessley_artifact_reload_failures_total", "Forced reloads that kept the previous generation")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/estimate", s.handleEstimate)
	mux.HandleFunc("POST /api/v1/estimate/batch", s.handleBatch)
	mux.HandleFunc("POST /api/v1/estimate/inspect", s.handleInspect)
	mux.HandleFunc("GET /api/v1/artifacts", s.handleArtifacts)
	mux.HandleFunc("POST /api/v1/artifacts/reload", s.handleReload)
	mux.HandleFunc("POST /api/v1/similar", s.handleSimilar)
	mux.HandleFunc("GET /api/v1/estimates", s.handleListEstimates)
	mux.HandleFunc("GET /api/v1/estimates/{id}", s.handleGetEstimate)
	mux.Handle("GET /metrics", s.reg.Handler())
	return mux
}

func (s *server) handler(cfg config.Config) http.Handler {
	return mid.Chain(s.routes(),
		mid.Recover(s.logger),
		mid.RequestID(),
		mid.OTel("wessley-valuation"),
		mid.Logger(s.logger),
		mid.Metrics(s.reg),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(cfg.RateLimit, cfg.RateBurst),
		mid.MaxBody(cfg.MaxBodyBytes),
	)
}

// --- Handlers ---

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{"status": "ok", "artifacts": "missing"}
	if b := s.cache.Current(); b != nil {
		resp["artifacts"] = "loaded"
		resp["generation"] = b.Generation.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	tr, err := s.est.Evaluate(r.Context(), rec)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing.NewResponse(tr))
}

func (s *server) handleInspect(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	tr, err := s.est.Inspect(r.Context(), rec)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing.NewInspection(tr))
}

// BatchResult is one element of the batch response, in request order.
type BatchResult struct {
	Index  int               `json:"index"`
	Result *pricing.Response `json:"result,omitempty"`
	Error  *errorBody        `json:"error,omitempty"`
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var records []domain.Record
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "decode"})
		return
	}
	if len(records) == 0 || len(records) > s.maxBatch {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "batch must hold 1 to " + strconv.Itoa(s.maxBatch) + " records", Kind: "batch_size"})
		return
	}

	out := make([]BatchResult, len(records))
	var valid []domain.Record
	var index []int
	for i, rec := range records {
		out[i].Index = i
		if err := s.validate(rec); err != nil {
			out[i].Error = bodyFor(err)
			continue
		}
		valid = append(valid, rec)
		index = append(index, i)
	}

	for j, item := range s.est.EstimateBatch(r.Context(), valid, s.workers) {
		i := index[j]
		if item.Err != nil {
			out[i].Error = bodyFor(item.Err)
			continue
		}
		resp := pricing.NewResponse(item.Trace)
		out[i].Result = &resp
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	b, err := s.cache.Get(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing.NewArtifactInfo(b))
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	res, err := s.reload(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reload forces an artifact reload. On failure the result names the
// generation still being served.
func (s *server) reload(ctx context.Context) (pricing.ReloadResult, error) {
	var res pricing.ReloadResult
	if prev := s.cache.Current(); prev != nil {
		res.Previous = prev.Generation.ID
	}
	b, err := s.cache.ForceReload(ctx)
	if err != nil {
		s.reloadFailures.Inc()
		res.Generation = res.Previous
		res.Error = err.Error()
		return res, err
	}
	res.Generation = b.Generation.ID
	return res, nil
}

// SimilarResponse pairs a fresh estimate with past valuations near it.
type SimilarResponse struct {
	Estimate pricing.Response `json:"estimate"`
	Matches  []similar.Match  `json:"matches"`
}

func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if s.similar == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "similar index is not configured", Kind: "disabled"})
		return
	}
	k, err := queryInt(r.URL.Query(), "k")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "decode"})
		return
	}
	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	tr, err := s.est.Inspect(r.Context(), rec)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	matches, err := s.similar.Similar(r.Context(), tr, k)
	if err != nil {
		s.logger.Error("similar lookup failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "similar index unavailable", Kind: "upstream"})
		return
	}
	writeJSON(w, http.StatusOK, SimilarResponse{Estimate: pricing.NewResponse(tr), Matches: matches})
}

func (s *server) handleListEstimates(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "estimate ledger is not configured", Kind: "disabled"})
		return
	}
	q := r.URL.Query()
	offset, err := queryInt(q, "offset")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "decode"})
		return
	}
	limit, err := queryInt(q, "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "decode"})
		return
	}
	entries, err := s.ledger.List(r.Context(), ledger.Query{
		Generation: q.Get("generation"),
		Brand:      q.Get("brand"),
		Offset:     offset,
		Limit:      limit,
	})
	if err != nil {
		s.logger.Error("ledger list failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "estimate ledger unavailable", Kind: "upstream"})
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleGetEstimate(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "estimate ledger is not configured", Kind: "disabled"})
		return
	}
	e, err := s.ledger.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, repo.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "estimate not found", Kind: "not_found"})
		return
	}
	if err != nil {
		s.logger.Error("ledger get failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "estimate ledger unavailable", Kind: "upstream"})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// --- Helpers ---

func (s *server) decodeRecord(w http.ResponseWriter, r *http.Request) (domain.Record, bool) {
	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "decode"})
		return rec, false
	}
	if err := s.validate(rec); err != nil {
		writeJSON(w, http.StatusBadRequest, bodyFor(err))
		return rec, false
	}
	return rec, true
}

// queryInt reads a non-negative integer query parameter; absent means 0.
func queryInt(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("query parameter %s must be a non-negative integer, got %q", name, v)
	}
	return n, nil
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func bodyFor(err error) *errorBody {
	return &errorBody{Error: err.Error(), Kind: kindOf(err)}
}

// kindOf labels err for responses, NATS error headers and logs.
func kindOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		return "invalid_record"
	case errors.Is(err, resilience.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, pricing.ErrArtifactLoad):
		return "artifact_load"
	case errors.Is(err, pricing.ErrAlignment):
		return "alignment"
	case errors.Is(err, pricing.ErrPrediction):
		return "prediction"
	case errors.Is(err, pricing.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

func statusFor(err error) int {
	switch kindOf(err) {
	case "invalid_record":
		return http.StatusBadRequest
	case "rate_limited":
		return http.StatusTooManyRequests
	case "artifact_load":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := bodyFor(err)
	if status >= 500 {
		// Pipeline internals stay in the logs.
		s.logger.Error("request failed", "kind", body.Kind, "err", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
