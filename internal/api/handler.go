package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// maxBodyBytes caps a prediction request body.
const maxBodyBytes = 1 << 20

// ModelInfo describes the model being served.
type ModelInfo struct {
	Environment string         `json:"environment"`
	Algorithm   string         `json:"algorithm"`
	Features    []string       `json:"features"`
	Params      map[string]any `json:"params,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	processor *decision.Processor
	engine    *rules.Engine
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	info      ModelInfo
	version   string
}

// NewHandler creates a new API handler. repo, cache, bus and engine may be
// nil.
func NewHandler(processor *decision.Processor, engine *rules.Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus, info ModelInfo, version string) *Handler {
	return &Handler{
		processor: processor,
		engine:    engine,
		repo:      repo,
		cache:     cache,
		bus:       bus,
		info:      info,
		version:   version,
	}
}

// PredictionResponse is the body of a successful prediction.
type PredictionResponse struct {
	TransactionID string `json:"transaction_id"`
	Block         int    `json:"transaction_to_block"`
}

// Predict handles POST /model/v0/prediction/{transaction_id}. The body is a
// flat JSON object: tx_datetime in epoch milliseconds and one number per
// feature.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := parsePrediction(chi.URLParam(r, "transaction_id"), http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	req.TenantID = GetTenantID(ctx)
	req.Source = decision.SourceHTTP

	d, err := h.processor.Decide(ctx, req)
	if err != nil {
		slog.Warn("prediction failed",
			"transaction_id", req.TransactionID,
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PredictionResponse{TransactionID: d.TransactionID, Block: d.Block})
}

func parsePrediction(transactionID string, body io.Reader) (decision.Request, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return decision.Request{}, err
		}
		return decision.Request{}, domain.Validationf("invalid JSON request body: %v", err)
	}

	req := decision.Request{
		TransactionID: transactionID,
		Features:      make(map[string]float64, len(raw)),
	}
	for name, value := range raw {
		if name == domain.ColDatetime {
			if err := json.Unmarshal(value, &req.Datetime); err != nil {
				return decision.Request{}, domain.Validationf("%s must be an integer epoch in milliseconds", name)
			}
			continue
		}
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return decision.Request{}, domain.Validationf("feature %s must be a number", name)
		}
		req.Features[name] = v
	}
	if err := req.Validate(); err != nil {
		return decision.Request{}, err
	}
	return req, nil
}

// Info handles GET /model/v0/info.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	rulesLoaded := 0
	if h.engine != nil {
		rulesLoaded = h.engine.RulesCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":   h.info,
		"rules":   rulesLoaded,
		"version": h.version,
	})
}

// ListRuns handles GET /model/v0/runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	runs, err := h.repo.ListRuns(r.Context(), r.URL.Query().Get("algorithm"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// GetRun handles GET /model/v0/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	run, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListRules handles GET /model/v0/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := []domain.BlockRule{}
	if h.engine != nil {
		loaded = h.engine.GetLoadedRules()
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": loaded, "count": len(loaded)})
}

// CreateRuleRequest is the body of POST /model/v0/rules.
type CreateRuleRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Enabled    bool   `json:"enabled"`
}

// CreateRule compiles a block rule and loads it into the engine. Rules live
// in memory; configuration is their durable source.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name and expression are required")
		return
	}

	rule := domain.BlockRule{ID: req.ID, Name: req.Name, Expression: req.Expression, Enabled: req.Enabled}
	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}
	if rule.Enabled {
		if err := h.engine.LoadRule(rule); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	slog.Info("block rule created", "id", rule.ID, "name", rule.Name, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, rule)
}

// Health reports the state of the repository, cache and bus.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	status := "healthy"

	probe := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		probe("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		probe("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		probe("bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether a model is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.processor == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready":     "true",
		"algorithm": string(h.processor.Algorithm()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
