package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/engine"
	"github.com/opensource-audit/harrier/internal/repository"
	"github.com/opensource-audit/harrier/internal/tariff"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	detection  domain.DetectionConfig
	classifier engine.Classifier
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, detection domain.DetectionConfig, classifier engine.Classifier, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		detection:  detection,
		classifier: classifier,
		version:    version,
	}
}

const (
	analysisCacheTTL = 15 * time.Minute
	maxRequestBody   = 4 << 20
)

// CreateTransactions handles POST /transactions: registers statement lines.
// Accepts a single object or an array.
func (h *Handler) CreateTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	var reqs []domain.TransactionRequest
	if err := json.Unmarshal(body, &reqs); err != nil {
		// Accept a single object as well as an array.
		var single domain.TransactionRequest
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
		reqs = []domain.TransactionRequest{single}
	}

	if len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one transaction is required",
		})
		return
	}

	ids := make([]string, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if req.ClientID == "" || req.BankID == "" || req.AccountID == "" || req.Description == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "clientId, bankId, accountId and description are required",
			})
			return
		}

		tx, err := req.ToTransaction()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid date: " + err.Error(),
			})
			return
		}
		tx.ID = uuid.New().String()
		tx.TenantID = tenantID

		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save transaction",
			})
			return
		}
		ids = append(ids, tx.ID)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"transactionIds": ids,
		"count":          len(ids),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// AnalysisRequest is the request body for POST /analyses.
type AnalysisRequest struct {
	ClientID  string `json:"clientId"`
	BankID    string `json:"bankId"`
	AccountID string `json:"accountId"`
	From      string `json:"from"`
	To        string `json:"to"`

	// Detectors optionally restricts the run to a subset.
	Detectors []domain.AnomalyType `json:"detectors,omitempty"`
}

// CreateAnalysis handles POST /analyses: runs the detectors over the
// account's statement lines in the requested period.
func (h *Handler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ClientID == "" || req.BankID == "" || req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "clientId, bankId and accountId are required",
		})
		return
	}

	var from, to time.Time
	var err error
	if req.From != "" {
		if from, err = time.Parse("2006-01-02", req.From); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid from date, want YYYY-MM-DD",
			})
			return
		}
	}
	if req.To != "" {
		if to, err = time.Parse("2006-01-02", req.To); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid to date, want YYYY-MM-DD",
			})
			return
		}
	}

	transactions, err := h.repo.ListTransactions(ctx, tenantID, req.AccountID, from, to)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transactions",
		})
		return
	}

	conditions, err := h.repo.ListConditions(ctx, tenantID, req.BankID)
	if err != nil {
		slog.Error("failed to list conditions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load bank conditions",
		})
		return
	}
	// Warm the grid cache for subsequent runs against the same bank.
	if h.cache != nil {
		for _, cond := range conditions {
			_ = h.cache.SetConditions(ctx, tenantID, cond.ID, cond, analysisCacheTTL)
		}
	}

	resolver, err := h.buildResolver(r, tenantID)
	if err != nil {
		slog.Error("failed to build tariff resolver", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load classification rules",
		})
		return
	}

	cfg := h.detection
	if len(req.Detectors) > 0 {
		cfg.Enabled = req.Detectors
	}

	eng := engine.New(resolver, cfg)
	if h.classifier != nil {
		eng.SetClassifier(h.classifier)
	}
	if h.bus != nil {
		eng.SetProgress(func(ev domain.ProgressEvent) {
			payload, _ := json.Marshal(ev)
			_ = h.bus.Publish(ctx, tenantID, domain.TopicAnalysisProgress, payload)
		})
	}

	h.publish(ctx, tenantID, domain.TopicAnalysisStarted, map[string]string{
		"clientId": req.ClientID, "bankId": req.BankID, "accountId": req.AccountID,
	})

	result, err := eng.Analyze(ctx, &engine.Request{
		TenantID:     tenantID,
		ClientID:     req.ClientID,
		BankID:       req.BankID,
		Transactions: transactions,
		Conditions:   conditions,
	})
	if err != nil {
		h.publish(ctx, tenantID, domain.TopicAnalysisFailed, map[string]string{
			"error": err.Error(),
		})
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidConfig) || errors.Is(err, engine.ErrNoTransactions) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{
			"error": "analysis failed: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveAnalysis(ctx, tenantID, result); err != nil {
		slog.Error("failed to save analysis", "analysis_id", result.ID, "error", err)
	}
	h.cacheAnalysis(ctx, tenantID, result)

	h.publish(ctx, tenantID, domain.TopicAnalysisCompleted, map[string]any{
		"analysisId": result.ID,
		"anomalies":  len(result.Anomalies),
	})
	for i := range result.Anomalies {
		h.publish(ctx, tenantID, domain.TopicAnomalyFlagged, &result.Anomalies[i])
	}

	writeJSON(w, http.StatusOK, result)
}

// GetAnalysis retrieves an analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if h.cache != nil {
		if data, err := h.cache.Get(ctx, tenantID, "analysis:"+analysisID); err == nil && data != nil {
			var cached domain.AnalysisResult
			if json.Unmarshal(data, &cached) == nil {
				writeJSON(w, http.StatusOK, &cached)
				return
			}
		}
	}

	result, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	h.cacheAnalysis(ctx, tenantID, result)
	writeJSON(w, http.StatusOK, result)
}

// cacheAnalysis stores a completed result for fast retrieval. Best effort.
func (h *Handler) cacheAnalysis(ctx context.Context, tenantID string, result *domain.AnalysisResult) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = h.cache.Set(ctx, tenantID, "analysis:"+result.ID, data, analysisCacheTTL)
}

// AnomalyStatusRequest is the request body for review decisions.
type AnomalyStatusRequest struct {
	Status domain.AnomalyStatus `json:"status"`
}

// UpdateAnomalyStatus handles PUT /analyses/{id}/anomalies/{anomalyId}/status.
func (h *Handler) UpdateAnomalyStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")
	anomalyID := chi.URLParam(r, "anomalyId")

	var req AnomalyStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch req.Status {
	case domain.StatusPending, domain.StatusConfirmed, domain.StatusDismissed, domain.StatusContested:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be one of pending, confirmed, dismissed, contested",
		})
		return
	}

	if err := h.repo.UpdateAnomalyStatus(ctx, tenantID, analysisID, anomalyID, req.Status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "anomaly not found",
			})
			return
		}
		slog.Error("failed to update anomaly status", "anomaly_id", anomalyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update status",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.Delete(ctx, tenantID, "analysis:"+analysisID)
	}

	slog.Info("anomaly status updated", "analysis_id", analysisID, "anomaly_id", anomalyID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{
		"anomalyId": anomalyID,
		"status":    string(req.Status),
	})
}

// CreateConditions handles POST /conditions: registers a bank tariff grid.
func (h *Handler) CreateConditions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var cond domain.BankConditions
	if err := json.NewDecoder(r.Body).Decode(&cond); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if cond.BankID == "" || cond.EffectiveDate.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "bankId and effectiveDate are required",
		})
		return
	}
	if cond.ID == "" {
		cond.ID = uuid.New().String()
	}
	cond.TenantID = tenantID

	if err := h.repo.SaveConditions(ctx, tenantID, &cond); err != nil {
		slog.Error("failed to save conditions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save conditions",
		})
		return
	}
	if h.cache != nil {
		_ = h.cache.SetConditions(ctx, tenantID, cond.ID, &cond, analysisCacheTTL)
	}

	slog.Info("bank conditions saved", "condition_id", cond.ID, "bank_id", cond.BankID, "version", cond.Version)
	writeJSON(w, http.StatusCreated, cond)
}

// GetConditions retrieves one tariff grid by ID, cache first.
func (h *Handler) GetConditions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	condID := chi.URLParam(r, "id")

	if h.cache != nil {
		if cond, err := h.cache.GetConditions(ctx, tenantID, condID); err == nil && cond != nil {
			writeJSON(w, http.StatusOK, cond)
			return
		}
	}

	cond, err := h.repo.GetConditions(ctx, tenantID, condID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "conditions not found",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetConditions(ctx, tenantID, condID, cond, analysisCacheTTL)
	}
	writeJSON(w, http.StatusOK, cond)
}

// ListConditions lists the tariff grids of a bank (all banks when bankId is
// omitted).
func (h *Handler) ListConditions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	bankID := r.URL.Query().Get("bankId")

	grids, err := h.repo.ListConditions(ctx, tenantID, bankID)
	if err != nil {
		slog.Error("failed to list conditions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list conditions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conditions": grids,
		"count":      len(grids),
	})
}

// DeleteConditions retires a tariff grid.
func (h *Handler) DeleteConditions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	condID := chi.URLParam(r, "id")

	if err := h.repo.DeleteConditions(ctx, tenantID, condID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "conditions not found",
		})
		return
	}
	if h.cache != nil {
		_ = h.cache.Delete(ctx, tenantID, "cond:"+condID)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "conditions deleted",
	})
}

// CreateClassificationRule handles POST /rules: registers a custom CEL
// classification rule. The expression is compiled before persisting so a
// broken rule never reaches the resolver.
func (h *Handler) CreateClassificationRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.ClassificationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rule.Name == "" || rule.Expression == "" || rule.FeeCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name, expression and feeCode are required",
		})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.TenantID = tenantID

	if err := tariff.Validate(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveClassificationRule(ctx, tenantID, &rule); err != nil {
		slog.Error("failed to save classification rule", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("classification rule created", "rule_id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// ListClassificationRules lists the tenant's active custom rules.
func (h *Handler) ListClassificationRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListClassificationRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list classification rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// buildResolver compiles the tenant's custom rules on top of the builtin
// fee patterns.
func (h *Handler) buildResolver(r *http.Request, tenantID string) (*tariff.Resolver, error) {
	rules, err := h.repo.ListClassificationRules(r.Context(), tenantID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return tariff.NewResolver(), nil
	}

	custom, err := tariff.NewCustomRuleSet(rules)
	if err != nil {
		return nil, err
	}
	return tariff.NewResolverWithRules(custom), nil
}

func (h *Handler) publish(ctx context.Context, tenantID, topic string, payload any) {
	if h.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, tenantID, topic, data); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
