// Package worker provides async analysis processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/engine"
	"github.com/opensource-audit/harrier/internal/tariff"
)

// Worker runs analyses requested over the EventBus, so large statement
// audits do not block the HTTP surface.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	detection  domain.DetectionConfig
	classifier engine.Classifier

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, detection domain.DetectionConfig, classifier engine.Classifier) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		detection:  detection,
		classifier: classifier,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins processing analysis requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicAnalysisRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicAnalysisRequested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRequest(ctx, msg.TenantID, msg)
}

// AnalysisMessage is the message payload for an async analysis request.
type AnalysisMessage struct {
	TenantID  string `json:"tenantId"`
	ClientID  string `json:"clientId"`
	BankID    string `json:"bankId"`
	AccountID string `json:"accountId"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
}

// processRequest loads the statement, runs the detectors and persists the
// result.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req AnalysisMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analysis message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing analysis request",
		"account_id", req.AccountID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	var from, to time.Time
	var err error
	if req.From != "" {
		if from, err = time.Parse("2006-01-02", req.From); err != nil {
			slog.Error("invalid from date in analysis message", "message_id", msg.ID, "error", err)
			return err
		}
	}
	if req.To != "" {
		if to, err = time.Parse("2006-01-02", req.To); err != nil {
			slog.Error("invalid to date in analysis message", "message_id", msg.ID, "error", err)
			return err
		}
	}

	// 1. Load the statement and the contracted grids
	transactions, err := w.repo.ListTransactions(ctx, tenantID, req.AccountID, from, to)
	if err != nil {
		slog.Error("failed to list transactions",
			"account_id", req.AccountID,
			"error", err,
		)
		return err
	}

	conditions, err := w.repo.ListConditions(ctx, tenantID, req.BankID)
	if err != nil {
		slog.Error("failed to list conditions",
			"bank_id", req.BankID,
			"error", err,
		)
		return err
	}

	// 2. Build the tariff resolver with the tenant's custom rules
	resolver, err := w.buildResolver(ctx, tenantID)
	if err != nil {
		slog.Error("failed to build tariff resolver", "error", err)
		return err
	}

	// 3. Run the detectors
	eng := engine.New(resolver, w.detection)
	if w.classifier != nil {
		eng.SetClassifier(w.classifier)
	}
	eng.SetProgress(func(ev domain.ProgressEvent) {
		payload, _ := json.Marshal(ev)
		_ = w.bus.Publish(ctx, tenantID, domain.TopicAnalysisProgress, payload)
	})

	result, err := eng.Analyze(ctx, &engine.Request{
		TenantID:     tenantID,
		ClientID:     req.ClientID,
		BankID:       req.BankID,
		Transactions: transactions,
		Conditions:   conditions,
	})
	if err != nil {
		failPayload, _ := json.Marshal(map[string]string{
			"accountId": req.AccountID,
			"error":     err.Error(),
		})
		_ = w.bus.Publish(ctx, tenantID, domain.TopicAnalysisFailed, failPayload)
		slog.Error("analysis failed",
			"account_id", req.AccountID,
			"error", err,
		)
		return err
	}

	// 4. Save the run
	if err := w.repo.SaveAnalysis(ctx, tenantID, result); err != nil {
		slog.Error("failed to save analysis",
			"analysis_id", result.ID,
			"error", err,
		)
	}

	// 5. Publish completion and flag each anomaly
	resultPayload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, resultPayload); err != nil {
		slog.Error("failed to publish analysis result",
			"analysis_id", result.ID,
			"error", err,
		)
	}

	for i := range result.Anomalies {
		anomalyPayload, _ := json.Marshal(&result.Anomalies[i])
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAnomalyFlagged, anomalyPayload); err != nil {
			slog.Error("failed to publish anomaly",
				"anomaly_id", result.Anomalies[i].ID,
				"error", err,
			)
		}
	}

	slog.Info("analysis processed",
		"analysis_id", result.ID,
		"tenant_id", tenantID,
		"anomalies", len(result.Anomalies),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) buildResolver(ctx context.Context, tenantID string) (*tariff.Resolver, error) {
	rules, err := w.repo.ListClassificationRules(ctx, tenantID)
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

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
