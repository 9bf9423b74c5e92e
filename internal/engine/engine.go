// Package engine orchestrates anomaly detection runs: configuration
// validation, detector scheduling, progress reporting, deterministic
// merging and result statistics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-audit/harrier/internal/detect"
	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/tariff"
)

var tracer = otel.Tracer("harrier-engine")

// ErrNoTransactions is the systemic failure for an empty analysis request.
var ErrNoTransactions = errors.New("no transactions to analyze")

// Annotation is one AI note addressed to an existing anomaly.
type Annotation struct {
	AnomalyID string
	Note      domain.AIAnnotation
}

// Classifier is the optional external AI collaborator. Strictly additive:
// its annotations attach to existing anomalies and can never create or
// remove findings. Failures are surfaced as run warnings, never as run
// failures.
type Classifier interface {
	Classify(ctx context.Context, transactions []*domain.Transaction, anomalies []domain.Anomaly) ([]Annotation, error)
}

// ProgressFunc receives one event per detector stage while the run is in
// the RUNNING state. Percentages are monotonically increasing.
type ProgressFunc func(domain.ProgressEvent)

// Request carries the inputs of one analysis run. The engine only reads
// them; partitioning by client and period is the caller's concern.
type Request struct {
	TenantID string
	ClientID string
	BankID   string

	Transactions []*domain.Transaction
	Conditions   []*domain.BankConditions
}

// Engine runs detectors over transaction sets. Safe for concurrent use;
// each Analyze call owns its run state.
type Engine struct {
	cfg        domain.DetectionConfig
	resolver   *tariff.Resolver
	detectors  []detect.Detector
	classifier Classifier
	onProgress ProgressFunc
	maxWorkers int
}

// New creates an engine with the full detector registry.
func New(resolver *tariff.Resolver, cfg domain.DetectionConfig) *Engine {
	return &Engine{
		cfg:        cfg,
		resolver:   resolver,
		detectors:  detect.Registry(),
		maxWorkers: 4,
	}
}

// SetClassifier injects the optional AI collaborator.
func (e *Engine) SetClassifier(c Classifier) { e.classifier = c }

// SetProgress registers the progress callback.
func (e *Engine) SetProgress(fn ProgressFunc) { e.onProgress = fn }

// Analyze runs the enabled detectors over the request and aggregates their
// findings. The run moves PENDING → RUNNING → COMPLETED, or FAILED on
// invalid configuration, an empty input set, or cancellation; no partial
// result is ever returned.
func (e *Engine) Analyze(ctx context.Context, req *Request) (*domain.AnalysisResult, error) {
	ctx, span := tracer.Start(ctx, "engine.Analyze")
	defer span.End()

	// Fail fast on configuration; thresholds are never clamped.
	if err := e.cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if len(req.Transactions) == 0 {
		return nil, ErrNoTransactions
	}

	result := &domain.AnalysisResult{
		ID:        uuid.New().String(),
		TenantID:  req.TenantID,
		ClientID:  req.ClientID,
		BankID:    req.BankID,
		State:     domain.RunPending,
		StartedAt: time.Now().UTC(),
	}

	span.SetAttributes(
		attribute.String("analysis.id", result.ID),
		attribute.Int("analysis.transactions", len(req.Transactions)),
	)

	enabled := e.enabledDetectors()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("%w: no detectors enabled", domain.ErrInvalidConfig)
	}

	// One classification pass shared by every detector.
	classes := make([]tariff.Classification, len(req.Transactions))
	for i, tx := range req.Transactions {
		if tx != nil {
			classes[i] = e.resolver.Classify(tx)
		}
	}

	input := &detect.Input{
		TenantID:        req.TenantID,
		Transactions:    req.Transactions,
		Classifications: classes,
		Conditions:      req.Conditions,
		Thresholds:      e.cfg.Thresholds,
		Resolver:        e.resolver,
	}

	result.State = domain.RunRunning

	// Cancellation is cooperative: checked between stages, never
	// mid-detector.
	if err := ctx.Err(); err != nil {
		result.State = domain.RunFailed
		return nil, err
	}

	perDetector, warnings := e.runDetectors(ctx, result.ID, enabled, input)

	if err := ctx.Err(); err != nil {
		result.State = domain.RunFailed
		return nil, err
	}

	// Deterministic merge: registration order first, then each detector's
	// own sorted output.
	var anomalies []domain.Anomaly
	for i := range enabled {
		anomalies = append(anomalies, perDetector[i]...)
	}
	result.Warnings = warnings

	if e.classifier != nil {
		e.annotate(ctx, req.Transactions, anomalies, result)
	}

	e.progress(result.ID, 100, "analyse terminée")

	result.Anomalies = anomalies
	result.Stats = domain.ComputeStatistics(len(req.Transactions), anomalies)
	result.State = domain.RunCompleted
	result.CompletedAt = time.Now().UTC()

	slog.Info("analysis completed",
		"analysis_id", result.ID,
		"tenant_id", req.TenantID,
		"transactions", len(req.Transactions),
		"anomalies", len(anomalies),
		"total_amount", result.Stats.TotalAmount,
		"duration_ms", result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	)

	return result, nil
}

// runDetectors executes the enabled detectors in parallel behind a
// semaphore. Results are indexed by registration order so completion
// order never affects the merge. A detector error excludes its results
// and becomes a warning; it does not fail the run.
func (e *Engine) runDetectors(ctx context.Context, analysisID string, enabled []detect.Detector, input *detect.Input) ([][]domain.Anomaly, []string) {
	perDetector := make([][]domain.Anomaly, len(enabled))
	warningCh := make(chan string, len(enabled))

	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
		completed  int
	)
	sem := make(chan struct{}, e.maxWorkers)

	for i, det := range enabled {
		wg.Add(1)
		go func(idx int, d detect.Detector) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			found, err := d.Detect(ctx, input)
			if err != nil {
				slog.Error("detector failed, excluding its results",
					"analysis_id", analysisID,
					"detector", d.Type(),
					"error", err,
				)
				warningCh <- fmt.Sprintf("detector %s excluded: %v", d.Type(), err)
				found = nil
			}
			perDetector[idx] = found

			// The lock spans the callback so events leave in percentage
			// order and the callback is never invoked concurrently.
			progressMu.Lock()
			completed++
			pct := completed * 90 / len(enabled)
			e.progress(analysisID, pct, stageLabel(d.Type()))
			progressMu.Unlock()
		}(i, det)
	}

	wg.Wait()
	close(warningCh)

	var warnings []string
	for w := range warningCh {
		warnings = append(warnings, w)
	}
	return perDetector, warnings
}

// annotate hands the findings to the AI collaborator. Only existing
// anomalies can receive notes; any failure is a warning on the result.
func (e *Engine) annotate(ctx context.Context, txs []*domain.Transaction, anomalies []domain.Anomaly, result *domain.AnalysisResult) {
	e.progress(result.ID, 95, "classification secondaire (IA)")

	annotations, err := e.classifier.Classify(ctx, txs, anomalies)
	if err != nil {
		slog.Warn("AI classification failed, keeping deterministic results",
			"analysis_id", result.ID,
			"error", err,
		)
		result.Warnings = append(result.Warnings, fmt.Sprintf("ai classification unavailable: %v", err))
		return
	}

	byID := make(map[string]int, len(anomalies))
	for i := range anomalies {
		byID[anomalies[i].ID] = i
	}
	for _, ann := range annotations {
		if idx, ok := byID[ann.AnomalyID]; ok {
			note := ann.Note
			anomalies[idx].AIAnalysis = &note
		}
	}
}

func (e *Engine) enabledDetectors() []detect.Detector {
	set := e.cfg.EnabledSet()
	var out []detect.Detector
	for _, d := range e.detectors {
		if set[d.Type()] {
			out = append(out, d)
		}
	}
	return out
}

func (e *Engine) progress(analysisID string, pct int, label string) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(domain.ProgressEvent{AnalysisID: analysisID, Percentage: pct, StepLabel: label})
}

func stageLabel(t domain.AnomalyType) string {
	switch t {
	case domain.AnomalyDuplicateFee:
		return "recherche des frais dupliqués"
	case domain.AnomalyGhostFee:
		return "recherche des frais fantômes"
	case domain.AnomalyOvercharge:
		return "contrôle des surfacturations"
	case domain.AnomalyInterestError:
		return "vérification des agios"
	default:
		return string(t)
	}
}
