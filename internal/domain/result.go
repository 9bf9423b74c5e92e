package domain

import "time"

// RunState is the orchestrator state machine.
type RunState string

const (
	RunPending   RunState = "PENDING"
	RunRunning   RunState = "RUNNING"
	RunCompleted RunState = "COMPLETED"
	RunFailed    RunState = "FAILED"
)

// Statistics summarizes one completed analysis. Computed once from the
// final anomaly list, never mutated afterward.
type Statistics struct {
	TransactionCount int                 `json:"transactionCount"`
	AnomalyCount     int                 `json:"anomalyCount"`
	CountByType      map[AnomalyType]int `json:"countByType"`
	CountBySeverity  map[Severity]int    `json:"countBySeverity"`

	// TotalAmount is the sum of recoverable anomaly amounts.
	TotalAmount float64 `json:"totalAmount"`

	// AnomalyRate is anomalies per input transaction.
	AnomalyRate float64 `json:"anomalyRate"`
}

// AnalysisResult aggregates all anomalies of one orchestrator run.
type AnalysisResult struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	ClientID string `json:"clientId"`
	BankID   string `json:"bankId"`

	State     RunState   `json:"state"`
	Anomalies []Anomaly  `json:"anomalies"`
	Stats     Statistics `json:"stats"`

	// Warnings carries non-fatal degradations (AI collaborator failures,
	// per-detector exclusions). Never affects the deterministic findings.
	Warnings []string `json:"warnings,omitempty"`

	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// ComputeStatistics builds run statistics from the final anomaly list.
func ComputeStatistics(txCount int, anomalies []Anomaly) Statistics {
	stats := Statistics{
		TransactionCount: txCount,
		AnomalyCount:     len(anomalies),
		CountByType:      make(map[AnomalyType]int),
		CountBySeverity:  make(map[Severity]int),
	}

	for _, a := range anomalies {
		stats.CountByType[a.Type]++
		stats.CountBySeverity[a.Severity]++
		stats.TotalAmount += a.Amount
	}

	if txCount > 0 {
		stats.AnomalyRate = float64(len(anomalies)) / float64(txCount)
	}

	return stats
}

// ProgressEvent is emitted once per detector stage while RUNNING.
type ProgressEvent struct {
	AnalysisID string `json:"analysisId"`
	Percentage int    `json:"percentage"`
	StepLabel  string `json:"stepLabel"`
}
