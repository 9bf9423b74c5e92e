package domain

import "time"

// AnomalyType identifies the detector family that produced an anomaly.
type AnomalyType string

const (
	AnomalyDuplicateFee  AnomalyType = "DUPLICATE_FEE"
	AnomalyGhostFee      AnomalyType = "GHOST_FEE"
	AnomalyOvercharge    AnomalyType = "OVERCHARGE"
	AnomalyInterestError AnomalyType = "INTEREST_ERROR"
)

// AllAnomalyTypes lists every detector type in registration order.
// The orchestrator merges detector output in this order.
var AllAnomalyTypes = []AnomalyType{
	AnomalyDuplicateFee,
	AnomalyGhostFee,
	AnomalyOvercharge,
	AnomalyInterestError,
}

// Severity buckets an anomaly by recoverable amount.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AnomalyStatus is the review lifecycle. Detectors always emit
// StatusPending; only a human reviewer moves an anomaly past it.
type AnomalyStatus string

const (
	StatusPending   AnomalyStatus = "pending"
	StatusConfirmed AnomalyStatus = "confirmed"
	StatusDismissed AnomalyStatus = "dismissed"
	StatusContested AnomalyStatus = "contested"
)

// EvidenceKind classifies a single evidence entry.
type EvidenceKind string

const (
	EvidenceSimilarity    EvidenceKind = "similarity"
	EvidenceTimeGap       EvidenceKind = "time_gap"
	EvidenceMissingMatch  EvidenceKind = "missing_match"
	EvidenceEntropy       EvidenceKind = "entropy"
	EvidenceTariff        EvidenceKind = "tariff"
	EvidenceBaseline      EvidenceKind = "baseline"
	EvidenceRecomputation EvidenceKind = "recomputation"
	EvidenceRecurrence    EvidenceKind = "recurrence"
)

// Evidence is one factual justification an auditor can verify
// independently. Source, ExpectedValue and AppliedValue are set whenever a
// contractual reference exists; tariff comparisons always set them.
type Evidence struct {
	Kind        EvidenceKind `json:"kind"`
	Description string       `json:"description"`
	Observed    float64      `json:"observed"`

	Source        string   `json:"source,omitempty"`
	ConditionRef  string   `json:"conditionRef,omitempty"`
	ExpectedValue *float64 `json:"expectedValue,omitempty"`
	AppliedValue  *float64 `json:"appliedValue,omitempty"`
}

// AIAnnotation is an optional, strictly additive note attached by the
// external classification collaborator after the deterministic run.
type AIAnnotation struct {
	Label      string  `json:"label"`
	Rationale  string  `json:"rationale,omitempty"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
}

// Anomaly is one scored, evidenced detection finding.
type Anomaly struct {
	ID       string      `json:"id"`
	TenantID string      `json:"tenantId"`
	Type     AnomalyType `json:"type"`

	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"` // in [0,1]

	// Amount is the recoverable excess, never negative. For interest
	// discrepancies the signed direction is recorded in the evidence.
	Amount float64 `json:"amount"`

	// TransactionIDs reference the implicated input transactions (1..n).
	TransactionIDs []string `json:"transactionIds"`

	Evidence       []Evidence    `json:"evidence"`
	Recommendation string        `json:"recommendation"`
	Status         AnomalyStatus `json:"status"`

	AIAnalysis *AIAnnotation `json:"aiAnalysis,omitempty"`

	DetectedAt time.Time `json:"detectedAt"`
}
