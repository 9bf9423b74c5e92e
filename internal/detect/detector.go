// Package detect implements the anomaly detectors: duplicate fees, ghost
// fees, overcharges and interest recomputation. Detectors are stateless;
// they read the shared input and return their own findings.
package detect

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/tariff"
)

// Input is the read-only view shared by all detectors in a run.
type Input struct {
	TenantID     string
	Transactions []*domain.Transaction

	// Classifications is aligned index-for-index with Transactions,
	// computed once by the orchestrator.
	Classifications []tariff.Classification

	// Conditions is the bank's grid history; possibly empty.
	Conditions []*domain.BankConditions

	Thresholds domain.Thresholds
	Resolver   *tariff.Resolver
}

// Detector is one detection algorithm.
type Detector interface {
	// Type identifies the anomaly family this detector produces.
	Type() domain.AnomalyType

	// Detect runs over the full input and returns zero or more findings,
	// sorted deterministically. A returned error excludes this detector's
	// results from the run but never fails the whole analysis.
	Detect(ctx context.Context, in *Input) ([]domain.Anomaly, error)
}

// Registry returns all detectors in registration order. The orchestrator
// merges results in this order.
func Registry() []Detector {
	return []Detector{
		&DuplicateDetector{},
		&GhostFeeDetector{},
		&OverchargeDetector{},
		&InterestVerifier{},
	}
}

// feeEntry pairs an input transaction with its fee classification.
type feeEntry struct {
	tx    *domain.Transaction
	class tariff.Classification
}

// feeEntries extracts the fee-classified transactions with usable dates,
// sorted by date then id for deterministic scanning.
func feeEntries(in *Input) []feeEntry {
	entries := make([]feeEntry, 0, len(in.Transactions))
	for i, tx := range in.Transactions {
		if tx == nil || tx.Date.IsZero() {
			continue // malformed record: excluded, never aborts the run
		}
		if in.Classifications[i].IsFee {
			entries = append(entries, feeEntry{tx: tx, class: in.Classifications[i]})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].tx.Date.Equal(entries[j].tx.Date) {
			return entries[i].tx.Date.Before(entries[j].tx.Date)
		}
		return entries[i].tx.ID < entries[j].tx.ID
	})
	return entries
}

// daysBetween returns the absolute gap between two dates in fractional days.
func daysBetween(a, b time.Time) float64 {
	d := a.Sub(b).Hours() / 24.0
	if d < 0 {
		d = -d
	}
	return d
}

// newAnomaly builds a finding in the pending state. Callers must attach at
// least one evidence entry before returning it; emit drops violations.
func newAnomaly(tenantID string, typ domain.AnomalyType, amount, confidence float64, txIDs []string) domain.Anomaly {
	return domain.Anomaly{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Type:           typ,
		Amount:         amount,
		Confidence:     confidence,
		TransactionIDs: txIDs,
		Status:         domain.StatusPending,
		DetectedAt:     time.Now().UTC(),
	}
}

// emit filters contract violations (no evidence) and sorts findings by
// their first implicated transaction id so output order never depends on
// map iteration.
func emit(anomalies []domain.Anomaly) []domain.Anomaly {
	out := anomalies[:0]
	for _, a := range anomalies {
		if len(a.Evidence) == 0 || len(a.TransactionIDs) == 0 {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TransactionIDs[0] < out[j].TransactionIDs[0]
	})
	return out
}
