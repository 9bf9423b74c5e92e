package detect

import (
	"context"
	"testing"

	"github.com/opensource-audit/harrier/internal/domain"
)

func TestGhostFeeFlagged(t *testing.T) {
	// A generic recurring charge with no originating operation anywhere
	// near it. Entropy of "frais" is ~2.32 bits, under the 2.5 gate.
	txs := []*domain.Transaction{
		{ID: "g1", AccountID: "acc-1", Date: day(2025, 1, 15), Amount: -20, Description: "FRAIS"},
		{ID: "g2", AccountID: "acc-1", Date: day(2025, 2, 15), Amount: -20, Description: "FRAIS"},
		{ID: "svc", AccountID: "acc-1", Date: day(2025, 2, 5), Amount: -900, Description: "loyer bureau"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, err := (&GhostFeeDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	// g1 has no prior recurrence; only g2 passes the recurrence gate.
	if len(got) != 1 {
		t.Fatalf("expected 1 ghost fee, got %d", len(got))
	}
	a := got[0]
	if a.Type != domain.AnomalyGhostFee {
		t.Errorf("type = %s, want GHOST_FEE", a.Type)
	}
	if a.TransactionIDs[0] != "g2" {
		t.Errorf("flagged %s, want g2", a.TransactionIDs[0])
	}
	if a.Amount != 20 {
		t.Errorf("amount = %.2f, want 20", a.Amount)
	}
	if a.Confidence < in.Thresholds.Ghost.MinConfidence || a.Confidence > 1 {
		t.Errorf("confidence %.3f outside [%.2f,1]", a.Confidence, in.Thresholds.Ghost.MinConfidence)
	}
	if len(a.Evidence) < 3 {
		t.Errorf("expected entropy, missing-match and recurrence evidence, got %d entries", len(a.Evidence))
	}
}

func TestGhostFeeEntropyGate(t *testing.T) {
	// High-entropy wording is never flagged, even with no matching
	// service transaction and strong recurrence.
	desc := "COMMISSION MOUVEMENTS EXCEPTIONNELS REF 91-XKQ/2025"
	txs := []*domain.Transaction{
		{ID: "h1", AccountID: "acc-1", Date: day(2025, 1, 10), Amount: -50, Description: desc},
		{ID: "h2", AccountID: "acc-1", Date: day(2025, 2, 10), Amount: -50, Description: desc},
		{ID: "h3", AccountID: "acc-1", Date: day(2025, 3, 10), Amount: -50, Description: desc},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, err := (&GhostFeeDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("high-entropy description must never be flagged, got %d anomalies", len(got))
	}
}

func TestGhostFeeServiceNearbySuppresses(t *testing.T) {
	// The same charge with a matching service operation the day before is
	// legitimate.
	txs := []*domain.Transaction{
		{ID: "op", AccountID: "acc-1", Date: day(2025, 2, 14), Amount: -4800, Description: "VIREMENT SEPA FOURNISSEUR"},
		{ID: "g1", AccountID: "acc-1", Date: day(2025, 1, 15), Amount: -20, Description: "FRAIS"},
		{ID: "g2", AccountID: "acc-1", Date: day(2025, 2, 15), Amount: -20, Description: "FRAIS"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, err := (&GhostFeeDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fee with a nearby originating operation should not be flagged, got %d", len(got))
	}
}

func TestGhostFeeRecurrenceGate(t *testing.T) {
	// A one-off charge never reaches the report, whatever its score.
	txs := []*domain.Transaction{
		{ID: "g1", AccountID: "acc-1", Date: day(2025, 2, 15), Amount: -20, Description: "FRAIS"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, _ := (&GhostFeeDetector{}).Detect(context.Background(), in)
	if len(got) != 0 {
		t.Errorf("one-off fee must not be flagged, got %d", len(got))
	}
}

func TestGhostFeeSkipsPeriodicCharges(t *testing.T) {
	// Account-keeping charges have no originating operation by nature.
	txs := []*domain.Transaction{
		{ID: "p1", AccountID: "acc-1", Date: day(2025, 1, 31), Amount: -8, Description: "FRAIS DE TENUE DE COMPTE"},
		{ID: "p2", AccountID: "acc-1", Date: day(2025, 2, 28), Amount: -8, Description: "FRAIS DE TENUE DE COMPTE"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, _ := (&GhostFeeDetector{}).Detect(context.Background(), in)
	if len(got) != 0 {
		t.Errorf("periodic charges are not ghost candidates, got %d", len(got))
	}
}

func TestRoundness(t *testing.T) {
	tests := []struct {
		amount float64
		want   float64
	}{
		{-100, 1.0},
		{-250.00, 0.7},
		{-12.00, 0.3},
		{-12.34, 0},
		{0, 0},
	}
	for _, tt := range tests {
		if got := roundness(tt.amount); got != tt.want {
			t.Errorf("roundness(%.2f) = %.2f, want %.2f", tt.amount, got, tt.want)
		}
	}
}
