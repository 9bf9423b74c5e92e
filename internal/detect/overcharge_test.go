package detect

import (
	"context"
	"math"
	"testing"

	"github.com/opensource-audit/harrier/internal/domain"
)

func fixedFeeConditions(code string, amount float64) []*domain.BankConditions {
	return []*domain.BankConditions{{
		ID:            "cond-v1",
		BankID:        "bank-1",
		EffectiveDate: day(2024, 1, 1),
		Fees:          []domain.FeeSchedule{{Code: code, Name: "Frais de tenue de compte", FixedAmount: &amount}},
	}}
}

func TestOverchargeAgainstContract(t *testing.T) {
	// Contractual fixed fee 2,500, applied 2,600 (4% over, tolerance 2%).
	conds := fixedFeeConditions("FEE_ACCOUNT", 2500)
	txs := []*domain.Transaction{
		{ID: "f1", AccountID: "acc-1", Date: day(2025, 3, 31), Amount: -2600, Description: "FRAIS DE TENUE DE COMPTE"},
	}

	in := buildInput(txs, conds, domain.DefaultThresholds())
	got, err := (&OverchargeDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected exactly 1 overcharge, got %d", len(got))
	}
	a := got[0]
	if a.Type != domain.AnomalyOvercharge {
		t.Errorf("type = %s, want OVERCHARGE", a.Type)
	}
	if math.Abs(a.Amount-100) > 1e-9 {
		t.Errorf("amount = %.2f, want 100", a.Amount)
	}
	if a.Confidence != 1.0 {
		t.Errorf("contractual comparison confidence = %.2f, want 1.0", a.Confidence)
	}

	ev := a.Evidence[0]
	if ev.Source != "contract" || ev.ConditionRef == "" {
		t.Errorf("overcharge evidence must carry source and condition ref, got %+v", ev)
	}
	if ev.ExpectedValue == nil || *ev.ExpectedValue != 2500 {
		t.Errorf("expected value = %v, want 2500", ev.ExpectedValue)
	}
	if ev.AppliedValue == nil || *ev.AppliedValue != 2600 {
		t.Errorf("applied value = %v, want 2600", ev.AppliedValue)
	}
}

func TestOverchargeWithinToleranceNotFlagged(t *testing.T) {
	conds := fixedFeeConditions("FEE_ACCOUNT", 2500)
	txs := []*domain.Transaction{
		{ID: "f1", AccountID: "acc-1", Date: day(2025, 3, 31), Amount: -2540, Description: "FRAIS DE TENUE DE COMPTE"},
	}

	in := buildInput(txs, conds, domain.DefaultThresholds())
	got, _ := (&OverchargeDetector{}).Detect(context.Background(), in)
	if len(got) != 0 {
		t.Errorf("1.6%% over with 2%% tolerance should pass, got %d anomalies", len(got))
	}
}

func TestOverchargePercentageFee(t *testing.T) {
	pct := 0.001 // 0.1% per transfer
	conds := []*domain.BankConditions{{
		ID:            "cond-v1",
		EffectiveDate: day(2024, 1, 1),
		Fees:          []domain.FeeSchedule{{Code: "FEE_TRANSFER", Name: "Commission de virement", Percentage: &pct}},
	}}

	txs := []*domain.Transaction{
		{ID: "op", AccountID: "acc-1", Date: day(2025, 5, 12), Amount: -80000, Description: "VIREMENT INTERNATIONAL FOURNISSEUR"},
		{ID: "f1", AccountID: "acc-1", Date: day(2025, 5, 12), Amount: -120, Description: "frais de virement international"},
	}

	in := buildInput(txs, conds, domain.DefaultThresholds())
	got, err := (&OverchargeDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	// Expected 80,000 x 0.1% = 80; applied 120.
	if len(got) != 1 {
		t.Fatalf("expected 1 overcharge, got %d", len(got))
	}
	if math.Abs(got[0].Amount-40) > 1e-9 {
		t.Errorf("amount = %.2f, want 40", got[0].Amount)
	}
}

func TestOverchargeHistoricalBaseline(t *testing.T) {
	// No contract: six monthly statements at 10, then a 30 charge.
	var txs []*domain.Transaction
	for m := 1; m <= 6; m++ {
		txs = append(txs, &domain.Transaction{
			ID:          string(rune('a' + m)),
			AccountID:   "acc-1",
			Date:        day(2025, 1, 28).AddDate(0, m-1, 0),
			Amount:      -10,
			Description: "FRAIS DE TENUE DE COMPTE",
		})
	}
	txs = append(txs, &domain.Transaction{
		ID: "spike", AccountID: "acc-1", Date: day(2025, 7, 28),
		Amount: -30, Description: "FRAIS DE TENUE DE COMPTE",
	})

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, err := (&OverchargeDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 baseline overcharge, got %d", len(got))
	}
	a := got[0]
	if a.TransactionIDs[0] != "spike" {
		t.Errorf("flagged %s, want spike", a.TransactionIDs[0])
	}
	if math.Abs(a.Amount-20) > 1e-9 {
		t.Errorf("amount = %.2f, want 20 (30 charged vs 10 average)", a.Amount)
	}
	if a.Confidence >= 1.0 {
		t.Errorf("baseline comparison should be less confident than contract, got %.2f", a.Confidence)
	}
	if a.Evidence[0].Source != "historical baseline" {
		t.Errorf("source = %s, want historical baseline", a.Evidence[0].Source)
	}
}

func TestOverchargeBaselineDisabled(t *testing.T) {
	th := domain.DefaultThresholds()
	th.Overcharge.UseHistoricalBaseline = false

	txs := []*domain.Transaction{
		{ID: "a", AccountID: "acc-1", Date: day(2025, 1, 28), Amount: -10, Description: "FRAIS DE TENUE DE COMPTE"},
		{ID: "b", AccountID: "acc-1", Date: day(2025, 2, 28), Amount: -10, Description: "FRAIS DE TENUE DE COMPTE"},
		{ID: "spike", AccountID: "acc-1", Date: day(2025, 3, 28), Amount: -90, Description: "FRAIS DE TENUE DE COMPTE"},
	}

	in := buildInput(txs, nil, th)
	got, _ := (&OverchargeDetector{}).Detect(context.Background(), in)
	if len(got) != 0 {
		t.Errorf("baseline disabled and no contract: nothing to compare, got %d", len(got))
	}
}

func TestSeverityBoundaries(t *testing.T) {
	tests := []struct {
		amount float64
		fraud  bool
		want   domain.Severity
	}{
		{100, false, domain.SeverityLow},
		{5000, false, domain.SeverityLow}, // boundary is strict
		{5000.01, false, domain.SeverityMedium},
		{20000, false, domain.SeverityMedium},
		{20001, false, domain.SeverityHigh},
		{50000, false, domain.SeverityHigh},
		{50001, false, domain.SeverityCritical},
		{1, true, domain.SeverityCritical},
	}

	for _, tt := range tests {
		if got := ClassifySeverity(tt.amount, tt.fraud); got != tt.want {
			t.Errorf("ClassifySeverity(%.2f, %v) = %s, want %s", tt.amount, tt.fraud, got, tt.want)
		}
	}
}
