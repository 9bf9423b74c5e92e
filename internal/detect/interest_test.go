package detect

import (
	"context"
	"math"
	"testing"

	"github.com/opensource-audit/harrier/internal/domain"
)

func overdraftConditions(annualRate float64, dayCount domain.DayCount, limit float64) []*domain.BankConditions {
	return []*domain.BankConditions{{
		ID:              "cond-v1",
		BankID:          "bank-1",
		EffectiveDate:   day(2024, 1, 1),
		AuthorizedLimit: &limit,
		Rates: []domain.InterestRate{
			{Kind: domain.RateAuthorizedOverdraft, AnnualRate: annualRate, DayCount: dayCount},
			{Kind: domain.RateUnauthorizedOverdraft, AnnualRate: annualRate * 1.5, DayCount: dayCount},
		},
	}}
}

func TestInterestRecomputationACT360(t *testing.T) {
	// Constant -100,000 over April (30 days) at 18% ACT/360 within the
	// authorized facility: 100,000 x 0.18/360 x 30 = 1,500. The bank
	// charged 1,650.
	conds := overdraftConditions(0.18, domain.DayCountACT360, 150000)
	txs := []*domain.Transaction{
		{ID: "open", AccountID: "acc-1", Date: day(2025, 3, 31), Amount: -100000, Balance: -100000,
			Description: "VIREMENT SEPA FOURNISSEUR"},
		{ID: "agios", AccountID: "acc-1", Date: day(2025, 5, 2), Amount: -1650, Balance: -101650,
			Description: "AGIOS"},
	}

	in := buildInput(txs, conds, domain.DefaultThresholds())
	got, err := (&InterestVerifier{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 interest anomaly, got %d", len(got))
	}
	a := got[0]
	if a.Type != domain.AnomalyInterestError {
		t.Errorf("type = %s, want INTEREST_ERROR", a.Type)
	}
	if math.Abs(a.Amount-150) > 1e-6 {
		t.Errorf("amount = %.2f, want 150", a.Amount)
	}

	ev := a.Evidence[0]
	if ev.ExpectedValue == nil || math.Abs(*ev.ExpectedValue-1500) > 1e-6 {
		t.Errorf("recomputed = %v, want 1500", ev.ExpectedValue)
	}
	if ev.AppliedValue == nil || *ev.AppliedValue != 1650 {
		t.Errorf("applied = %v, want 1650", ev.AppliedValue)
	}
}

func TestInterestWithinToleranceNotFlagged(t *testing.T) {
	conds := overdraftConditions(0.18, domain.DayCountACT360, 150000)
	txs := []*domain.Transaction{
		{ID: "open", AccountID: "acc-1", Date: day(2025, 3, 31), Amount: -100000, Balance: -100000,
			Description: "VIREMENT SEPA FOURNISSEUR"},
		// Exactly the recomputed 1,500.
		{ID: "agios", AccountID: "acc-1", Date: day(2025, 5, 2), Amount: -1500, Balance: -101500,
			Description: "AGIOS"},
	}

	in := buildInput(txs, conds, domain.DefaultThresholds())
	got, _ := (&InterestVerifier{}).Detect(context.Background(), in)
	if len(got) != 0 {
		t.Errorf("correct charge should not be flagged, got %d", len(got))
	}
}

func TestInterestUnauthorizedRateBeyondLimit(t *testing.T) {
	// Facility of 50,000 with a -100,000 balance: the whole period runs
	// at the unauthorized rate (27% = 18% x 1.5).
	conds := overdraftConditions(0.18, domain.DayCountACT360, 50000)
	txs := []*domain.Transaction{
		{ID: "open", AccountID: "acc-1", Date: day(2025, 3, 31), Amount: -100000, Balance: -100000,
			Description: "VIREMENT SEPA FOURNISSEUR"},
		// Charged as if authorized: 1,500 instead of 2,250.
		{ID: "agios", AccountID: "acc-1", Date: day(2025, 5, 2), Amount: -1500, Balance: -101500,
			Description: "AGIOS"},
	}

	in := buildInput(txs, conds, domain.DefaultThresholds())
	got, err := (&InterestVerifier{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 undercharge anomaly, got %d", len(got))
	}
	if math.Abs(got[0].Amount-750) > 1e-6 {
		t.Errorf("amount = %.2f, want 750", got[0].Amount)
	}
}

func TestInterestThirty360FebruaryCountsThirtyDays(t *testing.T) {
	// Constant -100,000 over February 2025 at 18% 30/360. The convention
	// gives every month 30 accrual days, February included:
	// 100,000 x 0.18/360 x 30 = 1,500, not the 1,400 of 28 calendar days.
	conds := overdraftConditions(0.18, domain.DayCountThirty360, 150000)
	txs := []*domain.Transaction{
		{ID: "open", AccountID: "acc-1", Date: day(2025, 1, 31), Amount: -100000, Balance: -100000,
			Description: "VIREMENT SEPA FOURNISSEUR"},
		{ID: "agios", AccountID: "acc-1", Date: day(2025, 3, 2), Amount: -1650, Balance: -101650,
			Description: "AGIOS"},
	}

	in := buildInput(txs, conds, domain.DefaultThresholds())
	got, err := (&InterestVerifier{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 interest anomaly, got %d", len(got))
	}
	a := got[0]
	if math.Abs(a.Amount-150) > 1e-6 {
		t.Errorf("amount = %.2f, want 150", a.Amount)
	}
	ev := a.Evidence[0]
	if ev.ExpectedValue == nil || math.Abs(*ev.ExpectedValue-1500) > 1e-6 {
		t.Errorf("recomputed = %v, want 1500", ev.ExpectedValue)
	}
}

func TestInterestUnderchargeGate(t *testing.T) {
	th := domain.DefaultThresholds()
	th.Interest.ReportUndercharge = false

	conds := overdraftConditions(0.18, domain.DayCountACT360, 150000)
	txs := []*domain.Transaction{
		{ID: "open", AccountID: "acc-1", Date: day(2025, 3, 31), Amount: -100000, Balance: -100000,
			Description: "VIREMENT SEPA FOURNISSEUR"},
		{ID: "agios", AccountID: "acc-1", Date: day(2025, 5, 2), Amount: -1200, Balance: -101200,
			Description: "AGIOS"},
	}

	in := buildInput(txs, conds, th)
	got, _ := (&InterestVerifier{}).Detect(context.Background(), in)
	if len(got) != 0 {
		t.Errorf("undercharge reporting disabled, got %d anomalies", len(got))
	}
}

func TestInterestNoRateConfiguredNotFlagged(t *testing.T) {
	txs := []*domain.Transaction{
		{ID: "open", AccountID: "acc-1", Date: day(2025, 3, 31), Amount: -100000, Balance: -100000,
			Description: "VIREMENT SEPA FOURNISSEUR"},
		{ID: "agios", AccountID: "acc-1", Date: day(2025, 5, 2), Amount: -9999, Balance: -109999,
			Description: "AGIOS"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, _ := (&InterestVerifier{}).Detect(context.Background(), in)
	if len(got) != 0 {
		t.Errorf("missing tariff data is a confidence issue, not a finding; got %d", len(got))
	}
}

func TestInterestBalanceSeriesWithMovements(t *testing.T) {
	// April: -60,000 for the first 14 days, back to +10,000 from the
	// 15th. Only the 14 negative days accrue:
	// 60,000 x 0.18/360 x 14 = 420.
	conds := overdraftConditions(0.18, domain.DayCountACT360, 100000)
	txs := []*domain.Transaction{
		{ID: "open", AccountID: "acc-1", Date: day(2025, 3, 30), Amount: -60000, Balance: -60000,
			Description: "VIREMENT SEPA FOURNISSEUR"},
		{ID: "in", AccountID: "acc-1", Date: day(2025, 4, 15), Amount: 70000, Balance: 10000,
			Description: "REMISE DE CHEQUES CLIENT"},
		{ID: "agios", AccountID: "acc-1", Date: day(2025, 5, 2), Amount: -700, Balance: 9300,
			Description: "AGIOS"},
	}

	in := buildInput(txs, conds, domain.DefaultThresholds())
	got, err := (&InterestVerifier{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(got))
	}
	if math.Abs(got[0].Amount-280) > 1e-6 {
		t.Errorf("amount = %.2f, want 280 (700 charged vs 420 recomputed)", got[0].Amount)
	}
}

func TestChargedPeriodInference(t *testing.T) {
	start, end := chargedPeriod(day(2025, 5, 2))
	if !start.Equal(day(2025, 4, 1)) || !end.Equal(day(2025, 4, 30)) {
		t.Errorf("early-month charge should settle previous month, got %s..%s", start, end)
	}

	start, end = chargedPeriod(day(2025, 5, 28))
	if !start.Equal(day(2025, 5, 1)) || !end.Equal(day(2025, 5, 31)) {
		t.Errorf("late-month charge should settle its own month, got %s..%s", start, end)
	}
}
