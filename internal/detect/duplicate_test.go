package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/tariff"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// buildInput classifies the transactions the way the orchestrator does.
func buildInput(txs []*domain.Transaction, conds []*domain.BankConditions, th domain.Thresholds) *Input {
	resolver := tariff.NewResolver()
	classes := make([]tariff.Classification, len(txs))
	for i, tx := range txs {
		if tx != nil {
			classes[i] = resolver.Classify(tx)
		}
	}
	return &Input{
		TenantID:        "tenant-001",
		Transactions:    txs,
		Classifications: classes,
		Conditions:      conds,
		Thresholds:      th,
		Resolver:        resolver,
	}
}

func TestDuplicateScenarioHundredTransactions(t *testing.T) {
	var txs []*domain.Transaction

	// 98 distinct service operations as background noise.
	for i := 0; i < 98; i++ {
		txs = append(txs, &domain.Transaction{
			ID:          fmt.Sprintf("svc-%03d", i),
			AccountID:   "acc-1",
			Date:        day(2025, 3, 1).AddDate(0, 0, i%28),
			Amount:      -float64(100 + i),
			Description: fmt.Sprintf("virement sepa fournisseur %d", i),
		})
	}

	// Two identical fee charges of 5,000 two days apart.
	txs = append(txs,
		&domain.Transaction{ID: "fee-a", AccountID: "acc-1", Date: day(2025, 3, 10),
			Amount: -5000, Description: "FRAIS DE TENUE DE COMPTE"},
		&domain.Transaction{ID: "fee-b", AccountID: "acc-1", Date: day(2025, 3, 12),
			Amount: -5000, Description: "FRAIS DE TENUE DE COMPTE"},
	)

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, err := (&DuplicateDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected exactly 1 duplicate anomaly, got %d", len(got))
	}
	a := got[0]
	if a.Type != domain.AnomalyDuplicateFee {
		t.Errorf("type = %s, want DUPLICATE_FEE", a.Type)
	}
	if a.Amount != 5000 {
		t.Errorf("amount = %.2f, want 5000 (the refundable excess)", a.Amount)
	}
	// 5,000 is not > 5,000: the medium boundary is strict.
	if a.Severity != domain.SeverityLow {
		t.Errorf("severity = %s, want LOW", a.Severity)
	}
	if len(a.TransactionIDs) != 2 || a.TransactionIDs[0] != "fee-a" {
		t.Errorf("transaction ids = %v, want [fee-a fee-b]", a.TransactionIDs)
	}
	if len(a.Evidence) == 0 {
		t.Error("anomaly emitted without evidence")
	}
	if a.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", a.Status)
	}
}

func TestDuplicateTransitiveGrouping(t *testing.T) {
	// A~B and B~C must merge into a single group {A,B,C}.
	txs := []*domain.Transaction{
		{ID: "a", AccountID: "acc-1", Date: day(2025, 4, 1), Amount: -120, Description: "commission d'intervention"},
		{ID: "b", AccountID: "acc-1", Date: day(2025, 4, 3), Amount: -120, Description: "commission d'intervention"},
		{ID: "c", AccountID: "acc-1", Date: day(2025, 4, 5), Amount: -120, Description: "commission d'intervention"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, err := (&DuplicateDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected one merged group, got %d anomalies", len(got))
	}
	if len(got[0].TransactionIDs) != 3 {
		t.Errorf("group size = %d, want 3", len(got[0].TransactionIDs))
	}
	if got[0].Amount != 240 {
		t.Errorf("amount = %.2f, want 240 (two refundable repeats)", got[0].Amount)
	}
}

func TestNoFalseDuplicateOnDistinctServices(t *testing.T) {
	// Same amount, token-dissimilar descriptions, outside the window.
	txs := []*domain.Transaction{
		{ID: "a", AccountID: "acc-1", Date: day(2025, 1, 5), Amount: -300, Description: "frais de rejet de cheque"},
		{ID: "b", AccountID: "acc-1", Date: day(2025, 2, 20), Amount: -300, Description: "cotisation carte visa"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, err := (&DuplicateDetector{}).Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no duplicate, got %d", len(got))
	}
}

func TestDuplicateDifferentAccountsNeverGrouped(t *testing.T) {
	txs := []*domain.Transaction{
		{ID: "a", AccountID: "acc-1", Date: day(2025, 4, 1), Amount: -120, Description: "commission d'intervention"},
		{ID: "b", AccountID: "acc-2", Date: day(2025, 4, 2), Amount: -120, Description: "commission d'intervention"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())
	got, _ := (&DuplicateDetector{}).Detect(context.Background(), in)
	if len(got) != 0 {
		t.Errorf("cross-account charges must not group, got %d anomalies", len(got))
	}
}

func TestDuplicateDeterminism(t *testing.T) {
	txs := []*domain.Transaction{
		{ID: "z", AccountID: "acc-1", Date: day(2025, 4, 1), Amount: -75, Description: "frais de virement"},
		{ID: "y", AccountID: "acc-1", Date: day(2025, 4, 1), Amount: -75, Description: "frais de virement"},
		{ID: "x", AccountID: "acc-1", Date: day(2025, 4, 2), Amount: -75, Description: "frais de virement"},
	}

	in := buildInput(txs, nil, domain.DefaultThresholds())

	var first []domain.Anomaly
	for run := 0; run < 5; run++ {
		got, err := (&DuplicateDetector{}).Detect(context.Background(), in)
		if err != nil {
			t.Fatalf("detect failed: %v", err)
		}
		if run == 0 {
			first = got
			continue
		}
		if len(got) != len(first) {
			t.Fatalf("run %d: %d anomalies, first run had %d", run, len(got), len(first))
		}
		for i := range got {
			if got[i].Amount != first[i].Amount || got[i].Confidence != first[i].Confidence {
				t.Errorf("run %d anomaly %d: score/amount drifted", run, i)
			}
			for j := range got[i].TransactionIDs {
				if got[i].TransactionIDs[j] != first[i].TransactionIDs[j] {
					t.Errorf("run %d: transaction order drifted", run)
				}
			}
		}
	}

	// Same-date tie broken by id: "y" precedes "z".
	if first[0].TransactionIDs[0] != "y" {
		t.Errorf("earliest tie-break should pick id y, got %s", first[0].TransactionIDs[0])
	}
}
