package tariff

import (
	"testing"
	"time"

	"github.com/opensource-audit/harrier/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestClassifyBuiltins(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		desc    string
		wantFee bool
		code    string
	}{
		{"COMMISSION D'INTERVENTION", true, "FEE_INTERVENTION"},
		{"Frais de rejet de prelevement", true, "FEE_REJECT"},
		{"frais   de tenue de compte", true, "FEE_ACCOUNT"},
		{"Cotisation carte visa premier", true, "FEE_CARD"},
		{"AGIOS TRIMESTRE 1", true, "FEE_AGIOS"},
		{"Interets debiteurs", true, "FEE_AGIOS"},
		{"Commission sur virement international", true, "FEE_TRANSFER"},
		{"VIREMENT SEPA M DUPONT", false, ""},
		{"CHEQUE 0004521", false, ""},
		{"PAIEMENT CARTE SUPERMARCHE", false, ""},
	}

	for _, tt := range tests {
		got := r.Classify(&domain.Transaction{Description: tt.desc})
		if got.IsFee != tt.wantFee {
			t.Errorf("Classify(%q).IsFee = %v, want %v", tt.desc, got.IsFee, tt.wantFee)
			continue
		}
		if tt.wantFee && got.FeeCode != tt.code {
			t.Errorf("Classify(%q).FeeCode = %s, want %s", tt.desc, got.FeeCode, tt.code)
		}
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	r := NewResolver()

	// "commission d'intervention" also matches the generic commission
	// pattern; the more specific pattern must win.
	got := r.Classify(&domain.Transaction{Description: "commission d'intervention sur prelevement"})
	if got.FeeCode != "FEE_INTERVENTION" {
		t.Errorf("expected FEE_INTERVENTION, got %s", got.FeeCode)
	}
}

func TestEffectiveConditionsSelection(t *testing.T) {
	r := NewResolver()
	exp := date(2025, 1, 1)

	old := &domain.BankConditions{ID: "v1", EffectiveDate: date(2024, 1, 1), ExpirationDate: &exp}
	current := &domain.BankConditions{ID: "v2", EffectiveDate: date(2025, 1, 1)}

	history := []*domain.BankConditions{old, current}

	if got := r.EffectiveConditions(history, date(2024, 6, 15)); got == nil || got.ID != "v1" {
		t.Errorf("mid-2024 should resolve to v1, got %+v", got)
	}
	if got := r.EffectiveConditions(history, date(2025, 6, 15)); got == nil || got.ID != "v2" {
		t.Errorf("mid-2025 should resolve to v2, got %+v", got)
	}
	// Expiration day itself belongs to the newer grid.
	if got := r.EffectiveConditions(history, date(2025, 1, 1)); got == nil || got.ID != "v2" {
		t.Errorf("expiration boundary should resolve to v2, got %+v", got)
	}
	if got := r.EffectiveConditions(history, date(2023, 1, 1)); got != nil {
		t.Errorf("date before any grid should resolve to nil, got %+v", got)
	}
}

func TestEffectiveConditionsTieBreak(t *testing.T) {
	r := NewResolver()

	// Two open-ended grids: the latest effective date wins.
	a := &domain.BankConditions{ID: "a", EffectiveDate: date(2024, 1, 1)}
	b := &domain.BankConditions{ID: "b", EffectiveDate: date(2024, 7, 1)}

	if got := r.EffectiveConditions([]*domain.BankConditions{a, b}, date(2025, 3, 1)); got.ID != "b" {
		t.Errorf("tie-break should pick the latest effective grid, got %s", got.ID)
	}
}

func TestFeeScheduleLookup(t *testing.T) {
	r := NewResolver()
	fixed := 12.50

	history := []*domain.BankConditions{{
		ID:            "v1",
		EffectiveDate: date(2024, 1, 1),
		Fees:          []domain.FeeSchedule{{Code: "FEE_INTERVENTION", Name: "Commission d'intervention", FixedAmount: &fixed}},
	}}

	fee := r.FeeSchedule(history, "FEE_INTERVENTION", date(2024, 6, 1))
	if fee == nil {
		t.Fatal("expected a fee schedule")
	}
	if amt, ok := fee.ExpectedAmount(0); !ok || amt != 12.50 {
		t.Errorf("expected fixed amount 12.50, got %.2f (ok=%v)", amt, ok)
	}

	if got := r.FeeSchedule(history, "FEE_UNKNOWN", date(2024, 6, 1)); got != nil {
		t.Errorf("unknown code should resolve to nil, got %+v", got)
	}
}

func TestTieredFeeSchedule(t *testing.T) {
	upper := 10000.0
	fee := domain.FeeSchedule{
		Code: "FEE_TRANSFER",
		Tiers: []domain.FeeTier{
			{LowerBound: 0, UpperBound: &upper, Amount: 5},
			{LowerBound: 10000, Amount: 15},
		},
	}

	if amt, ok := fee.ExpectedAmount(2500); !ok || amt != 5 {
		t.Errorf("low tier: got %.2f (ok=%v), want 5", amt, ok)
	}
	if amt, ok := fee.ExpectedAmount(10000); !ok || amt != 15 {
		t.Errorf("boundary belongs to upper tier: got %.2f (ok=%v), want 15", amt, ok)
	}
}

func TestCustomCELRules(t *testing.T) {
	rules := []*domain.ClassificationRule{
		{
			ID:         "rule-telematic",
			Name:       "Frais telematiques",
			Expression: `description.contains("telematique") && amount < 0.0`,
			FeeCode:    "FEE_TELEMATIC",
			Priority:   1,
			Enabled:    true,
		},
		{
			ID:         "rule-disabled",
			Name:       "Disabled rule",
			Expression: `true`,
			FeeCode:    "FEE_NEVER",
			Priority:   0,
			Enabled:    false,
		},
	}

	set, err := NewCustomRuleSet(rules)
	if err != nil {
		t.Fatalf("failed to compile rules: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 compiled rule, got %d", set.Len())
	}

	r := NewResolverWithRules(set)

	got := r.Classify(&domain.Transaction{Description: "ABONNEMENT SERVICE TELEMATIQUE", Amount: -4.2})
	// Builtin "abonnement" pattern outranks custom rules.
	if got.FeeCode != "FEE_SUBSCRIPTION" {
		t.Errorf("builtin should win, got %s", got.FeeCode)
	}

	got = r.Classify(&domain.Transaction{Description: "SERVICE TELEMATIQUE MENSUEL", Amount: -4.2})
	if !got.IsFee || got.FeeCode != "FEE_TELEMATIC" {
		t.Errorf("expected custom FEE_TELEMATIC, got %+v", got)
	}

	// Positive amount fails the expression.
	got = r.Classify(&domain.Transaction{Description: "SERVICE TELEMATIQUE MENSUEL", Amount: 4.2})
	if got.IsFee {
		t.Errorf("positive amount should not classify as fee, got %+v", got)
	}
}

func TestCustomRuleCompileError(t *testing.T) {
	_, err := NewCustomRuleSet([]*domain.ClassificationRule{{
		ID:         "bad",
		Expression: "this is not CEL !!!",
		Enabled:    true,
	}})
	if err == nil {
		t.Error("expected compile error for invalid CEL")
	}

	if err := Validate(&domain.ClassificationRule{ID: "nonbool", Expression: "1 + 1", Enabled: true}); err == nil {
		t.Error("expected error for non-bool expression")
	}
}
