// Package tariff resolves transactions against a bank's contractual
// condition grids: effective-grid selection, fee/rate lookup, and
// fee-vs-service classification.
package tariff

import (
	"time"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/similarity"
)

// Classification is the outcome of classifying one transaction.
type Classification struct {
	IsFee   bool
	FeeCode string
	FeeName string

	// ServiceKeywords is the wording an originating service transaction
	// is expected to carry. Empty for fees with no originating operation.
	ServiceKeywords []string
}

// Resolver classifies transactions and resolves contractual expectations.
// Immutable after construction; safe for concurrent use by detectors.
type Resolver struct {
	patterns []FeePattern
	custom   *CustomRuleSet
}

// NewResolver builds a resolver with the builtin pattern table.
func NewResolver() *Resolver {
	return &Resolver{patterns: BuiltinPatterns()}
}

// NewResolverWithRules builds a resolver with the builtin table plus
// compiled operator-defined CEL rules.
func NewResolverWithRules(custom *CustomRuleSet) *Resolver {
	return &Resolver{patterns: BuiltinPatterns(), custom: custom}
}

// Classify runs the ordered pattern table over the normalized description.
// First match wins; custom CEL rules run after the builtins; no match
// means the transaction is a service operation.
func (r *Resolver) Classify(tx *domain.Transaction) Classification {
	desc := similarity.Normalize(tx.Description)

	for _, p := range r.patterns {
		if p.Pattern.MatchString(desc) {
			return Classification{
				IsFee:           true,
				FeeCode:         p.Code,
				FeeName:         p.Name,
				ServiceKeywords: p.ServiceKeywords,
			}
		}
	}

	if r.custom != nil {
		if code, name, ok := r.custom.Match(tx); ok {
			return Classification{IsFee: true, FeeCode: code, FeeName: name}
		}
	}

	return Classification{}
}

// EffectiveConditions selects the single grid covering date: the one with
// effectiveDate <= date and no expiration (or expiration after date), ties
// broken by the latest effectiveDate. Returns nil when no grid covers the
// date; the detectors treat that as reduced confidence, not an error.
func (r *Resolver) EffectiveConditions(history []*domain.BankConditions, date time.Time) *domain.BankConditions {
	var best *domain.BankConditions
	for _, cond := range history {
		if cond == nil || !cond.Covers(date) {
			continue
		}
		if best == nil || cond.EffectiveDate.After(best.EffectiveDate) {
			best = cond
		}
	}
	return best
}

// FeeSchedule resolves the contracted schedule for a fee code on a date.
func (r *Resolver) FeeSchedule(history []*domain.BankConditions, code string, date time.Time) *domain.FeeSchedule {
	cond := r.EffectiveConditions(history, date)
	if cond == nil {
		return nil
	}
	return cond.Fee(code)
}

// InterestRate resolves the contracted rate of a kind on a date.
func (r *Resolver) InterestRate(history []*domain.BankConditions, kind domain.InterestRateKind, date time.Time) *domain.InterestRate {
	cond := r.EffectiveConditions(history, date)
	if cond == nil {
		return nil
	}
	return cond.Rate(kind)
}
