package detect

import (
	"fmt"

	"github.com/opensource-audit/harrier/internal/domain"
)

// Severity boundaries over the recoverable amount. Strictly greater-than:
// an anomaly of exactly 5,000 is LOW.
const (
	severityCriticalAbove = 50000.0
	severityHighAbove     = 20000.0
	severityMediumAbove   = 5000.0
)

// ClassifySeverity buckets an anomaly by amount. Fraud and compliance
// signals force CRITICAL regardless of amount.
func ClassifySeverity(amount float64, fraud bool) domain.Severity {
	if fraud {
		return domain.SeverityCritical
	}
	switch {
	case amount > severityCriticalAbove:
		return domain.SeverityCritical
	case amount > severityHighAbove:
		return domain.SeverityHigh
	case amount > severityMediumAbove:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// evidence builds a plain observation entry.
func evidence(kind domain.EvidenceKind, observed float64, format string, args ...any) domain.Evidence {
	return domain.Evidence{
		Kind:        kind,
		Description: fmt.Sprintf(format, args...),
		Observed:    observed,
	}
}

// tariffEvidence builds an entry carrying the contractual reference. The
// overcharge detector always uses this form: source, condition reference
// and expected/applied values are mandatory there.
func tariffEvidence(kind domain.EvidenceKind, source, conditionRef string, expected, applied float64, format string, args ...any) domain.Evidence {
	e := evidence(kind, applied, format, args...)
	e.Source = source
	e.ConditionRef = conditionRef
	e.ExpectedValue = &expected
	e.AppliedValue = &applied
	return e
}
