package detect

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/similarity"
)

// GhostFeeDetector finds fee charges with no originating service
// transaction nearby. Only fee families that have an expected service
// wording are checked: periodic charges (account keeping, subscriptions,
// interest) legitimately stand alone.
type GhostFeeDetector struct{}

func (d *GhostFeeDetector) Type() domain.AnomalyType { return domain.AnomalyGhostFee }

// Suspicion criteria weights. Seven weighted factors summing to 1; the
// base factor (no service found) is always present once a fee reaches
// scoring.
const (
	ghostWeightNoService   = 0.30
	ghostWeightLowEntropy  = 0.20
	ghostWeightNoReference = 0.10
	ghostWeightRoundAmount = 0.10
	ghostWeightNoSchedule  = 0.10
	ghostWeightRecurrence  = 0.10
	ghostWeightIsolation   = 0.10
)

func (d *GhostFeeDetector) Detect(ctx context.Context, in *Input) ([]domain.Anomaly, error) {
	cfg := in.Thresholds.Ghost
	fees := feeEntries(in)

	var anomalies []domain.Anomaly
	for _, fe := range fees {
		if len(fe.class.ServiceKeywords) == 0 {
			continue
		}

		// Hard gate: organic wording is never flagged, whatever the
		// other factors say.
		entropy := similarity.ShannonEntropy(similarity.Normalize(fe.tx.Description))
		if entropy >= cfg.EntropyThreshold {
			continue
		}

		if d.findService(in, fe, cfg.ServiceWindowDays) {
			continue
		}

		// One-off charges are too often legitimate ad-hoc fees; require
		// the code to recur inside the rolling window.
		recurrence := d.countRecurrence(fees, fe, cfg.RecurrenceWindowDays)
		if recurrence < cfg.MinRecurrence {
			continue
		}

		confidence := d.score(in, fe, entropy, recurrence, cfg)
		if confidence < cfg.MinConfidence {
			continue
		}

		amount := math.Abs(fe.tx.Amount)
		a := newAnomaly(in.TenantID, domain.AnomalyGhostFee, amount, confidence, []string{fe.tx.ID})
		a.Severity = ClassifySeverity(amount, false)
		a.Evidence = []domain.Evidence{
			evidence(domain.EvidenceMissingMatch, float64(cfg.ServiceWindowDays),
				"no %s operation found within %d day(s) on account %s",
				strings.Join(fe.class.ServiceKeywords, "/"), cfg.ServiceWindowDays, fe.tx.AccountID),
			evidence(domain.EvidenceEntropy, entropy,
				"description entropy %.2f bits, below the %.2f threshold", entropy, cfg.EntropyThreshold),
			evidence(domain.EvidenceRecurrence, float64(recurrence),
				"fee code %s charged %d times in the last %d days",
				fe.class.FeeCode, recurrence, cfg.RecurrenceWindowDays),
		}
		a.Recommendation = fmt.Sprintf(
			"Frais %q sans opération justificative; demander au banquier le détail de l'opération facturée (%.2f).",
			fe.class.FeeName, amount)
		anomalies = append(anomalies, a)
	}

	return emit(anomalies), nil
}

// findService looks for a same-account service transaction whose wording
// matches the fee's expected keywords within the window.
func (d *GhostFeeDetector) findService(in *Input, fe feeEntry, windowDays int) bool {
	for i, tx := range in.Transactions {
		if tx == nil || tx.Date.IsZero() || in.Classifications[i].IsFee {
			continue
		}
		if tx.AccountID != fe.tx.AccountID {
			continue
		}
		if daysBetween(tx.Date, fe.tx.Date) > float64(windowDays) {
			continue
		}
		desc := similarity.Normalize(tx.Description)
		for _, kw := range fe.class.ServiceKeywords {
			if strings.Contains(desc, kw) {
				return true
			}
		}
	}
	return false
}

// countRecurrence counts charges of the same fee code on the same account
// inside the trailing window, the candidate included.
func (d *GhostFeeDetector) countRecurrence(fees []feeEntry, fe feeEntry, windowDays int) int {
	count := 0
	for _, other := range fees {
		if other.class.FeeCode != fe.class.FeeCode || other.tx.AccountID != fe.tx.AccountID {
			continue
		}
		if other.tx.Date.After(fe.tx.Date) {
			continue
		}
		if daysBetween(other.tx.Date, fe.tx.Date) <= float64(windowDays) {
			count++
		}
	}
	return count
}

// score combines the seven weighted suspicion criteria into [0,1].
func (d *GhostFeeDetector) score(in *Input, fe feeEntry, entropy float64, recurrence int, cfg domain.GhostFeeThresholds) float64 {
	score := ghostWeightNoService // reaching here means no service matched

	if cfg.EntropyThreshold > 0 {
		lowness := (cfg.EntropyThreshold - entropy) / cfg.EntropyThreshold
		if lowness < 0 {
			lowness = 0
		}
		score += ghostWeightLowEntropy * lowness
	}

	if fe.tx.Reference == "" {
		score += ghostWeightNoReference
	}

	score += ghostWeightRoundAmount * roundness(fe.tx.Amount)

	if in.Resolver.FeeSchedule(in.Conditions, fe.class.FeeCode, fe.tx.Date) == nil {
		score += ghostWeightNoSchedule
	}

	if recurrence >= cfg.MinRecurrence+1 {
		score += ghostWeightRecurrence
	} else {
		score += ghostWeightRecurrence * 0.5
	}

	if d.isolated(in, fe) {
		score += ghostWeightIsolation
	}

	return score
}

// roundness scores how "round" an amount is; amounts ending in many zeros
// are mildly suspicious for machine-generated charges.
func roundness(amount float64) float64 {
	abs := math.Abs(amount)
	if abs == 0 {
		return 0
	}
	switch {
	case math.Mod(abs, 100) == 0:
		return 1.0
	case math.Mod(abs, 10) == 0:
		return 0.7
	case math.Mod(abs, 1) == 0:
		return 0.3
	default:
		return 0
	}
}

// isolated reports whether the fee is the only booking on its account that
// day.
func (d *GhostFeeDetector) isolated(in *Input, fe feeEntry) bool {
	y, m, day := fe.tx.Date.Date()
	for _, tx := range in.Transactions {
		if tx == nil || tx.ID == fe.tx.ID || tx.AccountID != fe.tx.AccountID {
			continue
		}
		ty, tm, td := tx.Date.Date()
		if ty == y && tm == m && td == day {
			return false
		}
	}
	return true
}
