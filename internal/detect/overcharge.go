package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/similarity"
)

// OverchargeDetector finds fees billed above the contracted tariff, or
// above the account's own historical norm when no tariff is configured.
type OverchargeDetector struct{}

func (d *OverchargeDetector) Type() domain.AnomalyType { return domain.AnomalyOvercharge }

// Baseline comparisons are softer than contractual ones.
const baselineConfidence = 0.8

func (d *OverchargeDetector) Detect(ctx context.Context, in *Input) ([]domain.Anomaly, error) {
	cfg := in.Thresholds.Overcharge
	fees := feeEntries(in)

	var anomalies []domain.Anomaly
	for _, fe := range fees {
		applied := math.Abs(fe.tx.Amount)

		expected, source, conditionRef, confidence, ok := d.expectedAmount(in, fees, fe, cfg)
		if !ok {
			continue
		}

		if applied <= expected*(1.0+cfg.TolerancePercentage) {
			continue
		}

		excess := applied - expected
		a := newAnomaly(in.TenantID, domain.AnomalyOvercharge, excess, confidence, []string{fe.tx.ID})
		a.Severity = ClassifySeverity(excess, false)
		a.Evidence = []domain.Evidence{
			tariffEvidence(domain.EvidenceTariff, source, conditionRef, expected, applied,
				"charged %.2f for %s, %s expects %.2f (tolerance %.0f%%)",
				applied, fe.class.FeeCode, source, expected, cfg.TolerancePercentage*100),
		}
		a.Recommendation = fmt.Sprintf(
			"Frais %q facturé %.2f au lieu de %.2f; réclamer le trop-perçu de %.2f.",
			fe.class.FeeName, applied, expected, excess)
		anomalies = append(anomalies, a)
	}

	return emit(anomalies), nil
}

// expectedAmount resolves the contracted charge, falling back to the
// trailing historical baseline when no schedule is configured.
func (d *OverchargeDetector) expectedAmount(in *Input, fees []feeEntry, fe feeEntry, cfg domain.OverchargeThresholds) (expected float64, source, conditionRef string, confidence float64, ok bool) {
	cond := in.Resolver.EffectiveConditions(in.Conditions, fe.tx.Date)
	if cond != nil {
		if schedule := cond.Fee(fe.class.FeeCode); schedule != nil {
			base := 0.0
			if schedule.Percentage != nil || len(schedule.Tiers) > 0 {
				base = d.referenceBase(in, fe)
				if base == 0 {
					// Percentage fee with no identifiable operation:
					// nothing trustworthy to compare against.
					return 0, "", "", 0, false
				}
			}
			if amt, found := schedule.ExpectedAmount(base); found {
				ref := fmt.Sprintf("%s/%s", cond.ID, schedule.Code)
				return amt, "contract", ref, 1.0, true
			}
		}
	}

	if !cfg.UseHistoricalBaseline {
		return 0, "", "", 0, false
	}

	avg, months := d.historicalBaseline(fees, fe, cfg.BaselineStatements)
	if months < 2 {
		return 0, "", "", 0, false
	}
	ref := fmt.Sprintf("baseline/%s/%dmo", fe.class.FeeCode, months)
	return avg, "historical baseline", ref, baselineConfidence, true
}

// referenceBase finds the amount of the operation the fee relates to: the
// closest same-account service transaction matching the fee's expected
// wording within the ghost-fee service window.
func (d *OverchargeDetector) referenceBase(in *Input, fe feeEntry) float64 {
	window := float64(in.Thresholds.Ghost.ServiceWindowDays)
	bestGap := math.Inf(1)
	bestID := ""
	base := 0.0

	for i, tx := range in.Transactions {
		if tx == nil || tx.Date.IsZero() || in.Classifications[i].IsFee {
			continue
		}
		if tx.AccountID != fe.tx.AccountID {
			continue
		}
		gap := daysBetween(tx.Date, fe.tx.Date)
		if gap > window {
			continue
		}
		desc := similarity.Normalize(tx.Description)
		for _, kw := range fe.class.ServiceKeywords {
			if strings.Contains(desc, kw) {
				if gap < bestGap || (gap == bestGap && tx.ID < bestID) {
					bestGap = gap
					bestID = tx.ID
					base = math.Abs(tx.Amount)
				}
				break
			}
		}
	}

	return base
}

// historicalBaseline averages the per-statement (calendar month) charge of
// the same fee code on the same account over the trailing statements
// strictly before the candidate's month. Returns the average and how many
// months contributed.
func (d *OverchargeDetector) historicalBaseline(fees []feeEntry, fe feeEntry, statements int) (float64, int) {
	currentMonth := monthStart(fe.tx.Date)

	perMonth := make(map[time.Time]float64)
	for _, other := range fees {
		if other.class.FeeCode != fe.class.FeeCode || other.tx.AccountID != fe.tx.AccountID {
			continue
		}
		m := monthStart(other.tx.Date)
		if !m.Before(currentMonth) {
			continue
		}
		perMonth[m] += math.Abs(other.tx.Amount)
	}

	months := make([]time.Time, 0, len(perMonth))
	for m := range perMonth {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].After(months[j]) })
	if len(months) > statements {
		months = months[:statements]
	}

	if len(months) == 0 {
		return 0, 0
	}

	var sum float64
	for _, m := range months {
		sum += perMonth[m]
	}
	return sum / float64(len(months)), len(months)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
