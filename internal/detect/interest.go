package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-audit/harrier/internal/domain"
)

// InterestVerifier recomputes debit interest day by day under the
// contracted day-count convention and flags discrepancies against the
// charged agios amount.
type InterestVerifier struct{}

func (v *InterestVerifier) Type() domain.AnomalyType { return domain.AnomalyInterestError }

func (v *InterestVerifier) Detect(ctx context.Context, in *Input) ([]domain.Anomaly, error) {
	cfg := in.Thresholds.Interest

	// Booking order for balance reconstruction.
	ordered := make([]*domain.Transaction, 0, len(in.Transactions))
	for _, tx := range in.Transactions {
		if tx != nil && !tx.Date.IsZero() {
			ordered = append(ordered, tx)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	var anomalies []domain.Anomaly
	for _, fe := range feeEntries(in) {
		if fe.class.FeeCode != "FEE_AGIOS" {
			continue
		}

		periodStart, periodEnd := chargedPeriod(fe.tx.Date)

		recomputed, covered := v.recompute(in, ordered, fe.tx, periodStart, periodEnd)
		if !covered {
			continue // no rate configured or no balance history: not flagged
		}

		actual := math.Abs(fe.tx.Amount)
		diff := actual - recomputed
		tolerance := math.Max(cfg.ToleranceAmount, recomputed*cfg.TolerancePercentage)
		if math.Abs(diff) <= tolerance {
			continue
		}
		if diff < 0 && !cfg.ReportUndercharge {
			continue
		}

		direction := "overcharged"
		if diff < 0 {
			direction = "undercharged"
		}

		amount := math.Abs(diff)
		a := newAnomaly(in.TenantID, domain.AnomalyInterestError, amount, 1.0, []string{fe.tx.ID})
		a.Severity = ClassifySeverity(amount, false)
		a.Evidence = []domain.Evidence{
			tariffEvidence(domain.EvidenceRecomputation, "recomputation",
				fmt.Sprintf("period/%s..%s", periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02")),
				recomputed, actual,
				"agios of %.2f charged, day-by-day recomputation yields %.2f (%s by %.2f)",
				actual, recomputed, direction, amount),
		}
		a.Recommendation = fmt.Sprintf(
			"Agios %s de %.2f sur la période du %s au %s; vérifier le décompte avec la banque.",
			direction, amount, periodStart.Format("02/01/2006"), periodEnd.Format("02/01/2006"))
		anomalies = append(anomalies, a)
	}

	return emit(anomalies), nil
}

// chargedPeriod infers the statement sub-period an agios charge covers.
// Charges booked in the first half of a month settle the previous calendar
// month; later charges settle their own month.
func chargedPeriod(charge time.Time) (start, end time.Time) {
	y, m, _ := charge.Date()
	start = time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	if charge.Day() <= 15 {
		start = start.AddDate(0, -1, 0)
	}
	end = start.AddDate(0, 1, -1)
	return start, end
}

// recompute walks the daily balance series over the period and accrues
// interest on every negative day. Returns covered=false when no usable
// rate or opening balance exists; that is a confidence issue, not an
// engine error.
func (v *InterestVerifier) recompute(in *Input, ordered []*domain.Transaction, charge *domain.Transaction, periodStart, periodEnd time.Time) (float64, bool) {
	opening, ok := openingBalance(ordered, charge.AccountID, charge.ID, periodStart)
	if !ok {
		return 0, false
	}

	// Per-day amounts inside the period, the agios charge itself excluded.
	deltas := make(map[time.Time]float64)
	for _, tx := range ordered {
		if tx.AccountID != charge.AccountID || tx.ID == charge.ID {
			continue
		}
		if tx.Date.Before(periodStart) || tx.Date.After(periodEnd) {
			continue
		}
		deltas[dateOnly(tx.Date)] += tx.Amount
	}

	balance := opening
	total := 0.0
	rated := false

	for day := periodStart; !day.After(periodEnd); day = day.AddDate(0, 0, 1) {
		balance += deltas[day]
		if balance >= 0 {
			continue
		}

		rate, dayCount, dayOK := v.dayRate(in, charge.AccountID, day, -balance)
		if !dayOK {
			continue
		}
		rated = true

		// 30/360 counts 30 days in every month: the 31st never accrues,
		// and the last day of February stands in for the missing days up
		// to the 30th, at that day's balance.
		weight := 1.0
		if dayCount == domain.DayCountThirty360 {
			if day.Day() == 31 {
				continue
			}
			if day.Month() == time.February && day.AddDate(0, 0, 1).Month() == time.March {
				weight = float64(30 - day.Day() + 1)
			}
		}

		total += -balance * rate / dayCount.Divisor() * weight
	}

	return total, rated
}

// dayRate resolves the applicable annual rate for one negative-balance
// day. Within the authorized facility the authorized rate applies; beyond
// it, or when no facility is configured, the unauthorized rate.
func (v *InterestVerifier) dayRate(in *Input, accountID string, day time.Time, overdraft float64) (float64, domain.DayCount, bool) {
	cond := in.Resolver.EffectiveConditions(in.Conditions, day)
	if cond == nil {
		return 0, "", false
	}

	authorized := cond.Rate(domain.RateAuthorizedOverdraft)
	unauthorized := cond.Rate(domain.RateUnauthorizedOverdraft)

	within := cond.AuthorizedLimit != nil && overdraft <= *cond.AuthorizedLimit

	var rate *domain.InterestRate
	switch {
	case within && authorized != nil:
		rate = authorized
	case unauthorized != nil:
		rate = unauthorized
	case authorized != nil:
		rate = authorized
	default:
		return 0, "", false
	}

	return rate.AnnualRate, rate.DayCount, true
}

// openingBalance reconstructs the balance at the start of the period from
// the running balances on the statement.
func openingBalance(ordered []*domain.Transaction, accountID, chargeID string, periodStart time.Time) (float64, bool) {
	var before *domain.Transaction
	var firstIn *domain.Transaction

	for _, tx := range ordered {
		if tx.AccountID != accountID || tx.ID == chargeID {
			continue
		}
		if tx.Date.Before(periodStart) {
			before = tx // ordered scan: ends at the latest one
			continue
		}
		if firstIn == nil {
			firstIn = tx
		}
	}

	if before != nil {
		return before.Balance, true
	}
	if firstIn != nil {
		return firstIn.Balance - firstIn.Amount, true
	}
	return 0, false
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
