package domain

import "time"

// DayCount is the convention used to turn an annual rate into a daily rate.
type DayCount string

const (
	DayCountACT360    DayCount = "ACT/360"
	DayCountACT365    DayCount = "ACT/365"
	DayCountThirty360 DayCount = "30/360"
)

// Divisor returns the annual-rate denominator for the convention.
// 30/360 treats every month as 30 days over a 360-day year.
func (d DayCount) Divisor() float64 {
	switch d {
	case DayCountACT365:
		return 365
	default:
		return 360
	}
}

// InterestRateKind distinguishes the contracted rate entries.
type InterestRateKind string

const (
	RateAuthorizedOverdraft   InterestRateKind = "authorized_overdraft"
	RateUnauthorizedOverdraft InterestRateKind = "unauthorized_overdraft"
	RateSavings               InterestRateKind = "savings"
)

// FeeTier is one bracket of a tiered fee schedule. A fee with tiers applies
// the bracket whose [LowerBound, UpperBound) contains the reference base.
type FeeTier struct {
	LowerBound float64  `json:"lowerBound"`
	UpperBound *float64 `json:"upperBound,omitempty"`
	Amount     float64  `json:"amount"`
}

// FeeSchedule is one contracted fee line of a bank's tariff grid.
// Either FixedAmount or Percentage is set; Percentage-based fees are
// computed against the associated operation's amount.
type FeeSchedule struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	FixedAmount *float64  `json:"fixedAmount,omitempty"`
	Percentage  *float64  `json:"percentage,omitempty"`
	Tiers       []FeeTier `json:"tiers,omitempty"`
}

// InterestRate is one contracted rate line of a bank's tariff grid.
type InterestRate struct {
	Kind       InterestRateKind `json:"kind"`
	AnnualRate float64          `json:"annualRate"`
	DayCount   DayCount         `json:"dayCount"`
}

// BankConditions is one versioned tariff grid for a bank. Exactly one grid
// is effective for a given transaction date; selection is by effective /
// expiration window with ties broken by the latest effective date.
type BankConditions struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	BankID   string `json:"bankId"`
	Version  string `json:"version"`

	EffectiveDate  time.Time  `json:"effectiveDate"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`

	Fees  []FeeSchedule  `json:"fees"`
	Rates []InterestRate `json:"rates"`

	// AuthorizedLimit is the contracted overdraft facility, expressed as a
	// positive amount. Nil means no facility: every negative balance day is
	// charged at the unauthorized rate.
	AuthorizedLimit *float64 `json:"authorizedLimit,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Covers reports whether the grid is effective on the given date.
func (c *BankConditions) Covers(date time.Time) bool {
	if date.Before(c.EffectiveDate) {
		return false
	}
	if c.ExpirationDate != nil && !c.ExpirationDate.After(date) {
		return false
	}
	return true
}

// Rate returns the rate entry of the given kind, or nil.
func (c *BankConditions) Rate(kind InterestRateKind) *InterestRate {
	for i := range c.Rates {
		if c.Rates[i].Kind == kind {
			return &c.Rates[i]
		}
	}
	return nil
}

// Fee returns the fee schedule with the given code, or nil.
func (c *BankConditions) Fee(code string) *FeeSchedule {
	for i := range c.Fees {
		if c.Fees[i].Code == code {
			return &c.Fees[i]
		}
	}
	return nil
}

// ExpectedAmount computes the contracted charge for a reference base.
// Tiers take precedence, then the percentage, then the fixed amount.
func (f *FeeSchedule) ExpectedAmount(base float64) (float64, bool) {
	if len(f.Tiers) > 0 {
		for _, tier := range f.Tiers {
			if base < tier.LowerBound {
				continue
			}
			if tier.UpperBound != nil && base >= *tier.UpperBound {
				continue
			}
			return tier.Amount, true
		}
		return 0, false
	}
	if f.Percentage != nil {
		return *f.Percentage * base, true
	}
	if f.FixedAmount != nil {
		return *f.FixedAmount, true
	}
	return 0, false
}
