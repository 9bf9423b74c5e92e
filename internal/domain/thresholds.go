package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when threshold validation fails.
// The orchestrator fails fast on it; thresholds are never clamped.
var ErrInvalidConfig = errors.New("invalid detection configuration")

// CompositeWeights balances the components of the pairwise transaction
// score. The three weights must sum to 1.
type CompositeWeights struct {
	Amount   float64 `json:"amount"`
	Text     float64 `json:"text"`
	Temporal float64 `json:"temporal"`
}

// DuplicateThresholds configures the duplicate-fee detector.
type DuplicateThresholds struct {
	SimilarityThreshold float64          `json:"similarityThreshold"`
	TimeWindowDays      int              `json:"timeWindowDays"`
	AmountTolerance     float64          `json:"amountTolerance"`
	HalfLifeDays        float64          `json:"halfLifeDays"`
	Weights             CompositeWeights `json:"weights"`
}

// GhostFeeThresholds configures the ghost-fee detector.
type GhostFeeThresholds struct {
	ServiceWindowDays int     `json:"serviceWindowDays"`
	EntropyThreshold  float64 `json:"entropyThreshold"`
	MinConfidence     float64 `json:"minConfidence"`

	// RecurrenceWindowDays is the rolling window in which the same fee
	// code must recur before a ghost fee is reported.
	RecurrenceWindowDays int `json:"recurrenceWindowDays"`
	MinRecurrence        int `json:"minRecurrence"`
}

// OverchargeThresholds configures the overcharge detector.
type OverchargeThresholds struct {
	TolerancePercentage   float64 `json:"tolerancePercentage"`
	UseHistoricalBaseline bool    `json:"useHistoricalBaseline"`

	// BaselineStatements is how many prior statements feed the trailing
	// moving average when no contractual schedule exists.
	BaselineStatements int `json:"baselineStatements"`
}

// InterestThresholds configures the interest verifier.
type InterestThresholds struct {
	ToleranceAmount     float64 `json:"toleranceAmount"`
	TolerancePercentage float64 `json:"tolerancePercentage"`

	// ReportUndercharge also surfaces periods where the bank charged less
	// than the recomputed interest.
	ReportUndercharge bool `json:"reportUndercharge"`
}

// Thresholds is the complete detection configuration. Zero values are not
// safe; use DefaultThresholds and override per run.
type Thresholds struct {
	Duplicate  DuplicateThresholds  `json:"duplicate"`
	Ghost      GhostFeeThresholds   `json:"ghost"`
	Overcharge OverchargeThresholds `json:"overcharge"`
	Interest   InterestThresholds   `json:"interest"`
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Duplicate: DuplicateThresholds{
			SimilarityThreshold: 0.85,
			TimeWindowDays:      7,
			AmountTolerance:     0.01,
			HalfLifeDays:        3,
			Weights:             CompositeWeights{Amount: 0.4, Text: 0.4, Temporal: 0.2},
		},
		Ghost: GhostFeeThresholds{
			ServiceWindowDays:    1,
			EntropyThreshold:     2.5,
			MinConfidence:        0.70,
			RecurrenceWindowDays: 90,
			MinRecurrence:        2,
		},
		Overcharge: OverchargeThresholds{
			TolerancePercentage:   0.02,
			UseHistoricalBaseline: true,
			BaselineStatements:    6,
		},
		Interest: InterestThresholds{
			ToleranceAmount:     1.0,
			TolerancePercentage: 0.01,
			ReportUndercharge:   true,
		},
	}
}

// Validate checks every knob and reports the first violation wrapped in
// ErrInvalidConfig.
func (t Thresholds) Validate() error {
	if t.Duplicate.SimilarityThreshold < 0 || t.Duplicate.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold %.3f outside [0,1]", ErrInvalidConfig, t.Duplicate.SimilarityThreshold)
	}
	if t.Duplicate.TimeWindowDays <= 0 {
		return fmt.Errorf("%w: duplicate time window must be positive, got %d", ErrInvalidConfig, t.Duplicate.TimeWindowDays)
	}
	if t.Duplicate.AmountTolerance < 0 || t.Duplicate.AmountTolerance > 1 {
		return fmt.Errorf("%w: amount tolerance %.3f outside [0,1]", ErrInvalidConfig, t.Duplicate.AmountTolerance)
	}
	if t.Duplicate.HalfLifeDays <= 0 {
		return fmt.Errorf("%w: half-life must be positive, got %.2f", ErrInvalidConfig, t.Duplicate.HalfLifeDays)
	}
	w := t.Duplicate.Weights
	if w.Amount < 0 || w.Text < 0 || w.Temporal < 0 {
		return fmt.Errorf("%w: composite weights must be non-negative", ErrInvalidConfig)
	}
	if sum := w.Amount + w.Text + w.Temporal; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("%w: composite weights sum to %.3f, want 1", ErrInvalidConfig, sum)
	}
	if t.Ghost.ServiceWindowDays < 0 {
		return fmt.Errorf("%w: service window must not be negative, got %d", ErrInvalidConfig, t.Ghost.ServiceWindowDays)
	}
	if t.Ghost.EntropyThreshold < 0 {
		return fmt.Errorf("%w: entropy threshold must not be negative, got %.2f", ErrInvalidConfig, t.Ghost.EntropyThreshold)
	}
	if t.Ghost.MinConfidence < 0 || t.Ghost.MinConfidence > 1 {
		return fmt.Errorf("%w: ghost min confidence %.3f outside [0,1]", ErrInvalidConfig, t.Ghost.MinConfidence)
	}
	if t.Ghost.RecurrenceWindowDays <= 0 || t.Ghost.MinRecurrence < 1 {
		return fmt.Errorf("%w: ghost recurrence window/count must be positive", ErrInvalidConfig)
	}
	if t.Overcharge.TolerancePercentage < 0 {
		return fmt.Errorf("%w: overcharge tolerance must not be negative, got %.3f", ErrInvalidConfig, t.Overcharge.TolerancePercentage)
	}
	if t.Overcharge.UseHistoricalBaseline && t.Overcharge.BaselineStatements <= 0 {
		return fmt.Errorf("%w: baseline statements must be positive, got %d", ErrInvalidConfig, t.Overcharge.BaselineStatements)
	}
	if t.Interest.ToleranceAmount < 0 || t.Interest.TolerancePercentage < 0 {
		return fmt.Errorf("%w: interest tolerances must not be negative", ErrInvalidConfig)
	}
	return nil
}
