// Package similarity provides the pure scoring primitives shared by the
// anomaly detectors: edit distance, token-set similarity, monetary
// closeness, temporal decay and text entropy.
package similarity

import (
	"math"
	"strings"
	"unicode"

	"github.com/opensource-audit/harrier/internal/domain"
)

// Normalize case-folds a description and collapses runs of whitespace.
// Every textual comparison in the engine runs over normalized strings.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits a description on non-alphanumeric runes and lower-cases
// the tokens. Stopwords are kept: statement wording is short enough that
// removing them hurts more than it helps.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// EditDistance returns the Levenshtein distance between the normalized
// forms of a and b.
func EditDistance(a, b string) int {
	ra := []rune(Normalize(a))
	rb := []rune(Normalize(b))

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// TokenSimilarity returns the Jaccard index of the token sets of a and b.
// Two empty descriptions are considered identical.
func TokenSimilarity(a, b string) float64 {
	ta := Tokenize(a)
	tb := Tokenize(b)

	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(ta))
	for _, tok := range ta {
		setA[tok] = struct{}{}
	}

	union := make(map[string]struct{}, len(ta)+len(tb))
	for tok := range setA {
		union[tok] = struct{}{}
	}

	intersection := 0
	seen := make(map[string]struct{}, len(tb))
	for _, tok := range tb {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := setA[tok]; ok {
			intersection++
		}
		union[tok] = struct{}{}
	}

	return float64(intersection) / float64(len(union))
}

// AmountSimilarity scores how close two monetary amounts are. Within the
// relative tolerance the score is 1.0; beyond it, the score decays
// linearly to 0 at full relative divergence.
func AmountSimilarity(x, y, tolerancePct float64) float64 {
	base := math.Max(math.Max(math.Abs(x), math.Abs(y)), 1.0)
	rel := math.Abs(x-y) / base

	if rel <= tolerancePct {
		return 1.0
	}
	if rel >= 1.0 {
		return 0.0
	}

	// Linear decay from 1 at the tolerance edge to 0 at 100% divergence.
	return 1.0 - (rel-tolerancePct)/(1.0-tolerancePct)
}

// TemporalWeight returns the suspicion weight of two events daysApart
// days from each other: 2^(-daysApart/halfLifeDays). Closer in time means
// higher weight; the same day scores 1.
func TemporalWeight(daysApart float64, halfLifeDays float64) float64 {
	if daysApart < 0 {
		daysApart = -daysApart
	}
	return math.Exp2(-daysApart / halfLifeDays)
}

// ShannonEntropy returns the character-level entropy of text in bits.
// Templated, machine-generated fee labels score low; organic operation
// descriptions usually land well above 2.5 bits.
func ShannonEntropy(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}

	freq := make(map[rune]int, len(runes))
	for _, r := range runes {
		freq[r]++
	}

	total := float64(len(runes))
	entropy := 0.0
	for _, count := range freq {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// TextSimilarity combines the Jaccard token score with a normalized edit
// distance score, averaged. Used as the text component of the composite
// transaction score.
func TextSimilarity(a, b string) float64 {
	token := TokenSimilarity(a, b)

	na := Normalize(a)
	nb := Normalize(b)
	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}

	edit := 1.0
	if maxLen > 0 {
		edit = 1.0 - float64(EditDistance(a, b))/float64(maxLen)
		if edit < 0 {
			edit = 0
		}
	}

	return (token + edit) / 2.0
}

// CompositeScore is the weighted pairwise similarity of two transactions.
// Symmetric in its arguments; weights must sum to 1 (validated with the
// rest of the thresholds).
func CompositeScore(t1, t2 *domain.Transaction, amountTolerance, halfLifeDays float64, w domain.CompositeWeights) float64 {
	amount := AmountSimilarity(t1.Amount, t2.Amount, amountTolerance)
	text := TextSimilarity(t1.Description, t2.Description)
	days := math.Abs(t1.Date.Sub(t2.Date).Hours()) / 24.0
	temporal := TemporalWeight(days, halfLifeDays)

	return w.Amount*amount + w.Text*text + w.Temporal*temporal
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
