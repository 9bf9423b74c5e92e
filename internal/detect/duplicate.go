package detect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/similarity"
)

// DuplicateDetector finds the same charge billed more than once within a
// time window. Candidate pairs are merged transitively, so A~B and B~C
// yields one group {A, B, C}; each transaction belongs to at most one
// group.
type DuplicateDetector struct{}

func (d *DuplicateDetector) Type() domain.AnomalyType { return domain.AnomalyDuplicateFee }

// candidatePair records one accepted pair for the evidence trail.
type candidatePair struct {
	i, j    int
	score   float64
	gapDays float64
}

func (d *DuplicateDetector) Detect(ctx context.Context, in *Input) ([]domain.Anomaly, error) {
	cfg := in.Thresholds.Duplicate
	fees := feeEntries(in)
	if len(fees) < 2 {
		return nil, nil
	}

	uf := newUnionFind(len(fees))
	var pairs []candidatePair

	// Pairwise scan over the date-sorted fee list. Sorting bounds the
	// inner loop to the time window, cutting the O(n²) constant.
	for i := 0; i < len(fees); i++ {
		for j := i + 1; j < len(fees); j++ {
			gap := daysBetween(fees[i].tx.Date, fees[j].tx.Date)
			if gap > float64(cfg.TimeWindowDays) {
				break // sorted by date: every later j is further away
			}
			if fees[i].tx.AccountID != fees[j].tx.AccountID {
				continue
			}

			amountSim := similarity.AmountSimilarity(fees[i].tx.Amount, fees[j].tx.Amount, cfg.AmountTolerance)
			if amountSim < 1.0-cfg.AmountTolerance {
				continue
			}

			score := similarity.CompositeScore(fees[i].tx, fees[j].tx, cfg.AmountTolerance, cfg.HalfLifeDays, cfg.Weights)
			if score < cfg.SimilarityThreshold {
				continue
			}

			uf.union(i, j)
			pairs = append(pairs, candidatePair{i: i, j: j, score: score, gapDays: gap})
		}
	}

	// Collect groups keyed by union-find root.
	groups := make(map[int][]int)
	for _, p := range pairs {
		root := uf.find(p.i)
		groups[root] = appendUnique(groups[root], p.i)
		groups[root] = appendUnique(groups[root], p.j)
	}

	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	var anomalies []domain.Anomaly
	for _, root := range roots {
		members := groups[root]
		if len(members) < 2 {
			continue
		}

		// Earliest first; ties broken by id for determinism.
		sort.Slice(members, func(a, b int) bool {
			ta, tb := fees[members[a]].tx, fees[members[b]].tx
			if !ta.Date.Equal(tb.Date) {
				return ta.Date.Before(tb.Date)
			}
			return ta.ID < tb.ID
		})

		// Recoverable excess: everything billed after the first charge.
		var excess float64
		txIDs := make([]string, len(members))
		for k, m := range members {
			txIDs[k] = fees[m].tx.ID
			if k > 0 {
				excess += math.Abs(fees[m].tx.Amount)
			}
		}

		confidence := 1.0
		var ev []domain.Evidence
		memberSet := make(map[int]bool, len(members))
		for _, m := range members {
			memberSet[m] = true
		}
		for _, p := range pairs {
			if !memberSet[p.i] || !memberSet[p.j] {
				continue
			}
			if p.score < confidence {
				confidence = p.score
			}
			ev = append(ev,
				evidence(domain.EvidenceSimilarity, p.score,
					"composite similarity %.3f between %s and %s",
					p.score, fees[p.i].tx.ID, fees[p.j].tx.ID),
				evidence(domain.EvidenceTimeGap, p.gapDays,
					"%.1f days between %s and %s",
					p.gapDays, fees[p.i].tx.ID, fees[p.j].tx.ID),
			)
		}

		a := newAnomaly(in.TenantID, domain.AnomalyDuplicateFee, excess, confidence, txIDs)
		a.Severity = ClassifySeverity(excess, false)
		a.Evidence = ev
		a.Recommendation = fmt.Sprintf(
			"La même charge %q apparaît %d fois en %d jours; demander le remboursement de %.2f.",
			fees[members[0]].class.FeeName, len(members), cfg.TimeWindowDays, excess)
		anomalies = append(anomalies, a)
	}

	return emit(anomalies), nil
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// unionFind is a small path-compressing disjoint set over indices.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Attach the larger root under the smaller so group roots stay stable.
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
