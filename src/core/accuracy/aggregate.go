package accuracy

import (
	"math"
	"strconv"
)

// Summarize aggregates the final results of successfully evaluated items.
// Items without a final score contribute nothing except provenance.
func Summarize(test *Test, items []Item) *ResultsSummary {
	summary := &ResultsSummary{
		DimensionScores:   map[string]float64{},
		DimensionCounts:   map[string]int{},
		ScoreDistribution: seedDistribution(test.ScoringMethod),
		EvaluationTypes:   map[Track]int{TrackAI: 0, TrackHuman: 0},
		TotalEvaluated:    len(items),
		FailedCount:       test.Failed,
		EvaluationType:    test.EvaluationType,
		ScoringMethod:     test.ScoringMethod,
	}

	sums := map[string]float64{}
	for i := range items {
		it := &items[i]
		for dim, v := range it.FinalDimensionScores {
			if math.IsNaN(v) {
				continue
			}
			sums[dim] += v
			summary.DimensionCounts[dim]++
		}
		if it.FinalScore != nil && !math.IsNaN(*it.FinalScore) {
			summary.ScoreDistribution[bucket(test.ScoringMethod, *it.FinalScore)]++
		}
		if it.FinalEvaluationType == TrackAI || it.FinalEvaluationType == TrackHuman {
			summary.EvaluationTypes[it.FinalEvaluationType]++
		}
	}

	for dim, sum := range sums {
		summary.DimensionScores[dim] = round2(sum / float64(summary.DimensionCounts[dim]))
	}

	weights := effectiveWeights(test)
	var weighted, total float64
	for dim, avg := range summary.DimensionScores {
		w, ok := weights[dim]
		if !ok || w <= 0 {
			continue
		}
		weighted += avg * w
		total += w
	}
	if total > 0 {
		summary.OverallScore = round2(weighted / total)
	}

	return summary
}

// effectiveWeights defaults every declared dimension without a weight to 1
func effectiveWeights(test *Test) map[string]float64 {
	w := make(map[string]float64, len(test.Dimensions))
	for _, d := range test.Dimensions {
		w[d] = 1
	}
	for d, v := range test.Weights {
		w[d] = v
	}
	return w
}

func seedDistribution(m ScoringMethod) map[string]int {
	if m == ScoringBinary {
		return map[string]int{"pass": 0, "fail": 0}
	}
	dist := map[string]int{}
	for i := 0; i <= int(m.MaxScore()); i++ {
		dist[strconv.Itoa(i)] = 0
	}
	return dist
}

func bucket(m ScoringMethod, score float64) string {
	rounded := math.Round(score)
	if m == ScoringBinary {
		if rounded >= 1 {
			return "pass"
		}
		return "fail"
	}
	if rounded < 0 {
		rounded = 0
	}
	if max := m.MaxScore(); rounded > max {
		rounded = max
	}
	return strconv.Itoa(int(rounded))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
