package classifier

import (
	"math"
	"sort"
)

// DefaultTopK is the number of ranked classes reported with a decision.
const DefaultTopK = 3

// TopKEntry is one ranked class with its probability.
type TopKEntry struct {
	Index       int     `json:"-"`
	Label       string  `json:"label"`
	Probability float64 `json:"p"`
}

// Softmax converts raw scores into a probability distribution. The maximum
// score is subtracted before exponentiating so large magnitudes cannot overflow.
func Softmax(scores []float32) []float64 {
	if len(scores) == 0 {
		return nil
	}

	maxScore := float64(scores[0])
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, float64(s))
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(float64(s) - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// TopK ranks probs in descending order and returns the first k entries.
// Equal probabilities keep ascending class index order.
func TopK(probs []float64, labels LabelSet, k int) []TopKEntry {
	k = min(k, len(probs))
	if k <= 0 {
		return []TopKEntry{}
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})

	entries := make([]TopKEntry, k)
	for i, idx := range order[:k] {
		entries[i] = TopKEntry{Index: idx, Label: labels.Label(idx), Probability: probs[idx]}
	}
	return entries
}
