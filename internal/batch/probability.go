package batch

import "math"

// choose returns C(n, r), the binomial coefficient.
func choose(n, r int) float64 {
	if r < 0 || r > n {
		return 0
	}
	if r > n-r {
		r = n - r
	}
	result := 1.0
	for i := 0; i < r; i++ {
		result *= float64(n-i) / float64(i+1)
	}
	return result
}

// FailureProbability estimates the probability that a batch with k data
// fragments out of n total fragments fails to reconstruct under
// independent per-fragment loss probability p: the chance that fewer than
// k of the n fragments survive.
//
// Grounded on original_source/scripts/count_failure_probability.py, which
// sums P(exactly i survive) for i in [0, k-1] over a binomial(n, 1-p).
func FailureProbability(n, k int, p float64) float64 {
	if n <= 0 || k <= 0 || k > n {
		return 0
	}
	q := 1 - p
	sum := 0.0
	for i := 0; i < k; i++ {
		sum += choose(n, i) * math.Pow(p, float64(n-i)) * math.Pow(q, float64(i))
	}
	return sum
}
