package facial

// percentThreshold decides whether raw scores are percentages. A sum above it
// is treated as percentages, a sum at or below 1 as fractions, and anything in
// between is also divided by 100.
//
// The threshold is a heuristic and can misread unusual score scales; it is
// kept as is because callers depend on its exact behavior.
const percentThreshold = 7.0

// Normalize converts raw backend scores into a probability distribution over
// the same labels. Each value ends in [0,1] and the values sum to 1. If every
// score is zero or negative the clamped values are returned as they are.
func Normalize(raw map[string]float64) map[string]float64 {
	var total float64
	for _, v := range raw {
		total += v
	}

	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch {
		case total > percentThreshold:
			v /= 100
		case total <= 1:
		default:
			v /= 100
		}
		out[k] = clamp01(v)
	}

	var sum float64
	for _, v := range out {
		sum += v
	}
	if sum > 0 {
		for k, v := range out {
			out[k] = v / sum
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
