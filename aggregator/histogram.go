package aggregator

import (
	"fmt"
	"math"
	"sort"

	"github.com/tidewatch/tidewatch/signal"
)

// histogram accumulates a window's values into cumulative buckets and serves
// nearest-rank quantile estimates from the sorted raw values.
type histogram struct {
	bounds []float64
	sorted []float64
}

func newHistogram(bounds []float64, values []float64) *histogram {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return &histogram{bounds: bounds, sorted: sorted}
}

// buckets returns cumulative counts per upper bound, with a final +Inf
// bucket holding the total.
func (h *histogram) buckets() []signal.BucketCount {
	out := make([]signal.BucketCount, 0, len(h.bounds)+1)
	for _, bound := range h.bounds {
		// sorted is ascending, so the count <= bound is the insertion point
		// past the last value not exceeding it.
		n := sort.Search(len(h.sorted), func(i int) bool { return h.sorted[i] > bound })
		out = append(out, signal.BucketCount{UpperBound: bound, Count: int64(n)})
	}
	out = append(out, signal.BucketCount{UpperBound: math.Inf(1), Count: int64(len(h.sorted))})
	return out
}

// quantiles returns nearest-rank estimates for the given fractions, keyed
// like "p50".
func (h *histogram) quantiles(fractions ...float64) map[string]float64 {
	if len(h.sorted) == 0 {
		return nil
	}

	out := make(map[string]float64, len(fractions))
	for _, q := range fractions {
		rank := int(math.Ceil(q * float64(len(h.sorted))))
		if rank < 1 {
			rank = 1
		}
		if rank > len(h.sorted) {
			rank = len(h.sorted)
		}
		out[quantileLabel(q)] = h.sorted[rank-1]
	}
	return out
}

func quantileLabel(q float64) string {
	return fmt.Sprintf("p%g", q*100)
}
