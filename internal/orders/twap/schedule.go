package twap

import (
	"math"
	"math/rand"
	"time"
)

const (
	// Hard ceiling on slice count regardless of duration/interval ratio.
	maxSlices = 100

	// Smallest quantity a jittered slice may shrink to.
	minSliceQty = 0.001

	// Jitter applied to each slice quantity, as a fraction of the even size.
	jitterFraction = 0.10
)

// slicePlan is one step of a TWAP schedule.
type slicePlan struct {
	Index int
	Qty   float64
}

// buildSchedule splits total into per-interval slices. Quantities get a
// random +/-10% jitter so the child orders do not telegraph an even split,
// except the last slice which carries the exact remainder so the schedule
// always sums to total.
func buildSchedule(total float64, duration, interval time.Duration, rng *rand.Rand) []slicePlan {
	n := int(math.Ceil(float64(duration) / float64(interval)))
	if n < 1 {
		n = 1
	}

	even := total / float64(n)
	plan := make([]slicePlan, 0, n)
	remaining := total
	for i := 0; i < n-1; i++ {
		jitter := (rng.Float64()*2 - 1) * jitterFraction * even
		qty := even + jitter
		if qty < minSliceQty {
			qty = minSliceQty
		}
		if qty > remaining {
			qty = remaining
		}
		plan = append(plan, slicePlan{Index: i, Qty: qty})
		remaining -= qty
	}
	plan = append(plan, slicePlan{Index: n - 1, Qty: remaining})
	return plan
}
