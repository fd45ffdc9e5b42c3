package factor

import "factorbench/feed"

// ForwardReturns computes, for every bar of one code's chronological
// sequence, the close-to-close return to the bar `horizon` rows later.
// The horizon is an index offset within the code's own sequence, never a
// calendar-day add. The result is nil when the lookahead runs past the
// last bar, or when either close is missing, or the base close is zero.
func ForwardReturns(bars []feed.PriceBar, horizon int) []*float64 {
	out := make([]*float64, len(bars))
	if horizon < 1 {
		return out
	}
	for i := range bars {
		j := i + horizon
		if j >= len(bars) {
			break // everything from here lacks a full lookahead window
		}
		base := bars[i].Close
		future := bars[j].Close
		if base == nil || *base == 0 || future == nil {
			continue
		}
		r := (*future - *base) / *base
		out[i] = &r
	}
	return out
}
