package factor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DayIC is the cross-sectional IC of one trading day.
type DayIC struct {
	IC      *float64
	RankIC  *float64
	N       int
	MeanRet *float64
	StdRet  *float64
}

// moments accumulates the first and second moments of a paired series,
// enough to evaluate the Pearson coefficient in one pass.
type moments struct {
	n                   int
	sumX, sumY          float64
	sumXX, sumYY, sumXY float64
}

func (m *moments) add(x, y float64) {
	m.n++
	m.sumX += x
	m.sumY += y
	m.sumXX += x * x
	m.sumYY += y * y
	m.sumXY += x * y
}

// pearson evaluates (nΣxy - ΣxΣy) / sqrt((nΣx² - (Σx)²)(nΣy² - (Σy)²)),
// nil when either denominator factor is zero (a constant series).
func (m *moments) pearson() *float64 {
	n := float64(m.n)
	dx := n*m.sumXX - m.sumX*m.sumX
	dy := n*m.sumYY - m.sumY*m.sumY
	if dx <= 0 || dy <= 0 {
		return nil
	}
	r := (n*m.sumXY - m.sumX*m.sumY) / math.Sqrt(dx*dy)
	return &r
}

// DailyIC computes the day's raw IC, Rank-IC and return statistics over
// the observations with a defined forward return. The min_n gate is the
// caller's concern.
func DailyIC(obs []Observation) DayIC {
	xs := make([]float64, 0, len(obs))
	ys := make([]float64, 0, len(obs))
	for _, o := range obs {
		if o.FwdRet == nil {
			continue
		}
		xs = append(xs, o.Factor)
		ys = append(ys, *o.FwdRet)
	}

	day := DayIC{N: len(xs)}
	if len(xs) == 0 {
		return day
	}

	var raw moments
	for i := range xs {
		raw.add(xs[i], ys[i])
	}
	day.IC = raw.pearson()

	var ranked moments
	rx := denseRanks(xs)
	ry := denseRanks(ys)
	for i := range rx {
		ranked.add(rx[i], ry[i])
	}
	day.RankIC = ranked.pearson()

	mean := stat.Mean(ys, nil)
	day.MeanRet = &mean
	if len(ys) >= 2 {
		std := stat.StdDev(ys, nil)
		day.StdRet = &std
	}
	return day
}

// denseRanks assigns rank 1 to the smallest value; tied values share a
// rank and the next distinct value continues at rank+1, as SQL DENSE_RANK
// does. Known limitation: with many ties the resulting Rank-IC is a
// biased approximation of Spearman's rho, which averages tied ranks. The
// tie policy is kept as-is; downstream series depend on it.
func denseRanks(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranks := make([]float64, len(values))
	rank := 0
	for i, id := range idx {
		if i == 0 || values[id] != values[idx[i-1]] {
			rank++
		}
		ranks[id] = float64(rank)
	}
	return ranks
}
