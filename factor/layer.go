package factor

import "gonum.org/v1/gonum/stat"

// LayerStat is one quantile layer of a day's cross-section. Layer 1 holds
// the highest factor values.
type LayerStat struct {
	Layer  int
	N      int
	AvgRet float64
}

// LayerReturns partitions the day's observations with a defined forward
// return into `layers` near-equal groups and reports each group's size and
// mean forward return. The observations must already carry the dataset
// ordering (factor descending, code ascending), which doubles as the
// deterministic tie-break at partition boundaries. With fewer rows than
// layers the trailing groups stay empty and emit no row; group sizes
// differ by at most one, larger groups first.
func LayerReturns(obs []Observation, layers int) []LayerStat {
	rets := make([]float64, 0, len(obs))
	for _, o := range obs {
		if o.FwdRet != nil {
			rets = append(rets, *o.FwdRet)
		}
	}
	n := len(rets)
	if n == 0 || layers < 1 {
		return nil
	}

	baseSize := n / layers
	remainder := n % layers

	stats := make([]LayerStat, 0, layers)
	offset := 0
	for layer := 1; layer <= layers; layer++ {
		size := baseSize
		if layer <= remainder {
			size++
		}
		if size == 0 {
			continue
		}
		group := rets[offset : offset+size]
		stats = append(stats, LayerStat{
			Layer:  layer,
			N:      size,
			AvgRet: stat.Mean(group, nil),
		})
		offset += size
	}
	return stats
}
