package factor

import (
	"sort"

	"factorbench/feed"
)

// Observation is one eligible (date, code) row of the joined base table:
// the factor value plus the forward return at the dataset's horizon.
// FwdRet is nil when the lookahead window is incomplete or a close was
// unusable.
type Observation struct {
	Code   string
	Factor float64
	FwdRet *float64
}

// Dataset holds the per-day cross-sections of (factor, forward return)
// for one factor at one horizon. Each day's observations are ordered by
// factor value descending, code ascending; every ranking step (layers,
// holdings) shares that tie-break.
type Dataset struct {
	Days     []string // sorted ascending
	Sections map[string][]Observation
}

// BuildDataset joins scores with eligible bars and forward returns.
// Ineligible rows and codes without a bar on the score date are dropped;
// rows with a missing forward return are kept with FwdRet nil so the
// holdings path can still see them.
func BuildDataset(scores []feed.ScoreRow, bars map[string][]feed.PriceBar, universe *Universe, horizon int) *Dataset {
	type codeIndex struct {
		byDate  map[string]int
		forward []*float64
	}

	indexed := make(map[string]codeIndex, len(bars))
	for code, series := range bars {
		byDate := make(map[string]int, len(series))
		for i, bar := range series {
			byDate[bar.TradeDate] = i
		}
		indexed[code] = codeIndex{byDate: byDate, forward: ForwardReturns(series, horizon)}
	}

	sections := make(map[string][]Observation)
	for _, score := range scores {
		idx, ok := indexed[score.Code]
		if !ok {
			continue
		}
		i, ok := idx.byDate[score.TradeDate]
		if !ok {
			continue
		}
		bar := bars[score.Code][i]
		if !universe.Eligible(score.Code, &bar) {
			continue
		}
		sections[score.TradeDate] = append(sections[score.TradeDate], Observation{
			Code:   score.Code,
			Factor: score.Value,
			FwdRet: idx.forward[i],
		})
	}

	days := make([]string, 0, len(sections))
	for day, obs := range sections {
		sort.Slice(obs, func(a, b int) bool {
			if obs[a].Factor != obs[b].Factor {
				return obs[a].Factor > obs[b].Factor
			}
			return obs[a].Code < obs[b].Code
		})
		sections[day] = obs
		days = append(days, day)
	}
	sort.Strings(days)

	return &Dataset{Days: days, Sections: sections}
}
