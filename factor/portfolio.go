package factor

import "factorbench/db"

// dayReturn is the portfolio's realized forward return for one selection
// day and the number of holdings that contributed to it.
type dayReturn struct {
	ret float64
	cnt int
}

// SelectHoldings takes the Top-N codes by factor value for every day of
// the dataset and assigns equal weights. Each day is an independent
// snapshot (daily rebalance); with fewer eligible codes than topn the
// whole cross-section is held. The dataset ordering (factor descending,
// code ascending) defines rank_in_day.
func SelectHoldings(data *Dataset, portfolioCode string, topn int) []db.Holding {
	var holdings []db.Holding
	for _, day := range data.Days {
		obs := data.Sections[day]
		count := topn
		if len(obs) < count {
			count = len(obs)
		}
		if count == 0 {
			continue
		}
		weight := 1.0 / float64(count)
		for i := 0; i < count; i++ {
			holdings = append(holdings, db.Holding{
				PortfolioCode: portfolioCode,
				TradeDate:     day,
				Code:          obs[i].Code,
				Weight:        weight,
				RankInDay:     i + 1,
			})
		}
	}
	return holdings
}

// portfolioReturns averages the forward return over each day's Top-N
// selection. Selected codes without a defined forward return do not
// contribute; a day where none of the selection has one yields no entry.
func portfolioReturns(data *Dataset, topn int) map[string]dayReturn {
	returns := make(map[string]dayReturn)
	for _, day := range data.Days {
		obs := data.Sections[day]
		count := topn
		if len(obs) < count {
			count = len(obs)
		}
		sum := 0.0
		contributors := 0
		for i := 0; i < count; i++ {
			if obs[i].FwdRet == nil {
				continue
			}
			sum += *obs[i].FwdRet
			contributors++
		}
		if contributors == 0 {
			continue
		}
		returns[day] = dayReturn{ret: sum / float64(contributors), cnt: contributors}
	}
	return returns
}

// BuildNav compounds the NAV series over the trading calendar restricted
// to the requested range. The return realized on day d is applied to the
// NAV at d's calendar successor; days whose predecessor produced no return
// carry the NAV forward with a null daily_ret. The first calendar day is
// always nav=1.0 with null return.
func BuildNav(calendar []string, returns map[string]dayReturn, portfolioCode string) []db.NavPoint {
	points := make([]db.NavPoint, 0, len(calendar))
	nav := 1.0
	for i, day := range calendar {
		if i == 0 {
			points = append(points, db.NavPoint{PortfolioCode: portfolioCode, TradeDate: day, Nav: nav})
			continue
		}
		prev := calendar[i-1]
		r, ok := returns[prev]
		if !ok {
			points = append(points, db.NavPoint{PortfolioCode: portfolioCode, TradeDate: day, Nav: nav})
			continue
		}
		nav *= 1.0 + r.ret
		ret := r.ret
		cnt := r.cnt
		points = append(points, db.NavPoint{
			PortfolioCode: portfolioCode,
			TradeDate:     day,
			Nav:           nav,
			DailyRet:      &ret,
			HoldCnt:       &cnt,
		})
	}
	return points
}
