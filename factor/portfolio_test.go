package factor

import (
	"math"
	"testing"
)

func datasetForDays(days map[string][]Observation) *Dataset {
	data := &Dataset{Sections: days}
	for day := range days {
		data.Days = append(data.Days, day)
	}
	// Test maps are small; keep insertion-independent order.
	for i := 0; i < len(data.Days); i++ {
		for j := i + 1; j < len(data.Days); j++ {
			if data.Days[j] < data.Days[i] {
				data.Days[i], data.Days[j] = data.Days[j], data.Days[i]
			}
		}
	}
	return data
}

func TestSelectHoldingsWeightsSumToOne(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		topn      int
		wantCount int
	}{
		{name: "full selection", count: 10, topn: 3, wantCount: 3},
		{name: "cross-section smaller than topn", count: 2, topn: 50, wantCount: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := make([]Observation, tt.count)
			for i := range obs {
				obs[i] = Observation{Code: string(rune('a' + i)), Factor: float64(tt.count - i)}
			}
			data := datasetForDays(map[string][]Observation{"2024-01-02": obs})

			holdings := SelectHoldings(data, "TOP50_total_score_H1_D", tt.topn)
			if len(holdings) != tt.wantCount {
				t.Fatalf("holdings = %d, want %d", len(holdings), tt.wantCount)
			}
			sum := 0.0
			for i, h := range holdings {
				sum += h.Weight
				if h.RankInDay != i+1 {
					t.Errorf("rank_in_day = %d, want %d", h.RankInDay, i+1)
				}
			}
			if math.Abs(sum-1.0) > 1e-9 {
				t.Errorf("weights sum = %v, want 1.0", sum)
			}
		})
	}
}

func TestSelectHoldingsTakesTopFactorValues(t *testing.T) {
	data := datasetForDays(map[string][]Observation{
		"2024-01-02": {
			{Code: "sh600001", Factor: 9},
			{Code: "sh600002", Factor: 7},
			{Code: "sh600003", Factor: 5},
		},
	})
	holdings := SelectHoldings(data, "TOP2_f_H1_D", 2)
	if len(holdings) != 2 || holdings[0].Code != "sh600001" || holdings[1].Code != "sh600002" {
		t.Fatalf("unexpected selection: %+v", holdings)
	}
}

// Two days, topn=1: day one selects A earning 5%, day two selects B
// earning -2%. Each return lands on the following calendar day.
func TestBuildNavCompounding(t *testing.T) {
	data := datasetForDays(map[string][]Observation{
		"2024-01-02": {
			{Code: "A", Factor: 2, FwdRet: fp(0.05)},
			{Code: "B", Factor: 1, FwdRet: fp(0.01)},
		},
		"2024-01-03": {
			{Code: "B", Factor: 2, FwdRet: fp(-0.02)},
			{Code: "A", Factor: 1, FwdRet: fp(0.03)},
		},
	})
	calendar := []string{"2024-01-02", "2024-01-03", "2024-01-04"}

	nav := BuildNav(calendar, portfolioReturns(data, 1), "TOP1_f_H1_D")
	if len(nav) != 3 {
		t.Fatalf("nav points = %d, want 3", len(nav))
	}

	if nav[0].Nav != 1.0 || nav[0].DailyRet != nil || nav[0].HoldCnt != nil {
		t.Errorf("first point = %+v, want nav 1.0 with null return", nav[0])
	}
	if math.Abs(nav[1].Nav-1.05) > 1e-12 {
		t.Errorf("nav[1] = %v, want 1.05", nav[1].Nav)
	}
	if nav[1].DailyRet == nil || *nav[1].DailyRet != 0.05 {
		t.Errorf("daily_ret[1] = %v, want 0.05", nav[1].DailyRet)
	}
	want := 1.05 * (1 - 0.02)
	if math.Abs(nav[2].Nav-want) > 1e-12 {
		t.Errorf("nav[2] = %v, want %v", nav[2].Nav, want)
	}
}

func TestBuildNavCarriesForwardOnGaps(t *testing.T) {
	data := datasetForDays(map[string][]Observation{
		"2024-01-02": {{Code: "A", Factor: 1, FwdRet: fp(0.10)}},
		// 2024-01-03 has no signal at all.
	})
	calendar := []string{"2024-01-02", "2024-01-03", "2024-01-04"}

	nav := BuildNav(calendar, portfolioReturns(data, 1), "TOP1_f_H1_D")
	if math.Abs(nav[1].Nav-1.10) > 1e-12 {
		t.Fatalf("nav[1] = %v, want 1.10", nav[1].Nav)
	}
	if nav[2].Nav != nav[1].Nav {
		t.Errorf("nav[2] = %v, want carried-forward %v", nav[2].Nav, nav[1].Nav)
	}
	if nav[2].DailyRet != nil {
		t.Errorf("daily_ret[2] = %v, want nil on a gap", *nav[2].DailyRet)
	}
}

func TestPortfolioReturnsSkipsUndefinedForwardReturns(t *testing.T) {
	data := datasetForDays(map[string][]Observation{
		"2024-01-02": {
			{Code: "A", Factor: 3, FwdRet: fp(0.04)},
			{Code: "B", Factor: 2, FwdRet: nil},
			{Code: "C", Factor: 1, FwdRet: fp(0.02)},
		},
	})
	returns := portfolioReturns(data, 3)
	r, ok := returns["2024-01-02"]
	if !ok {
		t.Fatal("expected a return for the day")
	}
	if r.cnt != 2 {
		t.Errorf("contributors = %d, want 2", r.cnt)
	}
	if math.Abs(r.ret-0.03) > 1e-12 {
		t.Errorf("ret = %v, want 0.03", r.ret)
	}
}

func TestPortfolioReturnsNoContributors(t *testing.T) {
	data := datasetForDays(map[string][]Observation{
		"2024-01-02": {{Code: "A", Factor: 1, FwdRet: nil}},
	})
	if returns := portfolioReturns(data, 1); len(returns) != 0 {
		t.Fatalf("expected no returns, got %v", returns)
	}
}
