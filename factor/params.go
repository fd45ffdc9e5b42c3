// Package factor implements the evaluation engine: per-day IC and Rank-IC,
// quantile layer attribution and the Top-N equal-weight NAV simulation.
package factor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"factorbench/config"
)

// identPattern restricts factor names to plain SQL identifiers; anything
// else is rejected before it can reach a query.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// allCandidates is the fixed candidate set the literal ALL expands to:
// the composite scores plus the eight dimension scores.
var allCandidates = []string{
	"total_score",
	"total_score_ind",
	"score_profit",
	"score_operation",
	"score_growth",
	"score_safety",
	"score_cashflow",
	"score_valuation",
	"score_dividend",
	"score_size",
}

// Params are the validated inputs of one backtest run. Horizons count
// trading days. Start/End are ISO dates; empty means "resolve from the
// score feed".
type Params struct {
	Factor     string // raw factor spec: name, comma list, or ALL
	Start      string
	End        string
	ICHorizon  int
	Layers     int
	MinN       int
	NavHorizon int
	TopN       int

	// LookaheadDays is the calendar-day buffer appended to End when
	// reading prices, so forward returns near End still find their bars.
	LookaheadDays int
}

// ParamsFromDefaults seeds Params from the configured defaults.
func ParamsFromDefaults(d config.BacktestDefaults) Params {
	return Params{
		ICHorizon:     d.ICHorizon,
		Layers:        d.Layers,
		MinN:          d.MinN,
		NavHorizon:    d.NavHorizon,
		TopN:          d.TopN,
		LookaheadDays: d.LookaheadDays,
	}
}

// Validate checks the numeric parameters and date formats.
func (p Params) Validate() error {
	if p.ICHorizon < 1 {
		return validationErrorf("ic_horizon must be >= 1, got %d", p.ICHorizon)
	}
	if p.NavHorizon < 1 {
		return validationErrorf("nav_horizon must be >= 1, got %d", p.NavHorizon)
	}
	if p.Layers < 1 {
		return validationErrorf("layers must be >= 1, got %d", p.Layers)
	}
	if p.MinN < 1 {
		return validationErrorf("min_n must be >= 1, got %d", p.MinN)
	}
	if p.TopN < 1 {
		return validationErrorf("topn must be >= 1, got %d", p.TopN)
	}
	for _, d := range []string{p.Start, p.End} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return validationErrorf("invalid date %q, want YYYY-MM-DD", d)
		}
	}
	if p.Start != "" && p.End != "" && p.Start > p.End {
		return validationErrorf("start %s is after end %s", p.Start, p.End)
	}
	return nil
}

// PortfolioCode derives the deterministic portfolio identifier for a factor.
func (p Params) PortfolioCode(factor string) string {
	return fmt.Sprintf("TOP%d_%s_H%d_D", p.TopN, factor, p.NavHorizon)
}

// ExpandFactors resolves the factor spec against the live score columns:
// ALL expands to the candidate set filtered to existing columns, a comma
// list is split, and every resulting name is validated.
func ExpandFactors(spec string, cols []string) ([]string, error) {
	colSet := make(map[string]bool, len(cols))
	for _, c := range cols {
		colSet[c] = true
	}

	var factors []string
	if strings.EqualFold(strings.TrimSpace(spec), "ALL") {
		for _, candidate := range allCandidates {
			if colSet[candidate] {
				factors = append(factors, candidate)
			}
		}
		if len(factors) == 0 {
			return nil, validationErrorf("none of the candidate factor columns exist on the score feed")
		}
		return factors, nil
	}

	for _, part := range strings.Split(spec, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if err := ValidateFactor(name, colSet); err != nil {
			return nil, err
		}
		factors = append(factors, name)
	}
	if len(factors) == 0 {
		return nil, validationErrorf("factor is empty")
	}
	return factors, nil
}

// ValidateFactor rejects malformed identifiers and names the score feed
// does not carry.
func ValidateFactor(name string, cols map[string]bool) error {
	if !identPattern.MatchString(name) {
		return validationErrorf("invalid factor name: %q", name)
	}
	if !cols[name] {
		return validationErrorf("factor column not found on score feed: %s", name)
	}
	return nil
}

// addCalendarDays shifts an ISO date by n calendar days.
func addCalendarDays(date string, n int) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, n).Format("2006-01-02")
}
