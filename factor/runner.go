package factor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"factorbench/db"
	"factorbench/feed"
)

// RunModule is the module tag written to the run log.
const RunModule = "backtest"

// defaultLeaseTTL bounds how long a crashed run can block a key space.
const defaultLeaseTTL = 30 * time.Minute

// Runner drives one backtest invocation: validation, date-range
// resolution, then per factor IC + layer attribution and the portfolio
// simulation, each factor in its own transaction. Factors run strictly
// sequentially.
type Runner struct {
	store    *db.Store
	scores   *feed.ScoreFeed
	prices   *feed.PriceFeed
	universe *feed.UniverseFeed
	logger   *zap.Logger
	leaseTTL time.Duration
}

// NewRunner wires the runner to its store and feeds.
func NewRunner(store *db.Store, scores *feed.ScoreFeed, prices *feed.PriceFeed, universe *feed.UniverseFeed, logger *zap.Logger) *Runner {
	return &Runner{
		store:    store,
		scores:   scores,
		prices:   prices,
		universe: universe,
		logger:   logger,
		leaseTTL: defaultLeaseTTL,
	}
}

// Run executes the backtest for every requested factor. It always appends
// one run log row, success or failure, after the last transaction has
// been committed or rolled back.
func (r *Runner) Run(ctx context.Context, p Params) (err error) {
	started := time.Now()
	paramsJSON := mustParamsJSON(p)

	defer func() {
		duration := time.Since(started).Seconds()
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if logErr := r.store.AppendRunLog(context.Background(), RunModule, paramsJSON, err == nil, duration, msg); logErr != nil {
			// Log persistence must not mask the run outcome.
			r.logger.Warn("failed to append run log", zap.Error(logErr))
		}
	}()

	if err = p.Validate(); err != nil {
		return err
	}

	cols, err := r.scores.Columns(ctx)
	if err != nil {
		return fmt.Errorf("list score columns: %w", err)
	}
	factors, err := ExpandFactors(p.Factor, cols)
	if err != nil {
		return err
	}

	minDate, maxDate, ok, err := r.scores.DateRange(ctx)
	if err != nil {
		return fmt.Errorf("resolve score date range: %w", err)
	}
	if !ok {
		return &DataAvailabilityError{Msg: "score feed is empty"}
	}

	start, end := p.Start, p.End
	if start == "" {
		start = minDate
	}
	if end == "" {
		end = maxDate
	}
	if start > end {
		return validationErrorf("start %s is after end %s", start, end)
	}

	securities, err := r.universe.Securities(ctx)
	if err != nil {
		return fmt.Errorf("load security reference: %w", err)
	}

	r.logger.Info("backtest run starting",
		zap.Strings("factors", factors),
		zap.String("start", start), zap.String("end", end),
		zap.Int("ic_horizon", p.ICHorizon), zap.Int("nav_horizon", p.NavHorizon),
		zap.Int("layers", p.Layers), zap.Int("topn", p.TopN), zap.Int("min_n", p.MinN))

	for _, factor := range factors {
		if err = r.runFactor(ctx, factor, p, start, end, securities); err != nil {
			return fmt.Errorf("factor %s: %w", factor, err)
		}
	}

	r.logger.Info("backtest run finished",
		zap.Int("factors", len(factors)),
		zap.Duration("took", time.Since(started)))
	return nil
}

// runFactor computes and persists every result relation for one factor
// inside a single transaction, guarded by leases on both key spaces.
func (r *Runner) runFactor(ctx context.Context, factor string, p Params, start, end string, securities map[string]feed.Security) error {
	portfolioCode := p.PortfolioCode(factor)
	holder := fmt.Sprintf("%s-pid%d", RunModule, os.Getpid())

	icKey := fmt.Sprintf("ic|%s|%d|%s|%s", factor, p.ICHorizon, start, end)
	releaseIC, err := r.store.AcquireLease(ctx, icKey, holder, r.leaseTTL)
	if err != nil {
		return err
	}
	defer releaseIC()

	releaseNav, err := r.store.AcquireLease(ctx, portfolioCode, holder, r.leaseTTL)
	if err != nil {
		return err
	}
	defer releaseNav()

	scores, err := r.scores.Scores(ctx, factor, start, end)
	if err != nil {
		return fmt.Errorf("read scores: %w", err)
	}

	endPlus := addCalendarDays(end, p.LookaheadDays)
	bars, err := r.prices.Bars(ctx, start, endPlus)
	if err != nil {
		return fmt.Errorf("read price bars: %w", err)
	}
	calendar, err := r.prices.TradeDates(ctx, start, end)
	if err != nil {
		return fmt.Errorf("read trading calendar: %w", err)
	}

	universe := NewUniverse(securities)
	icData := BuildDataset(scores, bars, universe, p.ICHorizon)
	navData := icData
	if p.NavHorizon != p.ICHorizon {
		navData = BuildDataset(scores, bars, universe, p.NavHorizon)
	}

	var icRows []db.ICRecord
	var layerRows []db.LayerReturn
	for _, day := range icData.Days {
		obs := icData.Sections[day]
		dayIC := DailyIC(obs)
		if dayIC.N >= p.MinN {
			icRows = append(icRows, db.ICRecord{
				FactorName: factor,
				Horizon:    p.ICHorizon,
				TradeDate:  day,
				IC:         dayIC.IC,
				RankIC:     dayIC.RankIC,
				N:          dayIC.N,
				MeanRet:    dayIC.MeanRet,
				StdRet:     dayIC.StdRet,
			})
		}
		for _, layer := range LayerReturns(obs, p.Layers) {
			avg := layer.AvgRet
			layerRows = append(layerRows, db.LayerReturn{
				FactorName: factor,
				Horizon:    p.ICHorizon,
				TradeDate:  day,
				Layer:      layer.Layer,
				N:          layer.N,
				AvgRet:     &avg,
			})
		}
	}

	holdings := SelectHoldings(navData, portfolioCode, p.TopN)
	navPoints := BuildNav(calendar, portfolioReturns(navData, p.TopN), portfolioCode)

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := db.ReplaceICRecords(ctx, tx, factor, p.ICHorizon, start, end, icRows); err != nil {
		return err
	}
	if err := db.ReplaceLayerReturns(ctx, tx, factor, p.ICHorizon, start, end, layerRows); err != nil {
		return err
	}
	if err := db.ReplaceHoldings(ctx, tx, portfolioCode, start, end, holdings); err != nil {
		return err
	}
	if err := db.ReplaceNav(ctx, tx, portfolioCode, start, end, navPoints); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit factor results: %w", err)
	}

	r.logger.Info("factor evaluated",
		zap.String("factor", factor),
		zap.String("portfolio", portfolioCode),
		zap.Int("ic_days", len(icRows)),
		zap.Int("layer_rows", len(layerRows)),
		zap.Int("holdings", len(holdings)),
		zap.Int("nav_days", len(navPoints)))
	return nil
}

func mustParamsJSON(p Params) string {
	data, err := json.Marshal(map[string]interface{}{
		"factor":      p.Factor,
		"start":       p.Start,
		"end":         p.End,
		"ic_horizon":  p.ICHorizon,
		"layers":      p.Layers,
		"min_n":       p.MinN,
		"nav_horizon": p.NavHorizon,
		"topn":        p.TopN,
	})
	if err != nil {
		return "{}"
	}
	return string(data)
}
