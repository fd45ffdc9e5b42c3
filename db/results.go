package db

import (
	"context"
	"database/sql"
	"fmt"
)

// ICRecord is one day's cross-sectional IC for a factor/horizon.
// Pointer fields are written as NULL when nil.
type ICRecord struct {
	FactorName string   `json:"factor_name"`
	Horizon    int      `json:"horizon"`
	TradeDate  string   `json:"trade_date"`
	IC         *float64 `json:"ic"`
	RankIC     *float64 `json:"rank_ic"`
	N          int      `json:"n"`
	MeanRet    *float64 `json:"mean_ret"`
	StdRet     *float64 `json:"std_ret"`
}

// LayerReturn is one quantile layer's mean forward return for a day.
// Layer 1 holds the highest factor values.
type LayerReturn struct {
	FactorName string   `json:"factor_name"`
	Horizon    int      `json:"horizon"`
	TradeDate  string   `json:"trade_date"`
	Layer      int      `json:"layer"`
	N          int      `json:"n"`
	AvgRet     *float64 `json:"avg_ret"`
}

// Holding is one position of a daily-rebalanced portfolio snapshot.
type Holding struct {
	PortfolioCode string  `json:"portfolio_code"`
	TradeDate     string  `json:"trade_date"`
	Code          string  `json:"ts_code"`
	Weight        float64 `json:"weight"`
	RankInDay     int     `json:"rank_in_day"`
}

// NavPoint is one day of the compounded portfolio NAV series.
type NavPoint struct {
	PortfolioCode string   `json:"portfolio_code"`
	TradeDate     string   `json:"trade_date"`
	Nav           float64  `json:"nav"`
	DailyRet      *float64 `json:"daily_ret"`
	HoldCnt       *int     `json:"hold_cnt"`
}

// RunLogEntry is one append-only audit row for a backtest invocation.
type RunLogEntry struct {
	RunID      int64   `json:"run_id"`
	RunTS      string  `json:"run_ts"`
	Module     string  `json:"module"`
	ParamsJSON string  `json:"params_json"`
	OK         bool    `json:"ok"`
	Duration   float64 `json:"duration_sec"`
	Msg        string  `json:"msg"`
}

// ReplaceICRecords deletes the (factor, horizon, date range) key space and
// bulk-inserts rows, all on the caller's transaction.
func ReplaceICRecords(ctx context.Context, tx *sql.Tx, factor string, horizon int, start, end string, rows []ICRecord) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM dws_factor_ic_daily
         WHERE factor_name = ? AND horizon = ? AND trade_date BETWEEN ? AND ?`,
		factor, horizon, start, end)
	if err != nil {
		return fmt.Errorf("delete ic rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dws_factor_ic_daily
            (factor_name, horizon, trade_date, ic, rank_ic, n, mean_ret, std_ret)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.FactorName, row.Horizon, row.TradeDate,
			nullFloat(row.IC), nullFloat(row.RankIC), row.N,
			nullFloat(row.MeanRet), nullFloat(row.StdRet))
		if err != nil {
			return fmt.Errorf("insert ic row %s: %w", row.TradeDate, err)
		}
	}
	return nil
}

// ReplaceLayerReturns deletes and re-inserts the layer rows for the key space.
func ReplaceLayerReturns(ctx context.Context, tx *sql.Tx, factor string, horizon int, start, end string, rows []LayerReturn) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM dws_factor_layer_ret_daily
         WHERE factor_name = ? AND horizon = ? AND trade_date BETWEEN ? AND ?`,
		factor, horizon, start, end)
	if err != nil {
		return fmt.Errorf("delete layer rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dws_factor_layer_ret_daily
            (factor_name, horizon, trade_date, layer, n, avg_ret)
         VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.FactorName, row.Horizon, row.TradeDate, row.Layer, row.N, nullFloat(row.AvgRet))
		if err != nil {
			return fmt.Errorf("insert layer row %s/%d: %w", row.TradeDate, row.Layer, err)
		}
	}
	return nil
}

// ReplaceHoldings deletes and re-inserts the holdings snapshots for the
// (portfolio_code, date range) key space.
func ReplaceHoldings(ctx context.Context, tx *sql.Tx, portfolioCode, start, end string, rows []Holding) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM dws_portfolio_holdings_daily
         WHERE portfolio_code = ? AND trade_date BETWEEN ? AND ?`,
		portfolioCode, start, end)
	if err != nil {
		return fmt.Errorf("delete holdings rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dws_portfolio_holdings_daily
            (portfolio_code, trade_date, ts_code, weight, rank_in_day)
         VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.PortfolioCode, row.TradeDate, row.Code, row.Weight, row.RankInDay)
		if err != nil {
			return fmt.Errorf("insert holding %s/%s: %w", row.TradeDate, row.Code, err)
		}
	}
	return nil
}

// ReplaceNav deletes and re-inserts the NAV series for the
// (portfolio_code, date range) key space.
func ReplaceNav(ctx context.Context, tx *sql.Tx, portfolioCode, start, end string, rows []NavPoint) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM dws_portfolio_nav_daily
         WHERE portfolio_code = ? AND trade_date BETWEEN ? AND ?`,
		portfolioCode, start, end)
	if err != nil {
		return fmt.Errorf("delete nav rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dws_portfolio_nav_daily
            (portfolio_code, trade_date, nav, daily_ret, hold_cnt)
         VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.PortfolioCode, row.TradeDate, row.Nav, nullFloat(row.DailyRet), nullInt(row.HoldCnt))
		if err != nil {
			return fmt.Errorf("insert nav row %s: %w", row.TradeDate, err)
		}
	}
	return nil
}

// AppendRunLog writes one audit row outside any transaction, so the log
// survives a rolled-back run.
func (s *Store) AppendRunLog(ctx context.Context, module, paramsJSON string, ok bool, durationSec float64, msg string) error {
	// Truncate on a rune boundary; error messages quote arbitrary input.
	if r := []rune(msg); len(r) > 1000 {
		msg = string(r[:1000])
	}
	okFlag := 0
	if ok {
		okFlag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sys_backtest_run_log (module, params_json, ok, duration_sec, msg)
         VALUES (?, ?, ?, ?, ?)`,
		module, paramsJSON, okFlag, durationSec, msg)
	return err
}

// RecentRunLogs returns the newest run log rows, most recent first.
func (s *Store) RecentRunLogs(ctx context.Context, limit int) ([]RunLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, run_ts, module, COALESCE(params_json, ''), ok,
                COALESCE(duration_sec, 0), COALESCE(msg, '')
         FROM sys_backtest_run_log
         ORDER BY run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]RunLogEntry, 0)
	for rows.Next() {
		var e RunLogEntry
		var okFlag int
		if err := rows.Scan(&e.RunID, &e.RunTS, &e.Module, &e.ParamsJSON, &okFlag, &e.Duration, &e.Msg); err != nil {
			return nil, err
		}
		e.OK = okFlag != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// QueryIC reads the IC series for a factor/horizon over a date range.
func (s *Store) QueryIC(ctx context.Context, factor string, horizon int, start, end string) ([]ICRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT factor_name, horizon, trade_date, ic, rank_ic, n, mean_ret, std_ret
         FROM dws_factor_ic_daily
         WHERE factor_name = ? AND horizon = ? AND trade_date BETWEEN ? AND ?
         ORDER BY trade_date`, factor, horizon, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]ICRecord, 0)
	for rows.Next() {
		var r ICRecord
		var ic, rankIC, mean, std sql.NullFloat64
		if err := rows.Scan(&r.FactorName, &r.Horizon, &r.TradeDate, &ic, &rankIC, &r.N, &mean, &std); err != nil {
			return nil, err
		}
		r.IC = floatPtr(ic)
		r.RankIC = floatPtr(rankIC)
		r.MeanRet = floatPtr(mean)
		r.StdRet = floatPtr(std)
		records = append(records, r)
	}
	return records, rows.Err()
}

// QueryLayerReturns reads the layer series for a factor/horizon over a range.
func (s *Store) QueryLayerReturns(ctx context.Context, factor string, horizon int, start, end string) ([]LayerReturn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT factor_name, horizon, trade_date, layer, n, avg_ret
         FROM dws_factor_layer_ret_daily
         WHERE factor_name = ? AND horizon = ? AND trade_date BETWEEN ? AND ?
         ORDER BY trade_date, layer`, factor, horizon, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]LayerReturn, 0)
	for rows.Next() {
		var r LayerReturn
		var avg sql.NullFloat64
		if err := rows.Scan(&r.FactorName, &r.Horizon, &r.TradeDate, &r.Layer, &r.N, &avg); err != nil {
			return nil, err
		}
		r.AvgRet = floatPtr(avg)
		records = append(records, r)
	}
	return records, rows.Err()
}

// QueryNav reads the NAV series for a portfolio over a date range.
func (s *Store) QueryNav(ctx context.Context, portfolioCode, start, end string) ([]NavPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT portfolio_code, trade_date, nav, daily_ret, hold_cnt
         FROM dws_portfolio_nav_daily
         WHERE portfolio_code = ? AND trade_date BETWEEN ? AND ?
         ORDER BY trade_date`, portfolioCode, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]NavPoint, 0)
	for rows.Next() {
		var p NavPoint
		var ret sql.NullFloat64
		var cnt sql.NullInt64
		if err := rows.Scan(&p.PortfolioCode, &p.TradeDate, &p.Nav, &ret, &cnt); err != nil {
			return nil, err
		}
		p.DailyRet = floatPtr(ret)
		if cnt.Valid {
			c := int(cnt.Int64)
			p.HoldCnt = &c
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// QueryHoldings reads one day's holdings snapshot ordered by rank.
func (s *Store) QueryHoldings(ctx context.Context, portfolioCode, date string) ([]Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT portfolio_code, trade_date, ts_code, weight, COALESCE(rank_in_day, 0)
         FROM dws_portfolio_holdings_daily
         WHERE portfolio_code = ? AND trade_date = ?
         ORDER BY rank_in_day`, portfolioCode, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holdings := make([]Holding, 0)
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.PortfolioCode, &h.TradeDate, &h.Code, &h.Weight, &h.RankInDay); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
