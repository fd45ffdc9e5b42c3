package feed

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"factorbench/config"
)

// PriceFeed reads the daily kline table. Range reads are cached per
// (start, end) window since a multi-factor run re-reads the same bars for
// every factor.
type PriceFeed struct {
	db      *sql.DB
	mapping config.PriceMapping
	cache   *lru.Cache[string, map[string][]PriceBar]
}

// NewPriceFeed builds the feed and validates the column mapping against
// the live schema.
func NewPriceFeed(ctx context.Context, db *sql.DB, mapping config.PriceMapping) (*PriceFeed, error) {
	cols, err := tableColumns(ctx, db, mapping.Table)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{mapping.TradeDate, mapping.Code, mapping.Close, mapping.TradeStatus, mapping.IsST} {
		if !cols[required] {
			return nil, fmt.Errorf("price feed: column %q not found on %s", required, mapping.Table)
		}
	}
	cache, err := lru.New[string, map[string][]PriceBar](4)
	if err != nil {
		return nil, err
	}
	return &PriceFeed{db: db, mapping: mapping, cache: cache}, nil
}

// Bars returns the bars per code over [start, end], each code's slice in
// chronological order. Suspended and special-treatment bars are included;
// eligibility is the universe filter's concern, but the forward-return
// walk needs every bar of the code's own sequence.
func (f *PriceFeed) Bars(ctx context.Context, start, end string) (map[string][]PriceBar, error) {
	key := start + "|" + end
	if cached, ok := f.cache.Get(key); ok {
		return cached, nil
	}

	query := fmt.Sprintf(
		`SELECT %q, %q, %q, COALESCE(%q, 1), COALESCE(%q, 0)
         FROM %q
         WHERE %q BETWEEN ? AND ?
         ORDER BY %q, %q`,
		f.mapping.Code, f.mapping.TradeDate, f.mapping.Close,
		f.mapping.TradeStatus, f.mapping.IsST,
		f.mapping.Table,
		f.mapping.TradeDate,
		f.mapping.Code, f.mapping.TradeDate)

	rows, err := f.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bars := make(map[string][]PriceBar)
	for rows.Next() {
		var bar PriceBar
		var close sql.NullFloat64
		var status, st int
		if err := rows.Scan(&bar.Code, &bar.TradeDate, &close, &status, &st); err != nil {
			return nil, err
		}
		if close.Valid {
			c := close.Float64
			bar.Close = &c
		}
		bar.TradingActive = status == 1
		bar.IsST = st != 0
		bars[bar.Code] = append(bars[bar.Code], bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	f.cache.Add(key, bars)
	return bars, nil
}

// TradeDates returns the market trading calendar over [start, end]: the
// distinct bar dates in ascending order.
func (f *PriceFeed) TradeDates(ctx context.Context, start, end string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT %q FROM %q WHERE %q BETWEEN ? AND ? ORDER BY %q`,
		f.mapping.TradeDate, f.mapping.Table, f.mapping.TradeDate, f.mapping.TradeDate)

	rows, err := f.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Invalidate drops the range cache; callers reload after bulk imports.
func (f *PriceFeed) Invalidate() {
	f.cache.Purge()
}
