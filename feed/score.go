package feed

import (
	"context"
	"database/sql"
	"fmt"

	"factorbench/config"
)

// ScoreFeed reads the daily factor score table.
type ScoreFeed struct {
	db      *sql.DB
	mapping config.ScoreMapping
}

// NewScoreFeed builds the feed and validates the column mapping against
// the live schema, failing fast on a missing column.
func NewScoreFeed(ctx context.Context, db *sql.DB, mapping config.ScoreMapping) (*ScoreFeed, error) {
	feed := &ScoreFeed{db: db, mapping: mapping}
	cols, err := tableColumns(ctx, db, mapping.Table)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{mapping.TradeDate, mapping.Code} {
		if !cols[required] {
			return nil, fmt.Errorf("score feed: column %q not found on %s", required, mapping.Table)
		}
	}
	return feed, nil
}

// Columns lists the physical columns of the score table, used to validate
// requested factor names before any computation.
func (f *ScoreFeed) Columns(ctx context.Context) ([]string, error) {
	rows, err := f.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, f.mapping.Table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DateRange returns the min and max trade date present in the score feed.
// ok is false when the feed is empty.
func (f *ScoreFeed) DateRange(ctx context.Context) (min, max string, ok bool, err error) {
	query := fmt.Sprintf(`SELECT MIN(%q), MAX(%q) FROM %q`,
		f.mapping.TradeDate, f.mapping.TradeDate, f.mapping.Table)
	var minN, maxN sql.NullString
	if err := f.db.QueryRowContext(ctx, query).Scan(&minN, &maxN); err != nil {
		return "", "", false, err
	}
	if !minN.Valid || !maxN.Valid {
		return "", "", false, nil
	}
	return minN.String, maxN.String, true, nil
}

// Scores reads the non-null values of one factor column over a date range,
// ordered by date then code. The factor name must already be validated
// against Columns.
func (f *ScoreFeed) Scores(ctx context.Context, factor, start, end string) ([]ScoreRow, error) {
	query := fmt.Sprintf(
		`SELECT %q, %q, %q FROM %q
         WHERE %q BETWEEN ? AND ? AND %q IS NOT NULL
         ORDER BY %q, %q`,
		f.mapping.TradeDate, f.mapping.Code, factor, f.mapping.Table,
		f.mapping.TradeDate, factor,
		f.mapping.TradeDate, f.mapping.Code)

	rows, err := f.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []ScoreRow
	for rows.Next() {
		var row ScoreRow
		if err := rows.Scan(&row.TradeDate, &row.Code, &row.Value); err != nil {
			return nil, err
		}
		scores = append(scores, row)
	}
	return scores, rows.Err()
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q not found", table)
	}
	return cols, rows.Err()
}
