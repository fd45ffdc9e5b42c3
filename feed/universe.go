package feed

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"factorbench/config"
)

// UniverseFeed reads the security reference table (type and listing status
// per code).
type UniverseFeed struct {
	db      *sql.DB
	mapping config.UniverseMapping
}

// NewUniverseFeed builds the feed and validates the column mapping against
// the live schema.
func NewUniverseFeed(ctx context.Context, db *sql.DB, mapping config.UniverseMapping) (*UniverseFeed, error) {
	cols, err := tableColumns(ctx, db, mapping.Table)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{mapping.Code, mapping.SecType, mapping.Status} {
		if !cols[required] {
			return nil, fmt.Errorf("universe feed: column %q not found on %s", required, mapping.Table)
		}
	}
	return &UniverseFeed{db: db, mapping: mapping}, nil
}

// Securities returns the full reference map keyed by code.
func (f *UniverseFeed) Securities(ctx context.Context) (map[string]Security, error) {
	query := fmt.Sprintf(`SELECT %q, COALESCE(name, ''), %q, %q FROM %q`,
		f.mapping.Code, f.mapping.SecType, f.mapping.Status, f.mapping.Table)

	rows, err := f.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	securities := make(map[string]Security)
	for rows.Next() {
		var sec Security
		var secType, status sql.NullInt64
		if err := rows.Scan(&sec.Code, &sec.Name, &secType, &status); err != nil {
			return nil, err
		}
		if secType.Valid {
			v := secType.Int64
			sec.SecType = &v
		}
		if status.Valid {
			v := status.Int64
			sec.Status = &v
		}
		securities[sec.Code] = sec
	}
	return securities, rows.Err()
}

// ImportSecuritiesCSV loads the reference table from a CSV export with
// columns code,name,sec_type,status. Vendor exports of A-share names are
// GBK encoded; gbk=true decodes them to UTF-8 on the way in. Existing rows
// for the same code are replaced. Returns the number of imported rows.
func (f *UniverseFeed) ImportSecuritiesCSV(ctx context.Context, r io.Reader, gbk bool) (int, error) {
	if gbk {
		r = transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %q (%q, name, %q, %q) VALUES (?, ?, ?, ?)`,
		f.mapping.Table, f.mapping.Code, f.mapping.SecType, f.mapping.Status))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read csv: %w", err)
		}
		if len(record) < 2 {
			continue
		}
		code := strings.TrimSpace(record[0])
		if code == "" || strings.EqualFold(code, "code") {
			continue // blank line or header
		}
		name := strings.TrimSpace(record[1])

		var secType, status interface{}
		if len(record) > 2 {
			if v, err := strconv.ParseInt(strings.TrimSpace(record[2]), 10, 64); err == nil {
				secType = v
			}
		}
		if len(record) > 3 {
			if v, err := strconv.ParseInt(strings.TrimSpace(record[3]), 10, 64); err == nil {
				status = v
			}
		}

		if _, err := stmt.ExecContext(ctx, code, name, secType, status); err != nil {
			return 0, fmt.Errorf("insert security %s: %w", code, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}
