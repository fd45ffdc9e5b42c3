package feed

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"

	"factorbench/config"
	"factorbench/db"
)

func openSeededStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestScoreFeedMappingValidation(t *testing.T) {
	store := openSeededStore(t)
	ctx := context.Background()

	if _, err := NewScoreFeed(ctx, store.DB(), config.Default().Schema.Score); err != nil {
		t.Fatalf("valid mapping rejected: %v", err)
	}

	bad := config.Default().Schema.Score
	bad.Code = "does_not_exist"
	if _, err := NewScoreFeed(ctx, store.DB(), bad); err == nil {
		t.Fatal("missing code column accepted")
	}

	badTable := config.Default().Schema.Score
	badTable.Table = "no_such_table"
	if _, err := NewScoreFeed(ctx, store.DB(), badTable); err == nil {
		t.Fatal("missing table accepted")
	}
}

func TestScoreFeedDateRangeEmpty(t *testing.T) {
	store := openSeededStore(t)
	ctx := context.Background()

	scores, err := NewScoreFeed(ctx, store.DB(), config.Default().Schema.Score)
	if err != nil {
		t.Fatalf("score feed: %v", err)
	}
	_, _, ok, err := scores.DateRange(ctx)
	if err != nil {
		t.Fatalf("DateRange() error = %v", err)
	}
	if ok {
		t.Fatal("DateRange() ok = true on empty feed")
	}
}

func TestScoreFeedScores(t *testing.T) {
	store := openSeededStore(t)
	ctx := context.Background()

	rows := [][]interface{}{
		{"2024-01-03", "000002.SZ", 2.0},
		{"2024-01-02", "000002.SZ", 1.5},
		{"2024-01-02", "000001.SZ", 1.0},
		{"2024-01-02", "000003.SZ", nil}, // null value, must be skipped
		{"2023-12-29", "000001.SZ", 9.0}, // outside range
	}
	for _, r := range rows {
		if _, err := store.DB().Exec(
			`INSERT INTO dws_stock_score_daily (trade_date, ts_code, total_score) VALUES (?, ?, ?)`,
			r...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	scores, err := NewScoreFeed(ctx, store.DB(), config.Default().Schema.Score)
	if err != nil {
		t.Fatalf("score feed: %v", err)
	}

	min, max, ok, err := scores.DateRange(ctx)
	if err != nil || !ok {
		t.Fatalf("DateRange() = %v, ok=%v", err, ok)
	}
	if min != "2023-12-29" || max != "2024-01-03" {
		t.Fatalf("range = [%s, %s]", min, max)
	}

	got, err := scores.Scores(ctx, "total_score", "2024-01-02", "2024-01-03")
	if err != nil {
		t.Fatalf("Scores() error = %v", err)
	}
	want := []ScoreRow{
		{"2024-01-02", "000001.SZ", 1.0},
		{"2024-01-02", "000002.SZ", 1.5},
		{"2024-01-03", "000002.SZ", 2.0},
	}
	if len(got) != len(want) {
		t.Fatalf("scores = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scores[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPriceFeedBars(t *testing.T) {
	store := openSeededStore(t)
	ctx := context.Background()

	rows := [][]interface{}{
		{"000001.SZ", "2024-01-03", 11.0, 1, 0},
		{"000001.SZ", "2024-01-02", 10.0, 1, 0},
		{"000002.SZ", "2024-01-02", nil, nil, nil}, // null close, null flags
		{"000002.SZ", "2024-01-03", 20.0, 0, 1},
	}
	for _, r := range rows {
		if _, err := store.DB().Exec(
			`INSERT INTO dwd_kline_daily_raw (code, trade_date, close, tradestatus, is_st) VALUES (?, ?, ?, ?, ?)`,
			r...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	prices, err := NewPriceFeed(ctx, store.DB(), config.Default().Schema.Price)
	if err != nil {
		t.Fatalf("price feed: %v", err)
	}

	bars, err := prices.Bars(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("Bars() error = %v", err)
	}

	a := bars["000001.SZ"]
	if len(a) != 2 || a[0].TradeDate != "2024-01-02" || a[1].TradeDate != "2024-01-03" {
		t.Fatalf("bars not chronological: %+v", a)
	}
	if a[0].Close == nil || *a[0].Close != 10.0 || !a[0].TradingActive || a[0].IsST {
		t.Fatalf("bar = %+v", a[0])
	}

	b := bars["000002.SZ"]
	// Null tradestatus defaults to active, null is_st to non-ST.
	if b[0].Close != nil || !b[0].TradingActive || b[0].IsST {
		t.Fatalf("null-flag bar = %+v", b[0])
	}
	if b[1].TradingActive || !b[1].IsST {
		t.Fatalf("suspended ST bar = %+v", b[1])
	}

	// Cached window survives an insert until invalidated.
	if _, err := store.DB().Exec(
		`INSERT INTO dwd_kline_daily_raw (code, trade_date, close, tradestatus, is_st) VALUES ('000003.SZ', '2024-01-02', 1.0, 1, 0)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	cached, err := prices.Bars(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("Bars() error = %v", err)
	}
	if _, ok := cached["000003.SZ"]; ok {
		t.Fatal("cache returned fresh rows without invalidation")
	}
	prices.Invalidate()
	fresh, err := prices.Bars(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("Bars() error = %v", err)
	}
	if _, ok := fresh["000003.SZ"]; !ok {
		t.Fatal("invalidated cache still misses fresh rows")
	}

	dates, err := prices.TradeDates(ctx, "2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("TradeDates() error = %v", err)
	}
	if len(dates) != 2 || dates[0] != "2024-01-02" || dates[1] != "2024-01-03" {
		t.Fatalf("trade dates = %v", dates)
	}
}

func TestUniverseFeedSecurities(t *testing.T) {
	store := openSeededStore(t)
	ctx := context.Background()

	seed := [][]interface{}{
		{"000001.SZ", "alpha", 1, 1},
		{"000006.SZ", "index", 2, 1},
		{"000007.SZ", "unknown", nil, nil},
	}
	for _, r := range seed {
		if _, err := store.DB().Exec(
			`INSERT INTO dwd_stock_basic_all (code, name, sec_type, status) VALUES (?, ?, ?, ?)`,
			r...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	universe, err := NewUniverseFeed(ctx, store.DB(), config.Default().Schema.Universe)
	if err != nil {
		t.Fatalf("universe feed: %v", err)
	}
	securities, err := universe.Securities(ctx)
	if err != nil {
		t.Fatalf("Securities() error = %v", err)
	}
	if len(securities) != 3 {
		t.Fatalf("securities = %d, want 3", len(securities))
	}
	if s := securities["000001.SZ"]; s.SecType == nil || *s.SecType != 1 || s.Status == nil || *s.Status != 1 {
		t.Fatalf("security = %+v", s)
	}
	if s := securities["000007.SZ"]; s.SecType != nil || s.Status != nil {
		t.Fatalf("null-field security = %+v", s)
	}
}

func TestImportSecuritiesCSV(t *testing.T) {
	store := openSeededStore(t)
	ctx := context.Background()

	universe, err := NewUniverseFeed(ctx, store.DB(), config.Default().Schema.Universe)
	if err != nil {
		t.Fatalf("universe feed: %v", err)
	}

	csv := strings.Join([]string{
		"code,name,sec_type,status",
		"000001.SZ,平安银行,1,1",
		"000002.SZ,万科A,1,1",
		"",
		"000006.SZ,深证成指,2,1",
	}, "\n")

	// The fixture is UTF-8 source; encode it to GBK the way vendor exports
	// arrive, then let the importer decode it back.
	gbkBytes, err := simplifiedchinese.GBK.NewEncoder().String(csv)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	n, err := universe.ImportSecuritiesCSV(ctx, strings.NewReader(gbkBytes), true)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Fatalf("imported = %d, want 3", n)
	}

	var name string
	var secType int
	err = store.DB().QueryRow(
		`SELECT name, sec_type FROM dwd_stock_basic_all WHERE code = '000001.SZ'`).Scan(&name, &secType)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if name != "平安银行" || secType != 1 {
		t.Fatalf("imported row = %q/%d, want decoded name and sec_type 1", name, secType)
	}

	// Re-import replaces rather than duplicates.
	n, err = universe.ImportSecuritiesCSV(ctx, strings.NewReader(gbkBytes), true)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if n != 3 {
		t.Fatalf("re-imported = %d, want 3", n)
	}
	var cnt int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM dwd_stock_basic_all`).Scan(&cnt); err != nil {
		t.Fatalf("count: %v", err)
	}
	if cnt != 3 {
		t.Fatalf("rows after re-import = %d, want 3", cnt)
	}
}
