// Package feed provides the read-only contracts over the warehouse input
// tables: daily factor scores, daily price bars and the security reference.
package feed

// ScoreRow is one (date, code) factor observation from the score feed.
type ScoreRow struct {
	TradeDate string
	Code      string
	Value     float64
}

// PriceBar is one daily bar from the price feed. Close is nil when the
// warehouse row carries no close.
type PriceBar struct {
	Code          string
	TradeDate     string
	Close         *float64
	TradingActive bool
	IsST          bool
}

// Security is one row of the reference feed. SecType/Status are nil when
// the warehouse has no value; the universe filter treats nil as the
// default (eligible) value, matching the reference join.
type Security struct {
	Code    string
	Name    string
	SecType *int64
	Status  *int64
}
