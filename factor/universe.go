package factor

import "factorbench/feed"

// Universe decides per-(date, code) eligibility. A row enters any
// cross-section (IC day, layer day, portfolio selection day) only when the
// security is a listed plain equity and its bar traded normally without a
// special-treatment flag that day.
type Universe struct {
	securities map[string]feed.Security
}

// NewUniverse wraps the reference feed snapshot.
func NewUniverse(securities map[string]feed.Security) *Universe {
	return &Universe{securities: securities}
}

// Eligible reports whether the code may enter the cross-section on the
// bar's date. A nil sec_type or status counts as the default value 1,
// matching the warehouse join semantics.
func (u *Universe) Eligible(code string, bar *feed.PriceBar) bool {
	sec, ok := u.securities[code]
	if !ok {
		return false
	}
	if sec.SecType != nil && *sec.SecType != 1 {
		return false
	}
	if sec.Status != nil && *sec.Status != 1 {
		return false
	}
	if bar == nil || !bar.TradingActive || bar.IsST {
		return false
	}
	return true
}
