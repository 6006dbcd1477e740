package domain

// Trade side constants.
const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

// Trade is a single immutable fill produced by a run. Once stored it is
// never mutated; re-fetched copies are dropped by key.
type Trade struct {
	TradeID string
	DealID  string // deal this fill belongs to
	OrderID string // order that produced this fill

	Symbol     string
	Side       string // BUY | SELL
	Price      float64
	Volume     float64
	Commission float64
	Profit     float64 // realized on closing fills, zero otherwise

	Time int64 // execution time, unix ms
}
