package domain

// Order status constants.
const (
	OrderStatusPlaced    = "PLACED"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

// Order type constants.
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeStop   = "STOP"
)

// Order is a mutable record of an order placed by the strategy during a run.
// Later result batches may update fill volume and status.
type Order struct {
	OrderID string
	DealID  string // deal the order contributes to, if any

	Symbol string
	Side   string // BUY | SELL
	Type   string // MARKET | LIMIT | STOP
	Status string

	Price        float64 // limit/stop price, zero for market
	Volume       float64
	VolumeFilled float64

	SetupTime int64 // placement time, unix ms
	DoneTime  int64 // fill/cancel time, unix ms, zero while working
}
