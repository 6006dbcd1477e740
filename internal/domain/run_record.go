package domain

// RunRecord is the archived summary of one finished run: terminal outcome,
// completeness verdict and headline statistics. Records are written once
// after finalization and never updated.
type RunRecord struct {
	ResultID string
	TaskID   string
	TaskName string

	Outcome    string // completed | error
	ErrorClass string // empty | failed | cancelled | connection_lost
	Message    string // terminal packet message, if any

	Progress  float64
	Watermark int64 // final results watermark, unix ms

	TradeCount int
	DealCount  int

	Complete         bool   // completeness verdict
	IncompleteReason string // empty when complete

	NetProfit      float64
	WinRate        float64
	MaxDrawdownPct float64
	FinalBalance   float64

	StartedAt  int64 // unix ms
	FinishedAt int64 // unix ms
}
