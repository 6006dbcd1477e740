package domain

// StatisticsSnapshot is the run-level summary produced by the computation
// service. It is replaced wholesale on every fetch; the Completed flag and
// the totals are what completeness validation keys on, the derived metrics
// are passed through for display.
type StatisticsSnapshot struct {
	Completed   bool
	TotalTrades int
	TotalDeals  int

	NetProfit      float64
	GrossProfit    float64
	GrossLoss      float64
	ProfitFactor   float64
	WinRate        float64
	MaxDrawdownPct float64
	FinalBalance   float64
}
