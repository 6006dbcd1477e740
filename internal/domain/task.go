package domain

// Task is a user-created backtest configuration. It references a strategy
// source file and holds everything a run needs to start.
type Task struct {
	TaskID       string // deterministic hash of name + creation time
	Name         string
	StrategyPath string // path of the strategy source file

	Config RunConfig

	CreatedAt int64 // unix ms
	UpdatedAt int64 // unix ms
}

// RunConfig is the parameter set a run is started with.
type RunConfig struct {
	Venue     string // data source venue, e.g. "binance"
	Symbol    string // instrument symbol, e.g. "BTCUSDT"
	Timeframe string // e.g. "1m", "1h"

	FromTime int64 // range start, unix ms
	ToTime   int64 // range end, unix ms

	InitialBalance float64
	FeeRate        float64 // taker fee as fraction
	SlippageBps    float64

	// CustomParams carries strategy-specific parameters as opaque key/value
	// pairs; the run service interprets them.
	CustomParams map[string]string
}

// Clone returns a deep copy (CustomParams included).
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Config.CustomParams != nil {
		cp.Config.CustomParams = make(map[string]string, len(t.Config.CustomParams))
		for k, v := range t.Config.CustomParams {
			cp.Config.CustomParams[k] = v
		}
	}
	return &cp
}
