package domain

// Deal direction constants.
const (
	DealDirectionLong  = "LONG"
	DealDirectionShort = "SHORT"
)

// Deal aggregates one or more trades into a position. Unlike trades, deals
// are mutable: later result batches may update profit, average prices, and
// the closed flag as the position evolves server-side.
type Deal struct {
	DealID string

	Symbol    string
	Direction string // LONG | SHORT

	VolumeOpen    float64
	VolumeClosed  float64
	AvgEntryPrice float64
	AvgExitPrice  float64

	Commission float64
	Profit     float64

	OpenTime  int64 // unix ms
	CloseTime int64 // unix ms, zero while open
	Closed    bool
}
