package domain

// ResultsDelta is one page of incremental run results, as returned by the
// results service for a (task, result, since) query. Any field may be empty;
// Statistics is nil when the service has no snapshot yet.
type ResultsDelta struct {
	Trades     []Trade
	Deals      []Deal
	Orders     []Order
	Statistics *StatisticsSnapshot
}

// Empty reports whether the delta carries nothing at all.
func (d *ResultsDelta) Empty() bool {
	return d == nil ||
		(len(d.Trades) == 0 && len(d.Deals) == 0 && len(d.Orders) == 0 && d.Statistics == nil)
}
