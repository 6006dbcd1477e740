package results

import (
	"fmt"

	"backtest-console/internal/domain"
)

// Verdict is the outcome of a completeness check over a finished run.
type Verdict struct {
	Complete bool
	Reason   string // empty when Complete
}

// CheckCompleteness decides whether the locally held result set is provably
// complete against the final statistics snapshot. Pure function, no side
// effects; the caller decides whether to re-sync or report.
func CheckCompleteness(stats *domain.StatisticsSnapshot, tradeCount, dealCount int) Verdict {
	if stats == nil {
		return Verdict{Reason: "statistics missing"}
	}
	if !stats.Completed {
		return Verdict{Reason: "statistics not finalized"}
	}
	if tradeCount != stats.TotalTrades {
		return Verdict{Reason: fmt.Sprintf("trade count mismatch (have %d, want %d)", tradeCount, stats.TotalTrades)}
	}
	if dealCount != stats.TotalDeals {
		return Verdict{Reason: fmt.Sprintf("deal count mismatch (have %d, want %d)", dealCount, stats.TotalDeals)}
	}
	return Verdict{Complete: true}
}

// CheckStore runs CheckCompleteness against a store's current contents.
func CheckStore(s *Store) Verdict {
	return CheckCompleteness(s.Statistics(), s.TradeCount(), s.DealCount())
}
