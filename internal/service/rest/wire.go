package rest

import "backtest-console/internal/domain"

// Wire representations of the result payloads. Kept separate from the domain
// types so field renames on the service side stay localized here.

type wireTrade struct {
	TradeID    string  `json:"trade_id"`
	DealID     string  `json:"deal_id,omitempty"`
	OrderID    string  `json:"order_id,omitempty"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	Commission float64 `json:"commission,omitempty"`
	Profit     float64 `json:"profit,omitempty"`
	Time       int64   `json:"time"`
}

type wireDeal struct {
	DealID        string  `json:"deal_id"`
	Symbol        string  `json:"symbol"`
	Direction     string  `json:"direction"`
	VolumeOpen    float64 `json:"volume_open"`
	VolumeClosed  float64 `json:"volume_closed"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	AvgExitPrice  float64 `json:"avg_exit_price,omitempty"`
	Commission    float64 `json:"commission,omitempty"`
	Profit        float64 `json:"profit"`
	OpenTime      int64   `json:"open_time"`
	CloseTime     int64   `json:"close_time,omitempty"`
	Closed        bool    `json:"closed"`
}

type wireOrder struct {
	OrderID      string  `json:"order_id"`
	DealID       string  `json:"deal_id,omitempty"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	Price        float64 `json:"price,omitempty"`
	Volume       float64 `json:"volume"`
	VolumeFilled float64 `json:"volume_filled"`
	SetupTime    int64   `json:"setup_time"`
	DoneTime     int64   `json:"done_time,omitempty"`
}

type wireStatistics struct {
	Completed      bool    `json:"completed"`
	TotalTrades    int     `json:"total_trades"`
	TotalDeals     int     `json:"total_deals"`
	NetProfit      float64 `json:"net_profit"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	ProfitFactor   float64 `json:"profit_factor"`
	WinRate        float64 `json:"win_rate"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	FinalBalance   float64 `json:"final_balance"`
}

type wireDelta struct {
	Trades     []wireTrade     `json:"trades,omitempty"`
	Deals      []wireDeal      `json:"deals,omitempty"`
	Orders     []wireOrder     `json:"orders,omitempty"`
	Statistics *wireStatistics `json:"statistics,omitempty"`
}

func (d *wireDelta) toDomain() *domain.ResultsDelta {
	out := &domain.ResultsDelta{}

	for _, t := range d.Trades {
		out.Trades = append(out.Trades, domain.Trade{
			TradeID:    t.TradeID,
			DealID:     t.DealID,
			OrderID:    t.OrderID,
			Symbol:     t.Symbol,
			Side:       t.Side,
			Price:      t.Price,
			Volume:     t.Volume,
			Commission: t.Commission,
			Profit:     t.Profit,
			Time:       t.Time,
		})
	}

	for _, dl := range d.Deals {
		out.Deals = append(out.Deals, domain.Deal{
			DealID:        dl.DealID,
			Symbol:        dl.Symbol,
			Direction:     dl.Direction,
			VolumeOpen:    dl.VolumeOpen,
			VolumeClosed:  dl.VolumeClosed,
			AvgEntryPrice: dl.AvgEntryPrice,
			AvgExitPrice:  dl.AvgExitPrice,
			Commission:    dl.Commission,
			Profit:        dl.Profit,
			OpenTime:      dl.OpenTime,
			CloseTime:     dl.CloseTime,
			Closed:        dl.Closed,
		})
	}

	for _, o := range d.Orders {
		out.Orders = append(out.Orders, domain.Order{
			OrderID:      o.OrderID,
			DealID:       o.DealID,
			Symbol:       o.Symbol,
			Side:         o.Side,
			Type:         o.Type,
			Status:       o.Status,
			Price:        o.Price,
			Volume:       o.Volume,
			VolumeFilled: o.VolumeFilled,
			SetupTime:    o.SetupTime,
			DoneTime:     o.DoneTime,
		})
	}

	if s := d.Statistics; s != nil {
		out.Statistics = &domain.StatisticsSnapshot{
			Completed:      s.Completed,
			TotalTrades:    s.TotalTrades,
			TotalDeals:     s.TotalDeals,
			NetProfit:      s.NetProfit,
			GrossProfit:    s.GrossProfit,
			GrossLoss:      s.GrossLoss,
			ProfitFactor:   s.ProfitFactor,
			WinRate:        s.WinRate,
			MaxDrawdownPct: s.MaxDrawdownPct,
			FinalBalance:   s.FinalBalance,
		}
	}

	return out
}

type wireRunConfig struct {
	Venue          string            `json:"venue,omitempty"`
	Symbol         string            `json:"symbol,omitempty"`
	Timeframe      string            `json:"timeframe,omitempty"`
	FromTime       int64             `json:"from_time,omitempty"`
	ToTime         int64             `json:"to_time,omitempty"`
	InitialBalance float64           `json:"initial_balance,omitempty"`
	FeeRate        float64           `json:"fee_rate,omitempty"`
	SlippageBps    float64           `json:"slippage_bps,omitempty"`
	CustomParams   map[string]string `json:"custom_params,omitempty"`
}

type wireTask struct {
	TaskID       string        `json:"task_id"`
	Name         string        `json:"name"`
	StrategyPath string        `json:"strategy_path"`
	Config       wireRunConfig `json:"config"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

func newWireTask(t *domain.Task) wireTask {
	return wireTask{
		TaskID:       t.TaskID,
		Name:         t.Name,
		StrategyPath: t.StrategyPath,
		Config: wireRunConfig{
			Venue:          t.Config.Venue,
			Symbol:         t.Config.Symbol,
			Timeframe:      t.Config.Timeframe,
			FromTime:       t.Config.FromTime,
			ToTime:         t.Config.ToTime,
			InitialBalance: t.Config.InitialBalance,
			FeeRate:        t.Config.FeeRate,
			SlippageBps:    t.Config.SlippageBps,
			CustomParams:   t.Config.CustomParams,
		},
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func (w *wireTask) toDomain() *domain.Task {
	return &domain.Task{
		TaskID:       w.TaskID,
		Name:         w.Name,
		StrategyPath: w.StrategyPath,
		Config: domain.RunConfig{
			Venue:          w.Config.Venue,
			Symbol:         w.Config.Symbol,
			Timeframe:      w.Config.Timeframe,
			FromTime:       w.Config.FromTime,
			ToTime:         w.Config.ToTime,
			InitialBalance: w.Config.InitialBalance,
			FeeRate:        w.Config.FeeRate,
			SlippageBps:    w.Config.SlippageBps,
			CustomParams:   w.Config.CustomParams,
		},
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}
