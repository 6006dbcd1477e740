package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

func TestRunArchiveStore_TradeBatchRoundtrip(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunArchiveStore(conn)

	trades := []domain.Trade{
		{
			TradeID: "t-2", DealID: "d-1", OrderID: "o-2",
			Symbol: "BTCUSDT", Side: domain.TradeSideSell,
			Price: 43500, Volume: 0.5, Commission: 2.17, Profit: 250,
			Time: 1706745660000,
		},
		{
			TradeID: "t-1", DealID: "d-1", OrderID: "o-1",
			Symbol: "BTCUSDT", Side: domain.TradeSideBuy,
			Price: 43000, Volume: 0.5, Commission: 2.15,
			Time: 1706745600000,
		},
	}
	require.NoError(t, store.InsertTrades(ctx, "res-batch", trades))

	got, err := store.GetTradesByResultID(ctx, "res-batch")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Read side orders by execution time regardless of insert order.
	assert.Equal(t, "t-1", got[0].TradeID)
	assert.Equal(t, "t-2", got[1].TradeID)
	assert.Equal(t, domain.TradeSideBuy, got[0].Side)
	assert.InDelta(t, 250, got[1].Profit, 0.0001)
}

func TestRunArchiveStore_DealBatchRoundtrip(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunArchiveStore(conn)

	deals := []domain.Deal{
		{
			DealID: "d-1", Symbol: "BTCUSDT", Direction: domain.DealDirectionLong,
			VolumeOpen: 0.5, VolumeClosed: 0.5,
			AvgEntryPrice: 43000, AvgExitPrice: 43500,
			Commission: 4.32, Profit: 250,
			OpenTime: 1706745600000, CloseTime: 1706745660000, Closed: true,
		},
		{
			DealID: "d-2", Symbol: "BTCUSDT", Direction: domain.DealDirectionShort,
			VolumeOpen: 0.3, AvgEntryPrice: 43600,
			OpenTime: 1706745720000,
		},
	}
	require.NoError(t, store.InsertDeals(ctx, "res-batch", deals))

	got, err := store.GetDealsByResultID(ctx, "res-batch")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].Closed)
	assert.False(t, got[1].Closed)
	assert.Equal(t, domain.DealDirectionShort, got[1].Direction)
	assert.InDelta(t, 250, got[0].Profit, 0.0001)
}

func TestRunArchiveStore_OrderBatchRoundtrip(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunArchiveStore(conn)

	orders := []domain.Order{
		{
			OrderID: "o-1", DealID: "d-1", Symbol: "BTCUSDT",
			Side: domain.TradeSideBuy, Type: domain.OrderTypeMarket,
			Status: domain.OrderStatusFilled,
			Volume: 0.5, VolumeFilled: 0.5,
			SetupTime: 1706745600000, DoneTime: 1706745600100,
		},
		{
			OrderID: "o-2", DealID: "d-1", Symbol: "BTCUSDT",
			Side: domain.TradeSideSell, Type: domain.OrderTypeLimit,
			Status: domain.OrderStatusPlaced,
			Price:  43500, Volume: 0.5,
			SetupTime: 1706745630000,
		},
	}
	require.NoError(t, store.InsertOrders(ctx, "res-batch", orders))

	got, err := store.GetOrdersByResultID(ctx, "res-batch")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.OrderStatusFilled, got[0].Status)
	assert.Equal(t, domain.OrderTypeLimit, got[1].Type)
	assert.Zero(t, got[1].DoneTime)
}

func TestRunArchiveStore_EmptyBatchIsNoop(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRunArchiveStore(conn)

	require.NoError(t, store.InsertTrades(ctx, "res-empty", nil))
	require.NoError(t, store.InsertDeals(ctx, "res-empty", nil))
	require.NoError(t, store.InsertOrders(ctx, "res-empty", nil))

	got, err := store.GetTradesByResultID(ctx, "res-empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunArchiveStore_BatchRejectsEmptyResultID(t *testing.T) {
	store := NewRunArchiveStore(nil)

	err := store.InsertTrades(context.Background(), "", []domain.Trade{{TradeID: "t-1"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
