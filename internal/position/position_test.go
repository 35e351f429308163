package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/stream"
)

func TestFromPositionRiskDustIsNoPosition(t *testing.T) {
	rows := []binance.PositionRisk{
		{Symbol: "BTCUSDT", PositionAmt: "0.0000000001", EntryPrice: "50000", Leverage: "10"},
	}
	assert.Nil(t, FromPositionRisk(rows, "BTCUSDT"))
}

func TestFromPositionRiskMapsSides(t *testing.T) {
	rows := []binance.PositionRisk{
		{Symbol: "ETHUSDT", PositionAmt: "2", EntryPrice: "3000"},
		{Symbol: "BTCUSDT", PositionAmt: "-0.5", EntryPrice: "50000", MarkPrice: "49000",
			UnRealizedProfit: "500", Leverage: "20"},
	}

	p := FromPositionRisk(rows, "BTCUSDT")
	require.NotNil(t, p)
	assert.Equal(t, Short, p.Side)
	assert.Equal(t, 0.5, p.Quantity)
	assert.Equal(t, 50000.0, p.EntryPrice)
	assert.Equal(t, 20, p.Leverage)
	assert.False(t, p.Protected())

	long := FromPositionRisk(rows, "ETHUSDT")
	require.NotNil(t, long)
	assert.Equal(t, Long, long.Side)
}

func TestFromPositionRiskMissingSymbol(t *testing.T) {
	assert.Nil(t, FromPositionRisk(nil, "BTCUSDT"))
	assert.Nil(t, FromPositionRisk([]binance.PositionRisk{{Symbol: "ETHUSDT", PositionAmt: "1"}}, "BTCUSDT"))
}

func TestFromStreamUpdateCarriesProtectionForward(t *testing.T) {
	prev := &Position{
		Symbol: "BTCUSDT", Side: Long, Quantity: 1, EntryPrice: 50000,
		Leverage: 10, StopOrderID: 7, TakeProfitOrderID: 8,
	}
	next := FromStreamUpdate(stream.PositionUpdate{
		Symbol: "BTCUSDT", PositionAmt: 1, EntryPrice: 50000, UnrealizedPnL: 120,
	}, prev)

	require.NotNil(t, next)
	assert.Equal(t, int64(7), next.StopOrderID)
	assert.Equal(t, int64(8), next.TakeProfitOrderID)
	assert.Equal(t, 10, next.Leverage)
	assert.Equal(t, 120.0, next.UnrealizedPnL)
	assert.True(t, next.Protected())
}

func TestFromStreamUpdateFlatMeansNil(t *testing.T) {
	prev := &Position{Symbol: "BTCUSDT", Side: Long, Quantity: 1}
	assert.Nil(t, FromStreamUpdate(stream.PositionUpdate{Symbol: "BTCUSDT", PositionAmt: 0}, prev))
}

func TestSideOrderMapping(t *testing.T) {
	assert.Equal(t, binance.SideBuy, Long.EntrySide())
	assert.Equal(t, binance.SideSell, Long.ExitSide())
	assert.Equal(t, binance.SideSell, Short.EntrySide())
	assert.Equal(t, binance.SideBuy, Short.ExitSide())
	assert.False(t, Side("SIDEWAYS").Valid())
}
