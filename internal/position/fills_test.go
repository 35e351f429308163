package position

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/gateway/stream"
	"marlin/internal/store"
)

// fillStore overrides only the method the logger uses; everything else on the
// embedded interface panics if reached.
type fillStore struct {
	store.Store
	entries []store.OrderLogEntry
}

func (s *fillStore) AppendOrderLog(_ context.Context, e store.OrderLogEntry) (bool, error) {
	s.entries = append(s.entries, e)
	return true, nil
}

type fixedPrice struct {
	px    float64
	calls int
	pair  string
}

func (p *fixedPrice) ClosePriceAt(_ context.Context, pair, _ string, _ int64) (float64, error) {
	p.calls++
	p.pair = pair
	return p.px, nil
}

func fillEvent() stream.OrderUpdate {
	return stream.OrderUpdate{
		Symbol: "BTCUSDT", OrderID: 10, TradeID: 77, Side: "BUY", OrderType: "LIMIT",
		Status: "FILLED", ExecType: "TRADE", LastFilledQty: 0.01, AvgPrice: 50000,
		Commission: 0.5, CommissionAsset: "USDT", EventTime: 1700000000000,
	}
}

func TestRecordPersistsFill(t *testing.T) {
	st := &fillStore{}
	fl := NewFillLogger(st, &fixedPrice{}, 3, "usdt")

	fl.Record(context.Background(), fillEvent())

	require.Len(t, st.entries, 1)
	e := st.entries[0]
	assert.Equal(t, int64(3), e.BotConfigID)
	assert.Equal(t, int64(77), e.TradeID)
	assert.Equal(t, 0.5, e.CommissionQuote, "margin-asset commission kept as-is")
}

func TestRecordIgnoresNonFills(t *testing.T) {
	st := &fillStore{}
	fl := NewFillLogger(st, &fixedPrice{}, 3, "USDT")

	evt := fillEvent()
	evt.TradeID = 0
	fl.Record(context.Background(), evt)

	evt = fillEvent()
	evt.LastFilledQty = 0
	fl.Record(context.Background(), evt)

	assert.Empty(t, st.entries)
}

func TestRecordConvertsForeignCommission(t *testing.T) {
	st := &fillStore{}
	prices := &fixedPrice{px: 600}
	fl := NewFillLogger(st, prices, 3, "USDT")

	evt := fillEvent()
	evt.Commission = 0.002
	evt.CommissionAsset = "BNB"
	fl.Record(context.Background(), evt)

	require.Len(t, st.entries, 1)
	assert.Equal(t, "BNBUSDT", prices.pair)
	assert.InDelta(t, 1.2, st.entries[0].CommissionQuote, 1e-9)
}

func TestRecordKeepsRawCommissionWhenLookupFails(t *testing.T) {
	st := &fillStore{}
	fl := NewFillLogger(st, &fixedPrice{px: 0}, 3, "USDT")

	evt := fillEvent()
	evt.Commission = 0.002
	evt.CommissionAsset = "BNB"
	fl.Record(context.Background(), evt)

	require.Len(t, st.entries, 1)
	assert.Equal(t, 0.002, st.entries[0].CommissionQuote)
}
