package position

import (
	"context"
	"strings"

	"marlin/internal/gateway/stream"
	"marlin/internal/logger"
	"marlin/internal/store"
)

// PriceLookup resolves one close price for a pair around a timestamp. The
// market source satisfies this.
type PriceLookup interface {
	ClosePriceAt(ctx context.Context, pair, interval string, ts int64) (float64, error)
}

// FillLogger appends every actual fill to the persisted order log, whether or
// not the state machine cares about the order. Commission paid in an asset
// other than the margin asset is converted via a one-candle lookup.
type FillLogger struct {
	store       store.Store
	prices      PriceLookup
	botID       int64
	marginAsset string
}

func NewFillLogger(st store.Store, prices PriceLookup, botID int64, marginAsset string) *FillLogger {
	return &FillLogger{
		store:       st,
		prices:      prices,
		botID:       botID,
		marginAsset: strings.ToUpper(marginAsset),
	}
}

// Record persists the fill carried by evt. Non-fill updates (no trade id or
// zero filled quantity) are ignored. Duplicate appends are success by store
// contract.
func (f *FillLogger) Record(ctx context.Context, evt stream.OrderUpdate) {
	if evt.TradeID == 0 || evt.LastFilledQty <= 0 {
		return
	}
	entry := store.OrderLogEntry{
		BotConfigID:     f.botID,
		OrderID:         evt.OrderID,
		TradeID:         evt.TradeID,
		Symbol:          evt.Symbol,
		Side:            evt.Side,
		OrderType:       evt.OrderType,
		Status:          evt.Status,
		ExecutedQty:     evt.LastFilledQty,
		AvgPrice:        evt.AvgPrice,
		CommissionQuote: f.commissionInQuote(ctx, evt),
		RealizedPnL:     evt.RealizedPnL,
		ReduceOnly:      evt.ReduceOnly,
		Raw:             evt.Raw,
	}
	if ok, err := f.store.AppendOrderLog(ctx, entry); err != nil {
		logger.Errorf("fill log: append failed order=%d trade=%d: %v", evt.OrderID, evt.TradeID, err)
	} else if ok {
		logger.Debugf("fill log: recorded order=%d trade=%d qty=%.8f", evt.OrderID, evt.TradeID, evt.LastFilledQty)
	}
}

func (f *FillLogger) commissionInQuote(ctx context.Context, evt stream.OrderUpdate) float64 {
	if evt.Commission == 0 {
		return 0
	}
	asset := strings.ToUpper(evt.CommissionAsset)
	if asset == "" || asset == f.marginAsset {
		return evt.Commission
	}
	pair := asset + f.marginAsset
	px, err := f.prices.ClosePriceAt(ctx, pair, "1m", evt.EventTime)
	if err != nil || px <= 0 {
		logger.Warnf("fill log: commission conversion via %s failed (px=%.8f err=%v), keeping raw value", pair, px, err)
		return evt.Commission
	}
	return evt.Commission * px
}
