// Package position normalizes the venue's raw position/order payloads into
// the canonical view the engine reasons about, tracks the protective order
// pair, and formats prices/quantities to instrument precision.
package position

import (
	"math"

	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/stream"
	"marlin/internal/pkg/convert"
)

// Below this absolute quantity the venue is reporting dust, not a position.
const qtyEpsilon = 1e-9

type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

func (s Side) Valid() bool { return s == Long || s == Short }

// EntrySide is the order side that opens a position in this direction.
func (s Side) EntrySide() string {
	if s == Long {
		return binance.SideBuy
	}
	return binance.SideSell
}

// ExitSide is the order side that reduces a position in this direction.
func (s Side) ExitSide() string {
	if s == Long {
		return binance.SideSell
	}
	return binance.SideBuy
}

// Position exists if and only if quantity is non-zero; "no position" is a nil
// pointer, never a zero-quantity value.
type Position struct {
	Symbol        string
	Side          Side
	Quantity      float64 // always > 0; direction lives in Side
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int

	StopOrderID       int64
	TakeProfitOrderID int64
}

// Protected reports whether both protective orders are armed.
func (p *Position) Protected() bool {
	return p != nil && p.StopOrderID != 0 && p.TakeProfitOrderID != 0
}

// FromPositionRisk maps the REST positionRisk rows for one symbol into the
// canonical view. Protective order ids are not known to this endpoint; the
// caller overlays them from its own tracking.
func FromPositionRisk(rows []binance.PositionRisk, symbol string) *Position {
	for _, row := range rows {
		if row.Symbol != symbol {
			continue
		}
		amt := convert.MustParseFloat(row.PositionAmt)
		if math.Abs(amt) < qtyEpsilon {
			continue
		}
		side := Long
		if amt < 0 {
			side = Short
		}
		lev := int(convert.MustParseFloat(row.Leverage))
		return &Position{
			Symbol:        row.Symbol,
			Side:          side,
			Quantity:      math.Abs(amt),
			EntryPrice:    convert.MustParseFloat(row.EntryPrice),
			MarkPrice:     convert.MustParseFloat(row.MarkPrice),
			UnrealizedPnL: convert.MustParseFloat(row.UnRealizedProfit),
			Leverage:      lev,
		}
	}
	return nil
}

// FromStreamUpdate maps an ACCOUNT_UPDATE position row. prev carries forward
// the protective ids, which the stream payload does not know about. A row at
// or below epsilon means the position is gone.
func FromStreamUpdate(upd stream.PositionUpdate, prev *Position) *Position {
	if math.Abs(upd.PositionAmt) < qtyEpsilon {
		return nil
	}
	side := Long
	if upd.PositionAmt < 0 {
		side = Short
	}
	next := &Position{
		Symbol:        upd.Symbol,
		Side:          side,
		Quantity:      math.Abs(upd.PositionAmt),
		EntryPrice:    upd.EntryPrice,
		UnrealizedPnL: upd.UnrealizedPnL,
	}
	if prev != nil {
		next.Leverage = prev.Leverage
		next.MarkPrice = prev.MarkPrice
		next.StopOrderID = prev.StopOrderID
		next.TakeProfitOrderID = prev.TakeProfitOrderID
	}
	return next
}
