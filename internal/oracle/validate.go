package oracle

import (
	"fmt"

	"marlin/internal/config"
	"marlin/internal/position"
)

// ValidateOpen enforces the safety contract on an OPEN_POSITION proposal
// before any order is built. A failure here downgrades the cycle to
// DO_NOTHING; it never reaches the venue.
func ValidateOpen(d Decision, cfg *config.BotConfig) error {
	side := position.Side(d.Side)
	if !side.Valid() {
		return fmt.Errorf("invalid side %q", d.Side)
	}
	if d.EntryPrice <= 0 {
		return fmt.Errorf("entry price must be positive, got %v", d.EntryPrice)
	}
	if d.StopLossPrice <= 0 {
		return fmt.Errorf("stop loss price must be positive, got %v", d.StopLossPrice)
	}
	if d.TakeProfitPrice <= 0 {
		return fmt.Errorf("take profit price must be positive, got %v", d.TakeProfitPrice)
	}
	if cfg.SizingMode == config.SizingOracle && d.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", d.Quantity)
	}
	if d.Leverage < 1 || d.Leverage > cfg.Leverage {
		return fmt.Errorf("leverage %d outside [1,%d]", d.Leverage, cfg.Leverage)
	}

	switch side {
	case position.Long:
		if d.StopLossPrice >= d.EntryPrice {
			return fmt.Errorf("long stop %v must sit below entry %v", d.StopLossPrice, d.EntryPrice)
		}
		if d.TakeProfitPrice <= d.EntryPrice {
			return fmt.Errorf("long target %v must sit above entry %v", d.TakeProfitPrice, d.EntryPrice)
		}
	case position.Short:
		if d.StopLossPrice <= d.EntryPrice {
			return fmt.Errorf("short stop %v must sit above entry %v", d.StopLossPrice, d.EntryPrice)
		}
		if d.TakeProfitPrice >= d.EntryPrice {
			return fmt.Errorf("short target %v must sit below entry %v", d.TakeProfitPrice, d.EntryPrice)
		}
	}
	return nil
}

// ResolveQuantity picks the order size for an open. Formula mode ignores
// whatever the oracle wrote and derives size from the margin target and the
// proposed leverage (falling back to the configured one).
func ResolveQuantity(d Decision, cfg *config.BotConfig) float64 {
	if cfg.SizingMode == config.SizingFormula {
		if d.EntryPrice <= 0 {
			return 0
		}
		lev := d.Leverage
		if lev <= 0 {
			lev = cfg.Leverage
		}
		return cfg.MarginTargetUSD * float64(lev) / d.EntryPrice
	}
	return d.Quantity
}
