package config

import (
	"fmt"
	"strings"
	"time"

	"marlin/internal/scheduler"
)

// ValidateBot checks a bot configuration loaded from the store. Any failure
// here is fatal at startup: a bot must never run on a half-valid config.
func ValidateBot(c *BotConfig) error {
	if c == nil {
		return fmt.Errorf("bot config is nil")
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("bot %d: symbol is required", c.ID)
	}
	if c.Leverage < 1 || c.Leverage > 125 {
		return fmt.Errorf("bot %d: leverage %d out of range [1,125]", c.ID, c.Leverage)
	}
	switch c.SizingMode {
	case SizingOracle, SizingFormula:
	default:
		return fmt.Errorf("bot %d: invalid sizing mode %q", c.ID, c.SizingMode)
	}
	if c.SizingMode == SizingFormula && c.MarginTargetUSD <= 0 {
		return fmt.Errorf("bot %d: formula sizing requires margin_target_usd > 0", c.ID)
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("bot %d: at least one timeframe is required", c.ID)
	}
	// Bare numerals ("60") are rejected rather than guessed at; intervals must
	// carry an explicit unit suffix so the venue and scheduler agree on them.
	for _, tf := range c.Timeframes {
		if _, ok := scheduler.ParseIntervalDuration(tf); !ok {
			return fmt.Errorf("bot %d: invalid timeframe %q (want e.g. 15m, 1h, 4h)", c.ID, tf)
		}
	}
	if c.StreamInterval == "" {
		c.StreamInterval = c.Timeframes[0]
	}
	if _, ok := scheduler.ParseIntervalDuration(c.StreamInterval); !ok {
		return fmt.Errorf("bot %d: invalid stream interval %q", c.ID, c.StreamInterval)
	}
	if c.MarginAsset == "" {
		c.MarginAsset = "USDT"
	}
	if c.DecisionEvery < time.Minute {
		return fmt.Errorf("bot %d: decision interval %s below 1m floor", c.ID, c.DecisionEvery)
	}
	if c.OrderTimeout <= 0 {
		return fmt.Errorf("bot %d: order timeout must be positive", c.ID)
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 30 * time.Second
	}
	return nil
}
