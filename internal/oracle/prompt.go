package oracle

import (
	"fmt"
	"strings"
	"time"

	"marlin/internal/config"
	"marlin/internal/gateway/binance"
)

// Variant names for the four instruction blocks, keyed by sizing mode and the
// self-update permission. Persisted with every AI interaction so a log reader
// knows exactly which contract the oracle was answering.
const (
	VariantOracleSizing        = "oracle-sizing"
	VariantOracleSizingUpdate  = "oracle-sizing+self-update"
	VariantFormulaSizing       = "formula-sizing"
	VariantFormulaSizingUpdate = "formula-sizing+self-update"
)

func variantFor(cfg *config.BotConfig) string {
	switch {
	case cfg.SizingMode == config.SizingFormula && cfg.AllowSelfUpdate:
		return VariantFormulaSizingUpdate
	case cfg.SizingMode == config.SizingFormula:
		return VariantFormulaSizing
	case cfg.AllowSelfUpdate:
		return VariantOracleSizingUpdate
	default:
		return VariantOracleSizing
	}
}

// renderContext flattens everything the collectors gathered into the user
// prompt. Plain labeled sections, candles as CSV: token-cheap and unambiguous.
func renderContext(doc *contextDoc, cfg *config.BotConfig, prec binance.Precision) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## BOT\n")
	fmt.Fprintf(&b, "symbol=%s margin_asset=%s leverage=%dx sizing_mode=%s\n",
		cfg.Symbol, cfg.MarginAsset, cfg.Leverage, cfg.SizingMode)
	fmt.Fprintf(&b, "time=%s state=%s\n", time.Now().UTC().Format(time.RFC3339), doc.Input.State)
	if cfg.ProfitTargetUSD > 0 {
		fmt.Fprintf(&b, "profit_target_usd=%.2f\n", cfg.ProfitTargetUSD)
	}

	fmt.Fprintf(&b, "\n## INSTRUMENT PRECISION\n")
	fmt.Fprintf(&b, "tick_size=%v step_size=%v\n", prec.TickSize, prec.StepSize)

	fmt.Fprintf(&b, "\n## ACCOUNT\n")
	fmt.Fprintf(&b, "balance_%s=%.4f available=%.4f\n", strings.ToLower(cfg.MarginAsset), doc.Balance, doc.Available)
	fmt.Fprintf(&b, "commission maker=%.6f taker=%.6f\n", doc.Commission.Maker, doc.Commission.Taker)

	fmt.Fprintf(&b, "\n## POSITION\n")
	if p := doc.Input.Position; p != nil {
		fmt.Fprintf(&b, "side=%s qty=%.8f entry=%.8f mark=%.8f upnl=%.4f leverage=%dx protected=%v\n",
			p.Side, p.Quantity, p.EntryPrice, p.MarkPrice, p.UnrealizedPnL, p.Leverage, p.Protected())
	} else {
		fmt.Fprintf(&b, "none\n")
	}

	fmt.Fprintf(&b, "\n## RECENT TRADES (newest last)\n")
	if len(doc.Trades) == 0 {
		fmt.Fprintf(&b, "none\n")
	} else {
		fmt.Fprintf(&b, "time,side,price,qty,realized_pnl\n")
		for _, t := range doc.Trades {
			fmt.Fprintf(&b, "%s,%s,%.8f,%.8f,%.4f\n",
				time.UnixMilli(t.Time).UTC().Format("2006-01-02T15:04:05Z"), t.Side, t.Price, t.Qty, t.Pnl)
		}
	}

	if d := doc.Directives; d != nil {
		fmt.Fprintf(&b, "\n## STRATEGY DIRECTIVES (v%d)\n", d.Version)
		if d.RiskPerTradePct > 0 {
			fmt.Fprintf(&b, "risk_per_trade_pct=%.2f\n", d.RiskPerTradePct)
		}
		if d.MaxLeverage > 0 {
			fmt.Fprintf(&b, "max_leverage=%d\n", d.MaxLeverage)
		}
		if len(d.PreferredTimeframes) > 0 {
			fmt.Fprintf(&b, "preferred_timeframes=%s\n", strings.Join(d.PreferredTimeframes, ","))
		}
		if d.ConfidenceThreshold > 0 {
			fmt.Fprintf(&b, "confidence_threshold=%.2f\n", d.ConfidenceThreshold)
		}
		if strings.TrimSpace(d.Notes) != "" {
			fmt.Fprintf(&b, "notes: %s\n", d.Notes)
		}
	}

	for _, s := range doc.Series {
		fmt.Fprintf(&b, "\n## CANDLES %s (oldest first)\n", s.Interval)
		fmt.Fprintf(&b, "open_time,open,high,low,close,volume\n")
		for _, c := range s.Candles {
			fmt.Fprintf(&b, "%d,%.8f,%.8f,%.8f,%.8f,%.4f\n", c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume)
		}
	}

	if snap := doc.Indicators; snap != nil {
		fmt.Fprintf(&b, "\n## INDICATORS (%s, last closed bar)\n", snap.Interval)
		fmt.Fprintf(&b, "rsi14=%.4f ema20=%.8f ema50=%.8f macd=%.8f macd_signal=%.8f macd_hist=%.8f\n",
			snap.RSI14, snap.EMA20, snap.EMA50, snap.MACD, snap.MACDSignal, snap.MACDHist)
	}

	if last := doc.Input.LastResult; last != nil {
		fmt.Fprintf(&b, "\n## PREVIOUS DECISION\n")
		fmt.Fprintf(&b, "at=%s proposed=%s executed=%s", last.DecidedAt.UTC().Format(time.RFC3339),
			last.ProposedAction, last.ExecutedAction)
		if last.OverrideReason != "" {
			fmt.Fprintf(&b, " override=%q", last.OverrideReason)
		}
		fmt.Fprintf(&b, "\n")
		if r := strings.TrimSpace(last.Decision.Reasoning); r != "" {
			fmt.Fprintf(&b, "reasoning: %s\n", r)
		}
	}

	return b.String()
}

// instructions returns the response contract appended to the preamble. The
// decision schema shrinks or grows with the bot configuration: formula sizing
// removes quantity from the oracle's hands, and strategy updates are only
// described when the bot accepts them.
func instructions(cfg *config.BotConfig) string {
	var b strings.Builder
	b.WriteString("\nRespond with a single JSON object and no other text:\n")
	b.WriteString(`{"decision": "<json-encoded decision document>"}` + "\n\n")
	b.WriteString("The decision document fields:\n")
	b.WriteString(`  action: one of "OPEN_POSITION", "CLOSE_POSITION", "HOLD_POSITION", "DO_NOTHING"` + "\n")
	b.WriteString("  reasoning: short free text\n")
	b.WriteString("  confidence: number in [0,1]\n")
	b.WriteString("For OPEN_POSITION additionally:\n")
	b.WriteString(`  side: "LONG" or "SHORT"` + "\n")
	b.WriteString("  entry_price, stop_loss_price, take_profit_price: positive numbers\n")

	if cfg.SizingMode == config.SizingFormula {
		fmt.Fprintf(&b, "Do NOT include a quantity: position size is computed as margin_target * leverage / entry_price with margin_target=%.2f %s.\n",
			cfg.MarginTargetUSD, cfg.MarginAsset)
		fmt.Fprintf(&b, "  leverage: always %d for this bot; echo it in the document, do not propose another value\n", cfg.Leverage)
	} else {
		b.WriteString("  quantity: positive number, sized against the available balance\n")
		fmt.Fprintf(&b, "  leverage: integer in [1,%d]\n", cfg.Leverage)
	}

	b.WriteString("For LONG the stop must sit below entry and the target above it; for SHORT the inverse.\n")
	b.WriteString("Prices will be floored to tick_size and quantities to step_size before submission.\n")

	if cfg.AllowSelfUpdate {
		b.WriteString("\nYou may optionally include a strategy_update object to adjust your own standing directives:\n")
		b.WriteString("  strategy_update: {risk_per_trade_pct?, max_leverage?, preferred_timeframes?, confidence_threshold?, notes?, reason}\n")
		b.WriteString("Bot configuration (symbol, sizing mode, permissions) is not yours to change; such fields are ignored.\n")
	} else {
		b.WriteString("\nDo not include a strategy_update field; directive changes are not accepted for this bot.\n")
	}
	return b.String()
}
