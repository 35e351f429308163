package oracle

import (
	"encoding/json"
	"time"

	"marlin/internal/market"
	"marlin/internal/position"
	"marlin/internal/store"
)

// Action is the oracle's proposed move. The engine may override it; both the
// proposed and the executed action are retained.
type Action string

const (
	ActionOpen  Action = "OPEN_POSITION"
	ActionClose Action = "CLOSE_POSITION"
	ActionHold  Action = "HOLD_POSITION"
	ActionNone  Action = "DO_NOTHING"
)

func (a Action) Valid() bool {
	switch a {
	case ActionOpen, ActionClose, ActionHold, ActionNone:
		return true
	}
	return false
}

// Decision is the inner decision document. StrategyUpdate stays raw here and
// is decoded permissively on its own so configuration-owned fields can be
// stripped instead of failing the whole decision.
type Decision struct {
	Action          Action          `json:"action"`
	Side            string          `json:"side,omitempty"`
	EntryPrice      float64         `json:"entry_price,omitempty"`
	StopLossPrice   float64         `json:"stop_loss_price,omitempty"`
	TakeProfitPrice float64         `json:"take_profit_price,omitempty"`
	Quantity        float64         `json:"quantity,omitempty"`
	Leverage        int             `json:"leverage,omitempty"`
	Confidence      float64         `json:"confidence,omitempty"`
	Reasoning       string          `json:"reasoning,omitempty"`
	StrategyUpdate  json.RawMessage `json:"strategy_update,omitempty"`
}

// StrategyUpdate is the oracle's suggested directive change. Sizing mode and
// the self-update permission are bot configuration, not strategy: they have
// no fields here, so a suggestion carrying them loses them on decode.
type StrategyUpdate struct {
	RiskPerTradePct     float64  `json:"risk_per_trade_pct,omitempty"`
	MaxLeverage         int      `json:"max_leverage,omitempty"`
	PreferredTimeframes []string `json:"preferred_timeframes,omitempty"`
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
	Notes               string   `json:"notes,omitempty"`
	Reason              string   `json:"reason,omitempty"`
}

// Result is what one oracle cycle produced, retained as "last result" for
// operator context only.
type Result struct {
	TraceID        string
	Variant        string
	Decision       Decision
	ProposedAction Action
	ExecutedAction Action
	OverrideReason string
	RawResponse    string
	DecidedAt      time.Time
}

// ContextInput is the engine-owned half of the context document.
type ContextInput struct {
	State      string
	Position   *position.Position
	LastResult *Result
}

// contextDoc is everything collected for one prompt.
type contextDoc struct {
	Input      ContextInput
	Balance    float64
	Available  float64
	Trades     []tradeLine
	Commission commissionInfo
	Series     []market.Series
	Indicators *market.IndicatorSnapshot
	Directives *store.Directives
}

type tradeLine struct {
	Time    int64
	Side    string
	Price   float64
	Qty     float64
	Pnl     float64
	OrderID int64
}

type commissionInfo struct {
	Maker float64
	Taker float64
}
