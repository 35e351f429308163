package store

import (
	"time"

	"gorm.io/datatypes"
)

type BotConfigModel struct {
	ID               int64          `gorm:"column:id;primaryKey"`
	UserID           int64          `gorm:"column:user_id;index"`
	Symbol           string         `gorm:"column:symbol"`
	MarginAsset      string         `gorm:"column:margin_asset"`
	Leverage         int            `gorm:"column:leverage"`
	TimeframesJSON   datatypes.JSON `gorm:"column:timeframes;type:TEXT"`
	StreamInterval   string         `gorm:"column:stream_interval"`
	SizingMode       string         `gorm:"column:sizing_mode"`
	AllowSelfUpdate  bool           `gorm:"column:allow_self_update"`
	MarginTargetUSD  float64        `gorm:"column:margin_target_usd"`
	ProfitTargetUSD  float64        `gorm:"column:profit_target_usd"`
	DecisionEverySec int64          `gorm:"column:decision_every_sec"`
	OrderTimeoutSec  int64          `gorm:"column:order_timeout_sec"`
	HeartbeatSec     int64          `gorm:"column:heartbeat_sec"`
	Enabled          bool           `gorm:"column:enabled"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
}

func (BotConfigModel) TableName() string { return "bot_configs" }

// CredentialModel holds exchange API credentials. Decryption is the dashboard
// side's job; rows here are already plain text per the persistence contract.
type CredentialModel struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	BotConfigID int64     `gorm:"column:bot_config_id;uniqueIndex"`
	APIKey      string    `gorm:"column:api_key"`
	APISecret   string    `gorm:"column:api_secret"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (CredentialModel) TableName() string { return "credentials" }

type StrategyModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	UserID         int64          `gorm:"column:user_id;index:idx_strategy_user"`
	Version        int            `gorm:"column:version"`
	DirectivesJSON datatypes.JSON `gorm:"column:directives;type:TEXT"`
	Active         bool           `gorm:"column:active;index:idx_strategy_user"`
	UpdateReason   string         `gorm:"column:update_reason"`
	SnapshotJSON   datatypes.JSON `gorm:"column:snapshot;type:TEXT"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (StrategyModel) TableName() string { return "strategies" }

type OrderLogModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	BotConfigID     int64          `gorm:"column:bot_config_id;index"`
	OrderID         int64          `gorm:"column:order_id;uniqueIndex:idx_order_trade,priority:1"`
	TradeID         int64          `gorm:"column:trade_id;uniqueIndex:idx_order_trade,priority:2"`
	Symbol          string         `gorm:"column:symbol"`
	Side            string         `gorm:"column:side"`
	OrderType       string         `gorm:"column:order_type"`
	Status          string         `gorm:"column:status"`
	ExecutedQty     float64        `gorm:"column:executed_qty"`
	AvgPrice        float64        `gorm:"column:avg_price"`
	CommissionQuote float64        `gorm:"column:commission_quote"`
	RealizedPnL     float64        `gorm:"column:realized_pnl"`
	ReduceOnly      bool           `gorm:"column:reduce_only"`
	RawJSON         datatypes.JSON `gorm:"column:raw;type:TEXT"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
}

func (OrderLogModel) TableName() string { return "order_logs" }

type AIInteractionModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	BotConfigID    int64          `gorm:"column:bot_config_id;index"`
	TraceID        string         `gorm:"column:trace_id"`
	PromptVariant  string         `gorm:"column:prompt_variant"`
	ProposedAction string         `gorm:"column:proposed_action"`
	ExecutedAction string         `gorm:"column:executed_action"`
	OverrideReason string         `gorm:"column:override_reason"`
	Success        bool           `gorm:"column:success"`
	ErrorMessage   string         `gorm:"column:error_message"`
	RawResponse    string         `gorm:"column:raw_response;type:TEXT"`
	SnapshotJSON   datatypes.JSON `gorm:"column:snapshot;type:TEXT"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
}

func (AIInteractionModel) TableName() string { return "ai_interactions" }

type HeartbeatModel struct {
	ID           int64     `gorm:"column:id;primaryKey"`
	BotConfigID  int64     `gorm:"column:bot_config_id;uniqueIndex"`
	Status       string    `gorm:"column:status"`
	PID          int       `gorm:"column:pid"`
	ErrorMessage string    `gorm:"column:error_message"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (HeartbeatModel) TableName() string { return "heartbeats" }
