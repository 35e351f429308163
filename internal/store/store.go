// Package store is the engine's persistence collaborator: bot configuration,
// credentials, strategy directives, order/AI logs and the operator heartbeat.
// The engine instance owns the handle exclusively for the life of the process.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marlin/internal/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Directives is the versioned strategy document the oracle sees each cycle.
// Owned here; the oracle gateway may persist a replacement version, with the
// bot-configuration fields (sizing mode, self-update permission) stripped so
// the oracle cannot grant itself permissions.
type Directives struct {
	Version             int      `json:"version"`
	RiskPerTradePct     float64  `json:"risk_per_trade_pct,omitempty"`
	MaxLeverage         int      `json:"max_leverage,omitempty"`
	PreferredTimeframes []string `json:"preferred_timeframes,omitempty"`
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
	Notes               string   `json:"notes,omitempty"`
}

type Credentials struct {
	APIKey    string
	APISecret string
}

type OrderLogEntry struct {
	BotConfigID     int64
	OrderID         int64
	TradeID         int64
	Symbol          string
	Side            string
	OrderType       string
	Status          string
	ExecutedQty     float64
	AvgPrice        float64
	CommissionQuote float64
	RealizedPnL     float64
	ReduceOnly      bool
	Raw             []byte
}

type AIInteractionEntry struct {
	BotConfigID    int64
	TraceID        string
	PromptVariant  string
	ProposedAction string
	ExecutedAction string
	OverrideReason string
	Success        bool
	ErrorMessage   string
	RawResponse    string
	Snapshot       []byte
}

// Store is the contract the engine consumes. Append methods report success as
// a bool so callers can treat duplicate-key conflicts as success, not failure.
type Store interface {
	LoadConfig(ctx context.Context, id int64) (*config.BotConfig, error)
	LoadCredentials(ctx context.Context, id int64) (Credentials, error)
	LoadActiveStrategy(ctx context.Context, userID int64) (*Directives, error)
	UpdateStrategy(ctx context.Context, userID int64, d Directives, reason string, snapshot []byte) (bool, error)
	AppendOrderLog(ctx context.Context, e OrderLogEntry) (bool, error)
	AppendAIInteraction(ctx context.Context, e AIInteractionEntry) (bool, error)
	UpdateHeartbeat(ctx context.Context, botID int64, status string, pid int, errorMessage string) (bool, error)
	Close() error
}

type SqliteStore struct {
	db *gorm.DB
}

var _ Store = (*SqliteStore)(nil)

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewSqliteStoreFromDB(db)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	models := []interface{}{
		&BotConfigModel{},
		&CredentialModel{},
		&StrategyModel{},
		&OrderLogModel{},
		&AIInteractionModel{},
		&HeartbeatModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) LoadConfig(ctx context.Context, id int64) (*config.BotConfig, error) {
	var row BotConfigModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("loading bot config %d: %w", id, err)
	}
	if !row.Enabled {
		return nil, fmt.Errorf("bot config %d is disabled", id)
	}
	var timeframes []string
	if len(row.TimeframesJSON) > 0 {
		if err := json.Unmarshal(row.TimeframesJSON, &timeframes); err != nil {
			return nil, fmt.Errorf("bot config %d: bad timeframes json: %w", id, err)
		}
	}
	cfg := &config.BotConfig{
		ID:              row.ID,
		UserID:          row.UserID,
		Symbol:          strings.ToUpper(strings.TrimSpace(row.Symbol)),
		MarginAsset:     row.MarginAsset,
		Leverage:        row.Leverage,
		Timeframes:      timeframes,
		StreamInterval:  row.StreamInterval,
		SizingMode:      config.SizingMode(strings.ToUpper(row.SizingMode)),
		AllowSelfUpdate: row.AllowSelfUpdate,
		MarginTargetUSD: row.MarginTargetUSD,
		ProfitTargetUSD: row.ProfitTargetUSD,
		DecisionEvery:   time.Duration(row.DecisionEverySec) * time.Second,
		OrderTimeout:    time.Duration(row.OrderTimeoutSec) * time.Second,
		HeartbeatEvery:  time.Duration(row.HeartbeatSec) * time.Second,
	}
	if err := config.ValidateBot(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *SqliteStore) LoadCredentials(ctx context.Context, id int64) (Credentials, error) {
	var row CredentialModel
	if err := s.db.WithContext(ctx).First(&row, "bot_config_id = ?", id).Error; err != nil {
		return Credentials{}, fmt.Errorf("loading credentials for bot %d: %w", id, err)
	}
	if strings.TrimSpace(row.APIKey) == "" || strings.TrimSpace(row.APISecret) == "" {
		return Credentials{}, fmt.Errorf("credentials for bot %d are incomplete", id)
	}
	return Credentials{APIKey: row.APIKey, APISecret: row.APISecret}, nil
}

func (s *SqliteStore) LoadActiveStrategy(ctx context.Context, userID int64) (*Directives, error) {
	var row StrategyModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("version DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return &Directives{Version: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active strategy for user %d: %w", userID, err)
	}
	var d Directives
	if len(row.DirectivesJSON) > 0 {
		if err := json.Unmarshal(row.DirectivesJSON, &d); err != nil {
			return nil, fmt.Errorf("strategy %d: bad directives json: %w", row.ID, err)
		}
	}
	d.Version = row.Version
	return &d, nil
}

func (s *SqliteStore) UpdateStrategy(ctx context.Context, userID int64, d Directives, reason string, snapshot []byte) (bool, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return false, err
	}
	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&StrategyModel{}).
			Where("user_id = ? AND active = ?", userID, true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(&StrategyModel{
			UserID:         userID,
			Version:        d.Version,
			DirectivesJSON: payload,
			Active:         true,
			UpdateReason:   reason,
			SnapshotJSON:   snapshot,
			CreatedAt:      now,
			UpdatedAt:      now,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SqliteStore) AppendOrderLog(ctx context.Context, e OrderLogEntry) (bool, error) {
	row := OrderLogModel{
		BotConfigID:     e.BotConfigID,
		OrderID:         e.OrderID,
		TradeID:         e.TradeID,
		Symbol:          e.Symbol,
		Side:            e.Side,
		OrderType:       e.OrderType,
		Status:          e.Status,
		ExecutedQty:     e.ExecutedQty,
		AvgPrice:        e.AvgPrice,
		CommissionQuote: e.CommissionQuote,
		RealizedPnL:     e.RealizedPnL,
		ReduceOnly:      e.ReduceOnly,
		RawJSON:         e.Raw,
		CreatedAt:       time.Now(),
	}
	// Fills can be observed twice (stream + sweep); duplicates are success.
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return true, nil
}

func (s *SqliteStore) AppendAIInteraction(ctx context.Context, e AIInteractionEntry) (bool, error) {
	row := AIInteractionModel{
		BotConfigID:    e.BotConfigID,
		TraceID:        e.TraceID,
		PromptVariant:  e.PromptVariant,
		ProposedAction: e.ProposedAction,
		ExecutedAction: e.ExecutedAction,
		OverrideReason: e.OverrideReason,
		Success:        e.Success,
		ErrorMessage:   e.ErrorMessage,
		RawResponse:    e.RawResponse,
		SnapshotJSON:   e.Snapshot,
		CreatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *SqliteStore) UpdateHeartbeat(ctx context.Context, botID int64, status string, pid int, errorMessage string) (bool, error) {
	row := HeartbeatModel{
		BotConfigID:  botID,
		Status:       status,
		PID:          pid,
		ErrorMessage: errorMessage,
		UpdatedAt:    time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_config_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "pid", "error_message", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
