package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"marlin/internal/config"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	st, err := NewSqliteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedBotConfig(t *testing.T, st *SqliteStore, id int64, enabled bool) {
	t.Helper()
	err := st.db.Create(&BotConfigModel{
		ID: id, UserID: 7, Symbol: "btcusdt", MarginAsset: "USDT", Leverage: 10,
		TimeframesJSON: datatypes.JSON(`["15m","1h"]`), StreamInterval: "15m",
		SizingMode: "formula", MarginTargetUSD: 100, ProfitTargetUSD: 50,
		DecisionEverySec: 300, OrderTimeoutSec: 120, HeartbeatSec: 30,
		Enabled: enabled,
	}).Error
	require.NoError(t, err)
}

func TestStoreOpensInWALMode(t *testing.T) {
	st := newTestStore(t)

	var mode string
	require.NoError(t, st.db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", strings.ToLower(mode))

	var timeout int
	require.NoError(t, st.db.Raw("PRAGMA busy_timeout").Scan(&timeout).Error)
	assert.Equal(t, 5000, timeout)
}

func TestLoadConfig(t *testing.T) {
	st := newTestStore(t)
	seedBotConfig(t, st, 1, true)

	cfg, err := st.LoadConfig(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cfg.Symbol, "symbol normalized to upper case")
	assert.Equal(t, config.SizingFormula, cfg.SizingMode)
	assert.Equal(t, []string{"15m", "1h"}, cfg.Timeframes)
	assert.Equal(t, 5*time.Minute, cfg.DecisionEvery)
	assert.Equal(t, 2*time.Minute, cfg.OrderTimeout)
}

func TestLoadConfigRejectsDisabledAndMissing(t *testing.T) {
	st := newTestStore(t)
	seedBotConfig(t, st, 2, false)

	_, err := st.LoadConfig(context.Background(), 2)
	assert.ErrorContains(t, err, "disabled")

	_, err = st.LoadConfig(context.Background(), 404)
	assert.Error(t, err)
}

func TestLoadCredentials(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.db.Create(&CredentialModel{
		BotConfigID: 1, APIKey: "key", APISecret: "secret",
	}).Error)

	creds, err := st.LoadCredentials(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "key", creds.APIKey)
	assert.Equal(t, "secret", creds.APISecret)

	_, err = st.LoadCredentials(context.Background(), 2)
	assert.Error(t, err)
}

func TestAppendOrderLogToleratesDuplicates(t *testing.T) {
	st := newTestStore(t)
	entry := OrderLogEntry{
		BotConfigID: 1, OrderID: 100, TradeID: 200, Symbol: "BTCUSDT",
		Side: "BUY", OrderType: "LIMIT", Status: "FILLED",
		ExecutedQty: 0.01, AvgPrice: 50000,
	}

	ok, err := st.AppendOrderLog(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same (order, trade) observed again: success, no second row.
	ok, err = st.AppendOrderLog(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, ok)

	var count int64
	st.db.Model(&OrderLogModel{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUpdateStrategyVersionsAndDeactivates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// No strategy yet: version zero baseline, not an error.
	d, err := st.LoadActiveStrategy(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Version)

	_, err = st.UpdateStrategy(ctx, 7, Directives{Version: 1, RiskPerTradePct: 2}, "initial", nil)
	require.NoError(t, err)
	_, err = st.UpdateStrategy(ctx, 7, Directives{Version: 2, RiskPerTradePct: 1}, "tightened", []byte(`{}`))
	require.NoError(t, err)

	active, err := st.LoadActiveStrategy(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, 1.0, active.RiskPerTradePct)

	var activeCount int64
	st.db.Model(&StrategyModel{}).Where("user_id = ? AND active = ?", 7, true).Count(&activeCount)
	assert.Equal(t, int64(1), activeCount, "exactly one active strategy per user")
}

func TestUpdateHeartbeatUpserts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ok, err := st.UpdateHeartbeat(ctx, 1, "IDLE", 1234, "")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.UpdateHeartbeat(ctx, 1, "POSITION_ACTIVE", 1234, "")
	require.NoError(t, err)
	assert.True(t, ok)

	var rows []HeartbeatModel
	st.db.Find(&rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "POSITION_ACTIVE", rows[0].Status)
}

func TestAppendAIInteraction(t *testing.T) {
	st := newTestStore(t)
	ok, err := st.AppendAIInteraction(context.Background(), AIInteractionEntry{
		BotConfigID: 1, TraceID: "trace-1", PromptVariant: "oracle-sizing",
		ProposedAction: "OPEN_POSITION", ExecutedAction: "HOLD_POSITION",
		OverrideReason: "position already open", Success: true,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	var row AIInteractionModel
	require.NoError(t, st.db.First(&row, "trace_id = ?", "trace-1").Error)
	assert.Equal(t, "HOLD_POSITION", row.ExecutedAction)
}
