package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/config"
	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/stream"
	"marlin/internal/oracle"
	"marlin/internal/position"
	"marlin/internal/scheduler"
	"marlin/internal/store"
)

type fakeVenue struct {
	mu           sync.Mutex
	nextID       int64
	placed       []binance.PlaceOrderRequest
	cancelled    []int64
	failTypes    map[string]error
	positionRows []binance.PositionRisk
	openOrders   []binance.Order
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req binance.PlaceOrderRequest) (*binance.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failTypes[req.Type]; err != nil {
		return nil, err
	}
	f.nextID++
	f.placed = append(f.placed, req)
	if req.Type == binance.OrderTypeMarket && req.ReduceOnly {
		// Market close flattens the venue-side position.
		f.positionRows = nil
	}
	return &binance.Order{OrderID: f.nextID, Symbol: req.Symbol, Status: binance.StatusNew}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeVenue) GetOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeVenue) GetOpenOrders(ctx context.Context, symbol string) ([]binance.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openOrders, nil
}

func (f *fakeVenue) GetPositionRisk(ctx context.Context, symbol string) ([]binance.PositionRisk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positionRows, nil
}

func (f *fakeVenue) CloseListenKey(ctx context.Context) error { return nil }

func (f *fakeVenue) placedTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.placed))
	for i, p := range f.placed {
		out[i] = p.Type
	}
	return out
}

type fakeOracle struct {
	res      *oracle.Result
	err      error
	recorded []*oracle.Result
}

func (f *fakeOracle) Decide(ctx context.Context, in oracle.ContextInput) (*oracle.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeOracle) RecordOutcome(ctx context.Context, res *oracle.Result) {
	f.recorded = append(f.recorded, res)
}

type fakeStreamer struct{ ch chan stream.Event }

func (f *fakeStreamer) Events() <-chan stream.Event { return f.ch }
func (f *fakeStreamer) Close() error                { return nil }

type fakeFills struct{ events []stream.OrderUpdate }

func (f *fakeFills) Record(ctx context.Context, evt stream.OrderUpdate) {
	f.events = append(f.events, evt)
}

type nullStore struct{}

func (nullStore) LoadConfig(ctx context.Context, id int64) (*config.BotConfig, error) {
	return nil, errors.New("not used")
}
func (nullStore) LoadCredentials(ctx context.Context, id int64) (store.Credentials, error) {
	return store.Credentials{}, errors.New("not used")
}
func (nullStore) LoadActiveStrategy(ctx context.Context, userID int64) (*store.Directives, error) {
	return &store.Directives{}, nil
}
func (nullStore) UpdateStrategy(ctx context.Context, userID int64, d store.Directives, reason string, snapshot []byte) (bool, error) {
	return true, nil
}
func (nullStore) AppendOrderLog(ctx context.Context, e store.OrderLogEntry) (bool, error) {
	return true, nil
}
func (nullStore) AppendAIInteraction(ctx context.Context, e store.AIInteractionEntry) (bool, error) {
	return true, nil
}
func (nullStore) UpdateHeartbeat(ctx context.Context, botID int64, status string, pid int, errorMessage string) (bool, error) {
	return true, nil
}
func (nullStore) Close() error { return nil }

func testBotConfig() *config.BotConfig {
	return &config.BotConfig{
		ID: 1, UserID: 1, Symbol: "BTCUSDT", MarginAsset: "USDT", Leverage: 20,
		Timeframes: []string{"15m"}, StreamInterval: "15m",
		SizingMode:    config.SizingOracle,
		DecisionEvery: time.Hour, OrderTimeout: time.Minute, HeartbeatEvery: time.Hour,
	}
}

func newTestEngine(venue *fakeVenue, orc *fakeOracle) (*Engine, *fakeFills) {
	fills := &fakeFills{}
	fmtr := position.NewFormatter(binance.Precision{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001})
	eng := New(testBotConfig(), venue, orc, &fakeStreamer{ch: make(chan stream.Event, 8)},
		fills, fmtr, scheduler.New(), nullStore{})
	return eng, fills
}

func openResult() *oracle.Result {
	return &oracle.Result{
		TraceID: "t-1",
		Decision: oracle.Decision{
			Action: oracle.ActionOpen, Side: "LONG",
			EntryPrice: 50000, StopLossPrice: 49000, TakeProfitPrice: 52000,
			Quantity: 0.01, Leverage: 10,
		},
		ProposedAction: oracle.ActionOpen,
	}
}

func longPositionRow() []binance.PositionRisk {
	return []binance.PositionRisk{{
		Symbol: "BTCUSDT", PositionAmt: "0.01", EntryPrice: "50000",
		MarkPrice: "50000", UnRealizedProfit: "0", Leverage: "20",
	}}
}

// Full open flow: IDLE -> EVALUATING -> ORDER_PENDING -> fill ->
// POSITION_UNPROTECTED -> protective pair confirmed -> POSITION_ACTIVE.
func TestOpenFlowEndsProtected(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{}
	orc := &fakeOracle{res: openResult()}
	eng, fills := newTestEngine(venue, orc)

	eng.AdoptPosition(nil)
	require.Equal(t, StateIdle, eng.State())

	eng.runDecisionCycle(ctx, false)
	require.Equal(t, StateOrderPending, eng.State())
	require.NotZero(t, eng.entryOrderID)
	require.Len(t, venue.placed, 1)
	assert.Equal(t, binance.OrderTypeLimit, venue.placed[0].Type)
	assert.Equal(t, "50000.0", venue.placed[0].Price)
	assert.Equal(t, "0.010", venue.placed[0].Quantity)

	venue.positionRows = longPositionRow()
	fill := stream.OrderUpdate{
		Symbol: "BTCUSDT", OrderID: eng.entryOrderID, Side: binance.SideBuy,
		Status: binance.StatusFilled, TradeID: 99, LastFilledQty: 0.01,
		CumFilledQty: 0.01, AvgPrice: 50000,
	}
	eng.handleStream(ctx, fill)

	assert.Equal(t, StatePositionActive, eng.State())
	require.NotNil(t, eng.pos)
	assert.True(t, eng.pos.Protected())
	assert.ElementsMatch(t,
		[]string{binance.OrderTypeLimit, binance.OrderTypeStopMarket, binance.OrderTypeTakeProfitMarket},
		venue.placedTypes())
	assert.Len(t, fills.events, 1, "the fill must reach the fill log")
}

// A close decision while flat is overridden to do-nothing and logged.
func TestIdleCloseDecisionIsOverridden(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{}
	orc := &fakeOracle{res: &oracle.Result{
		TraceID:        "t-2",
		Decision:       oracle.Decision{Action: oracle.ActionClose},
		ProposedAction: oracle.ActionClose,
	}}
	eng, _ := newTestEngine(venue, orc)
	eng.AdoptPosition(nil)

	eng.runDecisionCycle(ctx, false)

	assert.Equal(t, StateIdle, eng.State())
	assert.Empty(t, venue.placed)
	require.Len(t, orc.recorded, 1)
	assert.Equal(t, oracle.ActionNone, orc.recorded[0].ExecutedAction)
	assert.NotEmpty(t, orc.recorded[0].OverrideReason)
}

// A margin call downgrades protection state and queues an emergency cycle.
func TestMarginCallTriggersEmergencyCycle(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{positionRows: longPositionRow()}
	eng, _ := newTestEngine(venue, &fakeOracle{})

	eng.pos = &position.Position{
		Symbol: "BTCUSDT", Side: position.Long, Quantity: 0.01, EntryPrice: 50000,
		StopOrderID: 5, TakeProfitOrderID: 6,
	}
	eng.state = StatePositionActive

	eng.handleStream(ctx, stream.MarginCall{Symbols: []string{"BTCUSDT"}})

	assert.Equal(t, StatePositionUnprotected, eng.State())
	select {
	case tk := <-eng.ticks:
		assert.Equal(t, tickEmergency, tk)
	default:
		t.Fatal("expected an emergency tick to be queued")
	}
}

// A pending entry older than the timeout is cancelled by the sweep.
func TestOrderTimeoutSweepCancelsEntry(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{}
	eng, _ := newTestEngine(venue, &fakeOracle{})

	eng.state = StateOrderPending
	eng.entryOrderID = 42
	eng.entryPlacedAt = time.Now().Add(-2 * time.Minute)

	eng.sweepPendingOrder(ctx)

	assert.Equal(t, StateIdle, eng.State())
	assert.Contains(t, venue.cancelled, int64(42))
	assert.Zero(t, eng.entryOrderID, "IDLE entry must clear trade tracking")
}

func TestOrderTimeoutSweepLeavesFreshOrders(t *testing.T) {
	venue := &fakeVenue{}
	eng, _ := newTestEngine(venue, &fakeOracle{})

	eng.state = StateOrderPending
	eng.entryOrderID = 42
	eng.entryPlacedAt = time.Now()

	eng.sweepPendingOrder(context.Background())
	assert.Equal(t, StateOrderPending, eng.State())
	assert.Empty(t, venue.cancelled)
}

// Failed protective placement tears down the survivor and force-flattens.
func TestProtectivePlacementFailureForcesClose(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{
		failTypes:    map[string]error{binance.OrderTypeTakeProfitMarket: errors.New("rejected")},
		positionRows: longPositionRow(),
	}
	orc := &fakeOracle{res: openResult()}
	eng, _ := newTestEngine(venue, orc)
	eng.AdoptPosition(nil)

	eng.runDecisionCycle(ctx, false)
	require.Equal(t, StateOrderPending, eng.State())

	eng.handleStream(ctx, stream.OrderUpdate{
		Symbol: "BTCUSDT", OrderID: eng.entryOrderID, Side: binance.SideBuy,
		Status: binance.StatusFilled, TradeID: 100, LastFilledQty: 0.01,
		CumFilledQty: 0.01, AvgPrice: 50000,
	})

	assert.Equal(t, StateIdle, eng.State(), "forced close must reconcile back to IDLE")
	types := venue.placedTypes()
	assert.Contains(t, types, binance.OrderTypeMarket, "position must be market-flattened")
	assert.NotContains(t, types, binance.OrderTypeTakeProfitMarket)
}

// A protective fill means the position closed; remaining orders are cancelled
// and the machine reconciles to IDLE.
func TestProtectiveFillClosesPosition(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{}
	eng, _ := newTestEngine(venue, &fakeOracle{})

	eng.pos = &position.Position{
		Symbol: "BTCUSDT", Side: position.Long, Quantity: 0.01,
		StopOrderID: 5, TakeProfitOrderID: 6,
	}
	eng.state = StatePositionActive
	venue.openOrders = []binance.Order{{OrderID: 5, Symbol: "BTCUSDT"}}

	eng.handleStream(ctx, stream.OrderUpdate{
		Symbol: "BTCUSDT", OrderID: 6, Status: binance.StatusFilled,
		TradeID: 101, LastFilledQty: 0.01, RealizedPnL: 20,
	})

	assert.Equal(t, StateIdle, eng.State())
	assert.Nil(t, eng.pos)
	assert.Contains(t, venue.cancelled, int64(5))
}

// An oracle failure is recoverable: the machine returns to the state its
// actual position warrants.
func TestDecisionFailureReturnsToSafeState(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(&fakeVenue{}, &fakeOracle{err: errors.New("oracle down")})
	eng.AdoptPosition(nil)

	eng.runDecisionCycle(ctx, false)
	assert.Equal(t, StateIdle, eng.State())

	eng.pos = &position.Position{Symbol: "BTCUSDT", Side: position.Long, Quantity: 0.01,
		StopOrderID: 1, TakeProfitOrderID: 2}
	eng.state = StatePositionActive
	eng.runDecisionCycle(ctx, false)
	assert.Equal(t, StatePositionActive, eng.State())
}

// Entry rejected by validation aborts to IDLE without touching the venue.
func TestInvalidOpenAbortsToIdle(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{}
	res := openResult()
	res.Decision.StopLossPrice = 51000 // stop above entry on a long
	orc := &fakeOracle{res: res}
	eng, _ := newTestEngine(venue, orc)
	eng.AdoptPosition(nil)

	eng.runDecisionCycle(ctx, false)

	assert.Equal(t, StateIdle, eng.State())
	assert.Empty(t, venue.placed)
	require.Len(t, orc.recorded, 1)
	assert.Equal(t, oracle.ActionNone, orc.recorded[0].ExecutedAction)
	assert.Contains(t, orc.recorded[0].OverrideReason, "open rejected")
}

// Unprotected position: anything but close is forced to close.
func TestUnprotectedForcesClose(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{positionRows: longPositionRow()}
	orc := &fakeOracle{res: &oracle.Result{
		TraceID:        "t-3",
		Decision:       oracle.Decision{Action: oracle.ActionHold},
		ProposedAction: oracle.ActionHold,
	}}
	eng, _ := newTestEngine(venue, orc)

	eng.pos = &position.Position{Symbol: "BTCUSDT", Side: position.Long, Quantity: 0.01}
	eng.state = StatePositionUnprotected

	eng.runDecisionCycle(ctx, false)

	assert.Equal(t, StateIdle, eng.State(), "forced close reconciles to IDLE once flat")
	require.Len(t, orc.recorded, 1)
	assert.Equal(t, oracle.ActionClose, orc.recorded[0].ExecutedAction)
	assert.Contains(t, venue.placedTypes(), binance.OrderTypeMarket)
}

// External flat observation while holding reconciles to IDLE.
func TestExternalFlatReconciles(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{}
	eng, _ := newTestEngine(venue, &fakeOracle{})

	eng.pos = &position.Position{Symbol: "BTCUSDT", Side: position.Long, Quantity: 0.01,
		StopOrderID: 1, TakeProfitOrderID: 2}
	eng.state = StatePositionActive

	eng.handleStream(ctx, stream.AccountUpdate{
		Reason:    "ORDER",
		Positions: []stream.PositionUpdate{{Symbol: "BTCUSDT", PositionAmt: 0}},
	})

	assert.Equal(t, StateIdle, eng.State())
	assert.Nil(t, eng.pos)
}

// A position materializing while IDLE (fill racing a cancel, or opened
// externally) is adopted as unprotected and decided on immediately; the
// machine never idles with a live position.
func TestPositionAppearingWhileIdleIsAdopted(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(&fakeVenue{}, &fakeOracle{})
	eng.AdoptPosition(nil)
	require.Equal(t, StateIdle, eng.State())

	eng.handleStream(ctx, stream.AccountUpdate{
		Reason: "ORDER",
		Positions: []stream.PositionUpdate{
			{Symbol: "BTCUSDT", PositionAmt: 0.01, EntryPrice: 50000},
		},
	})

	assert.Equal(t, StatePositionUnprotected, eng.State())
	require.NotNil(t, eng.pos)
	assert.Equal(t, 0.01, eng.pos.Quantity)
	select {
	case tk := <-eng.ticks:
		assert.Equal(t, tickEmergency, tk)
	default:
		t.Fatal("expected an emergency tick to be queued")
	}
}

// Profit target met on candle close starts the closing sequence.
func TestProfitTargetClosesPosition(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{positionRows: longPositionRow()}
	eng, _ := newTestEngine(venue, &fakeOracle{})
	eng.cfg.ProfitTargetUSD = 50

	eng.pos = &position.Position{Symbol: "BTCUSDT", Side: position.Long, Quantity: 0.01,
		UnrealizedPnL: 60, StopOrderID: 1, TakeProfitOrderID: 2}
	eng.state = StatePositionActive

	eng.handleStream(ctx, stream.CandleClosed{Symbol: "BTCUSDT", Interval: "15m", ClosePrice: 56000})

	assert.Equal(t, StateIdle, eng.State())
	assert.Contains(t, venue.placedTypes(), binance.OrderTypeMarket)
}

// The profit-target timer closes independently of candle traffic.
func TestProfitTargetTickClosesPosition(t *testing.T) {
	ctx := context.Background()
	venue := &fakeVenue{positionRows: longPositionRow()}
	eng, _ := newTestEngine(venue, &fakeOracle{})
	eng.cfg.ProfitTargetUSD = 50

	eng.pos = &position.Position{Symbol: "BTCUSDT", Side: position.Long, Quantity: 0.01,
		UnrealizedPnL: 60, StopOrderID: 1, TakeProfitOrderID: 2}
	eng.state = StatePositionActive

	eng.handleTick(ctx, tickProfit)

	assert.Equal(t, StateIdle, eng.State())
	assert.Contains(t, venue.placedTypes(), binance.OrderTypeMarket)
}

// A stream disconnect is a full stop, never a silent retry.
func TestStreamDisconnectIsFatal(t *testing.T) {
	eng, _ := newTestEngine(&fakeVenue{}, &fakeOracle{})
	eng.AdoptPosition(nil)

	eng.handleStream(context.Background(), stream.Disconnected{Err: errors.New("eof")})

	assert.Equal(t, StateError, eng.State())
	assert.Error(t, eng.fatalErr)
}
