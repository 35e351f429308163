// Package engine is the orchestrator: one goroutine owns the bot state and
// consumes every input — stream frames, timers, the stop signal — in a single
// select loop, so no transition is ever observed half-applied.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"marlin/internal/config"
	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/stream"
	"marlin/internal/logger"
	"marlin/internal/oracle"
	"marlin/internal/position"
	"marlin/internal/scheduler"
	"marlin/internal/store"
)

// Venue is the slice of the signed REST client the engine drives.
type Venue interface {
	PlaceOrder(ctx context.Context, req binance.PlaceOrderRequest) (*binance.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]binance.Order, error)
	GetPositionRisk(ctx context.Context, symbol string) ([]binance.PositionRisk, error)
	CloseListenKey(ctx context.Context) error
}

// Oracle runs decision cycles; the engine is its only caller.
type Oracle interface {
	Decide(ctx context.Context, in oracle.ContextInput) (*oracle.Result, error)
	RecordOutcome(ctx context.Context, res *oracle.Result)
}

type Streamer interface {
	Events() <-chan stream.Event
	Close() error
}

type FillRecorder interface {
	Record(ctx context.Context, evt stream.OrderUpdate)
}

// tick is a timer firing, delivered to the loop so the timer goroutines never
// touch engine state themselves.
type tick int

const (
	tickDecision tick = iota
	tickEmergency
	tickSweep
	tickProfit
	tickHeartbeat
)

const sweepEvery = 10 * time.Second

type Engine struct {
	cfg      *config.BotConfig
	venue    Venue
	oracle   Oracle
	streamer Streamer
	fills    FillRecorder
	fmtr     *position.Formatter
	sched    *scheduler.Scheduler
	store    store.Store

	// Loop-owned. Nothing below is touched off the loop goroutine.
	state          State
	evaluatingFrom State
	pos            *position.Position
	entryOrderID   int64
	entryPlacedAt  time.Time
	openDecision   *oracle.Decision
	lastResult     *oracle.Result
	lastPrice      float64
	fatalErr       error

	ticks    chan tick
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg *config.BotConfig, v Venue, o Oracle, s Streamer, fills FillRecorder,
	fmtr *position.Formatter, sched *scheduler.Scheduler, st store.Store) *Engine {
	return &Engine{
		cfg:      cfg,
		venue:    v,
		oracle:   o,
		streamer: s,
		fills:    fills,
		fmtr:     fmtr,
		sched:    sched,
		store:    st,
		state:    StateInitializing,
		ticks:    make(chan tick, 8),
		stopCh:   make(chan struct{}),
	}
}

// AdoptPosition seeds the engine with a position discovered at startup.
// Called before Run; the engine enters the loop unprotected and re-arms.
func (e *Engine) AdoptPosition(p *position.Position) {
	e.pos = p
	if p != nil {
		e.transition(StatePositionUnprotected, "existing position found at startup")
	} else {
		e.transition(StateIdle, "no existing position")
	}
}

// State is read by tests and the heartbeat only; the loop is the sole writer.
func (e *Engine) State() State { return e.state }

// Stop requests a graceful shutdown; safe to call from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Run drives the loop until shutdown or a fatal error. The returned error is
// non-nil exactly when the run ended in ERROR.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.fatalErr = fmt.Errorf("engine panic: %v", r)
			e.transition(StateError, "panic in event loop")
			err = e.fatalErr
		}
	}()

	e.sched.Every(ctx, "decision", e.cfg.DecisionEvery, func() { e.push(tickDecision) })
	e.sched.Every(ctx, "order-timeout", sweepEvery, func() { e.push(tickSweep) })
	e.sched.Every(ctx, "profit-target", sweepEvery, func() { e.push(tickProfit) })
	e.sched.Every(ctx, "heartbeat", e.cfg.HeartbeatEvery, func() { e.push(tickHeartbeat) })

	e.heartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-e.stopCh:
			e.shutdown()
			return nil
		case evt, ok := <-e.streamer.Events():
			if !ok {
				e.fail(fmt.Errorf("stream channel closed"))
			} else {
				e.handleStream(ctx, evt)
			}
		case t := <-e.ticks:
			e.handleTick(ctx, t)
		}
		if e.state == StateError {
			e.shutdown()
			if e.fatalErr == nil {
				e.fatalErr = fmt.Errorf("engine entered %s", StateError)
			}
			return e.fatalErr
		}
	}
}

// push hands a timer firing to the loop; a full channel means one of the same
// kind is already queued, so the tick can be dropped.
func (e *Engine) push(t tick) {
	select {
	case e.ticks <- t:
	default:
	}
}

// transition is the single mutation point for state. No-op when old==new;
// entering IDLE clears every trade-tracking field.
func (e *Engine) transition(to State, reason string) {
	if e.state == to {
		return
	}
	from := e.state
	e.state = to
	logger.Infof("engine[%s]: %s -> %s (%s) pos=%v entry=%d",
		e.cfg.Symbol, from, to, reason, e.pos != nil, e.entryOrderID)
	if to == StateIdle {
		e.pos = nil
		e.entryOrderID = 0
		e.entryPlacedAt = time.Time{}
		e.openDecision = nil
	}
}

func (e *Engine) fail(cause error) {
	e.fatalErr = cause
	logger.Errorf("engine[%s]: unrecoverable: %v", e.cfg.Symbol, cause)
	e.transition(StateError, cause.Error())
}

func (e *Engine) handleTick(ctx context.Context, t tick) {
	switch t {
	case tickDecision:
		e.runDecisionCycle(ctx, false)
	case tickEmergency:
		e.runDecisionCycle(ctx, true)
	case tickSweep:
		e.sweepPendingOrder(ctx)
	case tickProfit:
		e.checkProfitTarget(ctx)
	case tickHeartbeat:
		e.heartbeat(ctx)
	}
}

func (e *Engine) handleStream(ctx context.Context, evt stream.Event) {
	switch ev := evt.(type) {
	case stream.Disconnected:
		e.fail(fmt.Errorf("stream disconnected: %w", ev.Err))
	case stream.CandleClosed:
		e.lastPrice = ev.ClosePrice
		if e.pos != nil {
			e.pos.MarkPrice = ev.ClosePrice
		}
		e.checkProfitTarget(ctx)
	case stream.AccountUpdate:
		e.applyAccountUpdate(ctx, ev)
	case stream.OrderUpdate:
		e.fills.Record(ctx, ev)
		e.applyOrderUpdate(ctx, ev)
	case stream.MarginCall:
		e.onMarginCall(ctx, ev)
	}
}

func (e *Engine) applyAccountUpdate(ctx context.Context, ev stream.AccountUpdate) {
	for _, row := range ev.Positions {
		if row.Symbol != e.cfg.Symbol {
			continue
		}
		next := position.FromStreamUpdate(row, e.pos)
		if next == nil && e.pos != nil {
			// Flat observed externally: something closed us. Reconcile.
			logger.Warnf("engine[%s]: position gone per account update (reason=%s)", e.cfg.Symbol, ev.Reason)
			e.pos = nil
			if e.state == StatePositionActive || e.state == StatePositionUnprotected || e.state == StateClosing {
				e.transition(StateClosing, "position flat on account update")
				e.reconcileClose(ctx, "position flat on account update")
			}
			return
		}
		e.pos = next
		if next != nil && e.state == StateIdle {
			// A position while idle means a fill beat a cancel (or something
			// external opened it). Adopt it unprotected, decide immediately.
			logger.Warnf("engine[%s]: position appeared while idle (reason=%s qty=%.8f)",
				e.cfg.Symbol, ev.Reason, next.Quantity)
			e.transition(StatePositionUnprotected, "position appeared while idle")
			e.push(tickEmergency)
		}
	}
}

func (e *Engine) onMarginCall(ctx context.Context, ev stream.MarginCall) {
	hit := len(ev.Symbols) == 0
	for _, s := range ev.Symbols {
		if s == e.cfg.Symbol {
			hit = true
		}
	}
	if !hit || e.pos == nil {
		return
	}
	logger.Errorf("engine[%s]: MARGIN CALL received", e.cfg.Symbol)
	if e.state == StatePositionActive {
		e.transition(StatePositionUnprotected, "margin call")
	}
	e.push(tickEmergency)
}

// checkProfitTarget closes the position once unrealized profit crosses the
// configured target. Evaluated on candle close and on the profit-target tick,
// not every book tick.
func (e *Engine) checkProfitTarget(ctx context.Context) {
	if e.cfg.ProfitTargetUSD <= 0 || e.pos == nil {
		return
	}
	if e.state != StatePositionActive && e.state != StatePositionUnprotected {
		return
	}
	if e.pos.UnrealizedPnL >= e.cfg.ProfitTargetUSD {
		logger.Infof("engine[%s]: profit target met (upnl=%.4f >= %.4f)",
			e.cfg.Symbol, e.pos.UnrealizedPnL, e.cfg.ProfitTargetUSD)
		e.beginClose(ctx, "profit target met")
	}
}

func (e *Engine) heartbeat(ctx context.Context) {
	msg := ""
	if e.fatalErr != nil {
		msg = e.fatalErr.Error()
	}
	if _, err := e.store.UpdateHeartbeat(ctx, e.cfg.ID, string(e.state), os.Getpid(), msg); err != nil {
		logger.Warnf("engine[%s]: heartbeat update failed: %v", e.cfg.Symbol, err)
	}
}

// shutdown is the explicit stop sequence. Each step is best-effort; a failed
// step is logged and the next one still runs.
func (e *Engine) shutdown() {
	if e.state != StateError {
		e.transition(StateShutdown, "stop signal")
	}
	e.sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.venue.CloseListenKey(ctx); err != nil {
		logger.Warnf("engine[%s]: closing listen key: %v", e.cfg.Symbol, err)
	}
	if err := e.streamer.Close(); err != nil {
		logger.Warnf("engine[%s]: closing stream: %v", e.cfg.Symbol, err)
	}
	e.heartbeat(ctx)
	logger.Infof("engine[%s]: stopped (state=%s)", e.cfg.Symbol, e.state)
}
