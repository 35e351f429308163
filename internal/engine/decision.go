package engine

import (
	"context"
	"fmt"

	"marlin/internal/logger"
	"marlin/internal/oracle"
)

// runDecisionCycle is the EVALUATING path: ask the oracle, apply the safety
// overrides, execute. Every failure in here is recoverable — the machine
// falls back to the state its actual position warrants.
func (e *Engine) runDecisionCycle(ctx context.Context, emergency bool) {
	if !e.state.canEvaluate() {
		logger.Debugf("engine[%s]: decision trigger ignored in %s", e.cfg.Symbol, e.state)
		return
	}
	trigger := "scheduled"
	if emergency {
		trigger = "emergency"
	}
	e.evaluatingFrom = e.state
	e.transition(StateEvaluating, trigger+" decision trigger")

	res, err := e.oracle.Decide(ctx, oracle.ContextInput{
		State:      string(e.state),
		Position:   e.pos,
		LastResult: e.lastResult,
	})
	if err != nil {
		logger.Errorf("engine[%s]: decision cycle failed: %v", e.cfg.Symbol, err)
		e.settle(ctx, "decision cycle failed")
		return
	}

	executed, overrideReason := e.applyOverrides(res.ProposedAction)
	res.ExecutedAction = executed
	res.OverrideReason = overrideReason
	if overrideReason != "" {
		logger.Warnf("engine[%s]: override: proposed=%s executed=%s (%s)",
			e.cfg.Symbol, res.ProposedAction, executed, overrideReason)
	}

	switch executed {
	case oracle.ActionOpen:
		e.executeOpen(ctx, res)
	case oracle.ActionClose:
		e.beginClose(ctx, "oracle close decision")
	default:
		e.settle(ctx, string(executed))
	}

	e.oracle.RecordOutcome(ctx, res)
	e.lastResult = res
}

// applyOverrides coerces the proposed action against reality. Order matters:
// the no-position rule first, then the already-positioned rule, then the
// unprotected rule, which beats everything.
func (e *Engine) applyOverrides(proposed oracle.Action) (oracle.Action, string) {
	executed := proposed
	reason := ""
	if e.pos == nil && proposed != oracle.ActionOpen {
		executed, reason = oracle.ActionNone, fmt.Sprintf("no position, %s has nothing to act on", proposed)
	}
	if e.pos != nil && proposed == oracle.ActionOpen {
		executed, reason = oracle.ActionHold, "position already open, open coerced to hold"
	}
	if e.pos != nil && !e.pos.Protected() && executed != oracle.ActionClose {
		// POSITION_UNPROTECTED entered EVALUATING: only closing is safe.
		if e.unprotectedMustClose() {
			executed, reason = oracle.ActionClose, fmt.Sprintf("position unprotected, %s forced to close", proposed)
		}
	}
	return executed, reason
}

// unprotectedMustClose applies only when the cycle started from the
// unprotected state, not when protection is merely pending placement.
func (e *Engine) unprotectedMustClose() bool {
	return e.evaluatingFrom == StatePositionUnprotected
}

// settle returns from EVALUATING to the state the actual position warrants.
func (e *Engine) settle(ctx context.Context, why string) {
	switch {
	case e.pos == nil:
		e.transition(StateIdle, why)
	case e.pos.Protected():
		e.transition(StatePositionActive, why)
	default:
		e.transition(StatePositionUnprotected, why)
		e.rearmProtection(ctx)
	}
}

// executeOpen validates the proposal, formats it to instrument precision and
// places the limit entry. Any validation failure aborts to IDLE.
func (e *Engine) executeOpen(ctx context.Context, res *oracle.Result) {
	d := res.Decision
	if err := oracle.ValidateOpen(d, e.cfg); err != nil {
		res.ExecutedAction = oracle.ActionNone
		res.OverrideReason = "open rejected: " + err.Error()
		logger.Errorf("engine[%s]: %s", e.cfg.Symbol, res.OverrideReason)
		e.transition(StateIdle, "open decision failed validation")
		return
	}
	qty := oracle.ResolveQuantity(d, e.cfg)
	if qty <= 0 {
		res.ExecutedAction = oracle.ActionNone
		res.OverrideReason = fmt.Sprintf("open rejected: resolved quantity %v", qty)
		e.transition(StateIdle, "resolved quantity not positive")
		return
	}
	if err := e.placeEntry(ctx, d, qty); err != nil {
		res.ExecutedAction = oracle.ActionNone
		res.OverrideReason = "entry placement failed: " + err.Error()
		logger.Errorf("engine[%s]: entry placement failed: %v", e.cfg.Symbol, err)
		e.transition(StateIdle, "entry placement failed")
		return
	}
	e.transition(StateOrderPending, "entry order placed")
}
