package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/stream"
	"marlin/internal/logger"
	"marlin/internal/oracle"
	"marlin/internal/position"
)

func (e *Engine) placeEntry(ctx context.Context, d oracle.Decision, qty float64) error {
	order, err := e.venue.PlaceOrder(ctx, binance.PlaceOrderRequest{
		Symbol:        e.cfg.Symbol,
		Side:          position.Side(d.Side).EntrySide(),
		Type:          binance.OrderTypeLimit,
		Quantity:      e.fmtr.FormatQuantity(qty),
		Price:         e.fmtr.FormatPrice(d.EntryPrice),
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return err
	}
	e.entryOrderID = order.OrderID
	e.entryPlacedAt = time.Now()
	dcopy := d
	e.openDecision = &dcopy
	logger.Infof("engine[%s]: entry %s placed id=%d price=%s qty=%s",
		e.cfg.Symbol, d.Side, order.OrderID, e.fmtr.FormatPrice(d.EntryPrice), e.fmtr.FormatQuantity(qty))
	return nil
}

// applyOrderUpdate drives state from terminal order-status changes. The fill
// log has already been written unconditionally by the caller.
func (e *Engine) applyOrderUpdate(ctx context.Context, ev stream.OrderUpdate) {
	if ev.Symbol != e.cfg.Symbol {
		return
	}
	if e.entryOrderID != 0 && ev.OrderID == e.entryOrderID {
		switch ev.Status {
		case binance.StatusFilled:
			e.onEntryFilled(ctx, ev)
		case binance.StatusCanceled, binance.StatusExpired, binance.StatusRejected:
			logger.Warnf("engine[%s]: entry order %d terminal without fill: %s", e.cfg.Symbol, ev.OrderID, ev.Status)
			e.transition(StateIdle, "entry order "+ev.Status)
		}
		return
	}
	if e.pos != nil && ev.Status == binance.StatusFilled &&
		(ev.OrderID == e.pos.StopOrderID || ev.OrderID == e.pos.TakeProfitOrderID) {
		which := "stop loss"
		if ev.OrderID == e.pos.TakeProfitOrderID {
			which = "take profit"
		}
		logger.Infof("engine[%s]: %s filled, position closed (pnl=%.4f)", e.cfg.Symbol, which, ev.RealizedPnL)
		e.transition(StateClosing, which+" filled")
		e.pos.StopOrderID, e.pos.TakeProfitOrderID = 0, 0
		e.reconcileClose(ctx, which+" filled")
	}
}

func (e *Engine) onEntryFilled(ctx context.Context, ev stream.OrderUpdate) {
	e.transition(StatePositionUnprotected, "entry order filled")
	e.entryOrderID = 0
	e.entryPlacedAt = time.Time{}

	rows, err := e.venue.GetPositionRisk(ctx, e.cfg.Symbol)
	if err == nil {
		e.pos = position.FromPositionRisk(rows, e.cfg.Symbol)
	}
	if e.pos == nil {
		// REST probe failed or lagged behind the fill; build from the fill.
		side := position.Long
		if ev.Side == binance.SideSell {
			side = position.Short
		}
		e.pos = &position.Position{
			Symbol:     e.cfg.Symbol,
			Side:       side,
			Quantity:   ev.CumFilledQty,
			EntryPrice: ev.AvgPrice,
			Leverage:   e.cfg.Leverage,
		}
	}
	e.placeProtectiveOrders(ctx)
}

// placeProtectiveOrders arms the stop/take-profit pair concurrently. If
// either leg fails, the surviving leg is torn down and the position is
// force-flattened: an unprotected position must not linger.
func (e *Engine) placeProtectiveOrders(ctx context.Context) {
	if e.pos == nil {
		return
	}
	d := e.openDecision
	if d == nil {
		logger.Warnf("engine[%s]: no protective prices on hand, position stays unprotected", e.cfg.Symbol)
		return
	}
	exitSide := e.pos.Side.ExitSide()
	var stopID, tpID int64

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		order, err := e.venue.PlaceOrder(gctx, binance.PlaceOrderRequest{
			Symbol:        e.cfg.Symbol,
			Side:          exitSide,
			Type:          binance.OrderTypeStopMarket,
			StopPrice:     e.fmtr.FormatPrice(d.StopLossPrice),
			ClosePosition: true,
		})
		if err != nil {
			return fmt.Errorf("stop loss: %w", err)
		}
		stopID = order.OrderID
		return nil
	})
	grp.Go(func() error {
		order, err := e.venue.PlaceOrder(gctx, binance.PlaceOrderRequest{
			Symbol:        e.cfg.Symbol,
			Side:          exitSide,
			Type:          binance.OrderTypeTakeProfitMarket,
			StopPrice:     e.fmtr.FormatPrice(d.TakeProfitPrice),
			ClosePosition: true,
		})
		if err != nil {
			return fmt.Errorf("take profit: %w", err)
		}
		tpID = order.OrderID
		return nil
	})

	if err := grp.Wait(); err != nil {
		logger.Errorf("engine[%s]: protective order placement failed: %v", e.cfg.Symbol, err)
		for _, id := range []int64{stopID, tpID} {
			if id != 0 {
				if cerr := e.venue.CancelOrder(ctx, e.cfg.Symbol, id); cerr != nil {
					logger.Warnf("engine[%s]: tearing down protective order %d: %v", e.cfg.Symbol, id, cerr)
				}
			}
		}
		e.beginClose(ctx, "protective order placement failed")
		return
	}

	e.pos.StopOrderID = stopID
	e.pos.TakeProfitOrderID = tpID
	logger.Infof("engine[%s]: protection armed stop=%d tp=%d", e.cfg.Symbol, stopID, tpID)
	e.transition(StatePositionActive, "protective orders confirmed")
}

// rearmProtection retries the protective pair for a position that lost or
// never had it, when the original open prices are still known.
func (e *Engine) rearmProtection(ctx context.Context) {
	if e.pos != nil && !e.pos.Protected() && e.openDecision != nil {
		e.placeProtectiveOrders(ctx)
	}
}

// beginClose is the forced-flatten path: cancel everything open for the
// symbol, market-close any remaining quantity, then reconcile to IDLE.
func (e *Engine) beginClose(ctx context.Context, reason string) {
	e.transition(StateClosing, reason)

	if e.entryOrderID != 0 {
		if err := e.venue.CancelOrder(ctx, e.cfg.Symbol, e.entryOrderID); err != nil {
			logger.Warnf("engine[%s]: cancelling entry %d: %v", e.cfg.Symbol, e.entryOrderID, err)
		}
		e.entryOrderID = 0
	}
	e.cancelOpenOrders(ctx)

	if e.pos != nil && e.pos.Quantity > 0 {
		_, err := e.venue.PlaceOrder(ctx, binance.PlaceOrderRequest{
			Symbol:     e.cfg.Symbol,
			Side:       e.pos.Side.ExitSide(),
			Type:       binance.OrderTypeMarket,
			Quantity:   e.fmtr.FormatQuantity(e.pos.Quantity),
			ReduceOnly: true,
		})
		if err != nil {
			e.fail(fmt.Errorf("flattening position: %w", err))
			return
		}
	}
	e.reconcileClose(ctx, reason)
}

// reconcileClose confirms the position is flat before releasing to IDLE. If
// the venue still reports quantity the machine stays in CLOSING; the next
// account update retries.
func (e *Engine) reconcileClose(ctx context.Context, reason string) {
	e.cancelOpenOrders(ctx)
	rows, err := e.venue.GetPositionRisk(ctx, e.cfg.Symbol)
	if err != nil {
		logger.Warnf("engine[%s]: close reconciliation probe failed: %v", e.cfg.Symbol, err)
		return
	}
	if remaining := position.FromPositionRisk(rows, e.cfg.Symbol); remaining != nil {
		logger.Warnf("engine[%s]: still %.8f after close, staying in %s", e.cfg.Symbol, remaining.Quantity, e.state)
		e.pos = remaining
		return
	}
	e.pos = nil
	e.transition(StateIdle, "position confirmed flat: "+reason)
}

func (e *Engine) cancelOpenOrders(ctx context.Context) {
	orders, err := e.venue.GetOpenOrders(ctx, e.cfg.Symbol)
	if err != nil {
		logger.Warnf("engine[%s]: listing open orders: %v", e.cfg.Symbol, err)
		return
	}
	for _, o := range orders {
		if err := e.venue.CancelOrder(ctx, e.cfg.Symbol, o.OrderID); err != nil {
			logger.Warnf("engine[%s]: cancelling order %d: %v", e.cfg.Symbol, o.OrderID, err)
		}
	}
}

// sweepPendingOrder cancels an entry that outlived its timeout. Runs on the
// sweep tick, not a per-order timer.
func (e *Engine) sweepPendingOrder(ctx context.Context) {
	if e.state != StateOrderPending || e.entryOrderID == 0 {
		return
	}
	if time.Since(e.entryPlacedAt) < e.cfg.OrderTimeout {
		return
	}
	logger.Warnf("engine[%s]: entry %d exceeded timeout %s, cancelling",
		e.cfg.Symbol, e.entryOrderID, e.cfg.OrderTimeout)
	if err := e.venue.CancelOrder(ctx, e.cfg.Symbol, e.entryOrderID); err != nil {
		logger.Errorf("engine[%s]: timeout cancel failed: %v", e.cfg.Symbol, err)
		return
	}
	e.transition(StateIdle, "entry order timed out")
}
