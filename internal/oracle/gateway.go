package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marlin/internal/config"
	"marlin/internal/gateway/binance"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/pkg/circuit"
	"marlin/internal/pkg/convert"
	"marlin/internal/store"
)

const (
	historyBars     = 120
	recentTradesMax = 10
)

// venue is the slice of the signed REST client the gateway needs for the
// account half of the context document.
type venue interface {
	GetBalances(ctx context.Context) ([]binance.Balance, error)
	GetUserTrades(ctx context.Context, symbol string, limit int) ([]binance.UserTrade, error)
	GetCommissionRate(ctx context.Context, symbol string) (binance.CommissionRate, error)
}

type history interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

type preambles interface {
	Resolve(symbol string) string
}

// Gateway runs one full decision cycle: collect context, render the prompt,
// call the model, parse and apply. It never touches engine state; the engine
// consumes the Result and decides what actually happens.
type Gateway struct {
	cfg      *config.BotConfig
	prec     binance.Precision
	venue    venue
	history  history
	profiles preambles
	store    store.Store
	client   Completer
	breaker  *circuit.Breaker
}

func NewGateway(cfg *config.BotConfig, prec binance.Precision, v venue, h history,
	p preambles, st store.Store, client Completer, breaker *circuit.Breaker) *Gateway {
	return &Gateway{
		cfg:      cfg,
		prec:     prec,
		venue:    v,
		history:  h,
		profiles: p,
		store:    st,
		client:   client,
		breaker:  breaker,
	}
}

// Decide runs one cycle. Any error is recoverable from the engine's point of
// view: it logs, records the failed interaction, and stays put.
func (g *Gateway) Decide(ctx context.Context, in ContextInput) (*Result, error) {
	traceID := uuid.NewString()
	variant := variantFor(g.cfg)

	if !g.breaker.Allow() {
		err := fmt.Errorf("oracle circuit breaker is open (state=%s)", g.breaker.State())
		g.recordFailure(ctx, traceID, variant, err, "")
		return nil, err
	}

	doc, err := g.collect(ctx, in)
	if err != nil {
		g.recordFailure(ctx, traceID, variant, err, "")
		return nil, fmt.Errorf("collecting oracle context: %w", err)
	}

	system := g.profiles.Resolve(g.cfg.Symbol) + "\n" + instructions(g.cfg)
	user := renderContext(doc, g.cfg, g.prec)
	logger.LogOracleRequest(variant, system+"\n\n"+user)

	raw, err := g.client.Complete(ctx, system, user)
	if err != nil {
		g.breaker.RecordFailure()
		g.recordFailure(ctx, traceID, variant, err, "")
		return nil, fmt.Errorf("oracle call: %w", err)
	}
	g.breaker.RecordSuccess()
	logger.LogOracleResponse(variant, raw)

	decision, err := ParseResponse(raw)
	if err != nil {
		g.recordFailure(ctx, traceID, variant, err, raw)
		return nil, fmt.Errorf("oracle response: %w", err)
	}

	g.applyStrategyUpdate(ctx, decision, doc.Directives, traceID)

	res := &Result{
		TraceID:        traceID,
		Variant:        variant,
		Decision:       decision,
		ProposedAction: decision.Action,
		RawResponse:    raw,
		DecidedAt:      time.Now(),
	}
	logger.Infof("oracle: trace=%s variant=%s proposed=%s confidence=%.2f",
		traceID, variant, decision.Action, decision.Confidence)
	return res, nil
}

// RecordOutcome persists the finished interaction once the engine has settled
// on the executed action.
func (g *Gateway) RecordOutcome(ctx context.Context, res *Result) {
	snapshot, _ := json.Marshal(map[string]any{
		"proposed": res.ProposedAction,
		"executed": res.ExecutedAction,
		"decision": res.Decision,
	})
	if _, err := g.store.AppendAIInteraction(ctx, store.AIInteractionEntry{
		BotConfigID:    g.cfg.ID,
		TraceID:        res.TraceID,
		PromptVariant:  res.Variant,
		ProposedAction: string(res.ProposedAction),
		ExecutedAction: string(res.ExecutedAction),
		OverrideReason: res.OverrideReason,
		Success:        true,
		RawResponse:    res.RawResponse,
		Snapshot:       snapshot,
	}); err != nil {
		logger.Errorf("oracle: recording interaction %s failed: %v", res.TraceID, err)
	}
}

func (g *Gateway) recordFailure(ctx context.Context, traceID, variant string, cause error, raw string) {
	if _, err := g.store.AppendAIInteraction(ctx, store.AIInteractionEntry{
		BotConfigID:   g.cfg.ID,
		TraceID:       traceID,
		PromptVariant: variant,
		Success:       false,
		ErrorMessage:  cause.Error(),
		RawResponse:   raw,
	}); err != nil {
		logger.Errorf("oracle: recording failed interaction %s: %v", traceID, err)
	}
}

// collect gathers the context document. Everything independent runs in
// parallel; one failed collector fails the cycle, a stale half-context is
// worse than no decision.
func (g *Gateway) collect(ctx context.Context, in ContextInput) (*contextDoc, error) {
	doc := &contextDoc{Input: in}
	series := make([]market.Series, len(g.cfg.Timeframes))

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		balances, err := g.venue.GetBalances(gctx)
		if err != nil {
			return err
		}
		for _, b := range balances {
			if b.Asset == g.cfg.MarginAsset {
				doc.Balance = convert.MustParseFloat(b.Balance)
				doc.Available = convert.MustParseFloat(b.AvailableBalance)
			}
		}
		return nil
	})
	grp.Go(func() error {
		trades, err := g.venue.GetUserTrades(gctx, g.cfg.Symbol, recentTradesMax)
		if err != nil {
			return err
		}
		for _, t := range trades {
			doc.Trades = append(doc.Trades, tradeLine{
				Time:    t.Time,
				Side:    t.Side,
				Price:   convert.MustParseFloat(t.Price),
				Qty:     convert.MustParseFloat(t.Qty),
				Pnl:     convert.MustParseFloat(t.RealizedPnl),
				OrderID: t.OrderID,
			})
		}
		return nil
	})
	grp.Go(func() error {
		rate, err := g.venue.GetCommissionRate(gctx, g.cfg.Symbol)
		if err != nil {
			return err
		}
		doc.Commission = commissionInfo{
			Maker: convert.MustParseFloat(rate.MakerCommissionRate),
			Taker: convert.MustParseFloat(rate.TakerCommissionRate),
		}
		return nil
	})
	grp.Go(func() error {
		d, err := g.store.LoadActiveStrategy(gctx, g.cfg.UserID)
		if err != nil {
			return err
		}
		doc.Directives = d
		return nil
	})
	for i, tf := range g.cfg.Timeframes {
		i, tf := i, tf
		grp.Go(func() error {
			candles, err := g.history.FetchHistory(gctx, g.cfg.Symbol, tf, historyBars)
			if err != nil {
				return err
			}
			series[i] = market.Series{Interval: tf, Candles: candles}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	doc.Series = series
	if len(series) > 0 {
		// 指标只算主时间框架（配置里的第一个）。
		if snap, err := market.Indicators(series[0]); err == nil {
			doc.Indicators = &snap
		} else {
			logger.Warnf("oracle: indicators skipped: %v", err)
		}
	}
	return doc, nil
}

// applyStrategyUpdate merges an accepted suggestion into the standing
// directives and persists them as a new active version. Suggestions are
// ignored entirely when the bot does not allow self-updates.
func (g *Gateway) applyStrategyUpdate(ctx context.Context, d Decision, current *store.Directives, traceID string) {
	if len(d.StrategyUpdate) == 0 {
		return
	}
	if !g.cfg.AllowSelfUpdate {
		logger.Warnf("oracle: strategy update proposed but self-update is disabled, ignoring (trace=%s)", traceID)
		return
	}
	upd, err := parseStrategyUpdate(d.StrategyUpdate)
	if err != nil || upd == nil {
		logger.Warnf("oracle: unusable strategy update (trace=%s): %v", traceID, err)
		return
	}

	next := store.Directives{}
	if current != nil {
		next = *current
	}
	if upd.RiskPerTradePct > 0 {
		next.RiskPerTradePct = upd.RiskPerTradePct
	}
	if upd.MaxLeverage > 0 {
		next.MaxLeverage = upd.MaxLeverage
	}
	if len(upd.PreferredTimeframes) > 0 {
		next.PreferredTimeframes = upd.PreferredTimeframes
	}
	if upd.ConfidenceThreshold > 0 {
		next.ConfidenceThreshold = upd.ConfidenceThreshold
	}
	if upd.Notes != "" {
		next.Notes = upd.Notes
	}
	next.Version++

	snapshot, _ := json.Marshal(upd)
	reason := upd.Reason
	if reason == "" {
		reason = "oracle self-update (trace " + traceID + ")"
	}
	if _, err := g.store.UpdateStrategy(ctx, g.cfg.UserID, next, reason, snapshot); err != nil {
		logger.Errorf("oracle: persisting strategy v%d failed: %v", next.Version, err)
		return
	}
	logger.Infof("oracle: strategy directives advanced to v%d (trace=%s)", next.Version, traceID)
}
