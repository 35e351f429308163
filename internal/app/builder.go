package app

import (
	"context"
	"fmt"
	"time"

	"marlin/internal/config"
	"marlin/internal/engine"
	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/stream"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/oracle"
	"marlin/internal/pkg/circuit"
	"marlin/internal/position"
	"marlin/internal/profile"
	"marlin/internal/scheduler"
	"marlin/internal/store"
)

// listenKeyKeepAlive is well inside the venue's 60-minute expiry.
const listenKeyKeepAlive = "listenkey-keepalive"

type Builder struct {
	settings *config.Settings
	botID    int64
}

func NewBuilder(settings *config.Settings, botID int64) *Builder {
	return &Builder{settings: settings, botID: botID}
}

// Build runs the whole startup sequence in dependency order. The order
// matters: time sync before any signed call, leverage and precision before
// the position probe, stream last so no event outruns the engine.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	st, err := store.NewSqliteStore(b.settings.App.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			st.Close()
		}
	}()

	botCfg, err := st.LoadConfig(ctx, b.botID)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateBot(botCfg); err != nil {
		return nil, fmt.Errorf("bot config %d: %w", b.botID, err)
	}
	creds, err := st.LoadCredentials(ctx, b.botID)
	if err != nil {
		return nil, err
	}

	client := binance.NewClient(binance.Options{
		APIKey:      creds.APIKey,
		SecretKey:   creds.APISecret,
		BaseURL:     b.settings.Exchange.RESTBaseURL,
		HTTPTimeout: b.settings.Exchange.HTTPTimeout,
		RecvWindow:  b.settings.Exchange.RecvWindow,
		MaxAttempts: b.settings.Exchange.MaxAttempts,
		BackoffUnit: b.settings.Exchange.BackoffUnit,
	})
	if err := client.SyncTime(ctx); err != nil {
		return nil, err
	}
	if err := client.SetLeverage(ctx, botCfg.Symbol, botCfg.Leverage); err != nil {
		return nil, fmt.Errorf("setting leverage %dx: %w", botCfg.Leverage, err)
	}
	prec, err := client.GetSymbolPrecision(ctx, botCfg.Symbol)
	if err != nil {
		return nil, err
	}
	logger.Infof("app: %s tick=%v step=%v leverage=%dx", botCfg.Symbol, prec.TickSize, prec.StepSize, botCfg.Leverage)

	source := market.NewSource(b.settings.Exchange.RESTBaseURL, b.settings.Exchange.HTTPTimeout)
	profiles, err := profile.NewRegistry(b.settings.App.ProfilesPath)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	breaker := circuit.NewBreaker("oracle", b.settings.Oracle.BreakerThreshold, b.settings.Oracle.BreakerCooldown)
	chat := oracle.NewChatClient(
		b.settings.Oracle.APIURL,
		b.settings.Oracle.APIKey,
		b.settings.Oracle.Model,
		b.settings.Oracle.Timeout,
		b.settings.Oracle.MaxRetries,
	)
	gateway := oracle.NewGateway(botCfg, prec, client, source, profiles, st, chat, breaker)

	fills := position.NewFillLogger(st, source, botCfg.ID, botCfg.MarginAsset)
	fmtr := position.NewFormatter(prec)
	sched := scheduler.New()

	listenKey, err := client.CreateListenKey(ctx)
	if err != nil {
		profiles.Close()
		return nil, err
	}
	sched.Every(ctx, listenKeyKeepAlive, 30*time.Minute, func() {
		if err := client.KeepAliveListenKey(context.Background()); err != nil {
			logger.Warnf("app: listen key keepalive failed: %v", err)
		}
	})

	streamer := stream.New(b.settings.Exchange.WSBaseURL, botCfg.Symbol, botCfg.StreamInterval, client)
	eng := engine.New(botCfg, client, gateway, streamer, fills, fmtr, sched, st)

	// Startup position probe decides the first state: a pre-existing
	// position is adopted as unprotected until re-armed or closed.
	rows, err := client.GetPositionRisk(ctx, botCfg.Symbol)
	if err != nil {
		profiles.Close()
		return nil, fmt.Errorf("probing position: %w", err)
	}
	eng.AdoptPosition(position.FromPositionRisk(rows, botCfg.Symbol))

	if err := streamer.Start(ctx, listenKey); err != nil {
		profiles.Close()
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	ok = true
	return &App{
		settings: b.settings,
		botCfg:   botCfg,
		store:    st,
		profiles: profiles,
		engine:   eng,
	}, nil
}
