package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"marlin/internal/app"
	"marlin/internal/config"
	"marlin/internal/logger"
)

// Usage: marlin <bot-config-id>. The id selects a row in the bot_configs
// table; everything else comes from the config file named by MARLIN_CONFIG.
func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: %s <bot-config-id>", filepath.Base(os.Args[0]))
	}
	botID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || botID <= 0 {
		log.Fatalf("bot config id must be a positive integer, got %q", os.Args[1])
	}

	cfgPath := os.Getenv("MARLIN_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	settings, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logFile, err := setupLogOutput(settings.App.LogPath)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	if oracleFile, err := setupOracleLog(settings.App.OracleLog); err != nil {
		log.Fatalf("opening oracle log: %v", err)
	} else if oracleFile != nil {
		defer oracleFile.Close()
	}
	logger.EnableOracleDump(settings.App.OracleDump)
	logger.SetLevel(settings.App.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.NewApp(ctx, settings, botID)
	if err != nil {
		logger.Errorf("startup failed: %v", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("received %s, shutting down", sig)
		a.Stop()
	}()

	if err := a.Run(ctx); err != nil {
		logger.Errorf("engine stopped with error: %v", err)
		os.Exit(1)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

func setupOracleLog(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		logger.SetOracleWriter(nil)
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetOracleWriter(f)
	return f, nil
}
