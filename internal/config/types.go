package config

import "time"

// Settings are process-level knobs loaded once from the YAML file named by
// MARLIN_CONFIG. Per-bot trading configuration lives in the store and is
// loaded by id at startup (see BotConfig).
type Settings struct {
	App      AppSettings      `mapstructure:"app"`
	Exchange ExchangeSettings `mapstructure:"exchange"`
	Oracle   OracleSettings   `mapstructure:"oracle"`
}

type AppSettings struct {
	Env          string `mapstructure:"env"`
	LogLevel     string `mapstructure:"log_level"`
	LogPath      string `mapstructure:"log_path"`
	OracleLog    string `mapstructure:"oracle_log"`
	OracleDump   bool   `mapstructure:"oracle_dump"`
	DatabasePath string `mapstructure:"database_path"`
	ProfilesPath string `mapstructure:"profiles_path"`
}

type ExchangeSettings struct {
	RESTBaseURL string        `mapstructure:"rest_base_url"`
	WSBaseURL   string        `mapstructure:"ws_base_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	RecvWindow  int64         `mapstructure:"recv_window"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffUnit time.Duration `mapstructure:"backoff_unit"`
}

type OracleSettings struct {
	APIURL           string        `mapstructure:"api_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// SizingMode selects who computes the order quantity.
type SizingMode string

const (
	SizingOracle  SizingMode = "ORACLE"  // oracle proposes the quantity
	SizingFormula SizingMode = "FORMULA" // quantity = margin_target * leverage / entry
)

// BotConfig is one bot's trading configuration, loaded from the store by the
// numeric id given on the command line. Immutable for the life of the run.
type BotConfig struct {
	ID              int64
	UserID          int64
	Symbol          string
	MarginAsset     string
	Leverage        int
	Timeframes      []string // kline intervals collected for every decision cycle
	StreamInterval  string   // interval of the live candle subscription
	SizingMode      SizingMode
	AllowSelfUpdate bool // oracle may propose strategy-directive updates
	MarginTargetUSD float64
	ProfitTargetUSD float64
	DecisionEvery   time.Duration
	OrderTimeout    time.Duration
	HeartbeatEvery  time.Duration
}

func (s *Settings) applyDefaults() {
	if s.App.LogLevel == "" {
		s.App.LogLevel = "info"
	}
	if s.App.DatabasePath == "" {
		s.App.DatabasePath = "data/marlin.db"
	}
	if s.Exchange.RESTBaseURL == "" {
		s.Exchange.RESTBaseURL = "https://fapi.binance.com"
	}
	if s.Exchange.WSBaseURL == "" {
		s.Exchange.WSBaseURL = "wss://fstream.binance.com"
	}
	if s.Exchange.HTTPTimeout <= 0 {
		s.Exchange.HTTPTimeout = 10 * time.Second
	}
	if s.Exchange.RecvWindow <= 0 {
		s.Exchange.RecvWindow = 5000
	}
	if s.Exchange.MaxAttempts <= 0 {
		s.Exchange.MaxAttempts = 3
	}
	if s.Exchange.BackoffUnit <= 0 {
		s.Exchange.BackoffUnit = 2 * time.Second
	}
	if s.Oracle.Timeout <= 0 {
		s.Oracle.Timeout = 90 * time.Second
	}
	if s.Oracle.MaxRetries < 0 {
		s.Oracle.MaxRetries = 0
	}
	if s.Oracle.BreakerThreshold <= 0 {
		s.Oracle.BreakerThreshold = 3
	}
	if s.Oracle.BreakerCooldown <= 0 {
		s.Oracle.BreakerCooldown = 5 * time.Minute
	}
}
