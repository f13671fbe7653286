package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SigmaFloorMode selects how the z-score sigma floor is derived.
type SigmaFloorMode string

const (
	SigmaFloorConst    SigmaFloorMode = "const"
	SigmaFloorQuantile SigmaFloorMode = "quantile"
	SigmaFloorEwmaMix  SigmaFloorMode = "ewma_mix"
)

// CapitalMode selects how entry capital is computed.
type CapitalMode string

const (
	CapitalFixedNotional CapitalMode = "fixed_notional"
	CapitalEquityRatio   CapitalMode = "equity_ratio"
)

// FundingMode is one funding-cost control; modes compose in config order.
type FundingMode string

const (
	FundingFilter    FundingMode = "filter"
	FundingThreshold FundingMode = "threshold"
	FundingSize      FundingMode = "size"
)

// RoundingMode controls step-size rounding of order quantities.
type RoundingMode string

const (
	RoundFloor RoundingMode = "floor"
	RoundCeil  RoundingMode = "ceil"
	RoundHalf  RoundingMode = "round"
)

// MinSizePolicy decides what happens when a converted order falls below
// the venue minimums.
type MinSizePolicy string

const (
	MinSizeSkip   MinSizePolicy = "skip"
	MinSizeAdjust MinSizePolicy = "adjust"
)

// OrderType is the order type used for paired submissions.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// PriceField selects which stored price feeds the signal pipeline.
type PriceField string

const (
	PriceMid   PriceField = "mid"
	PriceMark  PriceField = "mark"
	PriceClose PriceField = "close"
)

type Config struct {
	Log         LoggingConfig                    `yaml:"log"`
	Strategy    StrategyConfig                   `yaml:"strategy"`
	SigmaFloor  SigmaFloorConfig                 `yaml:"sigma_floor"`
	Position    PositionConfig                   `yaml:"position"`
	Funding     FundingConfig                    `yaml:"funding"`
	Risk        RiskConfig                       `yaml:"risk"`
	Data        DataConfig                       `yaml:"data"`
	Rest        RestConfig                       `yaml:"rest"`
	Execution   ExecutionConfig                  `yaml:"execution"`
	Runtime     RuntimeConfig                    `yaml:"runtime"`
	State       StateConfig                      `yaml:"state"`
	Backtest    BacktestConfig                   `yaml:"backtest"`
	Journal     JournalConfig                    `yaml:"journal"`
	Telegram    TelegramConfig                   `yaml:"telegram"`
	Timescale   TimescaleConfig                  `yaml:"timescale"`
	Metrics     MetricsConfig                    `yaml:"metrics"`
	Instruments map[string]InstrumentConstraints `yaml:"instruments"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StrategyConfig struct {
	LegA   string  `yaml:"leg_a"`
	LegB   string  `yaml:"leg_b"`
	NZ     int     `yaml:"n_z"`
	EntryZ float64 `yaml:"entry_z"`
	TPZ    float64 `yaml:"tp_z"`
	SLZ    float64 `yaml:"sl_z"`
}

type SigmaFloorConfig struct {
	Mode         SigmaFloorMode `yaml:"mode"`
	Const        float64        `yaml:"const"`
	WindowDays   int            `yaml:"quantile_window_days"`
	QuantileP    float64        `yaml:"quantile_p"`
	EwmaHalfLife int            `yaml:"ewma_half_life"`
}

type PositionConfig struct {
	CMode         CapitalMode   `yaml:"c_mode"`
	CValue        *float64      `yaml:"c_value"`
	EquityRatioK  *float64      `yaml:"equity_ratio_k"`
	EquityValue   *float64      `yaml:"equity_value"`
	MaxNotional   *float64      `yaml:"max_notional"`
	NVol          int           `yaml:"n_vol"`
	MinSizePolicy MinSizePolicy `yaml:"min_size_policy"`
}

type FundingConfig struct {
	Modes         []FundingMode `yaml:"modes"`
	CostThreshold *float64      `yaml:"cost_threshold"`
	ThresholdK    *float64      `yaml:"threshold_k"`
	SizeAlpha     *float64      `yaml:"size_alpha"`
	CMinRatio     *float64      `yaml:"c_min_ratio"`
}

type RiskConfig struct {
	MaxHoldHours  int `yaml:"max_hold_hours"`
	CooldownHours int `yaml:"cooldown_hours"`
	ConfirmBarsTP int `yaml:"confirm_bars_tp"`
}

type DataConfig struct {
	PriceField PriceField `yaml:"price_field"`
	BarsPerDay int        `yaml:"bars_per_day"`
}

type RestConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	User    string        `yaml:"user"`
}

type ExecutionConfig struct {
	OrderType        OrderType     `yaml:"order_type"`
	SlippageBps      int           `yaml:"slippage_bps"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
}

type RuntimeConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Once           bool          `yaml:"once"`
	Paper          bool          `yaml:"paper"`
	DisableFunding bool          `yaml:"disable_funding"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type BacktestConfig struct {
	IncludeFees     *bool    `yaml:"include_fees"`
	FeeBps          int      `yaml:"fee_bps"`
	IncludeSlippage *bool    `yaml:"include_slippage"`
	SlippageBps     int      `yaml:"slippage_bps"`
	IncludeFunding  *bool    `yaml:"include_funding"`
	RiskFreeRate    float64  `yaml:"risk_free_rate"`
	InitialEquity   *float64 `yaml:"initial_equity"`
}

// Fees reports whether backtests charge taker fees; on unless disabled.
func (c BacktestConfig) Fees() bool     { return c.IncludeFees == nil || *c.IncludeFees }
func (c BacktestConfig) Slippage() bool { return c.IncludeSlippage == nil || *c.IncludeSlippage }
func (c BacktestConfig) Funding() bool  { return c.IncludeFunding == nil || *c.IncludeFunding }

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type InstrumentConstraints struct {
	MinQty         float64      `yaml:"min_qty"`
	MinNotional    float64      `yaml:"min_notional"`
	StepSize       float64      `yaml:"step_size"`
	TickSize       float64      `yaml:"tick_size"`
	QtyPrecision   int          `yaml:"qty_precision"`
	PricePrecision int          `yaml:"price_precision"`
	RoundingMode   RoundingMode `yaml:"rounding_mode"`
}

// DefaultConstraints mirrors common perp venue limits and is used for any
// instrument without an explicit entry.
func DefaultConstraints() InstrumentConstraints {
	return InstrumentConstraints{
		MinQty:         0.01,
		MinNotional:    10,
		StepSize:       0.001,
		TickSize:       0.1,
		QtyPrecision:   3,
		PricePrecision: 1,
		RoundingMode:   RoundFloor,
	}
}

// ConstraintsFor returns the configured constraints for an instrument,
// falling back to the defaults.
func (c *Config) ConstraintsFor(instrument string) InstrumentConstraints {
	if constraints, ok := c.Instruments[instrument]; ok {
		return constraints
	}
	return DefaultConstraints()
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// applyEnvOverrides lets secrets come from the environment instead of
// the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HL_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("HL_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HL_TIMESCALE_DSN"); v != "" {
		cfg.Timescale.DSN = v
	}
	if v := os.Getenv("HL_ACCOUNT_ADDRESS"); v != "" {
		cfg.Rest.User = v
	}
}

// Default returns the built-in configuration used by tests and the
// backtest CLI when no overrides are given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Strategy.LegA == "" {
		cfg.Strategy.LegA = "ETH-PERP"
	}
	if cfg.Strategy.LegB == "" {
		cfg.Strategy.LegB = "BTC-PERP"
	}
	if cfg.Strategy.NZ == 0 {
		cfg.Strategy.NZ = 384
	}
	if cfg.Strategy.EntryZ == 0 {
		cfg.Strategy.EntryZ = 1.5
	}
	if cfg.Strategy.TPZ == 0 {
		cfg.Strategy.TPZ = 0.45
	}
	if cfg.Strategy.SLZ == 0 {
		cfg.Strategy.SLZ = 3.5
	}
	if cfg.SigmaFloor.Mode == "" {
		cfg.SigmaFloor.Mode = SigmaFloorConst
	}
	if cfg.SigmaFloor.Const == 0 {
		cfg.SigmaFloor.Const = 0.001
	}
	if cfg.SigmaFloor.WindowDays == 0 {
		cfg.SigmaFloor.WindowDays = 30
	}
	if cfg.SigmaFloor.QuantileP == 0 {
		cfg.SigmaFloor.QuantileP = 0.10
	}
	if cfg.SigmaFloor.EwmaHalfLife == 0 {
		cfg.SigmaFloor.EwmaHalfLife = 20
	}
	if cfg.Position.CMode == "" {
		cfg.Position.CMode = CapitalFixedNotional
	}
	if cfg.Position.CMode == CapitalFixedNotional && cfg.Position.CValue == nil {
		v := 50000.0
		cfg.Position.CValue = &v
	}
	if cfg.Position.NVol == 0 {
		cfg.Position.NVol = 672
	}
	if cfg.Position.MinSizePolicy == "" {
		cfg.Position.MinSizePolicy = MinSizeSkip
	}
	if cfg.Funding.Modes == nil {
		cfg.Funding.Modes = []FundingMode{FundingFilter}
	}
	if cfg.Funding.CostThreshold == nil {
		v := 0.001
		cfg.Funding.CostThreshold = &v
	}
	if cfg.Funding.ThresholdK == nil {
		v := 0.5
		cfg.Funding.ThresholdK = &v
	}
	if cfg.Funding.SizeAlpha == nil {
		v := 0.5
		cfg.Funding.SizeAlpha = &v
	}
	if cfg.Funding.CMinRatio == nil {
		v := 0.3
		cfg.Funding.CMinRatio = &v
	}
	if cfg.Risk.MaxHoldHours == 0 {
		cfg.Risk.MaxHoldHours = 48
	}
	if cfg.Risk.CooldownHours == 0 {
		cfg.Risk.CooldownHours = 24
	}
	if cfg.Data.PriceField == "" {
		cfg.Data.PriceField = PriceMid
	}
	if cfg.Data.BarsPerDay == 0 {
		cfg.Data.BarsPerDay = 96
	}
	if cfg.Rest.BaseURL == "" {
		cfg.Rest.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Rest.Timeout == 0 {
		cfg.Rest.Timeout = 10 * time.Second
	}
	if cfg.Execution.OrderType == "" {
		cfg.Execution.OrderType = OrderMarket
	}
	if cfg.Execution.SlippageBps == 0 {
		cfg.Execution.SlippageBps = 5
	}
	if cfg.Execution.RetryMaxAttempts == 0 {
		cfg.Execution.RetryMaxAttempts = 3
	}
	if cfg.Execution.RetryBaseDelay == 0 {
		cfg.Execution.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.Runtime.Interval == 0 {
		cfg.Runtime.Interval = 15 * time.Minute
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-pairs-bot.db"
	}
	if cfg.Backtest.FeeBps == 0 {
		cfg.Backtest.FeeBps = 2
	}
	if cfg.Backtest.SlippageBps == 0 {
		cfg.Backtest.SlippageBps = 5
	}
	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = "data/journal"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 1024
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9187"
	}
	if cfg.Instruments == nil {
		cfg.Instruments = map[string]InstrumentConstraints{
			cfg.Strategy.LegA: DefaultConstraints(),
			cfg.Strategy.LegB: DefaultConstraints(),
		}
	}
	for name, constraints := range cfg.Instruments {
		if constraints.RoundingMode == "" {
			constraints.RoundingMode = RoundFloor
			cfg.Instruments[name] = constraints
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Strategy.LegA == "" || cfg.Strategy.LegB == "" {
		return errors.New("strategy.leg_a and strategy.leg_b are required")
	}
	if cfg.Strategy.LegA == cfg.Strategy.LegB {
		return errors.New("strategy legs must be distinct instruments")
	}
	if cfg.Strategy.NZ <= 0 {
		return errors.New("strategy.n_z must be > 0")
	}
	if cfg.Strategy.EntryZ >= cfg.Strategy.SLZ {
		return errors.New("strategy.entry_z must be < strategy.sl_z")
	}
	if cfg.Strategy.TPZ < 0 || cfg.Strategy.TPZ >= cfg.Strategy.EntryZ {
		return errors.New("strategy.tp_z must be in [0, entry_z)")
	}
	switch cfg.SigmaFloor.Mode {
	case SigmaFloorConst, SigmaFloorQuantile, SigmaFloorEwmaMix:
	default:
		return fmt.Errorf("sigma_floor.mode %q is not supported", cfg.SigmaFloor.Mode)
	}
	if cfg.SigmaFloor.Const <= 0 {
		return errors.New("sigma_floor.const must be > 0")
	}
	if cfg.SigmaFloor.QuantileP <= 0 || cfg.SigmaFloor.QuantileP > 1 {
		return errors.New("sigma_floor.quantile_p must be in (0, 1]")
	}
	if cfg.SigmaFloor.EwmaHalfLife <= 0 {
		return errors.New("sigma_floor.ewma_half_life must be > 0")
	}
	switch cfg.Position.CMode {
	case CapitalFixedNotional:
		if cfg.Position.CValue == nil || *cfg.Position.CValue <= 0 {
			return errors.New("position.c_value must be > 0 in fixed_notional mode")
		}
	case CapitalEquityRatio:
		if cfg.Position.EquityRatioK == nil || *cfg.Position.EquityRatioK <= 0 {
			return errors.New("position.equity_ratio_k must be > 0 in equity_ratio mode")
		}
		if cfg.Position.EquityValue != nil && *cfg.Position.EquityValue < 0 {
			return errors.New("position.equity_value must be >= 0")
		}
	default:
		return fmt.Errorf("position.c_mode %q is not supported", cfg.Position.CMode)
	}
	if cfg.Position.NVol <= 0 {
		return errors.New("position.n_vol must be > 0")
	}
	switch cfg.Position.MinSizePolicy {
	case MinSizeSkip, MinSizeAdjust:
	default:
		return fmt.Errorf("position.min_size_policy %q is not supported", cfg.Position.MinSizePolicy)
	}
	for _, mode := range cfg.Funding.Modes {
		switch mode {
		case FundingFilter, FundingThreshold, FundingSize:
		default:
			return fmt.Errorf("funding mode %q is not supported", mode)
		}
	}
	if cfg.Risk.MaxHoldHours <= 0 {
		return errors.New("risk.max_hold_hours must be > 0")
	}
	if cfg.Risk.CooldownHours <= 0 {
		return errors.New("risk.cooldown_hours must be > 0")
	}
	if cfg.Risk.ConfirmBarsTP < 0 {
		return errors.New("risk.confirm_bars_tp must be >= 0")
	}
	switch cfg.Data.PriceField {
	case PriceMid, PriceMark, PriceClose:
	default:
		return fmt.Errorf("data.price_field %q is not supported", cfg.Data.PriceField)
	}
	if cfg.Data.BarsPerDay <= 0 {
		return errors.New("data.bars_per_day must be > 0")
	}
	switch cfg.Execution.OrderType {
	case OrderMarket, OrderLimit:
	default:
		return fmt.Errorf("execution.order_type %q is not supported", cfg.Execution.OrderType)
	}
	if cfg.Runtime.Interval <= 0 {
		return errors.New("runtime.interval must be > 0")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	for name, constraints := range cfg.Instruments {
		if constraints.StepSize <= 0 {
			return fmt.Errorf("instruments.%s.step_size must be > 0", name)
		}
		switch constraints.RoundingMode {
		case RoundFloor, RoundCeil, RoundHalf:
		default:
			return fmt.Errorf("instruments.%s.rounding_mode %q is not supported", name, constraints.RoundingMode)
		}
	}
	return nil
}
