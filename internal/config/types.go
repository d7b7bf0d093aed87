package config

import (
	"time"

	"wonbot/internal/position"
	"wonbot/internal/risk"
	"wonbot/internal/strategy"
	"wonbot/internal/universe"
)

// Config is the bot's full configuration, loaded from one yaml file.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Upbit    UpbitConfig    `mapstructure:"upbit"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Universe UniverseConfig `mapstructure:"universe"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Exit     ExitConfig     `mapstructure:"exit"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	TradeLog TradeLogConfig `mapstructure:"trade_log"`
	Paper    PaperConfig    `mapstructure:"paper"`
}

type AppConfig struct {
	Env        string `mapstructure:"env"`
	Mode       string `mapstructure:"mode"` // "live" | "paper"
	LogLevel   string `mapstructure:"log_level"`
	LogPath    string `mapstructure:"log_path"`
	StatusAddr string `mapstructure:"status_addr"`
}

type UpbitConfig struct {
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type StreamConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	URL              string `mapstructure:"url"`
	PingSeconds      int    `mapstructure:"ping_seconds"`
	IdleSeconds      int    `mapstructure:"idle_seconds"`
	ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
}

type UniverseConfig struct {
	ExcludedKeywords  []string `mapstructure:"excluded_keywords"`
	MaxRelativeSpread float64  `mapstructure:"max_relative_spread"`
	TopByValue        int      `mapstructure:"top_by_value"`
	WatchLimit        int      `mapstructure:"watch_limit"`
	MaxMissingRate    float64  `mapstructure:"max_missing_rate"`
	RefreshMinutes    int      `mapstructure:"refresh_minutes"`
}

type EngineConfig struct {
	Interval            string `mapstructure:"interval"`
	CandleCount         int    `mapstructure:"candle_count"`
	AlignOffsetSeconds  int    `mapstructure:"align_offset_seconds"`
	ReentryCooldownBars int    `mapstructure:"reentry_cooldown_bars"`
	CooldownLossOnly    bool   `mapstructure:"cooldown_loss_only"`
	OrderTimeoutSeconds int    `mapstructure:"order_timeout_seconds"`
	MaxEntriesPerCycle  int    `mapstructure:"max_entries_per_cycle"`
	RunImmediately      bool   `mapstructure:"run_immediately"`
}

type StrategyConfig struct {
	BuyRSIThreshold     float64 `mapstructure:"buy_rsi_threshold"`
	RSIPeriod           int     `mapstructure:"rsi_period"`
	MACDFast            int     `mapstructure:"macd_fast"`
	MACDSlow            int     `mapstructure:"macd_slow"`
	MACDSignal          int     `mapstructure:"macd_signal"`
	MinCandleExtra      int     `mapstructure:"min_candle_extra"`
	SellProfitThreshold float64 `mapstructure:"sell_profit_threshold"`
	ATRPeriod           int     `mapstructure:"atr_period"`
	StopLookback        int     `mapstructure:"stop_lookback"`
	BBPeriod            int     `mapstructure:"bb_period"`
	BBStdMult           float64 `mapstructure:"bb_std_mult"`
	StopMode            string  `mapstructure:"stop_mode"`
	SupportsRMultiples  bool    `mapstructure:"supports_r_multiples"`
}

type RiskConfig struct {
	RiskPerTradePct        float64           `mapstructure:"risk_per_trade_pct"`
	MaxDailyLossPct        float64           `mapstructure:"max_daily_loss_pct"`
	MaxConsecutiveLosses   int               `mapstructure:"max_consecutive_losses"`
	MaxConcurrentPositions int               `mapstructure:"max_concurrent_positions"`
	MaxCorrelatedPositions int               `mapstructure:"max_correlated_positions"`
	CorrelationGroups      map[string]string `mapstructure:"correlation_groups"`
	MinOrderKRW            float64           `mapstructure:"min_order_krw"`
	QualityMultiplierMin   float64           `mapstructure:"quality_multiplier_min"`
	QualityMultiplierMax   float64           `mapstructure:"quality_multiplier_max"`
}

type ExitConfig struct {
	StopLossThreshold          float64 `mapstructure:"stop_loss_threshold"`
	TrailingStopPct            float64 `mapstructure:"trailing_stop_pct"`
	PartialTakeProfitThreshold float64 `mapstructure:"partial_take_profit_threshold"`
	PartialTakeProfitRatio     float64 `mapstructure:"partial_take_profit_ratio"`
	PartialStopLossRatio       float64 `mapstructure:"partial_stop_loss_ratio"`
	ExitMode                   string  `mapstructure:"exit_mode"`
	ATRStopMult                float64 `mapstructure:"atr_stop_mult"`
	ATRTrailingMult            float64 `mapstructure:"atr_trailing_mult"`
	MaxHoldBars                int     `mapstructure:"max_hold_bars"`
	StrategyPartialEnabled     bool    `mapstructure:"strategy_partial_enabled"`
	StrategyPartialR           float64 `mapstructure:"strategy_partial_r"`
	StrategyPartialSize        float64 `mapstructure:"strategy_partial_size"`
	BreakevenAfterPartial      bool    `mapstructure:"breakeven_after_partial"`
	SignalExitMinRGate         bool    `mapstructure:"signal_exit_min_r_gate"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type TradeLogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type PaperConfig struct {
	InitialKRW float64 `mapstructure:"initial_krw"`
	FeeRate    float64 `mapstructure:"fee_rate"`
}

func (u UpbitConfig) Timeout() time.Duration {
	if u.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// StrategyParams maps the strategy section onto evaluator parameters.
func (c *Config) StrategyParams() strategy.Params {
	s := c.Strategy
	return strategy.Params{
		BuyRSIThreshold:     s.BuyRSIThreshold,
		RSIPeriod:           s.RSIPeriod,
		MACDFast:            s.MACDFast,
		MACDSlow:            s.MACDSlow,
		MACDSignal:          s.MACDSignal,
		MinCandleExtra:      s.MinCandleExtra,
		SellProfitThreshold: s.SellProfitThreshold,
		ATRPeriod:           s.ATRPeriod,
		StopLookback:        s.StopLookback,
		BBPeriod:            s.BBPeriod,
		BBStdMult:           s.BBStdMult,
		StopMode:            s.StopMode,
		SupportsRMultiples:  s.SupportsRMultiples,
	}
}

// RiskManagerConfig maps the risk section onto the risk manager.
func (c *Config) RiskManagerConfig() risk.Config {
	r := c.Risk
	return risk.Config{
		RiskPerTradePct:        r.RiskPerTradePct,
		MaxDailyLossPct:        r.MaxDailyLossPct,
		MaxConsecutiveLosses:   r.MaxConsecutiveLosses,
		MaxConcurrentPositions: r.MaxConcurrentPositions,
		MaxCorrelatedPositions: r.MaxCorrelatedPositions,
		CorrelationGroups:      r.CorrelationGroups,
		MinOrderKRW:            r.MinOrderKRW,
		QualityMultiplierMin:   r.QualityMultiplierMin,
		QualityMultiplierMax:   r.QualityMultiplierMax,
	}
}

// ExitPolicyConfig maps the exit section onto the staged exit policy.
func (c *Config) ExitPolicyConfig() position.Config {
	e := c.Exit
	return position.Config{
		StopLossThreshold:          e.StopLossThreshold,
		TrailingStopPct:            e.TrailingStopPct,
		PartialTakeProfitThreshold: e.PartialTakeProfitThreshold,
		PartialTakeProfitRatio:     e.PartialTakeProfitRatio,
		PartialStopLossRatio:       e.PartialStopLossRatio,
		ExitMode:                   e.ExitMode,
		ATRStopMult:                e.ATRStopMult,
		ATRTrailingMult:            e.ATRTrailingMult,
		MaxHoldBars:                e.MaxHoldBars,
		SupportsRMultiples:         c.Strategy.SupportsRMultiples,
		StrategyPartialEnabled:     e.StrategyPartialEnabled,
		StrategyPartialR:           e.StrategyPartialR,
		StrategyPartialSize:        e.StrategyPartialSize,
		BreakevenAfterPartial:      e.BreakevenAfterPartial,
		SignalExitMinRGate:         e.SignalExitMinRGate,
	}
}

// UniverseConfig maps the universe section onto the builder.
func (c *Config) UniverseBuilderConfig() universe.Config {
	u := c.Universe
	return universe.Config{
		ExcludedKeywords:  u.ExcludedKeywords,
		MaxRelativeSpread: u.MaxRelativeSpread,
		TopByValue:        u.TopByValue,
		WatchLimit:        u.WatchLimit,
		MaxMissingRate:    u.MaxMissingRate,
	}
}
