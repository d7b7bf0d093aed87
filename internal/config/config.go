// Package config loads and validates the yaml configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	applyDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.mode", "paper")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.status_addr", ":9991")

	v.SetDefault("upbit.base_url", "https://api.upbit.com")
	v.SetDefault("upbit.timeout_seconds", 10)

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.url", "wss://api.upbit.com/websocket/v1")
	v.SetDefault("stream.ping_seconds", 30)
	v.SetDefault("stream.idle_seconds", 120)
	v.SetDefault("stream.reconnect_seconds", 3)

	v.SetDefault("universe.excluded_keywords", []string{})
	v.SetDefault("universe.max_relative_spread", 0.002)
	v.SetDefault("universe.top_by_value", 30)
	v.SetDefault("universe.watch_limit", 10)
	v.SetDefault("universe.max_missing_rate", 0.1)
	v.SetDefault("universe.refresh_minutes", 60)

	v.SetDefault("engine.interval", "1m")
	v.SetDefault("engine.candle_count", 200)
	v.SetDefault("engine.align_offset_seconds", 2)
	v.SetDefault("engine.reentry_cooldown_bars", 5)
	v.SetDefault("engine.cooldown_loss_only", false)
	v.SetDefault("engine.order_timeout_seconds", 90)
	v.SetDefault("engine.max_entries_per_cycle", 1)

	v.SetDefault("strategy.buy_rsi_threshold", 35)
	v.SetDefault("strategy.rsi_period", 14)
	v.SetDefault("strategy.macd_fast", 12)
	v.SetDefault("strategy.macd_slow", 26)
	v.SetDefault("strategy.macd_signal", 9)
	v.SetDefault("strategy.min_candle_extra", 3)
	v.SetDefault("strategy.sell_profit_threshold", 1.01)
	v.SetDefault("strategy.atr_period", 14)
	v.SetDefault("strategy.stop_lookback", 6)
	v.SetDefault("strategy.bb_period", 20)
	v.SetDefault("strategy.bb_std_mult", 2)
	v.SetDefault("strategy.stop_mode", "swing_low")

	v.SetDefault("risk.risk_per_trade_pct", 0.01)
	v.SetDefault("risk.max_daily_loss_pct", 0.05)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.max_concurrent_positions", 3)
	v.SetDefault("risk.max_correlated_positions", 2)
	v.SetDefault("risk.min_order_krw", 5000)
	v.SetDefault("risk.quality_multiplier_min", 0.5)
	v.SetDefault("risk.quality_multiplier_max", 1.5)

	v.SetDefault("exit.stop_loss_threshold", 0.97)
	v.SetDefault("exit.trailing_stop_pct", 0.02)
	v.SetDefault("exit.partial_take_profit_threshold", 1.03)
	v.SetDefault("exit.partial_take_profit_ratio", 0.5)
	v.SetDefault("exit.partial_stop_loss_ratio", 0)
	v.SetDefault("exit.exit_mode", "pct")
	v.SetDefault("exit.atr_stop_mult", 2)
	v.SetDefault("exit.atr_trailing_mult", 1.5)
	v.SetDefault("exit.max_hold_bars", 0)
	v.SetDefault("exit.strategy_partial_r", 1)
	v.SetDefault("exit.strategy_partial_size", 0.5)
	v.SetDefault("exit.breakeven_after_partial", true)
	v.SetDefault("exit.signal_exit_min_r_gate", true)

	v.SetDefault("trade_log.enabled", true)
	v.SetDefault("trade_log.path", "data/trades.db")

	v.SetDefault("paper.initial_krw", 1_000_000)
	v.SetDefault("paper.fee_rate", 0.0005)
}
