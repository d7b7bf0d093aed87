package config

import (
	"fmt"
	"strings"

	"wonbot/internal/scheduler"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Upbit.validate(c.App.Mode); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Universe.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Exit.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Paper.validate(c.App.Mode); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.Mode {
	case "live", "paper":
	default:
		return fmt.Errorf("app.mode must be 'live' or 'paper', got %q", a.Mode)
	}
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be debug/info/warn/error, got %q", a.LogLevel)
	}
	return nil
}

func (u *UpbitConfig) validate(mode string) error {
	if mode != "live" {
		return nil
	}
	if strings.TrimSpace(u.AccessKey) == "" || strings.TrimSpace(u.SecretKey) == "" {
		return fmt.Errorf("live mode requires upbit.access_key and upbit.secret_key")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if _, err := scheduler.ParseInterval(e.Interval); err != nil {
		return fmt.Errorf("engine.interval: %w", err)
	}
	if e.CandleCount < 50 || e.CandleCount > 1000 {
		return fmt.Errorf("engine.candle_count must be in [50,1000]")
	}
	if e.AlignOffsetSeconds < 0 {
		return fmt.Errorf("engine.align_offset_seconds must be >= 0")
	}
	if e.ReentryCooldownBars < 0 {
		return fmt.Errorf("engine.reentry_cooldown_bars must be >= 0")
	}
	if e.OrderTimeoutSeconds <= 0 {
		return fmt.Errorf("engine.order_timeout_seconds must be > 0")
	}
	if e.MaxEntriesPerCycle <= 0 {
		return fmt.Errorf("engine.max_entries_per_cycle must be > 0")
	}
	return nil
}

func (u *UniverseConfig) validate() error {
	if u.WatchLimit <= 0 {
		return fmt.Errorf("universe.watch_limit must be > 0")
	}
	if u.TopByValue < 0 {
		return fmt.Errorf("universe.top_by_value must be >= 0")
	}
	if u.RefreshMinutes <= 0 {
		return fmt.Errorf("universe.refresh_minutes must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskPerTradePct <= 0 || r.RiskPerTradePct > 0.1 {
		return fmt.Errorf("risk.risk_per_trade_pct must be in (0, 0.1]")
	}
	if r.MaxDailyLossPct < 0 || r.MaxDailyLossPct > 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in [0, 1]")
	}
	if r.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk.max_concurrent_positions must be > 0")
	}
	if r.MinOrderKRW < 0 {
		return fmt.Errorf("risk.min_order_krw must be >= 0")
	}
	return nil
}

func (e *ExitConfig) validate() error {
	if e.StopLossThreshold < 0 || e.StopLossThreshold >= 1 {
		return fmt.Errorf("exit.stop_loss_threshold must be in [0, 1)")
	}
	if e.TrailingStopPct < 0 || e.TrailingStopPct >= 1 {
		return fmt.Errorf("exit.trailing_stop_pct must be in [0, 1)")
	}
	if e.PartialTakeProfitRatio < 0 || e.PartialTakeProfitRatio > 1 {
		return fmt.Errorf("exit.partial_take_profit_ratio must be in [0, 1]")
	}
	if e.PartialStopLossRatio < 0 || e.PartialStopLossRatio > 1 {
		return fmt.Errorf("exit.partial_stop_loss_ratio must be in [0, 1]")
	}
	switch e.ExitMode {
	case "", "pct", "atr":
	default:
		return fmt.Errorf("exit.exit_mode must be 'pct' or 'atr', got %q", e.ExitMode)
	}
	if e.StrategyPartialEnabled {
		if e.StrategyPartialR <= 0 {
			return fmt.Errorf("exit.strategy_partial_r must be > 0")
		}
		if e.StrategyPartialSize <= 0 || e.StrategyPartialSize >= 1 {
			return fmt.Errorf("exit.strategy_partial_size must be in (0, 1)")
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (p *PaperConfig) validate(mode string) error {
	if mode != "paper" {
		return nil
	}
	if p.InitialKRW <= 0 {
		return fmt.Errorf("paper.initial_krw must be > 0")
	}
	if p.FeeRate < 0 || p.FeeRate >= 0.01 {
		return fmt.Errorf("paper.fee_rate must be in [0, 0.01)")
	}
	return nil
}
