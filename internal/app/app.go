// Package app wires configuration into running services: broker, push
// stream, engine, status server and the aligned poll scheduler.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"wonbot/internal/config"
	"wonbot/internal/engine"
	"wonbot/internal/gateway/exchange"
	"wonbot/internal/gateway/notifier"
	"wonbot/internal/gateway/paper"
	"wonbot/internal/gateway/upbit"
	"wonbot/internal/logger"
	"wonbot/internal/market"
	"wonbot/internal/pkg/circuit"
	"wonbot/internal/position"
	"wonbot/internal/risk"
	"wonbot/internal/scheduler"
	"wonbot/internal/store/tradelog"
	"wonbot/internal/strategy"
	statushttp "wonbot/internal/transport/http/status"
	"wonbot/internal/universe"
)

type App struct {
	cfg      *config.Config
	engine   *engine.Engine
	stream   *upbit.StreamClient
	status   *statushttp.Server
	tradeLog *tradelog.Store
	poll     *scheduler.Aligned
}

// NewApp builds the full dependency graph without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	intervalMin, err := scheduler.IntervalMinutes(cfg.Engine.Interval)
	if err != nil {
		return nil, err
	}
	alignInterval, err := scheduler.ParseInterval(cfg.Engine.Interval)
	if err != nil {
		return nil, err
	}

	broker, stream, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}

	var tradeLog *tradelog.Store
	if cfg.TradeLog.Enabled {
		tradeLog, err = tradelog.NewStore(cfg.TradeLog.Path)
		if err != nil {
			return nil, fmt.Errorf("opening trade log failed: %w", err)
		}
	}

	deps := engine.Deps{
		Broker:    broker,
		Universe:  universe.NewBuilder(cfg.UniverseBuilderConfig()),
		Evaluator: strategy.NewEvaluator(cfg.StrategyParams()),
		Risk:      risk.NewManager(cfg.RiskManagerConfig()),
		Policy:    position.NewPolicy(cfg.ExitPolicyConfig()),
		Buffer:    market.NewBuffer(map[int]int{intervalMin: cfg.Engine.CandleCount + 100, 15: 300}),
		Notifier:  buildNotifier(cfg),
		TradeLog:  tradeLog,
		Breaker:   newBrokerBreaker(),
	}
	if stream != nil {
		deps.Events = stream.Events()
		deps.StreamStats = stream.Stats
		deps.SubscribeTicker = func(codes []string) error {
			return stream.Subscribe("ticker", codes, false)
		}
	}

	eng, err := engine.New(engine.Config{
		Mode:                cfg.App.Mode,
		IntervalMin:         intervalMin,
		CandleCount:         cfg.Engine.CandleCount,
		UniverseRefresh:     time.Duration(cfg.Universe.RefreshMinutes) * time.Minute,
		ReentryCooldownBars: cfg.Engine.ReentryCooldownBars,
		CooldownLossOnly:    cfg.Engine.CooldownLossOnly,
		OrderTimeout:        time.Duration(cfg.Engine.OrderTimeoutSeconds) * time.Second,
		MaxEntriesPerCycle:  cfg.Engine.MaxEntriesPerCycle,
	}, deps)
	if err != nil {
		return nil, err
	}

	status, err := statushttp.NewServer(statushttp.ServerConfig{
		Addr:     cfg.App.StatusAddr,
		Snapshot: eng.Snapshot,
	})
	if err != nil {
		return nil, err
	}

	poll := scheduler.NewAligned("poll", alignInterval, alignInterval,
		time.Duration(cfg.Engine.AlignOffsetSeconds)*time.Second)
	poll.RunImmediately = cfg.Engine.RunImmediately

	return &App{
		cfg:      cfg,
		engine:   eng,
		stream:   stream,
		status:   status,
		tradeLog: tradeLog,
		poll:     poll,
	}, nil
}

func buildGateway(cfg *config.Config) (exchange.Broker, *upbit.StreamClient, error) {
	if cfg.App.Mode == "paper" {
		logger.Infof("paper mode: simulated broker with %.0f KRW", cfg.Paper.InitialKRW)
		return paper.NewBroker(nil, cfg.Paper.InitialKRW, cfg.Paper.FeeRate), nil, nil
	}

	broker, err := upbit.NewClient(upbit.Config{
		AccessKey: cfg.Upbit.AccessKey,
		SecretKey: cfg.Upbit.SecretKey,
		BaseURL:   cfg.Upbit.BaseURL,
		Timeout:   cfg.Upbit.Timeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Stream.Enabled {
		return broker, nil, nil
	}

	stream := upbit.NewStreamClient(upbit.StreamConfig{
		URL:            cfg.Stream.URL,
		AccessKey:      cfg.Upbit.AccessKey,
		SecretKey:      cfg.Upbit.SecretKey,
		PingInterval:   time.Duration(cfg.Stream.PingSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.Stream.IdleSeconds) * time.Second,
		ReconnectDelay: time.Duration(cfg.Stream.ReconnectSeconds) * time.Second,
	})
	if err := stream.Subscribe("myOrder", nil, true); err != nil {
		return nil, nil, err
	}
	if err := stream.Subscribe("myAsset", nil, true); err != nil {
		return nil, nil, err
	}
	return broker, stream, nil
}

func newBrokerBreaker() *circuit.Breaker {
	return circuit.NewBreaker("broker", 5, 30*time.Second)
}

func buildNotifier(cfg *config.Config) notifier.TextNotifier {
	if cfg.Notify.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}
	return notifier.Noop{}
}

// Run starts every service and blocks until a signal or a fatal error.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.engine.Bootstrap(ctx); err != nil {
		logger.Warnf("open-order bootstrap failed: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.status.Start(ctx); err != nil {
			return fmt.Errorf("status server error: %w", err)
		}
		return nil
	})

	if a.stream != nil {
		group.Go(func() error {
			return a.stream.Run(ctx)
		})
	}

	group.Go(func() error {
		return a.engine.ConsumeEvents(ctx)
	})

	group.Go(func() error {
		a.poll.Run(ctx, func() {
			cycleCtx, cancel := context.WithTimeout(context.Background(), a.pollBudget())
			defer cancel()
			a.engine.RunCycle(cycleCtx)
		})
		return nil
	})

	err := group.Wait()
	a.close()
	return err
}

// pollBudget bounds one cycle to well under the tick interval.
func (a *App) pollBudget() time.Duration {
	d, perr := scheduler.ParseInterval(a.cfg.Engine.Interval)
	if perr != nil || d <= 0 {
		return time.Minute
	}
	budget := d * 9 / 10
	if budget < 10*time.Second {
		budget = 10 * time.Second
	}
	return budget
}

func (a *App) close() {
	if a.tradeLog != nil {
		if err := a.tradeLog.Close(); err != nil {
			logger.Warnf("closing trade log failed: %v", err)
		}
	}
	logger.Infof("shutdown complete")
}
