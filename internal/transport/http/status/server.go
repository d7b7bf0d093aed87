// Package statushttp exposes a read-only view of the running bot: health,
// open positions, risk state, and stream counters. It never mutates anything.
package statushttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wonbot/internal/logger"
)

// Snapshot is the full /status payload, assembled by the engine under its
// own lock.
type Snapshot struct {
	Mode        string             `json:"mode"`
	UptimeSec   int64              `json:"uptime_sec"`
	Universe    []string           `json:"universe"`
	Positions   []PositionView     `json:"positions"`
	Risk        RiskView           `json:"risk"`
	Stream      StreamView         `json:"stream"`
	Buffers     map[string]BufView `json:"buffers"`
	GeneratedAt time.Time          `json:"generated_at"`
}

type PositionView struct {
	Market      string  `json:"market"`
	Volume      float64 `json:"volume"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
	Stage       string  `json:"stage"`
	BarsHeld    int     `json:"bars_held"`
	PeakPrice   float64 `json:"peak_price"`
	StopPrice   float64 `json:"stop_price"`
}

type RiskView struct {
	BaselineEquity   float64 `json:"baseline_equity"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
	LossStreak       int     `json:"loss_streak"`
	Day              string  `json:"day"`
}

type StreamView struct {
	Connected  bool  `json:"connected"`
	Reconnects int64 `json:"reconnects"`
	Dropped    int64 `json:"dropped"`
}

type BufView struct {
	Candles     int     `json:"candles"`
	MissingRate float64 `json:"missing_rate"`
}

// SnapshotFunc produces the current snapshot on demand.
type SnapshotFunc func() Snapshot

type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr     string
	Snapshot SnapshotFunc
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Snapshot == nil {
		return nil, errors.New("status server requires a snapshot source")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Snapshot())
	})

	return &Server{addr: cfg.Addr, router: router}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
