// Package tradelog persists closed trades to sqlite. The log is append-only
// and advisory: a write failure must never stop the trading loop, callers log
// it and move on.
package tradelog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ClosedTrade is one completed round trip, recorded when the position size
// reaches zero.
type ClosedTrade struct {
	Market       string
	EntryPrice   float64
	ExitPrice    float64
	Volume       float64
	PnLKRW       float64
	RMultiple    float64
	Reason       string
	Regime       string
	Stage        string
	BarsHeld     int
	PartialTakes int
	OpenedAt     time.Time
	ClosedAt     time.Time
}

type closedTradeModel struct {
	ID           int64          `gorm:"column:id;primaryKey"`
	Market       string         `gorm:"column:market;index"`
	EntryPrice   float64        `gorm:"column:entry_price"`
	ExitPrice    float64        `gorm:"column:exit_price"`
	Volume       float64        `gorm:"column:volume"`
	PnLKRW       float64        `gorm:"column:pnl_krw"`
	RMultiple    float64        `gorm:"column:r_multiple"`
	Reason       string         `gorm:"column:reason"`
	Regime       string         `gorm:"column:regime"`
	DetailsJSON  datatypes.JSON `gorm:"column:details_json;type:TEXT"`
	OpenedAtUnix int64          `gorm:"column:opened_at"`
	ClosedAtUnix int64          `gorm:"column:closed_at;index"`
}

func (closedTradeModel) TableName() string { return "closed_trades" }

type tradeDetails struct {
	Stage        string `json:"stage,omitempty"`
	BarsHeld     int    `json:"bars_held,omitempty"`
	PartialTakes int    `json:"partial_takes,omitempty"`
}

type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("trade log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewStoreFromDB(db)
}

func NewStoreFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&closedTradeModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

// Append records one closed trade.
func (s *Store) Append(ctx context.Context, trade ClosedTrade) error {
	details, _ := json.Marshal(tradeDetails{
		Stage:        trade.Stage,
		BarsHeld:     trade.BarsHeld,
		PartialTakes: trade.PartialTakes,
	})
	row := closedTradeModel{
		Market:       trade.Market,
		EntryPrice:   trade.EntryPrice,
		ExitPrice:    trade.ExitPrice,
		Volume:       trade.Volume,
		PnLKRW:       trade.PnLKRW,
		RMultiple:    trade.RMultiple,
		Reason:       trade.Reason,
		Regime:       trade.Regime,
		DetailsJSON:  datatypes.JSON(details),
		OpenedAtUnix: trade.OpenedAt.Unix(),
		ClosedAtUnix: trade.ClosedAt.Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListRecent returns the newest trades, most recent first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ClosedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []closedTradeModel
	if err := s.db.WithContext(ctx).
		Order("closed_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ClosedTrade, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToTrade(row))
	}
	return out, nil
}

// RealizedSince sums PnL for trades closed at or after the cutoff.
func (s *Store) RealizedSince(ctx context.Context, cutoff time.Time) (float64, error) {
	var total *float64
	err := s.db.WithContext(ctx).
		Model(&closedTradeModel{}).
		Select("SUM(pnl_krw)").
		Where("closed_at >= ?", cutoff.Unix()).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowToTrade(row closedTradeModel) ClosedTrade {
	var details tradeDetails
	_ = json.Unmarshal(row.DetailsJSON, &details)
	return ClosedTrade{
		Market:       row.Market,
		EntryPrice:   row.EntryPrice,
		ExitPrice:    row.ExitPrice,
		Volume:       row.Volume,
		PnLKRW:       row.PnLKRW,
		RMultiple:    row.RMultiple,
		Reason:       row.Reason,
		Regime:       row.Regime,
		Stage:        details.Stage,
		BarsHeld:     details.BarsHeld,
		PartialTakes: details.PartialTakes,
		OpenedAt:     time.Unix(row.OpenedAtUnix, 0).UTC(),
		ClosedAt:     time.Unix(row.ClosedAtUnix, 0).UTC(),
	}
}
