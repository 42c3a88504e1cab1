// Package sqlite implements the trade journal on a local SQLite file using
// gorm and the pure-Go glebarez driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

var _ domain.TradeJournal = (*JournalStore)(nil)

// tradeRow is the persisted form of a domain.TradeRecord. Decimals are kept
// as their exact string form.
type tradeRow struct {
	ID               string `gorm:"primaryKey"`
	WindowID         string `gorm:"index"`
	State            string
	Side             string
	Outcome          string
	OrderType        string
	Price            string
	Size             string
	AvgPrice         string
	SlippagePct      string
	SecondsRemaining float64
	Level            string
	Reason           string
	OrderID          string
	Error            string
	DryRun           bool
	CreatedAt        time.Time `gorm:"index"`
	UpdatedAt        time.Time
}

func (tradeRow) TableName() string { return "trade_journal" }

// JournalStore implements domain.TradeJournal on SQLite.
type JournalStore struct {
	db *gorm.DB
}

// Open opens (creating if needed) the journal database at path and migrates
// its schema.
func Open(path string) (*JournalStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create journal directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &JournalStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *JournalStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record upserts one journal row, keeping the original creation time.
func (s *JournalStore) Record(ctx context.Context, r domain.TradeRecord) error {
	row := toRow(r)
	row.UpdatedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"window_id", "state", "price", "avg_price", "slippage_pct",
			"seconds_remaining", "level", "reason", "order_id", "error",
			"dry_run", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlite: record trade %s: %w", r.ID, err)
	}
	return nil
}

// Get returns one journal row by request ID.
func (s *JournalStore) Get(ctx context.Context, id string) (domain.TradeRecord, error) {
	var row tradeRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.TradeRecord{}, fmt.Errorf("sqlite: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("sqlite: get trade %s: %w", id, err)
	}
	return fromRow(row), nil
}

// List returns journal rows newest first.
func (s *JournalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	q := s.db.WithContext(ctx).Model(&tradeRow{})
	if opts.Since != nil {
		q = q.Where("created_at >= ?", opts.Since.UTC())
	}
	if opts.Until != nil {
		q = q.Where("created_at <= ?", opts.Until.UTC())
	}
	q = q.Order("created_at DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var rows []tradeRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func toRow(r domain.TradeRecord) tradeRow {
	return tradeRow{
		ID:               r.ID,
		WindowID:         r.WindowID,
		State:            string(r.State),
		Side:             string(r.Side),
		Outcome:          r.Outcome,
		OrderType:        string(r.Kind),
		Price:            nullString(r.Price),
		Size:             r.Size.String(),
		AvgPrice:         nullString(r.AveragePrice),
		SlippagePct:      nullString(r.SlippagePct),
		SecondsRemaining: r.SecondsRemaining,
		Level:            string(r.Level),
		Reason:           r.Reason,
		OrderID:          r.OrderID,
		Error:            r.Error,
		DryRun:           r.DryRun,
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

func fromRow(row tradeRow) domain.TradeRecord {
	size, _ := decimal.NewFromString(row.Size)
	return domain.TradeRecord{
		ID:               row.ID,
		WindowID:         row.WindowID,
		State:            domain.TradeState(row.State),
		Side:             domain.OrderSide(row.Side),
		Outcome:          row.Outcome,
		Kind:             domain.OrderType(row.OrderType),
		Price:            parseNull(row.Price),
		Size:             size,
		AveragePrice:     parseNull(row.AvgPrice),
		SlippagePct:      parseNull(row.SlippagePct),
		SecondsRemaining: row.SecondsRemaining,
		Level:            domain.VerdictLevel(row.Level),
		Reason:           row.Reason,
		OrderID:          row.OrderID,
		Error:            row.Error,
		DryRun:           row.DryRun,
		CreatedAt:        row.CreatedAt,
	}
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func parseNull(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
