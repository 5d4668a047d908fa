package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
)

// SQLiteStore is the insert-only trade journal: every accepted order
// and every emitted performance report gets a row. The bot never reads
// it back, so losing the file loses history, not trading state.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			price REAL NOT NULL,
			qty REAL NOT NULL,
			link_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);`,
		`CREATE TABLE IF NOT EXISTS performance_reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			period TEXT NOT NULL,
			label TEXT NOT NULL,
			percent REAL NOT NULL,
			balance REAL NOT NULL,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, rec *domain.OrderRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (symbol, side, order_type, price, qty, link_id, purpose, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Symbol, string(rec.Side), string(rec.Type), rec.Price, rec.Qty, rec.LinkID, rec.Purpose, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SavePerformanceReport(ctx context.Context, rep *domain.PerformanceReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_reports (period, label, percent, balance, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rep.Period, rep.Label, rep.Percent, rep.Balance, rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save performance report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
