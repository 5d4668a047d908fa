package storage_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
	"github.com/mxjoly/bybit-trading-bot/internal/infrastructure/storage"
)

func TestJournalRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	store, err := storage.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveOrder(ctx, &domain.OrderRecord{
		Symbol:    "BTCUSDT",
		Side:      domain.SideBuy,
		Type:      domain.OrderTypeLimit,
		Price:     50000,
		Qty:       0.2,
		LinkID:    "link-1",
		Purpose:   "entry",
		CreatedAt: now,
	}))
	require.NoError(t, store.SavePerformanceReport(ctx, &domain.PerformanceReport{
		Period:    "day",
		Label:     "01/01/2024",
		Percent:   5,
		Balance:   10500,
		CreatedAt: now,
	}))

	// The journal is write-only for the bot; verify the rows landed by
	// opening the file directly.
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var purpose string
	var price float64
	require.NoError(t, db.QueryRow(
		`SELECT purpose, price FROM orders WHERE symbol = ?`, "BTCUSDT").Scan(&purpose, &price))
	assert.Equal(t, "entry", purpose)
	assert.InDelta(t, 50000.0, price, 1e-9)

	var label string
	var percent float64
	require.NoError(t, db.QueryRow(
		`SELECT label, percent FROM performance_reports WHERE period = ?`, "day").Scan(&label, &percent))
	assert.Equal(t, "01/01/2024", label)
	assert.InDelta(t, 5.0, percent, 1e-9)
}
