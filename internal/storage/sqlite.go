package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"cryptocrawler/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists prices and listings to a single SQLite database.
// Timestamps are stored as RFC3339Nano text.
type SQLiteSink struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteSink opens (or creates) the database at path and runs migrations.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteSink{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("sqlite sink opened", "path", path)
	return s, nil
}

// migrate creates the prices and listings tables if they do not exist.
func (s *SQLiteSink) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS prices (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			symbol    TEXT NOT NULL,
			price     REAL NOT NULL,
			sma       REAL,
			source    TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS listings (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			rank               INTEGER NOT NULL,
			name               TEXT NOT NULL,
			symbol             TEXT NOT NULL,
			price              REAL NOT NULL,
			market_cap         REAL NOT NULL,
			volume_24h         REAL NOT NULL,
			percent_change_1h  REAL NOT NULL,
			percent_change_24h REAL NOT NULL,
			percent_change_7d  REAL NOT NULL,
			source             TEXT NOT NULL,
			scraped_at         TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Kind returns KindSQLite.
func (s *SQLiteSink) Kind() Kind { return KindSQLite }

// Path returns the database file path.
func (s *SQLiteSink) Path() string { return s.path }

// WritePrice inserts one price row. A nil SMA is stored as NULL.
func (s *SQLiteSink) WritePrice(ctx context.Context, p model.PricePoint) error {
	var sma sql.NullFloat64
	if p.HasSMA() {
		sma = sql.NullFloat64{Float64: *p.SMA, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prices (timestamp, symbol, price, sma, source) VALUES (?, ?, ?, ?, ?)`,
		p.Timestamp.Format(time.RFC3339Nano), p.Symbol, p.Price, sma, p.Source,
	)
	if err != nil {
		return fmt.Errorf("insert price: %w", err)
	}
	return nil
}

// WriteListings inserts all records in one transaction.
func (s *SQLiteSink) WriteListings(ctx context.Context, records []model.ListingRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO listings (
		rank, name, symbol, price, market_cap, volume_24h,
		percent_change_1h, percent_change_24h, percent_change_7d,
		source, scraped_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert listing: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Rank, r.Name, r.Symbol, r.Price, r.MarketCap, r.Volume24h,
			r.PercentChange1h, r.PercentChange24h, r.PercentChange7d,
			r.Source, r.ScrapedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert listing %s: %w", r.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit listings: %w", err)
	}
	return nil
}

// RecentPrices returns up to n of the latest prices for symbol, oldest first.
func (s *SQLiteSink) RecentPrices(ctx context.Context, symbol string, n int) ([]model.PricePoint, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, symbol, price, sma, source FROM prices
		 WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var (
			ts  string
			sma sql.NullFloat64
			p   model.PricePoint
		)
		if err := rows.Scan(&ts, &p.Symbol, &p.Price, &sma, &p.Source); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		if p.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		if sma.Valid {
			v := sma.Float64
			p.SMA = &v
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prices: %w", err)
	}

	slices.Reverse(points)
	return points, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
