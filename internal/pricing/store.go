// Package pricing owns the persisted ticket prices and the lookup that prices
// unknown destinations on first use.
package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

var (
	ErrInvalidPrice = errors.New("invalid price")
	ErrInvalidCity  = errors.New("invalid city")
)

type PriceRecord struct {
	City  string
	Price float64
}

// NormalizeCity returns the key a city is stored under.
func NormalizeCity(city string) string {
	return cases.Fold().String(strings.TrimSpace(city))
}

func validatePrice(price float64) error {
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	return nil
}

type Store struct {
	mux    sync.Mutex
	db     *sql.DB
	logger logger.Logger
}

func Open(ctx context.Context, path string, logger logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS prices (city TEXT PRIMARY KEY, price REAL)`); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("error creating prices table: %w", err)
	}
	logger.Debug("opened price database at %s", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, city string) (float64, bool, error) {
	key := NormalizeCity(city)
	if key == "" {
		return 0, false, ErrInvalidCity
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.get(ctx, key)
}

func (s *Store) get(ctx context.Context, key string) (float64, bool, error) {
	var price float64
	err := s.db.QueryRowContext(ctx, `SELECT price FROM prices WHERE city = ?`, key).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("error reading price for %s: %w", key, err)
	}
	return price, true, nil
}

func (s *Store) Set(ctx context.Context, city string, price float64) error {
	key := NormalizeCity(city)
	if key == "" {
		return ErrInvalidCity
	}
	if err := validatePrice(price); err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO prices (city, price) VALUES (?, ?) ON CONFLICT(city) DO UPDATE SET price = excluded.price`,
		key, price,
	); err != nil {
		return fmt.Errorf("error writing price for %s: %w", key, err)
	}
	s.logger.Debug("stored price %.2f for %s", price, key)
	return nil
}

// Add stores price for city unless a record already exists. It returns the
// price stored after the call and whether this call inserted it.
func (s *Store) Add(ctx context.Context, city string, price float64) (float64, bool, error) {
	key := NormalizeCity(city)
	if key == "" {
		return 0, false, ErrInvalidCity
	}
	if err := validatePrice(price); err != nil {
		return 0, false, err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prices (city, price) VALUES (?, ?) ON CONFLICT(city) DO NOTHING`,
		key, price,
	)
	if err != nil {
		return 0, false, fmt.Errorf("error adding price for %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return price, true, nil
	}
	stored, ok, err := s.get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, fmt.Errorf("price for %s vanished after insert", key)
	}
	return stored, false, nil
}

func (s *Store) List(ctx context.Context) ([]PriceRecord, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT city, price FROM prices ORDER BY city`)
	if err != nil {
		return nil, fmt.Errorf("error listing prices: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var records []PriceRecord
	for rows.Next() {
		var r PriceRecord
		if err := rows.Scan(&r.City, &r.Price); err != nil {
			return nil, fmt.Errorf("error scanning price row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error listing prices: %w", err)
	}
	return records, nil
}

// Seed upserts the given prices in one transaction.
func (s *Store) Seed(ctx context.Context, prices map[string]float64) error {
	for city, price := range prices {
		if NormalizeCity(city) == "" {
			return ErrInvalidCity
		}
		if err := validatePrice(price); err != nil {
			return fmt.Errorf("error seeding %s: %w", city, err)
		}
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting seed transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for city, price := range prices {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO prices (city, price) VALUES (?, ?) ON CONFLICT(city) DO UPDATE SET price = excluded.price`,
			NormalizeCity(city), price,
		); err != nil {
			return fmt.Errorf("error seeding %s: %w", city, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing seed transaction: %w", err)
	}
	s.logger.Info("seeded %d prices", len(prices))
	return nil
}
