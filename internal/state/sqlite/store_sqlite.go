package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"hl-pairs-bot/internal/market"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS price_bars (
		timestamp TEXT PRIMARY KEY,
		mid_a TEXT,
		mark_a TEXT,
		close_a TEXT,
		mid_b TEXT,
		mark_b TEXT,
		close_b TEXT,
		funding_a TEXT,
		funding_b TEXT,
		funding_interval_hours INTEGER,
		created_at TEXT NOT NULL
	)`)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// SaveBar upserts one pair bar keyed by its close timestamp.
func (s *Store) SaveBar(ctx context.Context, record market.BarRecord) error {
	var interval any
	if record.FundingIntervalHours != nil {
		interval = *record.FundingIntervalHours
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO price_bars (
		timestamp, mid_a, mark_a, close_a, mid_b, mark_b, close_b,
		funding_a, funding_b, funding_interval_hours, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(timestamp) DO UPDATE SET
		mid_a = excluded.mid_a,
		mark_a = excluded.mark_a,
		close_a = excluded.close_a,
		mid_b = excluded.mid_b,
		mark_b = excluded.mark_b,
		close_b = excluded.close_b,
		funding_a = excluded.funding_a,
		funding_b = excluded.funding_b,
		funding_interval_hours = excluded.funding_interval_hours`,
		record.Timestamp.UTC().Format(time.RFC3339),
		decimalText(record.MidA), decimalText(record.MarkA), decimalText(record.CloseA),
		decimalText(record.MidB), decimalText(record.MarkB), decimalText(record.CloseB),
		decimalText(record.FundingA), decimalText(record.FundingB),
		interval,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// LoadBar fetches the bar at an exact close timestamp.
func (s *Store) LoadBar(ctx context.Context, ts time.Time) (market.BarRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT timestamp, mid_a, mark_a, close_a, mid_b, mark_b, close_b,
		funding_a, funding_b, funding_interval_hours
		FROM price_bars WHERE timestamp = ?`, ts.UTC().Format(time.RFC3339))
	record, err := scanBar(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return market.BarRecord{}, false, nil
		}
		return market.BarRecord{}, false, err
	}
	return record, true, nil
}

// LoadBarRange returns bars with start <= timestamp <= end in ascending order.
func (s *Store) LoadBarRange(ctx context.Context, start, end time.Time) ([]market.BarRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, mid_a, mark_a, close_a, mid_b, mark_b, close_b,
		funding_a, funding_b, funding_interval_hours
		FROM price_bars WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []market.BarRecord
	for rows.Next() {
		record, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBar(row rowScanner) (market.BarRecord, error) {
	var (
		ts       string
		cols     [8]sql.NullString
		interval sql.NullInt64
	)
	if err := row.Scan(&ts, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6], &cols[7], &interval); err != nil {
		return market.BarRecord{}, err
	}
	timestamp, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return market.BarRecord{}, err
	}
	record := market.BarRecord{Timestamp: timestamp.UTC()}
	fields := []**decimal.Decimal{
		&record.MidA, &record.MarkA, &record.CloseA,
		&record.MidB, &record.MarkB, &record.CloseB,
		&record.FundingA, &record.FundingB,
	}
	for i, field := range fields {
		if !cols[i].Valid {
			continue
		}
		value, err := decimal.NewFromString(cols[i].String)
		if err != nil {
			return market.BarRecord{}, err
		}
		*field = &value
	}
	if interval.Valid {
		hours := interval.Int64
		record.FundingIntervalHours = &hours
	}
	return record, nil
}

func decimalText(value *decimal.Decimal) any {
	if value == nil {
		return nil
	}
	return value.String()
}
