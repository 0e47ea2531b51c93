package database

import (
	"fmt"
	"strings"
	"time"

	"histdata/go_src/gateway"
)

// BarStore handles operations for the bars table.
type BarStore struct {
	hdb *HistDB
}

// NewBarStore creates a new BarStore.
func NewBarStore(hdb *HistDB) *BarStore {
	return &BarStore{hdb: hdb}
}

// CreateSchemaBars creates the bars table.
func (bs *BarStore) CreateSchemaBars() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bars (
		symbol VARCHAR NOT NULL,
		bar_size VARCHAR NOT NULL,
		ts TIMESTAMP NOT NULL,
		open DOUBLE,
		high DOUBLE,
		low DOUBLE,
		close DOUBLE,
		volume DOUBLE,
		run_id VARCHAR,
		updated_at TIMESTAMP,
		PRIMARY KEY (symbol, bar_size, ts)
	);`
	if _, err := bs.hdb.DB().Exec(schema); err != nil {
		return fmt.Errorf("failed to create bars schema: %w", err)
	}
	return nil
}

// StoreBars upserts bars for symbol and bar size and returns how many were written.
// A bar whose timestamp is already stored replaces the stored one.
func (bs *BarStore) StoreBars(runID, symbol, barSize string, bars []gateway.Bar) (int, error) {
	if symbol == "" || barSize == "" {
		return 0, fmt.Errorf("symbol and bar size are required")
	}
	bars = uniqueByTime(bars)
	if len(bars) == 0 {
		return 0, nil
	}
	symbol = strings.ToUpper(symbol)

	tx, err := bs.hdb.DB().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for %s %s: %w", symbol, barSize, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
	INSERT INTO bars (symbol, bar_size, ts, open, high, low, close, volume, run_id, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (symbol, bar_size, ts) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume,
		run_id = excluded.run_id,
		updated_at = excluded.updated_at;`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, b := range bars {
		ts := time.Unix(b.Time, 0).UTC()
		if _, err := stmt.Exec(symbol, barSize, ts, b.Open, b.High, b.Low, b.Close, b.Volume, runID, now); err != nil {
			return 0, fmt.Errorf("failed to store bar %s for %s %s: %w", ts.Format(time.RFC3339), symbol, barSize, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bars for %s %s: %w", symbol, barSize, err)
	}
	return len(bars), nil
}

// GetBars returns the stored bars in [from, to), oldest first.
func (bs *BarStore) GetBars(symbol, barSize string, from, to time.Time) ([]gateway.Bar, error) {
	query := `
	SELECT ts, open, high, low, close, volume
	FROM bars
	WHERE symbol = $1 AND bar_size = $2 AND ts >= $3 AND ts < $4
	ORDER BY ts;`
	rows, err := bs.hdb.DB().Query(query, strings.ToUpper(symbol), barSize, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s %s: %w", symbol, barSize, err)
	}
	defer rows.Close()

	var bars []gateway.Bar
	for rows.Next() {
		var ts time.Time
		var b gateway.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar row for %s %s: %w", symbol, barSize, err)
		}
		b.Time = ts.Unix()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bar rows for %s %s: %w", symbol, barSize, err)
	}
	return bars, nil
}

// CountBars returns how many bars are stored for symbol and bar size.
func (bs *BarStore) CountBars(symbol, barSize string) (int, error) {
	var n int
	err := bs.hdb.DB().QueryRow("SELECT COUNT(*) FROM bars WHERE symbol = $1 AND bar_size = $2;", strings.ToUpper(symbol), barSize).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars for %s %s: %w", symbol, barSize, err)
	}
	return n, nil
}

// uniqueByTime keeps the last bar for each timestamp, preserving first-seen order.
func uniqueByTime(bars []gateway.Bar) []gateway.Bar {
	index := make(map[int64]int, len(bars))
	out := make([]gateway.Bar, 0, len(bars))
	for _, b := range bars {
		if i, ok := index[b.Time]; ok {
			out[i] = b
			continue
		}
		index[b.Time] = len(out)
		out = append(out, b)
	}
	return out
}
