package database

import (
	"database/sql"
	"fmt"
	"time"
)

// DownloadRecord is one finished download run.
type DownloadRecord struct {
	RunID     string
	Symbol    string
	BarSize   string
	FromDate  time.Time
	ToDate    time.Time
	State     string
	FileName  string
	BarCount  int
	Message   string
	CreatedAt time.Time
}

// DownloadLog handles operations for the downloads table.
type DownloadLog struct {
	hdb *HistDB
}

// NewDownloadLog creates a new DownloadLog.
func NewDownloadLog(hdb *HistDB) *DownloadLog {
	return &DownloadLog{hdb: hdb}
}

// CreateSchemaDownloads creates the downloads table.
func (dl *DownloadLog) CreateSchemaDownloads() error {
	schema := `
	CREATE TABLE IF NOT EXISTS downloads (
		run_id VARCHAR PRIMARY KEY,
		symbol VARCHAR,
		bar_size VARCHAR,
		from_date TIMESTAMP,
		to_date TIMESTAMP,
		state VARCHAR,
		file_name VARCHAR,
		bar_count INTEGER,
		message VARCHAR,
		created_at TIMESTAMP
	);`
	if _, err := dl.hdb.DB().Exec(schema); err != nil {
		return fmt.Errorf("failed to create downloads schema: %w", err)
	}
	return nil
}

// RecordDownload inserts or replaces the record for rec.RunID.
func (dl *DownloadLog) RecordDownload(rec DownloadRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT OR REPLACE INTO downloads (
		run_id, symbol, bar_size, from_date, to_date, state, file_name, bar_count, message, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	_, err := dl.hdb.DB().Exec(query,
		rec.RunID, rec.Symbol, rec.BarSize,
		nullTime(rec.FromDate), nullTime(rec.ToDate),
		rec.State, rec.FileName, rec.BarCount, rec.Message, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record download %s: %w", rec.RunID, err)
	}
	return nil
}

// GetDownload returns the record for runID.
func (dl *DownloadLog) GetDownload(runID string) (*DownloadRecord, error) {
	query := `
	SELECT run_id, symbol, bar_size, from_date, to_date, state, file_name, bar_count, message, created_at
	FROM downloads WHERE run_id = $1;`
	rec, err := scanDownload(dl.hdb.DB().QueryRow(query, runID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("download %s not found", runID)
		}
		return nil, fmt.Errorf("failed to get download %s: %w", runID, err)
	}
	return rec, nil
}

// ListDownloads returns the most recent downloads for symbol, newest first.
// An empty symbol lists every symbol.
func (dl *DownloadLog) ListDownloads(symbol string, limit int) ([]DownloadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT run_id, symbol, bar_size, from_date, to_date, state, file_name, bar_count, message, created_at
	FROM downloads
	WHERE $1 = '' OR symbol = $1
	ORDER BY created_at DESC
	LIMIT $2;`
	rows, err := dl.hdb.DB().Query(query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	var records []DownloadRecord
	for rows.Next() {
		rec, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating download rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDownload(row rowScanner) (*DownloadRecord, error) {
	var rec DownloadRecord
	var fromDate, toDate sql.NullTime
	var symbol, barSize, state, fileName, message sql.NullString
	var barCount sql.NullInt64
	err := row.Scan(&rec.RunID, &symbol, &barSize, &fromDate, &toDate, &state, &fileName, &barCount, &message, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Symbol = symbol.String
	rec.BarSize = barSize.String
	rec.FromDate = fromDate.Time
	rec.ToDate = toDate.Time
	rec.State = state.String
	rec.FileName = fileName.String
	rec.BarCount = int(barCount.Int64)
	rec.Message = message.String
	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
