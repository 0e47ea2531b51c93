// Package database keeps downloaded bars and the download history in DuckDB.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"histdata/go_src/configuration"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"github.com/sirupsen/logrus"
)

const (
	duckDBMemoryLimit = "1GB"
	duckDBThreads     = "2"
	inMemoryPath      = ":memory:"
)

// HistDB manages the DuckDB connection and the histdata schema.
type HistDB struct {
	db     *sql.DB
	dbPath string
}

// NewHistDB opens the database configured in config.Database.DBPath, or an
// in-memory database when useInMemory is set, and creates the schema.
func NewHistDB(config *configuration.Config, useInMemory bool) (*HistDB, error) {
	dbPath := inMemoryPath
	if !useInMemory {
		if config == nil || config.Database.DBPath == "" {
			return nil, fmt.Errorf("database path (db_path) not provided in configuration")
		}
		dbPath = config.Database.DBPath

		dbDir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory '%s': %w", dbDir, err)
		}
	}

	connStr := ""
	if !useInMemory {
		connStr = fmt.Sprintf("%s?access_mode=READ_WRITE", dbPath)
	}

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB database at %s: %w", dbPath, err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping DuckDB database at %s: %w", dbPath, err)
	}

	initialConfigs := []string{
		fmt.Sprintf("SET memory_limit='%s';", duckDBMemoryLimit),
		fmt.Sprintf("SET threads=%s;", duckDBThreads),
	}
	for _, confSQL := range initialConfigs {
		if _, err := db.Exec(confSQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply initial config '%s': %w", confSQL, err)
		}
	}

	hdb := &HistDB{db: db, dbPath: dbPath}
	if err := hdb.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logrus.Infof("DuckDB database ready at %s", dbPath)
	return hdb, nil
}

func (hdb *HistDB) createSchema() error {
	if err := NewBarStore(hdb).CreateSchemaBars(); err != nil {
		return err
	}
	return NewDownloadLog(hdb).CreateSchemaDownloads()
}

// Close closes the database connection.
func (hdb *HistDB) Close() error {
	if hdb.db != nil {
		return hdb.db.Close()
	}
	return nil
}

// DB returns the underlying sql.DB object for direct use if needed.
func (hdb *HistDB) DB() *sql.DB {
	return hdb.db
}

// Path returns the database file path, or ":memory:".
func (hdb *HistDB) Path() string {
	return hdb.dbPath
}
