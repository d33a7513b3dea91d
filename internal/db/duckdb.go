// Package db owns the DuckDB connection that stores farm records.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
	// Extensions are installed and loaded best effort.
	Extensions []string
}

// Get returns the singleton DuckDB connection, migrated.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			initErr = eris.Wrap(err, "failed to create duckdb directory")
			return
		}

		instance, initErr = Open(filepath.Join(duckdbDir, cfg.DBName+".duckdb"))
		if initErr != nil {
			return
		}

		for _, ext := range cfg.Extensions {
			if _, err := instance.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
				// Extensions might already be installed, continue
				zap.L().Debug("duckdb extension not loaded", zap.String("ext", ext), zap.Error(err))
			}
		}
	})
	return instance, initErr
}

// Open opens and migrates a database at path. An empty path is in-memory.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, eris.Wrapf(err, "open duckdb %q", path)
	}
	if err := Migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS farms (
	id                VARCHAR PRIMARY KEY,
	name              VARCHAR NOT NULL,
	farmer            VARCHAR NOT NULL DEFAULT '',
	farm_center_point VARCHAR NOT NULL DEFAULT '',
	farm_polygon      VARCHAR NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL DEFAULT current_timestamp,
	updated_at        TIMESTAMP NOT NULL DEFAULT current_timestamp
)`

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return eris.Wrap(err, "migrate farms table")
	}
	return nil
}

// Close closes the singleton connection. The next Get opens a new one.
func Close() error {
	conn := instance
	instance, initErr = nil, nil
	once = sync.Once{}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
