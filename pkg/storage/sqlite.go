package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"
)

// NewSQLiteBackend returns an embedded store backed by a single database
// file. The parent directory is created if it does not exist.
func NewSQLiteBackend(path string) *sqlStore {
	store := &sqlStore{dialect: "sqlite"}
	store.open = func(_ context.Context) (*sql.DB, error) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		// WAL keeps readers unblocked during turn persistence; the busy
		// timeout covers concurrent writers from the HTTP handlers.
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// modernc's driver serializes access through a single connection;
		// more than one open conn risks SQLITE_BUSY under write load.
		db.SetMaxOpenConns(1)
		return db, nil
	}
	store.driver = func(db *sql.DB) (migratedb.Driver, error) {
		return migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}
	return store
}
