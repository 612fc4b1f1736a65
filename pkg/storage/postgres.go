package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresBackend returns a networked store backed by Postgres via the
// pgx stdlib driver.
func NewPostgresBackend(cfg Config) *sqlStore {
	store := &sqlStore{dialect: "postgres", lockClause: " FOR UPDATE"}
	store.open = func(_ context.Context) (*sql.DB, error) {
		db, err := sql.Open("pgx", postgresDSN(cfg))
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		return db, nil
	}
	store.driver = func(db *sql.DB) (migratedb.Driver, error) {
		return migratepostgres.WithInstance(db, &migratepostgres.Config{})
	}
	return store
}

func postgresDSN(cfg Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     cfg.Database,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}
