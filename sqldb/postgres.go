package sqldb

import (
	"database/sql"
	"fmt"
	"time"

	pgx_migrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // Register relevant drivers.
	"github.com/lnledger/lnledger/sqldb/sqlc"
)

var (
	// postgresSchemaReplacements maps schema strings to their Postgres
	// compatible replacements. The schema definition files are written
	// for SQLite, so types not understood by Postgres are mapped here.
	postgresSchemaReplacements = map[string]string{
		"BLOB": "BYTEA",
	}
)

// PostgresStore is a database store implementation that uses a Postgres
// backend.
type PostgresStore struct {
	cfg *PostgresConfig

	*BaseDB
}

// NewPostgresStore creates a new store that is backed by a Postgres database
// backend.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	log.Infof("Using SQL database '%s'", cfg.Dsn)

	rawDB, err := sql.Open("pgx", cfg.Dsn)
	if err != nil {
		return nil, err
	}

	maxConns := defaultMaxConns
	if cfg.MaxConnections > 0 {
		maxConns = cfg.MaxConnections
	}

	rawDB.SetMaxOpenConns(maxConns)
	rawDB.SetMaxIdleConns(maxConns)
	rawDB.SetConnMaxLifetime(defaultConnMaxLifetime)

	if cfg.Timeout != 0 {
		rawDB.SetConnMaxIdleTime(cfg.Timeout)
	} else {
		rawDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	queries := sqlc.New(rawDB)

	s := &PostgresStore{
		cfg: cfg,
		BaseDB: &BaseDB{
			DB:      rawDB,
			Queries: queries,
		},
	}

	// Now that the database is open, populate the database with our set
	// of schemas based on our embedded in-memory file system.
	if !cfg.SkipMigrations {
		if err := s.ExecuteMigrations(TargetLatest); err != nil {
			return nil, fmt.Errorf("error executing migrations: "+
				"%w", err)
		}
	}

	return s, nil
}

// ExecuteMigrations runs migrations for the Postgres database, depending on
// the target given, either all migrations or up to a given version.
func (s *PostgresStore) ExecuteMigrations(target MigrationTarget) error {
	driver, err := pgx_migrate.WithInstance(
		s.DB, &pgx_migrate.Config{},
	)
	if err != nil {
		return fmt.Errorf("error creating postgres migration: %w", err)
	}

	// Populate the database with our set of schemas based on our embedded
	// in-memory file system.
	postgresFS := newReplacerFS(sqlSchemas, postgresSchemaReplacements)
	return applyMigrations(
		postgresFS, driver, "sqlc/migrations", "postgres", target,
	)
}
