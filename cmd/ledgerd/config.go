package main

import (
	"fmt"

	"github.com/lnledger/lnledger/sqldb"
)

const (
	defaultListenAddr = "localhost:8380"
	defaultLogLevel   = "info"
	defaultDBPath     = "lnledger.db"

	// Supported database backends.
	backendSqlite   = "sqlite"
	backendPostgres = "postgres"
)

// Config holds the ledgerd runtime configuration.
//
//nolint:ll
type Config struct {
	ListenAddr string `long:"listenaddr" description:"The host:port the HTTP API listens on."`
	LogLevel   string `long:"loglevel" description:"Logging level: trace, debug, info, warn, error, critical."`

	DatabaseBackend string `long:"databasebackend" description:"The database backend to use." choice:"sqlite" choice:"postgres"`
	DatabasePath    string `long:"databasepath" description:"Path of the sqlite database file."`

	Sqlite   *sqldb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres *sqldb.PostgresConfig `group:"postgres" namespace:"postgres"`
}

// DefaultConfig returns the config filled with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      defaultListenAddr,
		LogLevel:        defaultLogLevel,
		DatabaseBackend: backendSqlite,
		DatabasePath:    defaultDBPath,
		Sqlite:          &sqldb.SqliteConfig{},
		Postgres:        &sqldb.PostgresConfig{},
	}
}

// Validate checks the parsed config for impossible combinations.
func (c *Config) Validate() error {
	switch c.DatabaseBackend {
	case backendSqlite:
		if c.DatabasePath == "" {
			return fmt.Errorf("databasepath is required for the " +
				"sqlite backend")
		}

	case backendPostgres:
		if err := c.Postgres.Validate(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown database backend %q",
			c.DatabaseBackend)
	}

	return nil
}
