package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lnledger/lnledger/api"
	"github.com/lnledger/lnledger/ledger"
	"github.com/lnledger/lnledger/sqldb"
	"github.com/lnledger/lnledger/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := DefaultConfig()
	if _, err := flags.Parse(cfg); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) &&
			flagsErr.Type == flags.ErrHelp {

			return nil
		}

		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := setupLogging(cfg.LogLevel)
	if err != nil {
		return err
	}

	// Open the database backend. Migrations run as part of opening the
	// store, so the sqldb logger has to be live first.
	db, cleanup, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer cleanup()

	store := ledger.NewSQLStoreFromDB(db, clock.NewDefaultClock())

	service := ledger.NewService(&ledger.ServiceConfig{
		DB:    store,
		Clock: clock.NewDefaultClock(),
	})
	if err := service.Start(); err != nil {
		return fmt.Errorf("unable to start payment service: %w", err)
	}
	defer service.Stop()

	notifier := webhook.NewNotifier(webhook.Config{
		Source: service,
	})
	if err := notifier.Start(); err != nil {
		return fmt.Errorf("unable to start webhook notifier: %w", err)
	}
	defer notifier.Stop()

	apiServer := api.NewServer(api.Config{
		ListenAddr: cfg.ListenAddr,
		Service:    service,
	})
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("unable to start API server: %w", err)
	}
	defer apiServer.Stop()

	log.Infof("ledgerd running, API on %v, database backend %v",
		cfg.ListenAddr, cfg.DatabaseBackend)

	// Block until we get a signal to shut down, the deferred Stop calls
	// unwind in reverse start order.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown

	log.Infof("Received %v, shutting down", sig)

	return nil
}

// setupLogging wires a console logger into every package of the module and
// returns the root logger.
func setupLogging(levelStr string) (btclog.Logger, error) {
	level, ok := btclogv1.LevelFromString(levelStr)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", levelStr)
	}

	handler := btclog.NewDefaultHandler(os.Stdout)
	rootLog := btclog.NewSLogger(handler)
	rootLog.SetLevel(level)

	for tag, use := range map[string]func(btclog.Logger){
		"LDGR": ledger.UseLogger,
		"SQLD": sqldb.UseLogger,
		"API":  api.UseLogger,
		"WHK":  webhook.UseLogger,
	} {
		subLog := rootLog.SubSystem(tag)
		subLog.SetLevel(level)
		use(subLog)
	}

	return rootLog.SubSystem("LGRD"), nil
}

// openDatabase opens the configured backend and returns its BaseDB together
// with a close function.
func openDatabase(cfg *Config) (*sqldb.BaseDB, func(), error) {
	switch cfg.DatabaseBackend {
	case backendSqlite:
		store, err := sqldb.NewSqliteStore(
			cfg.Sqlite, cfg.DatabasePath,
		)
		if err != nil {
			return nil, nil, err
		}

		return store.BaseDB, func() { store.Close() }, nil

	case backendPostgres:
		store, err := sqldb.NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}

		return store.BaseDB, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown database backend %q",
			cfg.DatabaseBackend)
	}
}
