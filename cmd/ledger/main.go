// Command ledger processes a csv stream of payment transactions into
// per-client account balances, printed as csv on stdout.
//
// Usage:
//
//	ledger <input.csv>
//
// Events are written to a temporary sqlite event store (removed on exit)
// unless LEDGER_POSTGRES_DSN points at a postgres database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/moneta/ledger/account"
	"github.com/moneta/ledger/config"
	"github.com/moneta/ledger/csvio"
	"github.com/moneta/ledger/dispatch"
	"github.com/moneta/ledger/eventstore"
	"github.com/moneta/ledger/payments"
	"github.com/moneta/ledger/projection"
	"github.com/moneta/ledger/transaction"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ledger <input.csv>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync() }()

	input, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("could not read input file: %w", err)
	}

	defer func() { _ = input.Close() }()

	es, cleanup, err := openEventStore(cfg)
	if err != nil {
		return err
	}

	defer cleanup()

	ctx := context.Background()

	dispatcher := dispatch.New(
		func() dispatch.Handler {
			return payments.NewService(
				es,
				payments.WithLogger(logger),
				payments.WithSnapshotEvery(cfg.SnapshotEvery),
			)
		},
		dispatch.WithWorkers(cfg.Workers),
		dispatch.WithQueueSize(cfg.QueueSize),
		dispatch.WithLogger(logger),
	)

	dispatcher.Start(ctx)

	reader := csvio.NewReader(input)

	for {
		cmd, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			_ = dispatcher.Drain()

			return err
		}

		if err := dispatcher.Dispatch(ctx, cmd); err != nil {
			// A refused dispatch usually means a worker has already
			// failed - its error is the one worth reporting
			if drainErr := dispatcher.Drain(); drainErr != nil {
				return drainErr
			}

			return err
		}
	}

	if err := dispatcher.Drain(); err != nil {
		return err
	}

	logger.Info("stream processed", zap.Uint64("rejected", dispatcher.Rejected()))

	accounts := projection.NewAccounts()

	runner := projection.NewRunner(es, projection.WithLogger(logger))
	runner.Add(accounts.Project)

	if err := runner.Run(ctx); err != nil {
		return err
	}

	return csvio.WriteAccounts(os.Stdout, accounts.Rows())
}

// openEventStore opens the run's event store - the single shared mutable
// resource - and returns a cleanup closing it (and removing the temp
// sqlite files when applicable)
func openEventStore(cfg config.Config) (*eventstore.EventStore, func(), error) {
	enc := eventstore.NewJsonEncoder(append(account.Events(), transaction.Events()...)...)

	if cfg.PostgresDSN != "" {
		es, err := eventstore.New(enc, eventstore.WithPostgresDB(cfg.PostgresDSN))
		if err != nil {
			return nil, nil, err
		}

		return es, func() { _ = es.Close() }, nil
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("ledger-%d.db", time.Now().UnixNano()))

	es, err := eventstore.New(enc, eventstore.WithSQLiteDB(path))
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = es.Close()

		for _, f := range []string{path, path + "-shm", path + "-wal"} {
			_ = os.Remove(f)
		}
	}

	return es, cleanup, nil
}
