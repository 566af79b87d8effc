// Package payments orchestrates input commands across the transaction and
// account aggregates. The two-step flows are a naive saga - each step is
// idempotent so that a replayed command converges instead of corrupting state
package payments

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/moneta/ledger/account"
	"github.com/moneta/ledger/aggregate"
	"github.com/moneta/ledger/transaction"
)

// ErrUnknownTransaction is returned when a dispute related command
// references a transaction id that was never recorded (or one recorded
// for a different client)
var ErrUnknownTransaction = errors.New("unknown transaction")

// NewService constructs a payment service on top of the given event store
func NewService(es aggregate.EventStore, opts ...ServiceOption) *Service {
	cfg := serviceConfig{
		logger:  zap.NewNop(),
		retries: aggregate.DefaultRetries,
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	storeOpts := []aggregate.StoreOption{}

	if cfg.snapshotEvery > 0 {
		storeOpts = append(storeOpts, aggregate.WithSnapshotEvery(cfg.snapshotEvery))
	}

	accounts := aggregate.NewStore[*account.Account](es, storeOpts...)
	transactions := aggregate.NewStore[*transaction.Transaction](es, storeOpts...)

	return &Service{
		transactions: transactions,
		execAccount:  aggregate.NewExecutor(accounts, account.New, aggregate.WithRetries(cfg.retries)),
		execTx:       aggregate.NewExecutor(transactions, transaction.New, aggregate.WithRetries(cfg.retries)),
		log:          cfg.logger,
	}
}

type serviceConfig struct {
	logger        *zap.Logger
	snapshotEvery int
	retries       int
}

// ServiceOption represents payment service configuration option
type ServiceOption func(serviceConfig) serviceConfig

// WithLogger configures the structured logger used by the service
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(cfg serviceConfig) serviceConfig {
		cfg.logger = logger

		return cfg
	}
}

// WithSnapshotEvery configures aggregate state snapshots each n events
func WithSnapshotEvery(n int) ServiceOption {
	return func(cfg serviceConfig) serviceConfig {
		cfg.snapshotEvery = n

		return cfg
	}
}

// WithConflictRetries configures how many times a concurrency conflict is
// retried before being escalated as a run-level failure
func WithConflictRetries(n int) ServiceOption {
	return func(cfg serviceConfig) serviceConfig {
		cfg.retries = n

		return cfg
	}
}

// Service coordinates commands between the transaction and account
// aggregates. Deposits and withdrawals are recorded against the
// transaction aggregate first so that duplicate ids abort before any
// balance is touched. Dispute flows consult the transaction record for
// the authoritative client id and amount - never the input row
type Service struct {
	transactions *aggregate.Store[*transaction.Transaction]
	execAccount  aggregate.Executor[*account.Account]
	execTx       aggregate.Executor[*transaction.Transaction]
	log          *zap.Logger
}

// Handle processes a single input command. Business rule violations are
// returned as rejection errors (see IsRejection) and leave all state
// unchanged - the caller decides whether to continue with the next command
func (s *Service) Handle(ctx context.Context, cmd Command) error {
	ctx = aggregate.CtxWithMeta(ctx, map[string]string{
		"command": string(cmd.Type),
	})

	switch cmd.Type {
	case Deposit:
		return s.deposit(ctx, cmd)
	case Withdrawal:
		return s.withdraw(ctx, cmd)
	case Dispute:
		return s.dispute(ctx, cmd)
	case Resolve:
		return s.resolve(ctx, cmd)
	case Chargeback:
		return s.chargeback(ctx, cmd)
	default:
		return fmt.Errorf("unrecognized command type %q", cmd.Type)
	}
}

func (s *Service) deposit(ctx context.Context, cmd Command) error {
	s.log.Debug("depositing",
		zap.Uint16("client", cmd.Client),
		zap.Uint32("tx", cmd.Tx),
		zap.String("amount", cmd.Amount.String()),
	)

	// Recording the transaction first means a duplicate id aborts the
	// whole command before the account is touched
	err := s.execTx(ctx, transaction.ID(cmd.Tx).String(), func(_ context.Context, tx *transaction.Transaction) error {
		return tx.Record(transaction.ID(cmd.Tx), cmd.Client, transaction.TypeDeposit, cmd.Amount)
	})
	if err != nil {
		return err
	}

	return s.execAccount(ctx, account.ID(cmd.Client).String(), func(_ context.Context, acc *account.Account) error {
		return acc.Deposit(account.ID(cmd.Client), cmd.Tx, cmd.Amount)
	})
}

func (s *Service) withdraw(ctx context.Context, cmd Command) error {
	s.log.Debug("withdrawing",
		zap.Uint16("client", cmd.Client),
		zap.Uint32("tx", cmd.Tx),
		zap.String("amount", cmd.Amount.String()),
	)

	err := s.execTx(ctx, transaction.ID(cmd.Tx).String(), func(_ context.Context, tx *transaction.Transaction) error {
		return tx.Record(transaction.ID(cmd.Tx), cmd.Client, transaction.TypeWithdrawal, cmd.Amount)
	})
	if err != nil {
		return err
	}

	return s.execAccount(ctx, account.ID(cmd.Client).String(), func(_ context.Context, acc *account.Account) error {
		return acc.Withdraw(account.ID(cmd.Client), cmd.Tx, cmd.Amount)
	})
}

func (s *Service) dispute(ctx context.Context, cmd Command) error {
	s.log.Debug("disputing", zap.Uint16("client", cmd.Client), zap.Uint32("tx", cmd.Tx))

	rec, err := s.lookup(ctx, cmd)
	if err != nil {
		return err
	}

	if err := rec.EnsureDisputable(); err != nil {
		return err
	}

	owner := account.ID(rec.Client)

	err = s.execAccount(ctx, owner.String(), func(_ context.Context, acc *account.Account) error {
		return acc.Hold(owner, cmd.Tx, rec.Amount)
	})
	if err != nil {
		return err
	}

	return s.execTx(ctx, transaction.ID(cmd.Tx).String(), func(_ context.Context, tx *transaction.Transaction) error {
		return tx.MarkDisputed()
	})
}

func (s *Service) resolve(ctx context.Context, cmd Command) error {
	s.log.Debug("resolving", zap.Uint16("client", cmd.Client), zap.Uint32("tx", cmd.Tx))

	rec, err := s.lookup(ctx, cmd)
	if err != nil {
		return err
	}

	switch rec.Status {
	case transaction.StatusDisputed:
	case transaction.StatusResolved:
		// Retried resolve - already done
		return nil
	default:
		return transaction.ErrInvalidStateTransition
	}

	owner := account.ID(rec.Client)

	err = s.execAccount(ctx, owner.String(), func(_ context.Context, acc *account.Account) error {
		return acc.Release(owner, cmd.Tx, rec.Amount)
	})
	if err != nil {
		return err
	}

	return s.execTx(ctx, transaction.ID(cmd.Tx).String(), func(_ context.Context, tx *transaction.Transaction) error {
		return tx.MarkResolved()
	})
}

func (s *Service) chargeback(ctx context.Context, cmd Command) error {
	s.log.Debug("charging back", zap.Uint16("client", cmd.Client), zap.Uint32("tx", cmd.Tx))

	rec, err := s.lookup(ctx, cmd)
	if err != nil {
		return err
	}

	switch rec.Status {
	case transaction.StatusDisputed:
	case transaction.StatusChargedBack:
		// Retried chargeback - already done
		return nil
	default:
		return transaction.ErrInvalidStateTransition
	}

	owner := account.ID(rec.Client)

	err = s.execAccount(ctx, owner.String(), func(_ context.Context, acc *account.Account) error {
		return acc.Chargeback(owner, cmd.Tx, rec.Amount)
	})
	if err != nil {
		return err
	}

	return s.execTx(ctx, transaction.ID(cmd.Tx).String(), func(_ context.Context, tx *transaction.Transaction) error {
		return tx.MarkChargedBack()
	})
}

// lookup loads the authoritative transaction record referenced by a
// dispute related command. A record owned by a different client than the
// input row claims is treated as unknown - trusting the row here would
// let a malformed dispute target another client's account
func (s *Service) lookup(ctx context.Context, cmd Command) (*transaction.Transaction, error) {
	rec := transaction.New()

	err := s.transactions.ByID(ctx, transaction.ID(cmd.Tx).String(), rec)
	if err != nil {
		if errors.Is(err, aggregate.ErrAggregateNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, cmd.Tx)
		}

		return nil, err
	}

	if rec.Client != cmd.Client {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, cmd.Tx)
	}

	return rec, nil
}

// IsRejection reports whether err is a per-command business rule
// violation. Rejections leave state unchanged and are not fatal to a run -
// anything else (storage faults, escalated concurrency conflicts,
// internal consistency errors) is
func IsRejection(err error) bool {
	return errors.Is(err, transaction.ErrDuplicateTransaction) ||
		errors.Is(err, transaction.ErrInvalidTransactionType) ||
		errors.Is(err, transaction.ErrInvalidStateTransition) ||
		errors.Is(err, ErrUnknownTransaction) ||
		errors.Is(err, account.ErrInsufficientFunds) ||
		errors.Is(err, account.ErrAccountLocked) ||
		errors.Is(err, account.ErrIllegalAmount)
}
