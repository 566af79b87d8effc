package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/moneta/ledger/eventstore"
)

// DefaultRetries is the default number of attempts an Executor makes
// before escalating a concurrency conflict
const DefaultRetries = 3

// Executor loads the aggregate with the given id, executes f against it and
// saves the produced events back to the store. A fresh (empty) aggregate is
// supplied when no events exist for the id yet. Concurrency conflicts on
// save are retried with reloaded state up to a bounded number of attempts
// before being escalated to the caller
type Executor[T Rooter] func(ctx context.Context, id string, f func(ctx context.Context, a T) error) error

// NewExecutor creates a new executor for the given aggregate store
// newFn should allocate an empty aggregate (eg. func() *Account { return &Account{} })
func NewExecutor[T Rooter](store *Store[T], newFn func() T, opts ...ExecutorOption) Executor[T] {
	cfg := executorConfig{retries: DefaultRetries}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	return func(ctx context.Context, id string, f func(ctx context.Context, a T) error) error {
		var err error

		for attempt := 0; attempt < cfg.retries; attempt++ {
			a := newFn()

			err = store.ByID(ctx, id, a)

			switch {
			case errors.Is(err, ErrAggregateNotFound):
				a.Rehydrate(a)
			case err != nil:
				return err
			}

			if err = f(ctx, a); err != nil {
				return err
			}

			err = store.Save(ctx, a)
			if err == nil || !errors.Is(err, eventstore.ErrConcurrencyCheckFailed) {
				return err
			}
		}

		return fmt.Errorf("gave up after %d attempts: %w", cfg.retries, err)
	}
}

type executorConfig struct {
	retries int
}

// ExecutorOption represents executor configuration option
type ExecutorOption func(executorConfig) executorConfig

// WithRetries configures the number of load-exec-save attempts made
// before a concurrency conflict is escalated
func WithRetries(n int) ExecutorOption {
	return func(cfg executorConfig) executorConfig {
		cfg.retries = n

		return cfg
	}
}
