// Package dispatch fans an ordered command stream out to a fixed pool of
// workers partitioned by client id, consumer-group style. All commands
// for a given client are handled by exactly one worker in input order;
// no ordering is guaranteed across clients
package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moneta/ledger/payments"
)

// Handler processes a single command. Implemented by *payments.Service
type Handler interface {
	Handle(ctx context.Context, cmd payments.Command) error
}

// New constructs a dispatcher. newHandler is invoked once per worker so
// that each worker runs its own payment service instance
func New(newHandler func() Handler, opts ...Option) *Dispatcher {
	cfg := config{
		workers:   runtime.NumCPU(),
		queueSize: 100,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.workers < 1 {
		cfg.workers = 1
	}

	d := Dispatcher{
		newHandler: newHandler,
		queues:     make([]chan payments.Command, cfg.workers),
		log:        cfg.logger,
	}

	for i := range d.queues {
		d.queues[i] = make(chan payments.Command, cfg.queueSize)
	}

	return &d
}

type config struct {
	workers   int
	queueSize int
	logger    *zap.Logger
}

// Option represents dispatcher configuration option
type Option func(config) config

// WithWorkers configures the fixed worker pool size
func WithWorkers(n int) Option {
	return func(cfg config) config {
		cfg.workers = n

		return cfg
	}
}

// WithQueueSize configures the bounded per-worker queue capacity
// Dispatch blocks when the target worker's queue is full
func WithQueueSize(n int) Option {
	return func(cfg config) config {
		cfg.queueSize = n

		return cfg
	}
}

// WithLogger configures the structured logger used by the workers
func WithLogger(logger *zap.Logger) Option {
	return func(cfg config) config {
		cfg.logger = logger

		return cfg
	}
}

// Dispatcher routes commands to workers by a deterministic hash of the
// client id and drains them at shutdown
type Dispatcher struct {
	newHandler func() Handler
	queues     []chan payments.Command
	log        *zap.Logger

	rejected atomic.Uint64

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// Start launches the worker pool
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.group, d.ctx = errgroup.WithContext(ctx)

	for i, queue := range d.queues {
		d.group.Go(d.worker(i, queue))
	}
}

// Dispatch routes a command to the worker owning its client partition,
// blocking while that worker's queue is full. Start must have been
// called. Dispute related commands carry the referenced client id, so
// every command touching an account lands on the worker that owns it
func (d *Dispatcher) Dispatch(ctx context.Context, cmd payments.Command) error {
	if d.ctx == nil {
		return fmt.Errorf("dispatcher is not started")
	}

	queue := d.queues[partition(cmd.Client, len(d.queues))]

	select {
	case queue <- cmd:
		return nil
	case <-d.ctx.Done():
		return fmt.Errorf("dispatch halted: %w", context.Cause(d.ctx))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain closes all worker queues, waits for the workers to finish their
// assigned streams and returns the first worker error if any
func (d *Dispatcher) Drain() error {
	for _, queue := range d.queues {
		close(queue)
	}

	err := d.group.Wait()

	d.cancel()

	return err
}

// Rejected returns the number of commands rejected by business rules
// over the lifetime of the dispatcher
func (d *Dispatcher) Rejected() uint64 {
	return d.rejected.Load()
}

func (d *Dispatcher) worker(id int, queue <-chan payments.Command) func() error {
	return func() error {
		handler := d.newHandler()

		log := d.log.With(zap.Int("worker", id))

		for {
			select {
			case cmd, ok := <-queue:
				if !ok {
					return nil
				}

				err := handler.Handle(d.ctx, cmd)
				if err == nil {
					continue
				}

				if payments.IsRejection(err) {
					d.rejected.Add(1)

					log.Warn("command rejected",
						zap.String("type", string(cmd.Type)),
						zap.Uint16("client", cmd.Client),
						zap.Uint32("tx", cmd.Tx),
						zap.Error(err),
					)

					continue
				}

				return fmt.Errorf("worker %d: %w", id, err)

			case <-d.ctx.Done():
				return d.ctx.Err()
			}
		}
	}
}

// partition maps a client id onto one of n workers via FNV-1a so that the
// assignment is deterministic across runs
func partition(client uint16, n int) int {
	var key [2]byte

	binary.BigEndian.PutUint16(key[:], client)

	h := fnv.New32a()
	_, _ = h.Write(key[:])

	return int(h.Sum32() % uint32(n))
}
