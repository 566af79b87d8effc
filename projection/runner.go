package projection

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moneta/ledger/eventstore"
)

// EventStreamer represents an event stream that can be subscribed to
type EventStreamer interface {
	SubscribeAll(context.Context, ...eventstore.SubAllOpt) (eventstore.Subscription, error)
}

// Projection handles a single projected event
type Projection func(eventstore.StoredEvent) error

// NewRunner constructs a catch-up projection runner
func NewRunner(s EventStreamer, opts ...RunnerOption) *Runner {
	r := Runner{
		streamer: s,
		log:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r
}

// RunnerOption represents runner configuration option
type RunnerOption func(*Runner)

// WithLogger configures the structured logger used by the runner
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = logger
	}
}

// Runner subscribes each registered projection to the event stream and
// feeds it events until the stream is caught up. Suited to the batch
// model where the stream is finite by the time projections are read
type Runner struct {
	streamer    EventStreamer
	projections []Projection
	log         *zap.Logger
}

// Add registers projections with the runner
// Make sure to add all of your projections before calling Run
func (r *Runner) Add(projections ...Projection) {
	r.projections = append(r.projections, projections...)
}

// Run feeds every registered projection until it has caught up with the
// stream, returning the first projection or subscription error
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, projection := range r.projections {
		projection := projection
		g.Go(func() error {
			sub, err := r.streamer.SubscribeAll(ctx)
			if err != nil {
				return err
			}

			defer sub.Close()

			return r.run(ctx, sub, projection)
		})
	}

	return g.Wait()
}

func (r *Runner) run(ctx context.Context, sub eventstore.Subscription, projection Projection) error {
	for {
		select {
		case data := <-sub.EventData:
			if err := projection(data); err != nil {
				r.log.Error("projection error", zap.Error(err))

				return err
			}

		case err := <-sub.Err:
			if errors.Is(err, io.EOF) {
				// Caught up - drain anything still buffered first
				for {
					select {
					case data := <-sub.EventData:
						if err := projection(data); err != nil {
							return err
						}
					default:
						return nil
					}
				}
			}

			if errors.Is(err, eventstore.ErrSubscriptionClosedByClient) {
				return nil
			}

			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
