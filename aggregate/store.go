package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moneta/ledger/eventstore"
)

// ErrAggregateNotFound is returned by ByID when no events exist for the given id
var ErrAggregateNotFound = errors.New("aggregate not found")

// Rooter is implemented by types embedding Root
type Rooter interface {
	StringID() string
	Version() int
	Events() []any
	Rehydrate(aggregatePtr any, events ...any)
	RehydrateFrom(aggregatePtr any, version int, events ...any)
}

// EventStore represents the event log the store persists aggregates to
type EventStore interface {
	AppendStream(ctx context.Context, id string, expectedVer int, events []eventstore.EventToStore) error
	ReadStreamFrom(ctx context.Context, id string, fromVersion int) ([]eventstore.StoredEvent, error)
}

// SnapshotStore is optionally implemented by event stores that can
// persist aggregate state snapshots
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, id string, version int, state []byte) error
	LoadSnapshot(ctx context.Context, id string) (*eventstore.Snapshot, error)
}

// NewStore constructs new event sourced aggregate store
func NewStore[T Rooter](eventStore EventStore, opts ...StoreOption) *Store[T] {
	s := Store[T]{
		eventStore: eventStore,
	}

	var cfg storeConfig

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.snapshotEvery > 0 {
		if snaps, ok := eventStore.(SnapshotStore); ok {
			s.snapshots = snaps
			s.snapshotEvery = cfg.snapshotEvery
		}
	}

	return &s
}

type storeConfig struct {
	snapshotEvery int
}

// StoreOption represents aggregate store configuration option
type StoreOption func(storeConfig) storeConfig

// WithSnapshotEvery configures the store to write a state snapshot each
// time a stream version crosses a multiple of n. Requires the backing
// event store to implement SnapshotStore, otherwise it is a no-op
func WithSnapshotEvery(n int) StoreOption {
	return func(cfg storeConfig) storeConfig {
		cfg.snapshotEvery = n

		return cfg
	}
}

// Store represents event sourced aggregate store
type Store[T Rooter] struct {
	eventStore    EventStore
	snapshots     SnapshotStore
	snapshotEvery int
}

// Save saves uncommitted aggregate events to the event store using the
// loaded aggregate version as the optimistic concurrency guard
func (s *Store[T]) Save(ctx context.Context, aggregate T) error {
	uncommitted := aggregate.Events()

	if len(uncommitted) == 0 {
		return nil
	}

	meta := CtxMeta(ctx)

	events := make([]eventstore.EventToStore, 0, len(uncommitted))

	for _, evt := range uncommitted {
		events = append(events, eventstore.EventToStore{
			Event:              evt,
			Meta:               meta,
			CausationEventID:   CtxCausationID(ctx),
			CorrelationEventID: CtxCorrelationID(ctx),
		})
	}

	err := s.eventStore.AppendStream(
		ctx,
		aggregate.StringID(),
		aggregate.Version(),
		events,
	)
	if err != nil {
		return err
	}

	s.maybeSnapshot(ctx, aggregate, len(events))

	return nil
}

// ByID finds aggregate events (and snapshot if available) by aggregate id
// and rehydrates the aggregate pointed to by acc
func (s *Store[T]) ByID(ctx context.Context, id string, acc T) error {
	fromVersion := 0

	if s.snapshots != nil {
		if snap, err := s.snapshots.LoadSnapshot(ctx, id); err == nil && snap != nil {
			if err := json.Unmarshal(snap.State, acc); err == nil {
				fromVersion = snap.Version
			}
		}
	}

	storedEvents, err := s.eventStore.ReadStreamFrom(ctx, id, fromVersion)
	if err != nil {
		if errors.Is(err, eventstore.ErrStreamNotFound) {
			return fmt.Errorf("%w: %s", ErrAggregateNotFound, id)
		}

		return err
	}

	events := make([]any, 0, len(storedEvents))

	for _, evt := range storedEvents {
		events = append(events, evt.Event)
	}

	acc.RehydrateFrom(acc, fromVersion, events...)

	return nil
}

// maybeSnapshot writes a state snapshot if the new stream version crossed
// a snapshot boundary. Snapshots are best-effort - failures are ignored
// since pure replay always produces the same state
func (s *Store[T]) maybeSnapshot(ctx context.Context, aggregate T, appended int) {
	if s.snapshots == nil || s.snapshotEvery <= 0 {
		return
	}

	oldVersion := aggregate.Version()
	newVersion := oldVersion + appended

	if newVersion/s.snapshotEvery == oldVersion/s.snapshotEvery {
		return
	}

	state, err := json.Marshal(aggregate)
	if err != nil {
		return
	}

	_ = s.snapshots.SaveSnapshot(ctx, aggregate.StringID(), newVersion, state)
}
