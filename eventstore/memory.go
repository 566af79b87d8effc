package eventstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	uuid2 "github.com/google/uuid"
)

// NewInMemory constructs an in-memory event store which honors the same
// append/read/snapshot/subscription contracts as the sql backed EventStore.
// Useful for tests and ephemeral runs where durability is not required
func NewInMemory() *InMemory {
	return &InMemory{
		streams:   make(map[string][]StoredEvent),
		snapshots: make(map[string]Snapshot),
	}
}

// InMemory is an in-memory event store implementation
type InMemory struct {
	mu sync.RWMutex

	seq       uint64
	all       []StoredEvent
	streams   map[string][]StoredEvent
	snapshots map[string]Snapshot
}

// AppendStream appends events to the indicated stream performing an
// optimistic concurrency check against expectedVer. Either all events
// are appended or none
func (m *InMemory) AppendStream(ctx context.Context, stream string, expectedVer int, events []EventToStore) error {
	if len(stream) == 0 {
		return fmt.Errorf("stream name must be provided")
	}

	if expectedVer < InitialStreamVersion {
		return fmt.Errorf("expected version cannot be less than 0")
	}

	if len(events) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.streams[stream]) != expectedVer {
		return ErrConcurrencyCheckFailed
	}

	for _, evt := range events {
		expectedVer++
		m.seq++

		stored := StoredEvent{
			Event:         evt.Event,
			Meta:          evt.Meta,
			ID:            evt.ID,
			Sequence:      m.seq,
			Type:          reflect.TypeOf(evt.Event).Name(),
			StreamID:      stream,
			StreamVersion: expectedVer,
			OccurredOn:    evt.OccurredOn,
		}

		if evt.CausationEventID != "" {
			stored.CausationEventID = &evt.CausationEventID
		}

		if evt.CorrelationEventID != "" {
			stored.CorrelationEventID = &evt.CorrelationEventID
		}

		if stored.ID == "" {
			uuid, err := uuid2.NewV7()
			if err != nil {
				return err
			}

			stored.ID = uuid.String()
		}

		if stored.OccurredOn.IsZero() {
			stored.OccurredOn = time.Now().UTC()
		}

		m.streams[stream] = append(m.streams[stream], stored)
		m.all = append(m.all, stored)
	}

	return nil
}

// ReadStream reads all events associated with the provided stream
func (m *InMemory) ReadStream(ctx context.Context, stream string) ([]StoredEvent, error) {
	return m.ReadStreamFrom(ctx, stream, InitialStreamVersion)
}

// ReadStreamFrom reads stream events with version greater than fromVersion
func (m *InMemory) ReadStreamFrom(_ context.Context, stream string, fromVersion int) ([]StoredEvent, error) {
	if len(stream) == 0 {
		return nil, fmt.Errorf("stream name must be provided")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.streams[stream]

	if len(events) == 0 && fromVersion == InitialStreamVersion {
		return nil, ErrStreamNotFound
	}

	var out []StoredEvent

	for _, evt := range events {
		if evt.StreamVersion > fromVersion {
			out = append(out, evt)
		}
	}

	if len(out) == 0 && fromVersion == InitialStreamVersion {
		return nil, ErrStreamNotFound
	}

	return out, nil
}

// SaveSnapshot stores a state snapshot for the given stream. A stored
// snapshot is only ever superseded by a higher-versioned one
func (m *InMemory) SaveSnapshot(_ context.Context, stream string, version int, state []byte) error {
	if len(stream) == 0 {
		return fmt.Errorf("stream name must be provided")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.snapshots[stream]; ok && existing.Version >= version {
		return nil
	}

	m.snapshots[stream] = Snapshot{
		StreamID: stream,
		Version:  version,
		State:    state,
		TakenOn:  time.Now().UTC(),
	}

	return nil
}

// LoadSnapshot loads the latest stored snapshot for the given stream
func (m *InMemory) LoadSnapshot(_ context.Context, stream string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[stream]
	if !ok {
		return nil, ErrSnapshotNotFound
	}

	return &snap, nil
}

// ReadAll reads all stored events by depleting a subscription until io.EOF
func (m *InMemory) ReadAll(ctx context.Context, opts ...SubAllOpt) ([]StoredEvent, error) {
	sub, err := m.SubscribeAll(ctx, opts...)
	if err != nil {
		return nil, err
	}

	defer sub.Close()

	var events []StoredEvent

	for {
		select {
		case data := <-sub.EventData:
			events = append(events, data)

		case err := <-sub.Err:
			if errors.Is(err, io.EOF) {
				for {
					select {
					case data := <-sub.EventData:
						events = append(events, data)
					default:
						return events, nil
					}
				}
			}

			return nil, err
		}
	}
}

// SubscribeAll creates a polling subscription streaming all stored events
// in sequence order, mirroring EventStore.SubscribeAll semantics
func (m *InMemory) SubscribeAll(ctx context.Context, opts ...SubAllOpt) (Subscription, error) {
	cfg := SubAllConfig{
		offset:       0,
		batchSize:    100,
		pollInterval: time.Millisecond,
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.batchSize < 1 {
		return Subscription{}, fmt.Errorf("batch size should be at least 1")
	}

	sub := Subscription{
		Err:       make(chan error, 1),
		EventData: make(chan StoredEvent, cfg.batchSize),
		close:     make(chan struct{}, 1),
	}

	go func() {
		for {
			select {
			case <-sub.close:
				sub.Err <- ErrSubscriptionClosedByClient

				return
			case <-ctx.Done():
				sub.Err <- ctx.Err()

				return
			case <-time.After(cfg.pollInterval):
				m.mu.RLock()

				end := cfg.offset + cfg.batchSize
				if end > len(m.all) {
					end = len(m.all)
				}

				batch := make([]StoredEvent, end-cfg.offset)
				copy(batch, m.all[cfg.offset:end])

				m.mu.RUnlock()

				if len(batch) == 0 {
					sub.Err <- io.EOF

					break
				}

				cfg.offset += len(batch)

				for _, evt := range batch {
					sub.EventData <- evt
				}
			}
		}
	}()

	return sub, nil
}
