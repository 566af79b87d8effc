package eventstore_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta/ledger/eventstore"
)

func TestShould_Read_Events_Appended_In_Memory(t *testing.T) {
	es := eventstore.NewInMemory()
	ctx := context.Background()

	evts := []eventstore.EventToStore{
		{Event: SomeEvent{UserID: "user-1"}},
		{Event: SomeEvent{UserID: "user-2"}},
	}

	require.NoError(t, es.AppendStream(ctx, "some-stream", eventstore.InitialStreamVersion, evts))

	got, err := es.ReadStream(ctx, "some-stream")

	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, evt := range got {
		assert.Equal(t, evts[i].Event, evt.Event)
		assert.Equal(t, i+1, evt.StreamVersion)
		assert.Equal(t, "SomeEvent", evt.Type)
		assert.NotEmpty(t, evt.ID)
	}
}

func TestShould_Enforce_Optimistic_Concurrency_In_Memory(t *testing.T) {
	es := eventstore.NewInMemory()
	ctx := context.Background()

	evts := []eventstore.EventToStore{{Event: SomeEvent{UserID: "user-1"}}}

	require.NoError(t, es.AppendStream(ctx, "some-stream", eventstore.InitialStreamVersion, evts))

	err := es.AppendStream(ctx, "some-stream", eventstore.InitialStreamVersion, evts)

	assert.ErrorIs(t, err, eventstore.ErrConcurrencyCheckFailed)

	require.NoError(t, es.AppendStream(ctx, "some-stream", 1, evts))
}

func TestShould_Report_Missing_Stream_In_Memory(t *testing.T) {
	es := eventstore.NewInMemory()

	_, err := es.ReadStream(context.Background(), "nonexistent")

	assert.ErrorIs(t, err, eventstore.ErrStreamNotFound)
}

func TestShould_Store_And_Supersede_Snapshots_In_Memory(t *testing.T) {
	es := eventstore.NewInMemory()
	ctx := context.Background()

	require.NoError(t, es.SaveSnapshot(ctx, "some-stream", 2, []byte(`{"n":2}`)))
	require.NoError(t, es.SaveSnapshot(ctx, "some-stream", 4, []byte(`{"n":4}`)))

	snap, err := es.LoadSnapshot(ctx, "some-stream")

	require.NoError(t, err)
	assert.Equal(t, 4, snap.Version)
	assert.Equal(t, []byte(`{"n":4}`), snap.State)

	_, err = es.LoadSnapshot(ctx, "nonexistent")

	assert.ErrorIs(t, err, eventstore.ErrSnapshotNotFound)
}

func TestShould_Ignore_Stale_Snapshot_Writes_In_Memory(t *testing.T) {
	es := eventstore.NewInMemory()
	ctx := context.Background()

	require.NoError(t, es.SaveSnapshot(ctx, "some-stream", 4, []byte(`{"n":4}`)))
	require.NoError(t, es.SaveSnapshot(ctx, "some-stream", 3, []byte(`{"n":3}`)))

	snap, err := es.LoadSnapshot(ctx, "some-stream")

	require.NoError(t, err)
	assert.Equal(t, 4, snap.Version)
	assert.Equal(t, []byte(`{"n":4}`), snap.State)
}

func TestShould_Read_All_Events_Across_Streams_In_Memory(t *testing.T) {
	es := eventstore.NewInMemory()
	ctx := context.Background()

	require.NoError(t, es.AppendStream(ctx, "stream-one", eventstore.InitialStreamVersion,
		[]eventstore.EventToStore{{Event: SomeEvent{UserID: "user-1"}}}))
	require.NoError(t, es.AppendStream(ctx, "stream-two", eventstore.InitialStreamVersion,
		[]eventstore.EventToStore{{Event: SomeEvent{UserID: "user-2"}}}))

	got, err := es.ReadAll(ctx)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "stream-one", got[0].StreamID)
	assert.Equal(t, "stream-two", got[1].StreamID)
	assert.Less(t, got[0].Sequence, got[1].Sequence)
}

func TestShould_Close_Subscription_On_Client_Request(t *testing.T) {
	es := eventstore.NewInMemory()

	sub, err := es.SubscribeAll(context.Background())

	require.NoError(t, err)

	sub.Close()

	deadline := time.After(time.Second)

	// The poller may emit io.EOF catch-up markers before it observes the close.
	for {
		select {
		case err := <-sub.Err:
			if errors.Is(err, io.EOF) {
				continue
			}

			assert.ErrorIs(t, err, eventstore.ErrSubscriptionClosedByClient)

			return
		case <-deadline:
			t.Fatal("subscription did not close")
		}
	}
}
