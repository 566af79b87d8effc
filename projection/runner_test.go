package projection_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta/ledger/account"
	"github.com/moneta/ledger/eventstore"
	"github.com/moneta/ledger/projection"
)

func populatedStore(t *testing.T) *eventstore.InMemory {
	t.Helper()

	es := eventstore.NewInMemory()

	events := []eventstore.EventToStore{
		{Event: account.Deposited{Client: 1, Tx: 1, Amount: dec("10")}},
		{Event: account.Withdrawn{Client: 1, Tx: 2, Amount: dec("4")}},
	}

	err := es.AppendStream(context.Background(), "account-1", eventstore.InitialStreamVersion, events)

	require.NoError(t, err)

	return es
}

func TestShould_Feed_Projections_Until_Caught_Up(t *testing.T) {
	es := populatedStore(t)

	accounts := projection.NewAccounts()

	var count int

	runner := projection.NewRunner(es)
	runner.Add(
		accounts.Project,
		func(eventstore.StoredEvent) error {
			count++

			return nil
		},
	)

	require.NoError(t, runner.Run(context.Background()))

	assert.Equal(t, 2, count)

	rows := accounts.Rows()

	require.Len(t, rows, 1)
	assert.True(t, rows[0].Available.Equal(dec("6")))
}

func TestShould_Stop_The_Run_On_Projection_Error(t *testing.T) {
	es := populatedStore(t)

	boom := errors.New("projection blew up")

	runner := projection.NewRunner(es)
	runner.Add(func(eventstore.StoredEvent) error {
		return boom
	})

	assert.ErrorIs(t, runner.Run(context.Background()), boom)
}

func TestShould_Finish_Cleanly_On_An_Empty_Stream(t *testing.T) {
	var count int

	runner := projection.NewRunner(eventstore.NewInMemory())
	runner.Add(func(eventstore.StoredEvent) error {
		count++

		return nil
	})

	require.NoError(t, runner.Run(context.Background()))
	assert.Zero(t, count)
}
