package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta/ledger/account"
	"github.com/moneta/ledger/csvio"
	"github.com/moneta/ledger/dispatch"
	"github.com/moneta/ledger/eventstore"
	"github.com/moneta/ledger/payments"
	"github.com/moneta/ledger/projection"
)

type recordingHandler struct {
	mu   sync.Mutex
	cmds []payments.Command
	err  error
}

func (h *recordingHandler) Handle(_ context.Context, cmd payments.Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cmds = append(h.cmds, cmd)

	return h.err
}

func (h *recordingHandler) commands() []payments.Command {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]payments.Command(nil), h.cmds...)
}

type handlerPool struct {
	mu       sync.Mutex
	handlers []*recordingHandler
	err      error
}

func (p *handlerPool) new() dispatch.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := &recordingHandler{err: p.err}
	p.handlers = append(p.handlers, h)

	return h
}

func TestShould_Keep_Each_Clients_Commands_On_One_Worker_In_Input_Order(t *testing.T) {
	var pool handlerPool

	d := dispatch.New(pool.new, dispatch.WithWorkers(4), dispatch.WithQueueSize(8))

	d.Start(context.Background())

	ctx := context.Background()

	const clients = 10
	const perClient = 20

	for i := 0; i < perClient; i++ {
		for client := uint16(1); client <= clients; client++ {
			require.NoError(t, d.Dispatch(ctx, payments.Command{
				Type:   payments.Deposit,
				Client: client,
				Tx:     uint32(int(client)*1000 + i),
				Amount: decimal.NewFromInt(1),
			}))
		}
	}

	require.NoError(t, d.Drain())

	seen := make(map[uint16][]uint32)

	for _, h := range pool.handlers {
		byClient := make(map[uint16]bool)

		for _, cmd := range h.commands() {
			byClient[cmd.Client] = true
			seen[cmd.Client] = append(seen[cmd.Client], cmd.Tx)
		}

		// A worker may own many clients but a client only one worker,
		// so no client may show up again on another worker.
		for client := range byClient {
			for _, other := range pool.handlers {
				if other == h {
					continue
				}

				for _, cmd := range other.commands() {
					assert.NotEqual(t, client, cmd.Client)
				}
			}
		}
	}

	for client := uint16(1); client <= clients; client++ {
		require.Len(t, seen[client], perClient)

		for i, tx := range seen[client] {
			assert.Equal(t, uint32(int(client)*1000+i), tx)
		}
	}
}

func TestShould_Count_Rejected_Commands_And_Keep_Going(t *testing.T) {
	pool := handlerPool{err: fmt.Errorf("no funds: %w", account.ErrInsufficientFunds)}

	d := dispatch.New(pool.new, dispatch.WithWorkers(2))

	d.Start(context.Background())

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dispatch(ctx, payments.Command{
			Type:   payments.Withdrawal,
			Client: uint16(i),
			Tx:     uint32(i),
			Amount: decimal.NewFromInt(1),
		}))
	}

	require.NoError(t, d.Drain())

	assert.Equal(t, uint64(5), d.Rejected())
}

func TestShould_Fail_The_Run_On_Non_Rejection_Errors(t *testing.T) {
	boom := errors.New("storage gone")
	pool := handlerPool{err: boom}

	d := dispatch.New(pool.new, dispatch.WithWorkers(1))

	d.Start(context.Background())

	require.NoError(t, d.Dispatch(context.Background(), payments.Command{
		Type:   payments.Deposit,
		Client: 1,
		Tx:     1,
		Amount: decimal.NewFromInt(1),
	}))

	err := d.Drain()

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, d.Rejected())
}

func TestShould_Refuse_Dispatch_Once_A_Worker_Has_Failed(t *testing.T) {
	boom := errors.New("storage gone")
	pool := handlerPool{err: boom}

	d := dispatch.New(pool.new, dispatch.WithWorkers(1), dispatch.WithQueueSize(1))

	d.Start(context.Background())

	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, payments.Command{
		Type:   payments.Deposit,
		Client: 1,
		Tx:     1,
		Amount: decimal.NewFromInt(1),
	}))

	// Keep feeding until the worker failure halts intake.
	var err error

	for i := uint32(2); i < 1000; i++ {
		err = d.Dispatch(ctx, payments.Command{
			Type:   payments.Deposit,
			Client: 1,
			Tx:     i,
			Amount: decimal.NewFromInt(1),
		})
		if err != nil {
			break
		}
	}

	require.Error(t, err)
	assert.ErrorContains(t, err, "dispatch halted")

	assert.ErrorIs(t, d.Drain(), boom)
}

func TestShould_Refuse_Dispatch_Before_Start(t *testing.T) {
	var pool handlerPool

	d := dispatch.New(pool.new)

	err := d.Dispatch(context.Background(), payments.Command{
		Type:   payments.Deposit,
		Client: 1,
		Tx:     1,
		Amount: decimal.NewFromInt(1),
	})

	assert.ErrorContains(t, err, "not started")
}

// processStream runs a command stream through a full ledger pipeline
// (dispatcher, payment services, event store) and returns the final
// balance projection rendered as csv.
func processStream(t *testing.T, workers int, cmds []payments.Command) string {
	t.Helper()

	ctx := context.Background()
	es := eventstore.NewInMemory()

	d := dispatch.New(
		func() dispatch.Handler { return payments.NewService(es) },
		dispatch.WithWorkers(workers),
		dispatch.WithQueueSize(4),
	)

	d.Start(ctx)

	for _, cmd := range cmds {
		require.NoError(t, d.Dispatch(ctx, cmd))
	}

	require.NoError(t, d.Drain())

	accounts := projection.NewAccounts()

	runner := projection.NewRunner(es)
	runner.Add(accounts.Project)

	require.NoError(t, runner.Run(ctx))

	var sb strings.Builder

	require.NoError(t, csvio.WriteAccounts(&sb, accounts.Rows()))

	return sb.String()
}

func TestShould_Produce_Identical_Balances_For_Any_Interleaving_Of_Disjoint_Clients(t *testing.T) {
	one := []payments.Command{
		{Type: payments.Deposit, Client: 1, Tx: 1, Amount: decimal.RequireFromString("10")},
		{Type: payments.Deposit, Client: 1, Tx: 2, Amount: decimal.RequireFromString("5")},
		{Type: payments.Withdrawal, Client: 1, Tx: 3, Amount: decimal.RequireFromString("3")},
		{Type: payments.Dispute, Client: 1, Tx: 1},
		{Type: payments.Resolve, Client: 1, Tx: 1},
	}

	two := []payments.Command{
		{Type: payments.Deposit, Client: 2, Tx: 10, Amount: decimal.RequireFromString("20")},
		{Type: payments.Deposit, Client: 2, Tx: 11, Amount: decimal.RequireFromString("2.5")},
		{Type: payments.Dispute, Client: 2, Tx: 10},
		{Type: payments.Chargeback, Client: 2, Tx: 10},
	}

	three := []payments.Command{
		{Type: payments.Deposit, Client: 3, Tx: 20, Amount: decimal.RequireFromString("7.5")},
		{Type: payments.Withdrawal, Client: 3, Tx: 21, Amount: decimal.RequireFromString("2.5")},
	}

	// Round-robin across clients, preserving each client's own order.
	var interleaved []payments.Command

	for i := 0; i < len(one); i++ {
		interleaved = append(interleaved, one[i])

		if i < len(two) {
			interleaved = append(interleaved, two[i])
		}

		if i < len(three) {
			interleaved = append(interleaved, three[i])
		}
	}

	// One client's stream at a time.
	var blocked []payments.Command

	blocked = append(blocked, three...)
	blocked = append(blocked, two...)
	blocked = append(blocked, one...)

	want := processStream(t, 1, interleaved)

	assert.Equal(t, want, processStream(t, 1, blocked))
	assert.Equal(t, want, processStream(t, 4, interleaved))
	assert.Equal(t, want, processStream(t, 4, blocked))
}