package account_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneta/ledger/account"
)

func newAccount(t *testing.T) *account.Account {
	t.Helper()

	acc := account.New()
	acc.Rehydrate(acc)

	return acc
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestShould_Deposit_Into_Fresh_Account(t *testing.T) {
	acc := newAccount(t)

	err := acc.Deposit(1, 1, dec("10"))

	require.NoError(t, err)
	assert.True(t, acc.Available.Equal(dec("10")))
	assert.True(t, acc.Held.IsZero())
	assert.True(t, acc.Total().Equal(dec("10")))
	assert.False(t, acc.Locked)
	assert.Equal(t, account.ID(1), acc.ID)
	assert.Len(t, acc.Events(), 1)
}

func TestShould_Reject_Illegal_Amounts(t *testing.T) {
	acc := newAccount(t)

	assert.ErrorIs(t, acc.Deposit(1, 1, dec("0")), account.ErrIllegalAmount)
	assert.ErrorIs(t, acc.Deposit(1, 1, dec("-1.04")), account.ErrIllegalAmount)
	assert.ErrorIs(t, acc.Deposit(1, 1, dec("0.12345")), account.ErrIllegalAmount)
	assert.ErrorIs(t, acc.Withdraw(1, 1, dec("0")), account.ErrIllegalAmount)

	assert.Len(t, acc.Events(), 0)
}

func TestShould_Withdraw_Available_Funds(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(1, 1, dec("1.23")))
	require.NoError(t, acc.Withdraw(1, 2, dec("1.23")))

	assert.True(t, acc.Available.IsZero())
	assert.True(t, acc.Total().IsZero())
}

func TestShould_Reject_Withdrawal_Exceeding_Available(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(1, 1, dec("1.23")))

	err := acc.Withdraw(1, 2, dec("1.2301"))

	assert.ErrorIs(t, err, account.ErrInsufficientFunds)
	assert.True(t, acc.Available.Equal(dec("1.23")))
}

func TestShould_Hold_Funds_For_Dispute(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(2, 3, dec("20")))
	require.NoError(t, acc.Hold(2, 3, dec("20")))

	assert.True(t, acc.Available.IsZero())
	assert.True(t, acc.Held.Equal(dec("20")))
	assert.True(t, acc.Total().Equal(dec("20")))
	assert.False(t, acc.Locked)
}

func TestShould_Reject_Hold_Exceeding_Available(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(1, 1, dec("10")))
	require.NoError(t, acc.Withdraw(1, 2, dec("3")))

	err := acc.Hold(1, 1, dec("10"))

	assert.ErrorIs(t, err, account.ErrInsufficientFunds)
	assert.True(t, acc.Available.Equal(dec("7")))
	assert.True(t, acc.Held.IsZero())
}

func TestShould_Release_Held_Funds(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(2, 3, dec("20")))
	require.NoError(t, acc.Hold(2, 3, dec("20")))
	require.NoError(t, acc.Release(2, 3, dec("20")))

	assert.True(t, acc.Available.Equal(dec("20")))
	assert.True(t, acc.Held.IsZero())
	assert.False(t, acc.Locked)
}

func TestShould_Fail_Release_Exceeding_Held(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(2, 3, dec("20")))
	require.NoError(t, acc.Hold(2, 3, dec("5")))

	err := acc.Release(2, 3, dec("6"))

	assert.ErrorIs(t, err, account.ErrHeldShortfall)
}

func TestShould_Chargeback_And_Lock_Account(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(3, 4, dec("5")))
	require.NoError(t, acc.Hold(3, 4, dec("5")))
	require.NoError(t, acc.Chargeback(3, 4, dec("5")))

	assert.True(t, acc.Available.IsZero())
	assert.True(t, acc.Held.IsZero())
	assert.True(t, acc.Total().IsZero())
	assert.True(t, acc.Locked)
}

func TestShould_Reject_All_Commands_Once_Locked(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(3, 4, dec("5")))
	require.NoError(t, acc.Hold(3, 4, dec("5")))
	require.NoError(t, acc.Chargeback(3, 4, dec("5")))

	assert.ErrorIs(t, acc.Deposit(3, 5, dec("100")), account.ErrAccountLocked)
	assert.ErrorIs(t, acc.Withdraw(3, 6, dec("1")), account.ErrAccountLocked)
	assert.ErrorIs(t, acc.Hold(3, 4, dec("1")), account.ErrAccountLocked)
	assert.ErrorIs(t, acc.Release(3, 4, dec("1")), account.ErrAccountLocked)
	assert.ErrorIs(t, acc.Chargeback(3, 4, dec("1")), account.ErrAccountLocked)

	assert.True(t, acc.Available.IsZero())
	assert.True(t, acc.Held.IsZero())
}

func TestShould_Keep_Total_Consistent_Across_Command_Sequences(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(1, 1, dec("10.5")))
	require.NoError(t, acc.Withdraw(1, 2, dec("0.5")))
	require.NoError(t, acc.Hold(1, 1, dec("4")))
	require.NoError(t, acc.Release(1, 1, dec("4")))
	require.NoError(t, acc.Hold(1, 1, dec("2")))

	assert.True(t, acc.Total().Equal(acc.Available.Add(acc.Held)))
	assert.True(t, acc.Total().Equal(dec("10")))
	assert.True(t, acc.Held.GreaterThanOrEqual(decimal.Zero))
}

func TestShould_Rebuild_Identical_State_From_Events(t *testing.T) {
	acc := newAccount(t)

	require.NoError(t, acc.Deposit(7, 1, dec("3.33")))
	require.NoError(t, acc.Hold(7, 1, dec("3.33")))

	replayed := account.New()
	replayed.Rehydrate(replayed, acc.Events()...)

	assert.True(t, replayed.Available.Equal(acc.Available))
	assert.True(t, replayed.Held.Equal(acc.Held))
	assert.Equal(t, acc.Locked, replayed.Locked)
	assert.Equal(t, acc.ID, replayed.ID)
	assert.Equal(t, 2, replayed.Version())
}
