// Package account implements the client account aggregate which owns a
// client's available and held balances along with its lock state
package account

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/moneta/ledger/aggregate"
)

var (
	// ErrAccountLocked is returned when a balance mutating command is issued
	// against a locked (charged back) account
	ErrAccountLocked = errors.New("account is locked")

	// ErrInsufficientFunds is returned when a withdrawal or hold exceeds
	// the available balance
	ErrInsufficientFunds = errors.New("insufficient available funds")

	// ErrIllegalAmount is returned for non-positive amounts or amounts
	// with more than four decimal places
	ErrIllegalAmount = errors.New("amount must be positive with at most four decimal places")

	// ErrHeldShortfall indicates a release or chargeback for more than is
	// currently held - an internal consistency fault, not a business rejection
	ErrHeldShortfall = errors.New("held balance shortfall")
)

// MaxScale is the finest amount granularity accepted by the ledger
const MaxScale = 4

// ID represents a client account identity
type ID uint16

// String implements fmt.Stringer
func (id ID) String() string { return fmt.Sprintf("account-%d", uint16(id)) }

// Account represents a client account aggregate. It is created implicitly
// by the first event recorded for a client and is never deleted
type Account struct {
	aggregate.Root[ID]

	Available decimal.Decimal
	Held      decimal.Decimal
	Locked    bool
}

// New allocates an empty account ready to be rehydrated
func New() *Account {
	var acc Account

	return &acc
}

// Total returns the total balance (available + held)
func (a *Account) Total() decimal.Decimal {
	return a.Available.Add(a.Held)
}

// Deposit credits the available balance
func (a *Account) Deposit(client ID, tx uint32, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	if a.Locked {
		return ErrAccountLocked
	}

	a.Apply(
		Deposited{
			Client: uint16(client),
			Tx:     tx,
			Amount: amount,
		},
	)

	return nil
}

// Withdraw debits the available balance
func (a *Account) Withdraw(client ID, tx uint32, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	if a.Locked {
		return ErrAccountLocked
	}

	if amount.GreaterThan(a.Available) {
		return ErrInsufficientFunds
	}

	a.Apply(
		Withdrawn{
			Client: uint16(client),
			Tx:     tx,
			Amount: amount,
		},
	)

	return nil
}

// Hold moves funds from available to held while a dispute is open.
// Disputing more than is currently available is rejected - held funds may
// never drive the available balance negative
func (a *Account) Hold(client ID, tx uint32, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	if a.Locked {
		return ErrAccountLocked
	}

	if amount.GreaterThan(a.Available) {
		return ErrInsufficientFunds
	}

	a.Apply(
		FundsHeld{
			Client: uint16(client),
			Tx:     tx,
			Amount: amount,
		},
	)

	return nil
}

// Release returns held funds to the available balance when a dispute is
// resolved. Releasing more than is held indicates an orchestration fault
func (a *Account) Release(client ID, tx uint32, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	if a.Locked {
		return ErrAccountLocked
	}

	if amount.GreaterThan(a.Held) {
		return fmt.Errorf("%w: release of %s exceeds held %s", ErrHeldShortfall, amount, a.Held)
	}

	a.Apply(
		FundsReleased{
			Client: uint16(client),
			Tx:     tx,
			Amount: amount,
		},
	)

	return nil
}

// Chargeback withdraws held funds and permanently locks the account
func (a *Account) Chargeback(client ID, tx uint32, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	if a.Locked {
		return ErrAccountLocked
	}

	if amount.GreaterThan(a.Held) {
		return fmt.Errorf("%w: chargeback of %s exceeds held %s", ErrHeldShortfall, amount, a.Held)
	}

	a.Apply(
		DisputeChargedBack{
			Client: uint16(client),
			Tx:     tx,
			Amount: amount,
		},
	)

	return nil
}

// OnDeposited handler
func (a *Account) OnDeposited(evt Deposited) {
	a.SetID(ID(evt.Client))
	a.Available = a.Available.Add(evt.Amount)
}

// OnWithdrawn handler
func (a *Account) OnWithdrawn(evt Withdrawn) {
	a.SetID(ID(evt.Client))
	a.Available = a.Available.Sub(evt.Amount)
}

// OnFundsHeld handler
func (a *Account) OnFundsHeld(evt FundsHeld) {
	a.SetID(ID(evt.Client))
	a.Available = a.Available.Sub(evt.Amount)
	a.Held = a.Held.Add(evt.Amount)
}

// OnFundsReleased handler
func (a *Account) OnFundsReleased(evt FundsReleased) {
	a.SetID(ID(evt.Client))
	a.Held = a.Held.Sub(evt.Amount)
	a.Available = a.Available.Add(evt.Amount)
}

// OnDisputeChargedBack handler
func (a *Account) OnDisputeChargedBack(evt DisputeChargedBack) {
	a.SetID(ID(evt.Client))
	a.Held = a.Held.Sub(evt.Amount)
	a.Locked = true
}

func checkAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrIllegalAmount
	}

	if amount.Exponent() < -MaxScale {
		return ErrIllegalAmount
	}

	return nil
}
