// Package transaction implements the transaction record aggregate - the
// sole source of truth for whether a transaction exists, its amount, its
// type and its dispute state
package transaction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/moneta/ledger/aggregate"
)

var (
	// ErrDuplicateTransaction is returned when recording a transaction id
	// that has already been recorded (for any client)
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrInvalidTransactionType is returned when disputing a transaction
	// that is not a deposit
	ErrInvalidTransactionType = errors.New("only deposits may be disputed")

	// ErrInvalidStateTransition is returned for dispute state transitions
	// not permitted by the state machine
	ErrInvalidStateTransition = errors.New("invalid dispute state transition")
)

// ID represents a transaction identity, globally unique across all clients
type ID uint32

// String implements fmt.Stringer
func (id ID) String() string { return fmt.Sprintf("transaction-%d", uint32(id)) }

// Type enumerates the recorded transaction types
type Type string

const (
	// TypeDeposit marks a deposit transaction
	TypeDeposit Type = "deposit"

	// TypeWithdrawal marks a withdrawal transaction
	TypeWithdrawal Type = "withdrawal"
)

// Status enumerates dispute states of a recorded transaction
// Transitions are monotonic: normal -> disputed -> {resolved, charged_back}
type Status string

const (
	// StatusNormal is the initial state of a recorded transaction
	StatusNormal Status = "normal"

	// StatusDisputed marks a transaction with an open dispute
	StatusDisputed Status = "disputed"

	// StatusResolved is terminal - the dispute was resolved and the funds returned
	StatusResolved Status = "resolved"

	// StatusChargedBack is terminal - the dispute was charged back
	StatusChargedBack Status = "charged_back"
)

// Transaction represents a transaction record aggregate
type Transaction struct {
	aggregate.Root[ID]

	Client uint16
	Type   Type
	Amount decimal.Decimal
	Status Status
}

// New allocates an empty transaction record ready to be rehydrated
func New() *Transaction {
	var tx Transaction

	return &tx
}

// IsRecorded reports whether the transaction exists
func (t *Transaction) IsRecorded() bool { return t.Status != "" }

// Record registers the transaction's existence. Recording the same id
// twice is rejected with ErrDuplicateTransaction
func (t *Transaction) Record(id ID, client uint16, typ Type, amount decimal.Decimal) error {
	if t.IsRecorded() {
		return ErrDuplicateTransaction
	}

	t.Apply(
		Recorded{
			Tx:     uint32(id),
			Client: client,
			Type:   string(typ),
			Amount: amount,
		},
	)

	return nil
}

// EnsureDisputable reports whether a dispute may be opened without
// mutating the record
func (t *Transaction) EnsureDisputable() error {
	if t.Type != TypeDeposit {
		return ErrInvalidTransactionType
	}

	if t.Status != StatusNormal {
		return ErrInvalidStateTransition
	}

	return nil
}

// MarkDisputed transitions the record from normal to disputed
// Only deposits are eligible
func (t *Transaction) MarkDisputed() error {
	if err := t.EnsureDisputable(); err != nil {
		return err
	}

	t.Apply(
		Disputed{
			Tx: uint32(t.ID),
		},
	)

	return nil
}

// MarkResolved transitions the record from disputed to resolved
// Repeating the transition on an already resolved record is a no-op so
// that retried resolves stay idempotent
func (t *Transaction) MarkResolved() error {
	switch t.Status {
	case StatusDisputed:
	case StatusResolved:
		return nil
	default:
		return ErrInvalidStateTransition
	}

	t.Apply(
		Resolved{
			Tx: uint32(t.ID),
		},
	)

	return nil
}

// MarkChargedBack transitions the record from disputed to charged_back
// Repeating the transition on an already charged back record is a no-op
func (t *Transaction) MarkChargedBack() error {
	switch t.Status {
	case StatusDisputed:
	case StatusChargedBack:
		return nil
	default:
		return ErrInvalidStateTransition
	}

	t.Apply(
		ChargedBack{
			Tx: uint32(t.ID),
		},
	)

	return nil
}

// OnRecorded handler
func (t *Transaction) OnRecorded(evt Recorded) {
	t.SetID(ID(evt.Tx))
	t.Client = evt.Client
	t.Type = Type(evt.Type)
	t.Amount = evt.Amount
	t.Status = StatusNormal
}

// OnDisputed handler
func (t *Transaction) OnDisputed(Disputed) {
	t.Status = StatusDisputed
}

// OnResolved handler
func (t *Transaction) OnResolved(Resolved) {
	t.Status = StatusResolved
}

// OnChargedBack handler
func (t *Transaction) OnChargedBack(ChargedBack) {
	t.Status = StatusChargedBack
}
