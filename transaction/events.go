package transaction

import "github.com/shopspring/decimal"

// Recorded domain event indicates that a transaction's existence, owner,
// type and amount were registered
type Recorded struct {
	Tx     uint32
	Client uint16
	Type   string
	Amount decimal.Decimal
}

// Disputed domain event indicates that a dispute was opened
type Disputed struct {
	Tx uint32
}

// Resolved domain event indicates that the open dispute was resolved
type Resolved struct {
	Tx uint32
}

// ChargedBack domain event indicates that the open dispute was charged back
type ChargedBack struct {
	Tx uint32
}

// Events lists all transaction domain events for encoder registration
func Events() []any {
	return []any{
		Recorded{},
		Disputed{},
		Resolved{},
		ChargedBack{},
	}
}
