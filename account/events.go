package account

import "github.com/shopspring/decimal"

// Deposited domain event indicates that the available balance was credited
type Deposited struct {
	Client uint16
	Tx     uint32
	Amount decimal.Decimal
}

// Withdrawn domain event indicates that the available balance was debited
type Withdrawn struct {
	Client uint16
	Tx     uint32
	Amount decimal.Decimal
}

// FundsHeld domain event indicates that funds were moved from available
// to held for an open dispute
type FundsHeld struct {
	Client uint16
	Tx     uint32
	Amount decimal.Decimal
}

// FundsReleased domain event indicates that held funds were returned to
// the available balance
type FundsReleased struct {
	Client uint16
	Tx     uint32
	Amount decimal.Decimal
}

// DisputeChargedBack domain event indicates that held funds were withdrawn and
// the account was permanently locked
type DisputeChargedBack struct {
	Client uint16
	Tx     uint32
	Amount decimal.Decimal
}

// Events lists all account domain events for encoder registration
func Events() []any {
	return []any{
		Deposited{},
		Withdrawn{},
		FundsHeld{},
		FundsReleased{},
		DisputeChargedBack{},
	}
}
