package payments

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CommandType enumerates the closed set of input command types
type CommandType string

const (
	// Deposit credits a client's available balance
	Deposit CommandType = "deposit"

	// Withdrawal debits a client's available balance
	Withdrawal CommandType = "withdrawal"

	// Dispute opens a dispute against a previously recorded deposit
	Dispute CommandType = "dispute"

	// Resolve closes an open dispute returning the held funds
	Resolve CommandType = "resolve"

	// Chargeback closes an open dispute withdrawing the held funds
	// and locking the account
	Chargeback CommandType = "chargeback"
)

// ParseCommandType parses a case-sensitive lowercase command type
func ParseCommandType(s string) (CommandType, error) {
	switch t := CommandType(s); t {
	case Deposit, Withdrawal, Dispute, Resolve, Chargeback:
		return t, nil
	default:
		return "", fmt.Errorf("unrecognized command type %q", s)
	}
}

// Command represents a single typed input record. Amount is only
// meaningful for Deposit and Withdrawal commands - dispute related
// commands always use the amount of the referenced transaction
type Command struct {
	Type   CommandType
	Client uint16
	Tx     uint32
	Amount decimal.Decimal
}
