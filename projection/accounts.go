// Package projection provides read-only derived views computed from
// stored events, along with a catch-up runner that feeds them
package projection

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/moneta/ledger/account"
	"github.com/moneta/ledger/eventstore"
)

// Row is a single client's balance projection
// Total is always Available + Held
type Row struct {
	Client    uint16
	Available decimal.Decimal
	Held      decimal.Decimal
	Total     decimal.Decimal
	Locked    bool
}

// NewAccounts constructs an empty per-client balance projection
func NewAccounts() *Accounts {
	return &Accounts{
		rows: make(map[uint16]*Row),
	}
}

// Accounts folds account events into one balance row per known client
// It never mutates aggregate state - it is a pure read model
type Accounts struct {
	mu   sync.Mutex
	rows map[uint16]*Row
}

// Project handles a single stored event, ignoring event types that do not
// affect balances. Safe for use as a projection with Runner
func (p *Accounts) Project(evt eventstore.StoredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := evt.Event.(type) {
	case account.Deposited:
		row := p.row(e.Client)
		row.Available = row.Available.Add(e.Amount)

	case account.Withdrawn:
		row := p.row(e.Client)
		row.Available = row.Available.Sub(e.Amount)

	case account.FundsHeld:
		row := p.row(e.Client)
		row.Available = row.Available.Sub(e.Amount)
		row.Held = row.Held.Add(e.Amount)

	case account.FundsReleased:
		row := p.row(e.Client)
		row.Held = row.Held.Sub(e.Amount)
		row.Available = row.Available.Add(e.Amount)

	case account.DisputeChargedBack:
		row := p.row(e.Client)
		row.Held = row.Held.Sub(e.Amount)
		row.Locked = true
	}

	return nil
}

// Rows returns the projected balance rows ordered by client id, with
// Total derived from the folded balances
func (p *Accounts) Rows() []Row {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Row, 0, len(p.rows))

	for _, row := range p.rows {
		r := *row
		r.Total = r.Available.Add(r.Held)

		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Client < out[j].Client })

	return out
}

func (p *Accounts) row(client uint16) *Row {
	row, ok := p.rows[client]
	if !ok {
		row = &Row{Client: client}
		p.rows[client] = row
	}

	return row
}
