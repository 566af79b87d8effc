// Package csvio converts the csv input format to typed payment commands
// and renders balance projections back to csv
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/moneta/ledger/payments"
)

// ErrMalformedInput indicates an input row that cannot be converted to a
// typed command. Malformed input is fatal for the whole run
var ErrMalformedInput = errors.New("malformed input")

// NewReader constructs a command reader over csv input with the
// header: type,client,tx,amount. Field whitespace is trimmed
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	return &Reader{r: cr}
}

// Reader reads the input command stream row by row
type Reader struct {
	r    *csv.Reader
	row  int
	past bool
}

// Read returns the next typed command, io.EOF at the end of input, or an
// error wrapping ErrMalformedInput for rows that cannot be parsed
func (r *Reader) Read() (payments.Command, error) {
	for {
		record, err := r.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return payments.Command{}, io.EOF
			}

			return payments.Command{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}

		r.row++

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}

		// Skip the header row
		if !r.past {
			r.past = true

			if len(record) > 0 && record[0] == "type" {
				continue
			}
		}

		return r.parse(record)
	}
}

func (r *Reader) parse(record []string) (payments.Command, error) {
	if len(record) < 3 {
		return payments.Command{}, fmt.Errorf("%w: row %d: expected at least 3 fields, got %d", ErrMalformedInput, r.row, len(record))
	}

	cmdType, err := payments.ParseCommandType(record[0])
	if err != nil {
		return payments.Command{}, fmt.Errorf("%w: row %d: %v", ErrMalformedInput, r.row, err)
	}

	client, err := strconv.ParseUint(record[1], 10, 16)
	if err != nil {
		return payments.Command{}, fmt.Errorf("%w: row %d: invalid client id %q", ErrMalformedInput, r.row, record[1])
	}

	tx, err := strconv.ParseUint(record[2], 10, 32)
	if err != nil {
		return payments.Command{}, fmt.Errorf("%w: row %d: invalid tx id %q", ErrMalformedInput, r.row, record[2])
	}

	cmd := payments.Command{
		Type:   cmdType,
		Client: uint16(client),
		Tx:     uint32(tx),
	}

	// Only deposits and withdrawals carry an amount - it is required for
	// them and ignored on dispute related rows
	if cmdType == payments.Deposit || cmdType == payments.Withdrawal {
		if len(record) < 4 || record[3] == "" {
			return payments.Command{}, fmt.Errorf("%w: row %d: missing amount for %s", ErrMalformedInput, r.row, cmdType)
		}

		amount, err := decimal.NewFromString(record[3])
		if err != nil {
			return payments.Command{}, fmt.Errorf("%w: row %d: invalid amount %q", ErrMalformedInput, r.row, record[3])
		}

		cmd.Amount = amount
	}

	return cmd, nil
}
