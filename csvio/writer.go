package csvio

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/moneta/ledger/projection"
)

// Scale is the fixed decimal precision balances are rendered with
const Scale = 4

// WriteAccounts renders balance projection rows as csv with the header:
// client,available,held,total,locked. Amounts are fixed to four decimal
// places to avoid formatting drift
func WriteAccounts(w io.Writer, rows []projection.Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"client", "available", "held", "total", "locked"}); err != nil {
		return err
	}

	for _, row := range rows {
		err := cw.Write([]string{
			strconv.FormatUint(uint64(row.Client), 10),
			row.Available.StringFixed(Scale),
			row.Held.StringFixed(Scale),
			row.Total.StringFixed(Scale),
			strconv.FormatBool(row.Locked),
		})
		if err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
