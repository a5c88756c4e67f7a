package testdata

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/budgettracker/internal/statement"
)

type merchant struct {
	desc string
	min  int64
	max  int64
	tax  bool
}

var spend = []merchant{
	{"POS Purchase STAN (%d) KOLACHI RESTAURANT", 1500, 9000, true},
	{"POS Purchase STAN (%d) IMTIAZ MART", 2000, 15000, false},
	{"CAREEM RIDE STAN (%d)", 300, 1800, false},
	{"K-ELECTRIC BILL PAYMENT STAN (%d)", 4000, 22000, true},
	{"NETFLIX.COM STAN (%d)", 1100, 1100, true},
	{"ATM CASH WITHDRAWAL STAN (%d)", 5000, 20000, true},
	{"DARAZ ONLINE STAN (%d)", 800, 12000, false},
}

// Options controls Rows.
type Options struct {
	Seed       int64
	Start      time.Time
	Days       int
	PerDay     int
	OpeningBal decimal.Decimal
}

// Rows builds a deterministic statement: salary on the first day, daily spend, and
// a withholding tax line after some purchases sharing the purchase's STAN.
func Rows(opts Options) []statement.RawRow {
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if opts.PerDay <= 0 {
		opts.PerDay = 3
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	r := rand.New(rand.NewSource(opts.Seed))
	bal := opts.OpeningBal
	stan := 100000 + r.Intn(800000)

	var rows []statement.RawRow
	add := func(day time.Time, desc string, debit, credit decimal.Decimal, tax bool) {
		bal = bal.Add(credit).Sub(debit)
		rows = append(rows, statement.RawRow{
			SourceOrder:      len(rows) + 1,
			BookingDateTime:  day,
			ValueDateTime:    day,
			BankDescription:  desc,
			StanID:           statement.ExtractStan(desc),
			Debit:            debit,
			Credit:           credit,
			AvailableBalance: bal,
			IsTaxes:          tax,
		})
	}

	for d := 0; d < opts.Days; d++ {
		day := opts.Start.AddDate(0, 0, d)
		if d == 0 {
			add(day, "IBFT Inward Salary ACME PVT LTD", decimal.Zero, decimal.NewFromInt(250000), false)
		}
		for i := 0; i < opts.PerDay; i++ {
			m := spend[r.Intn(len(spend))]
			stan++
			amount := decimal.NewFromInt(m.min)
			if m.max > m.min {
				amount = decimal.NewFromInt(m.min + r.Int63n(m.max-m.min))
			}
			desc := fmt.Sprintf(m.desc, stan)
			add(day, desc, amount, decimal.Zero, false)
			if m.tax && r.Intn(2) == 0 {
				tax := amount.Mul(decimal.RequireFromString("0.015")).Round(2)
				add(day, fmt.Sprintf("FBRTax Withholding Tax STAN (%d)", stan), tax, decimal.Zero, true)
			}
		}
	}
	return rows
}

// WriteCSV renders Rows as a bank export.
func WriteCSV(w io.Writer, opts Options) error {
	return statement.Write(w, "Sample Current Account", Rows(opts))
}
