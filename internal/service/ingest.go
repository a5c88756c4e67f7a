package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/ledgererr"
	"github.com/jask/budgettracker/internal/statement"
)

// IngestService turns parsed statement rows into stored transactions.
type IngestService struct {
	Transactions *repository.TransactionRepo
	Parser       *statement.Parser
	Diagnostics  Diagnostics
	Log          zerolog.Logger
}

type IngestResult struct {
	Inserted  int       `json:"inserted"`
	Skipped   int       `json:"skipped"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// Extract validates rows, assigns day_order_id per booking day and inserts the new ones.
// Rows already in the store are counted as skipped.
func (s *IngestService) Extract(ctx context.Context, rows []statement.RawRow) (IngestResult, error) {
	var res IngestResult
	txs := make([]repository.Transaction, 0, len(rows))
	for _, rr := range rankByDay(rows) {
		if err := validateRow(rr.row); err != nil {
			a := Anomaly{Kind: AnomalyInvalidRow, SourceOrder: rr.row.SourceOrder, Message: err.Error()}
			res.Anomalies = append(res.Anomalies, a)
			report(ctx, s.Diagnostics, a)
			continue
		}
		txs = append(txs, toTransaction(rr.row, rr.dayOrder))
	}

	if len(txs) > 0 {
		ins, err := s.Transactions.InsertMany(ctx, txs)
		if err != nil {
			return res, err
		}
		res.Inserted, res.Skipped = ins.Inserted, ins.Skipped
	}

	s.Log.Info().
		Int("rows", len(rows)).
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Int("invalid", len(res.Anomalies)).
		Msg("ingest complete")
	return res, nil
}

// ImportCSV parses a bank export and ingests it.
func (s *IngestService) ImportCSV(ctx context.Context, r io.Reader) (IngestResult, error) {
	p := s.Parser
	if p == nil {
		p = statement.NewParser(time.UTC)
	}
	rows, err := p.Parse(r)
	if err != nil {
		return IngestResult{}, err
	}
	return s.Extract(ctx, rows)
}

// ImportFile ingests the CSV at path.
func (s *IngestService) ImportFile(ctx context.Context, path string) (IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return IngestResult{}, errors.Wrapf(err, "open %s", filepath.Base(path))
	}
	defer f.Close()

	res, err := s.ImportCSV(ctx, f)
	if err != nil {
		return res, errors.Wrapf(err, "import %s", filepath.Base(path))
	}
	return res, nil
}

func validateRow(r statement.RawRow) error {
	const op = "validate row"
	switch {
	case r.BookingDateTime.IsZero():
		return ledgererr.Validation(op, "missing booking date").With("source_order", r.SourceOrder)
	case r.ValueDateTime.IsZero():
		return ledgererr.Validation(op, "missing value date").With("source_order", r.SourceOrder)
	case r.Debit.IsNegative() || r.Credit.IsNegative():
		return ledgererr.Validation(op, "negative amount").With("source_order", r.SourceOrder)
	case r.Debit.IsZero() == r.Credit.IsZero():
		return ledgererr.Validation(op, "exactly one of debit or credit must be non-zero").
			With("source_order", r.SourceOrder).
			With("debit", r.Debit.String()).
			With("credit", r.Credit.String())
	}
	return nil
}

type rankedRow struct {
	row      statement.RawRow
	dayOrder int
}

// rankByDay orders rows by SourceOrder and numbers every row that has a booking date
// within its day, starting at 1, whether or not its amounts are valid. The day is taken
// in the row's own location. Undated rows keep dayOrder 0.
func rankByDay(rows []statement.RawRow) []rankedRow {
	out := make([]rankedRow, len(rows))
	for i, r := range rows {
		out[i].row = r
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].row.SourceOrder < out[j].row.SourceOrder })

	counts := make(map[string]int)
	for i := range out {
		if out[i].row.BookingDateTime.IsZero() {
			continue
		}
		day := out[i].row.BookingDateTime.Format(time.DateOnly)
		counts[day]++
		out[i].dayOrder = counts[day]
	}
	return out
}

func toTransaction(r statement.RawRow, dayOrder int) repository.Transaction {
	t := repository.Transaction{
		BookingDateTime:  r.BookingDateTime,
		ValueDateTime:    r.ValueDateTime,
		DayOrderID:       dayOrder,
		BankDescription:  r.BankDescription,
		Debit:            r.Debit,
		Credit:           r.Credit,
		AvailableBalance: r.AvailableBalance,
		IsTaxes:          r.IsTaxes,
	}
	if r.StanID != "" {
		stan := r.StanID
		t.StanID = &stan
	}
	return t
}
