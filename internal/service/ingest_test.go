package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/budgettracker/internal/database"
	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/statement"
	"github.com/jask/budgettracker/internal/testdata"
)

func setupStore(t *testing.T) (*repository.TransactionRepo, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	db, err := database.OpenMigrated(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewTransactionRepo(db), ctx
}

func setupIngest(t *testing.T) (*IngestService, *Recorder, context.Context) {
	t.Helper()
	repo, ctx := setupStore(t)
	rec := &Recorder{}
	return &IngestService{
		Transactions: repo,
		Parser:       statement.NewParser(time.UTC),
		Diagnostics:  rec,
		Log:          zerolog.Nop(),
	}, rec, ctx
}

func raw(order int, when time.Time, debit, credit string) statement.RawRow {
	r := statement.RawRow{
		SourceOrder:     order,
		BookingDateTime: when,
		ValueDateTime:   when,
		BankDescription: "row",
		Debit:           decimal.Zero,
		Credit:          decimal.Zero,
	}
	if debit != "" {
		r.Debit = decimal.RequireFromString(debit)
	}
	if credit != "" {
		r.Credit = decimal.RequireFromString(credit)
	}
	return r
}

func TestExtractDedupScenario(t *testing.T) {
	t.Parallel()
	svc, _, ctx := setupIngest(t)
	ten := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	eleven := time.Date(2024, 1, 5, 11, 0, 0, 0, time.UTC)

	res, err := svc.Extract(ctx, []statement.RawRow{raw(1, ten, "20", "")})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)

	// the 10:00 row keeps rank 1, the 11:00 row gets rank 2
	res, err = svc.Extract(ctx, []statement.RawRow{raw(1, ten, "20", ""), raw(2, eleven, "5", "")})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 1, res.Skipped)

	n, err := svc.Transactions.Count(ctx, repository.Filter{Taxes: repository.AllRows})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, _, ctx := setupIngest(t)
	rows := testdata.Rows(testdata.Options{Seed: 7, Days: 10, OpeningBal: decimal.NewFromInt(1000)})

	first, err := svc.Extract(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, len(rows), first.Inserted)
	require.Empty(t, first.Anomalies)

	second, err := svc.Extract(ctx, rows)
	require.NoError(t, err)
	require.Zero(t, second.Inserted)
	require.Equal(t, len(rows), second.Skipped)

	n, err := svc.Transactions.Count(ctx, repository.Filter{Taxes: repository.AllRows})
	require.NoError(t, err)
	require.Equal(t, len(rows), n)
}

func TestExtractRanksBySourceOrderWithinDay(t *testing.T) {
	t.Parallel()
	svc, _, ctx := setupIngest(t)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	// same instant, rows given out of file order
	rows := []statement.RawRow{
		raw(3, day, "30", ""),
		raw(1, day, "10", ""),
		raw(4, next, "40", ""),
		raw(2, day, "20", ""),
	}
	_, err := svc.Extract(ctx, rows)
	require.NoError(t, err)

	stored, err := svc.Transactions.Window(ctx, repository.Filter{})
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for i, want := range []struct {
		order int
		debit string
	}{{1, "10"}, {2, "20"}, {3, "30"}, {1, "40"}} {
		require.Equal(t, want.order, stored[i].DayOrderID)
		require.Equal(t, want.debit, stored[i].Debit.String())
	}
}

func TestExtractReportsInvalidRows(t *testing.T) {
	t.Parallel()
	svc, rec, ctx := setupIngest(t)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	noDate := raw(2, time.Time{}, "5", "")
	both := raw(3, day, "5", "5")
	neither := raw(4, day, "", "")
	negative := raw(5, day, "-5", "")

	res, err := svc.Extract(ctx, []statement.RawRow{raw(1, day, "1", ""), noDate, both, neither, negative, raw(6, day, "", "9")})
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	require.Len(t, res.Anomalies, 4)
	require.Len(t, rec.OfKind(AnomalyInvalidRow), 4)
	require.Equal(t, 2, res.Anomalies[0].SourceOrder)

	// dated rows keep their file position even when their amounts are rejected
	stored, err := svc.Transactions.Window(ctx, repository.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, stored[0].DayOrderID)
	require.Equal(t, 5, stored[1].DayOrderID)
}

func TestExtractCorrectedReexportKeepsPositions(t *testing.T) {
	t.Parallel()
	svc, _, ctx := setupIngest(t)
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	res, err := svc.Extract(ctx, []statement.RawRow{raw(1, day, "10", ""), raw(2, day, "", ""), raw(3, day, "30", "")})
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	require.Len(t, res.Anomalies, 1)

	res, err = svc.Extract(ctx, []statement.RawRow{raw(1, day, "10", ""), raw(2, day, "20", ""), raw(3, day, "30", "")})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 2, res.Skipped)
	require.Empty(t, res.Anomalies)

	stored, err := svc.Transactions.Window(ctx, repository.Filter{})
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, want := range []string{"10", "20", "30"} {
		require.Equal(t, i+1, stored[i].DayOrderID)
		require.True(t, decimal.RequireFromString(want).Equal(stored[i].Debit), stored[i].Debit.String())
	}
}

func TestImportFile(t *testing.T) {
	t.Parallel()
	svc, _, ctx := setupIngest(t)

	path := filepath.Join(t.TempDir(), "statement.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, testdata.WriteCSV(f, testdata.Options{Seed: 3, Days: 5}))
	require.NoError(t, f.Close())

	res, err := svc.ImportFile(ctx, path)
	require.NoError(t, err)
	require.Positive(t, res.Inserted)

	taxes, err := svc.Transactions.Count(ctx, repository.Filter{Taxes: repository.TaxesOnly})
	require.NoError(t, err)
	all, err := svc.Transactions.Count(ctx, repository.Filter{Taxes: repository.AllRows})
	require.NoError(t, err)
	require.Equal(t, res.Inserted, all)
	require.Less(t, taxes, all)

	_, err = svc.ImportFile(ctx, filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestImportCSVWithoutHeader(t *testing.T) {
	t.Parallel()
	svc, _, ctx := setupIngest(t)
	_, err := svc.ImportCSV(ctx, strings.NewReader("nothing,here\n"))
	require.Error(t, err)
}
