package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/budgettracker/internal/database"
	"github.com/jask/budgettracker/internal/ledgererr"
)

func setupRepo(t *testing.T) (*TransactionRepo, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	db, err := database.OpenMigrated(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTransactionRepo(db), ctx
}

func at(day, hour int) time.Time {
	return time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC)
}

func str(s string) *string { return &s }

func debitRow(order int, when time.Time, amount string) Transaction {
	return Transaction{
		BookingDateTime:  when,
		ValueDateTime:    when,
		DayOrderID:       order,
		BankDescription:  "POS " + amount,
		Debit:            decimal.RequireFromString(amount),
		AvailableBalance: decimal.NewFromInt(1000),
	}
}

func creditRow(order int, when time.Time, amount string) Transaction {
	t := debitRow(order, when, "0")
	t.Debit = decimal.Zero
	t.Credit = decimal.RequireFromString(amount)
	t.BankDescription = "IBFT " + amount
	return t
}

func withStan(t Transaction, stan string, taxes bool) Transaction {
	t.StanID = str(stan)
	t.IsTaxes = taxes
	return t
}

func TestInsertManySkipsDuplicates(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)

	res, err := repo.InsertMany(ctx, []Transaction{debitRow(1, at(5, 10), "20")})
	require.NoError(t, err)
	require.Equal(t, InsertResult{Inserted: 1}, res)

	res, err = repo.InsertMany(ctx, []Transaction{
		debitRow(1, at(5, 10), "20"),
		debitRow(2, at(5, 11), "5"),
	})
	require.NoError(t, err)
	require.Equal(t, InsertResult{Inserted: 1, Skipped: 1}, res)

	n, err := repo.Count(ctx, Filter{Taxes: AllRows})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestInsertManyNeverUpdatesExisting(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)

	_, err := repo.InsertMany(ctx, []Transaction{debitRow(1, at(5, 10), "20")})
	require.NoError(t, err)

	changed := debitRow(1, at(5, 10), "999")
	res, err := repo.InsertMany(ctx, []Transaction{changed, changed})
	require.NoError(t, err)
	require.Equal(t, 2, res.Skipped)

	rows, err := repo.Window(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Debit.Equal(decimal.NewFromInt(20)))
}

func TestInsertManyConcurrentCallersDoNotDoubleInsert(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)

	batch := []Transaction{debitRow(1, at(5, 10), "20"), debitRow(2, at(5, 10), "30"), debitRow(1, at(6, 9), "40")}
	var wg sync.WaitGroup
	results := make([]InsertResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.InsertMany(ctx, batch)
		}(i)
	}
	wg.Wait()

	inserted := 0
	for i := range results {
		require.NoError(t, errs[i])
		inserted += results[i].Inserted
	}
	require.Equal(t, 3, inserted)

	n, err := repo.Count(ctx, Filter{Taxes: AllRows})
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestInsertManyRejectsRowsWithoutKey(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)

	bad := debitRow(0, at(5, 10), "20")
	_, err := repo.InsertMany(ctx, []Transaction{debitRow(1, at(5, 9), "1"), bad})
	require.True(t, ledgererr.Is(err, ledgererr.KindValidation))

	n, err := repo.Count(ctx, Filter{Taxes: AllRows})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)
	_, err := repo.Get(ctx, 404)
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestGetRoundTripsFields(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)

	row := withStan(debitRow(3, at(7, 0), "12.34"), "778899", false)
	row.ValueDateTime = at(8, 0)
	_, err := repo.InsertMany(ctx, []Transaction{row})
	require.NoError(t, err)

	rows, err := repo.Window(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got, err := repo.Get(ctx, rows[0].ID)
	require.NoError(t, err)
	require.Equal(t, at(7, 0), got.BookingDateTime)
	require.Equal(t, at(8, 0), got.ValueDateTime)
	require.Equal(t, 3, got.DayOrderID)
	require.Equal(t, "778899", got.Stan())
	require.Equal(t, "12.34", got.Debit.StringFixed(2))
	require.True(t, got.Credit.IsZero())
	require.Nil(t, got.Category)
	require.False(t, got.IsTaxes)
	require.False(t, got.Annotated())
}

func TestUpdateByID(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)
	_, err := repo.InsertMany(ctx, []Transaction{debitRow(1, at(5, 10), "20")})
	require.NoError(t, err)
	rows, err := repo.Window(ctx, Filter{})
	require.NoError(t, err)
	id := rows[0].ID

	got, err := repo.UpdateByID(ctx, id, Patch{Category: str("Food"), OriginatorName: str("Cafe Aylanto")})
	require.NoError(t, err)
	require.Equal(t, "Food", *got.Category)
	require.Equal(t, "Cafe Aylanto", *got.OriginatorName)
	require.Equal(t, 1, got.DayOrderID)
	require.Equal(t, at(5, 10), got.BookingDateTime)

	// clearing a nullable field
	got, err = repo.UpdateByID(ctx, id, Patch{Category: str("")})
	require.NoError(t, err)
	require.Nil(t, got.Category)

	_, err = repo.UpdateByID(ctx, 999, Patch{Category: str("Food")})
	require.ErrorIs(t, err, ledgererr.ErrNotFound)

	_, err = repo.UpdateByID(ctx, id, Patch{})
	require.True(t, ledgererr.Is(err, ledgererr.KindValidation))

	credit := decimal.NewFromInt(5)
	_, err = repo.UpdateByID(ctx, id, Patch{Credit: &credit})
	require.True(t, ledgererr.Is(err, ledgererr.KindValidation), "debit and credit both set")
}

func TestUpdateManyIsAtomic(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)
	_, err := repo.InsertMany(ctx, []Transaction{debitRow(1, at(5, 10), "20"), debitRow(2, at(5, 11), "30")})
	require.NoError(t, err)
	rows, err := repo.Window(ctx, Filter{})
	require.NoError(t, err)

	_, err = repo.UpdateMany(ctx, []Update{
		{ID: rows[0].ID, Patch: Patch{Category: str("Food")}},
		{ID: 12345, Patch: Patch{Category: str("Food")}},
	})
	require.ErrorIs(t, err, ledgererr.ErrNotFound)

	got, err := repo.Get(ctx, rows[0].ID)
	require.NoError(t, err)
	require.Nil(t, got.Category, "first update must roll back")

	n, err := repo.UpdateMany(ctx, []Update{
		{ID: rows[0].ID, Patch: Patch{Category: str("Food")}},
		{ID: rows[1].ID, Patch: Patch{Category: str("Transport")}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// same values again is a no-op in effect
	n, err = repo.UpdateMany(ctx, []Update{{ID: rows[0].ID, Patch: Patch{Category: str("Food")}}})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, err = repo.Get(ctx, rows[0].ID)
	require.NoError(t, err)
	require.Equal(t, "Food", *got.Category)
}

func TestParsePatch(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"id", "day_order_id", "booking_date_time", " Day_Order_ID "} {
		_, err := ParsePatch(map[string]string{key: "1"})
		require.ErrorIs(t, err, ledgererr.ErrImmutableField, key)
	}

	_, err := ParsePatch(map[string]string{"colour": "red"})
	require.True(t, ledgererr.Is(err, ledgererr.KindValidation))

	_, err = ParsePatch(map[string]string{"debit": "abc"})
	require.True(t, ledgererr.Is(err, ledgererr.KindValidation))

	p, err := ParsePatch(map[string]string{
		"category":        "Bills",
		"name":            "K-Electric",
		"is_taxes":        "true",
		"debit":           "10.50",
		"value_date_time": "2024-01-09",
	})
	require.NoError(t, err)
	require.Equal(t, "Bills", *p.Category)
	require.Equal(t, "K-Electric", *p.OriginatorName)
	require.True(t, *p.IsTaxes)
	require.Equal(t, "10.5", p.Debit.String())
	require.Equal(t, at(9, 0), *p.ValueDateTime)
	require.True(t, p.Classification().IsTaxes == nil)
}

func seedQueryRows(t *testing.T, repo *TransactionRepo, ctx context.Context) {
	t.Helper()
	rows := []Transaction{
		debitRow(1, at(3, 0), "100"),
		debitRow(2, at(3, 0), "5"),
		creditRow(1, at(4, 0), "900"),
		withStan(debitRow(1, at(6, 0), "200"), "S1", false),
		withStan(debitRow(2, at(6, 0), "30"), "S1", true),
		withStan(debitRow(3, at(6, 0), "2"), "S9", true),
	}
	rows[0].Category = str("Food")
	rows[0].Description = str("Lunch at Kolachi")
	rows[0].OriginatorName = str("Kolachi Restaurant")
	rows[3].Category = str("Bills")
	rows[3].Description = str("Electricity")
	rows[3].OriginatorName = str("K-Electric")
	_, err := repo.InsertMany(ctx, rows)
	require.NoError(t, err)
}

func TestQueryFiltersSortAndPage(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)
	seedQueryRows(t, repo, ctx)

	items, total, err := repo.Query(ctx, Filter{}, CanonicalSort, Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, items, 2)
	require.Equal(t, "100", items[0].Debit.String())
	require.Equal(t, "5", items[1].Debit.String())

	items, _, err = repo.Query(ctx, Filter{}, CanonicalSort, Page{Number: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "900", items[0].Credit.String())
	require.Equal(t, "S1", items[1].Stan())

	items, _, err = repo.Query(ctx, Filter{}, CanonicalSort, Page{Number: 3, Size: 2})
	require.NoError(t, err)
	require.Empty(t, items)

	items, _, err = repo.Query(ctx, Filter{}, Sort{Field: SortBookingDate, Desc: true}, Page{Number: 1, Size: 1})
	require.NoError(t, err)
	require.Equal(t, "S1", items[0].Stan())

	items, _, err = repo.Query(ctx, Filter{}, Sort{Field: SortDebit, Desc: true}, Page{})
	require.NoError(t, err)
	require.Equal(t, "200", items[0].Debit.String())

	items, total, err = repo.Query(ctx, Filter{From: at(3, 0), To: at(4, 0)}, CanonicalSort, Page{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 3)

	_, total, err = repo.Query(ctx, Filter{Category: "Bills"}, CanonicalSort, Page{})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	items, _, err = repo.Query(ctx, Filter{OriginatorName: "kolachi"}, CanonicalSort, Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Food", *items[0].Category)

	_, total, err = repo.Query(ctx, Filter{Description: "ELECTRIC"}, CanonicalSort, Page{})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	_, total, err = repo.Query(ctx, Filter{OriginatorName: "%"}, CanonicalSort, Page{})
	require.NoError(t, err)
	require.Zero(t, total, "LIKE wildcards are escaped")

	_, total, err = repo.Query(ctx, Filter{OnlyAnnotated: true}, CanonicalSort, Page{})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	_, total, err = repo.Query(ctx, Filter{Taxes: TaxesOnly}, CanonicalSort, Page{})
	require.NoError(t, err)
	require.Equal(t, 2, total)

	_, total, err = repo.Query(ctx, Filter{Taxes: AllRows}, CanonicalSort, Page{})
	require.NoError(t, err)
	require.Equal(t, 6, total)
}

func TestStanLookups(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)
	seedQueryRows(t, repo, ctx)

	taxes, err := repo.TaxesForStans(ctx, []string{"S1", "S1", "", "S9", "S404"})
	require.NoError(t, err)
	require.Len(t, taxes["S1"], 1)
	require.Equal(t, "30", taxes["S1"][0].Debit.String())
	require.Len(t, taxes["S9"], 1)

	parents, err := repo.ParentsForStans(ctx, []string{"S1", "S9"})
	require.NoError(t, err)
	require.Len(t, parents["S1"], 1)
	require.Empty(t, parents["S9"])

	orphans, err := repo.OrphanTaxes(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, "S9", orphans[0].Stan())

	orphans, err = repo.OrphanTaxes(ctx, Filter{To: at(5, 0)})
	require.NoError(t, err)
	require.Empty(t, orphans)

	ambiguous, err := repo.AmbiguousStans(ctx)
	require.NoError(t, err)
	require.Empty(t, ambiguous)

	_, err = repo.InsertMany(ctx, []Transaction{withStan(debitRow(4, at(6, 0), "200"), "S1", false)})
	require.NoError(t, err)
	ambiguous, err = repo.AmbiguousStans(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"S1"}, ambiguous)
}

func TestListUnannotatedAndCategories(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)
	seedQueryRows(t, repo, ctx)

	rows, err := repo.ListUnannotated(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, r := range rows {
		require.False(t, r.Annotated())
	}

	page, err := repo.ListUnannotated(ctx, 2, rows[1].ID)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, rows[2].ID, page[0].ID)

	cats, err := repo.Categories(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Bills", "Food"}, cats)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	repo, ctx := setupRepo(t)
	_, err := repo.InsertMany(ctx, []Transaction{debitRow(1, at(5, 10), "20")})
	require.NoError(t, err)
	rows, err := repo.Window(ctx, Filter{})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, rows[0].ID))
	require.ErrorIs(t, repo.Delete(ctx, rows[0].ID), ledgererr.ErrNotFound)
}
