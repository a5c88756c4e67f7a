package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jask/budgettracker/internal/database"
	"github.com/jask/budgettracker/internal/ledgererr"
)

const txColumns = `id, booking_date_time, value_date_time, day_order_id, bank_statement_description, stan_id,
 debit, credit, available_balance, description, category, originator_name, group_name, is_taxes,
 created_at, updated_at`

// sqlite caps bound parameters; IN lists are chunked below this.
const maxInArgs = 500

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

// InsertMany inserts rows in a single transaction. Rows whose
// (day_order_id, booking_date_time) already exists are skipped, never updated.
func (r *TransactionRepo) InsertMany(ctx context.Context, txs []Transaction) (InsertResult, error) {
	const op = "insert transactions"
	for i, t := range txs {
		if t.BookingDateTime.IsZero() || t.DayOrderID <= 0 {
			return InsertResult{}, ledgererr.Validation(op, "row %d lacks booking_date_time or day_order_id", i)
		}
	}

	var res InsertResult
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO transactions(
	 booking_date_time, value_date_time, day_order_id, bank_statement_description, stan_id,
	 debit, credit, available_balance, description, category, originator_name, group_name, is_taxes,
	 created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(day_order_id, booking_date_time) DO NOTHING;
	`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range txs {
			out, err := stmt.ExecContext(ctx,
				normalizeTime(t.BookingDateTime), normalizeTime(t.ValueDateTime), t.DayOrderID,
				t.BankDescription, t.StanID, t.Debit, t.Credit, t.AvailableBalance,
				t.Description, t.Category, t.OriginatorName, t.Group, t.IsTaxes)
			if err != nil {
				return err
			}
			n, err := out.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				res.Skipped++
			} else {
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return InsertResult{}, ledgererr.Wrap(err, op)
	}
	return res, nil
}

// Get returns the transaction with id or a not-found error.
func (r *TransactionRepo) Get(ctx context.Context, id int64) (Transaction, error) {
	return getTransaction(ctx, r.db, "get transaction", id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getTransaction(ctx context.Context, q queryer, op string, id int64) (Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, ledgererr.NotFound(op, id)
		}
		return Transaction{}, ledgererr.Wrap(err, op)
	}
	return t, nil
}

// UpdateByID applies p to one transaction and returns the stored result.
func (r *TransactionRepo) UpdateByID(ctx context.Context, id int64, p Patch) (Transaction, error) {
	const op = "update transaction"
	if p.IsEmpty() {
		return Transaction{}, ledgererr.Validation(op, "empty patch for transaction %d", id)
	}
	var out Transaction
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := updateOne(ctx, tx, op, id, p); err != nil {
			return err
		}
		var err error
		out, err = getTransaction(ctx, tx, op, id)
		return err
	})
	if err != nil {
		return Transaction{}, wrapUnlessLedger(err, op)
	}
	return out, nil
}

// UpdateMany applies all updates atomically; an unknown id aborts the whole call.
func (r *TransactionRepo) UpdateMany(ctx context.Context, updates []Update) (int, error) {
	const op = "update transactions"
	for _, u := range updates {
		if u.Patch.IsEmpty() {
			return 0, ledgererr.Validation(op, "empty patch for transaction %d", u.ID)
		}
	}
	updated := 0
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, u := range updates {
			if err := updateOne(ctx, tx, op, u.ID, u.Patch); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, wrapUnlessLedger(err, op)
	}
	return updated, nil
}

func updateOne(ctx context.Context, tx *sql.Tx, op string, id int64, p Patch) error {
	current, err := getTransaction(ctx, tx, op, id)
	if err != nil {
		return err
	}
	next := p.apply(current)
	if p.Debit != nil || p.Credit != nil {
		if err := validateAmounts(op, next); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
	UPDATE transactions SET
	 value_date_time = ?, bank_statement_description = ?, stan_id = ?,
	 debit = ?, credit = ?, available_balance = ?,
	 description = ?, category = ?, originator_name = ?, group_name = ?, is_taxes = ?,
	 updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`,
		next.ValueDateTime, next.BankDescription, next.StanID,
		next.Debit, next.Credit, next.AvailableBalance,
		next.Description, next.Category, next.OriginatorName, next.Group, next.IsTaxes,
		id)
	return err
}

// Delete removes a transaction. Only the presentation layer calls this.
func (r *TransactionRepo) Delete(ctx context.Context, id int64) error {
	const op = "delete transaction"
	out, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return ledgererr.Wrap(err, op)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ledgererr.NotFound(op, id)
	}
	return nil
}

// Query returns one page of matching rows plus the total match count.
func (r *TransactionRepo) Query(ctx context.Context, f Filter, s Sort, p Page) ([]Transaction, int, error) {
	const op = "query transactions"
	where, args := buildWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, ledgererr.Wrap(err, op)
	}

	query := `SELECT ` + txColumns + ` FROM transactions` + where + orderBy(s)
	if p.Size > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, p.Size, p.offset())
	}
	out, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, ledgererr.Wrap(err, op)
	}
	return out, total, nil
}

// Window returns every matching row in canonical order.
func (r *TransactionRepo) Window(ctx context.Context, f Filter) ([]Transaction, error) {
	out, _, err := r.Query(ctx, f, CanonicalSort, Page{})
	return out, err
}

// Count returns the number of rows matching f.
func (r *TransactionRepo) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&n); err != nil {
		return 0, ledgererr.Wrap(err, "count transactions")
	}
	return n, nil
}

// TaxesForStans groups tax rows by stan_id, each group in canonical order.
func (r *TransactionRepo) TaxesForStans(ctx context.Context, stans []string) (map[string][]Transaction, error) {
	return r.byStans(ctx, stans, true)
}

// ParentsForStans groups non-tax rows by stan_id across the whole store.
func (r *TransactionRepo) ParentsForStans(ctx context.Context, stans []string) (map[string][]Transaction, error) {
	return r.byStans(ctx, stans, false)
}

func (r *TransactionRepo) byStans(ctx context.Context, stans []string, taxes bool) (map[string][]Transaction, error) {
	out := make(map[string][]Transaction)
	stans = uniqueNonEmpty(stans)
	for start := 0; start < len(stans); start += maxInArgs {
		end := start + maxInArgs
		if end > len(stans) {
			end = len(stans)
		}
		chunk := stans[start:end]
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, taxes)
		for _, s := range chunk {
			args = append(args, s)
		}
		query := `SELECT ` + txColumns + ` FROM transactions WHERE is_taxes = ? AND stan_id IN (` +
			placeholders(len(chunk)) + `)` + orderBy(CanonicalSort)
		rows, err := r.list(ctx, query, args...)
		if err != nil {
			return nil, ledgererr.Wrap(err, "transactions by stan")
		}
		for _, t := range rows {
			out[t.Stan()] = append(out[t.Stan()], t)
		}
	}
	return out, nil
}

// OrphanTaxes returns tax rows inside f's date range that no non-tax row claims.
// Only the date bounds of f apply.
func (r *TransactionRepo) OrphanTaxes(ctx context.Context, f Filter) ([]Transaction, error) {
	where, args := buildWhere(Filter{From: f.From, To: f.To, Taxes: TaxesOnly})
	query := `SELECT ` + txColumns + ` FROM transactions t` + where + `
	 AND (t.stan_id IS NULL OR t.stan_id = '' OR NOT EXISTS (
	  SELECT 1 FROM transactions p WHERE p.is_taxes = 0 AND p.stan_id = t.stan_id))` + orderBy(CanonicalSort)
	out, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, ledgererr.Wrap(err, "orphan taxes")
	}
	return out, nil
}

// AmbiguousStans returns stan_ids that carry tax rows and more than one non-tax row.
func (r *TransactionRepo) AmbiguousStans(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT stan_id FROM transactions
	WHERE is_taxes = 0 AND stan_id IS NOT NULL AND stan_id != ''
	 AND stan_id IN (SELECT stan_id FROM transactions WHERE is_taxes = 1)
	GROUP BY stan_id HAVING COUNT(*) > 1
	ORDER BY stan_id`)
	if err != nil {
		return nil, ledgererr.Wrap(err, "ambiguous stans")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListUnannotated returns up to limit rows lacking description or category, by id, after afterID.
func (r *TransactionRepo) ListUnannotated(ctx context.Context, limit int, afterID int64) ([]Transaction, error) {
	out, err := r.list(ctx, `SELECT `+txColumns+` FROM transactions
	WHERE (description IS NULL OR category IS NULL) AND id > ?
	ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, ledgererr.Wrap(err, "list unannotated")
	}
	return out, nil
}

// Categories returns the distinct non-empty categories.
func (r *TransactionRepo) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT category FROM transactions WHERE category IS NOT NULL AND category != '' ORDER BY category`)
	if err != nil {
		return nil, ledgererr.Wrap(err, "list categories")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *TransactionRepo) list(ctx context.Context, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func buildWhere(f Filter) (string, []interface{}) {
	var where []string
	var args []interface{}

	switch f.Taxes {
	case ParentsOnly:
		where = append(where, "is_taxes = 0")
	case TaxesOnly:
		where = append(where, "is_taxes = 1")
	}
	if !f.From.IsZero() {
		where = append(where, "booking_date_time >= ?")
		args = append(args, normalizeTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "booking_date_time <= ?")
		args = append(args, normalizeTime(f.To))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.OriginatorName != "" {
		where = append(where, `LOWER(originator_name) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.OriginatorName))
	}
	if f.Description != "" {
		where = append(where, `LOWER(description) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.Description))
	}
	if f.ID != 0 {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.OnlyAnnotated {
		where = append(where, "description IS NOT NULL AND category IS NOT NULL")
	}
	if len(where) == 0 {
		return " WHERE 1 = 1", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func orderBy(s Sort) string {
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}
	canonical := fmt.Sprintf("booking_date_time %s, day_order_id %s, id %s", dir, dir, dir)
	switch s.Field {
	case SortDebit:
		return fmt.Sprintf(" ORDER BY CAST(debit AS REAL) %s, booking_date_time ASC, day_order_id ASC, id ASC", dir)
	case SortCredit:
		return fmt.Sprintf(" ORDER BY CAST(credit AS REAL) %s, booking_date_time ASC, day_order_id ASC, id ASC", dir)
	case SortID:
		return " ORDER BY id " + dir
	default:
		return " ORDER BY " + canonical
	}
}

func likePattern(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func uniqueNonEmpty(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func wrapUnlessLedger(err error, op string) error {
	if ledgererr.KindOf(err) != "" {
		return err
	}
	return ledgererr.Wrap(err, op)
}

// scanTransaction handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var stan, desc, category, originator, group sql.NullString
	if err := row.Scan(&t.ID, &t.BookingDateTime, &t.ValueDateTime, &t.DayOrderID, &t.BankDescription, &stan,
		&t.Debit, &t.Credit, &t.AvailableBalance, &desc, &category, &originator, &group, &t.IsTaxes,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	if stan.Valid {
		t.StanID = &stan.String
	}
	if desc.Valid {
		t.Description = &desc.String
	}
	if category.Valid {
		t.Category = &category.String
	}
	if originator.Valid {
		t.OriginatorName = &originator.String
	}
	if group.Valid {
		t.Group = &group.String
	}
	return t, nil
}
