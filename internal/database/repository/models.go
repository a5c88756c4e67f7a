package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a transactions row.
type Transaction struct {
	ID               int64           `json:"id"`
	BookingDateTime  time.Time       `json:"booking_date_time"`
	ValueDateTime    time.Time       `json:"value_date_time"`
	DayOrderID       int             `json:"day_order_id"`
	BankDescription  string          `json:"bank_statement_description"`
	StanID           *string         `json:"stan_id"`
	Debit            decimal.Decimal `json:"debit"`
	Credit           decimal.Decimal `json:"credit"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Description      *string         `json:"description"`
	Category         *string         `json:"category"`
	OriginatorName   *string         `json:"originator_name"`
	Group            *string         `json:"group"`
	IsTaxes          bool            `json:"is_taxes"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsExpenditure reports whether the row moves money out of the account.
func (t Transaction) IsExpenditure() bool { return t.Debit.IsPositive() }

// IsIncome reports whether the row moves money into the account.
func (t Transaction) IsIncome() bool { return t.Credit.IsPositive() }

// Annotated reports whether the classification columns the pipeline fills are set.
func (t Transaction) Annotated() bool { return t.Description != nil && t.Category != nil }

// Stan returns the settlement id or "" when absent.
func (t Transaction) Stan() string {
	if t.StanID == nil {
		return ""
	}
	return *t.StanID
}

// InsertResult counts the outcome of InsertMany.
type InsertResult struct {
	Inserted int
	Skipped  int
}

// Update pairs a transaction id with the fields to change.
type Update struct {
	ID    int64
	Patch Patch
}

// TaxScope selects which side of the parent/tax split a query returns.
type TaxScope int

const (
	ParentsOnly TaxScope = iota
	TaxesOnly
	AllRows
)

// Filter defines query filters. Zero values mean "match all".
type Filter struct {
	From           time.Time // inclusive
	To             time.Time // inclusive
	Category       string
	OriginatorName string // case-insensitive substring
	Description    string // case-insensitive substring
	ID             int64
	OnlyAnnotated  bool
	Taxes          TaxScope
}

// SortField is a whitelisted ordering column.
type SortField string

const (
	SortBookingDate SortField = "booking_date_time"
	SortDebit       SortField = "debit"
	SortCredit      SortField = "credit"
	SortID          SortField = "id"
)

// Sort orders query results. Ties always fall back to the canonical order.
type Sort struct {
	Field SortField
	Desc  bool
}

// CanonicalSort is booking_date_time then day_order_id, ascending.
var CanonicalSort = Sort{Field: SortBookingDate}

// Page selects a 1-based page. Size <= 0 disables paging.
type Page struct {
	Number int
	Size   int
}

func (p Page) offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}
