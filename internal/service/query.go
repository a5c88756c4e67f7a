package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/ledgererr"
)

const (
	defaultPageSize = 20
	maxPageSize     = 500
)

// TaxRecord is a tax line nested under its parent.
type TaxRecord struct {
	ID               int64           `json:"id"`
	BookingDateTime  time.Time       `json:"booking_date_time"`
	ValueDateTime    time.Time       `json:"value_date_time"`
	DayOrderID       int             `json:"day_order_id"`
	BankDescription  string          `json:"bank_statement_description"`
	StanID           string          `json:"stan_id"`
	Debit            decimal.Decimal `json:"debit"`
	Credit           decimal.Decimal `json:"credit"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Description      *string         `json:"description"`
	Category         *string         `json:"category"`
}

// ParentRecord is a non-tax transaction with its tax lines.
type ParentRecord struct {
	repository.Transaction
	Taxes []TaxRecord `json:"taxes"`
}

// Page is one page of parents. Tax rows never count towards TotalItems.
type Page struct {
	Items      []ParentRecord `json:"items"`
	PageNumber int            `json:"page_number"`
	PageSize   int            `json:"page_size"`
	TotalItems int            `json:"total_items"`
	TotalPages int            `json:"total_pages"`
}

// QueryService serves filtered, sorted, paginated reads with taxes nested under parents.
type QueryService struct {
	Transactions    *repository.TransactionRepo
	Diagnostics     Diagnostics
	DefaultPageSize int
	MaxPageSize     int
}

// List returns one page of parent transactions. A nil sort means canonical order.
func (s *QueryService) List(ctx context.Context, f repository.Filter, sort *repository.Sort, page repository.Page) (Page, error) {
	page, err := s.normalizePage(page)
	if err != nil {
		return Page{}, err
	}
	out := Page{Items: []ParentRecord{}, PageNumber: page.Number, PageSize: page.Size, TotalPages: 1}

	order := repository.CanonicalSort
	if sort != nil {
		if err := validateSort(*sort); err != nil {
			return Page{}, err
		}
		order = *sort
	}

	f.Taxes = repository.ParentsOnly
	if f.ID != 0 {
		id, ok, err := s.resolveParentID(ctx, f.ID)
		if err != nil {
			return Page{}, err
		}
		if !ok {
			return out, nil
		}
		f.ID = id
	}

	parents, total, err := s.Transactions.Query(ctx, f, order, page)
	if err != nil {
		return Page{}, err
	}
	out.TotalItems = total
	if total > 0 {
		out.TotalPages = (total + page.Size - 1) / page.Size
	}

	items, err := s.nest(ctx, parents)
	if err != nil {
		return Page{}, err
	}
	out.Items = items

	// an id lookup reports its own orphan in resolveParentID
	if f.ID == 0 {
		if err := s.reportOrphans(ctx, f); err != nil {
			return Page{}, err
		}
	}
	return out, nil
}

// Get returns a single parent with its taxes. A tax id resolves to its parent.
func (s *QueryService) Get(ctx context.Context, id int64) (ParentRecord, error) {
	p, err := s.List(ctx, repository.Filter{ID: id}, nil, repository.Page{Number: 1, Size: 1})
	if err != nil {
		return ParentRecord{}, err
	}
	if len(p.Items) == 0 {
		return ParentRecord{}, ledgererr.NotFound("get transaction", id)
	}
	return p.Items[0], nil
}

// Diagnose scans the store for orphan taxes and ambiguous parents.
// Anomalies are returned and also forwarded to Diagnostics.
func (s *QueryService) Diagnose(ctx context.Context, f repository.Filter) ([]Anomaly, error) {
	var out []Anomaly
	orphans, err := s.Transactions.OrphanTaxes(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, t := range orphans {
		out = append(out, orphanAnomaly(t))
	}

	stans, err := s.Transactions.AmbiguousStans(ctx)
	if err != nil {
		return nil, err
	}
	parents, err := s.Transactions.ParentsForStans(ctx, stans)
	if err != nil {
		return nil, err
	}
	for _, stan := range stans {
		out = append(out, duplicateParentAnomaly(stan, parents[stan]))
	}

	for _, a := range out {
		report(ctx, s.Diagnostics, a)
	}
	return out, nil
}

// Categories lists the distinct categories in the store.
func (s *QueryService) Categories(ctx context.Context) ([]string, error) {
	return s.Transactions.Categories(ctx)
}

func (s *QueryService) normalizePage(p repository.Page) (repository.Page, error) {
	const op = "list transactions"
	if p.Number < 0 || p.Size < 0 {
		return p, ledgererr.Validation(op, "page number and size must not be negative").
			With("page", p.Number).With("size", p.Size)
	}
	size, limit := s.DefaultPageSize, s.MaxPageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if limit <= 0 {
		limit = maxPageSize
	}
	if p.Number == 0 {
		p.Number = 1
	}
	if p.Size == 0 {
		p.Size = size
	}
	if p.Size > limit {
		p.Size = limit
	}
	return p, nil
}

func validateSort(s repository.Sort) error {
	switch s.Field {
	case repository.SortBookingDate, repository.SortDebit, repository.SortCredit, repository.SortID:
		return nil
	}
	return ledgererr.Validation("list transactions", "unsupported sort field %q", s.Field)
}

// resolveParentID maps a tax row id onto its parent. ok is false when nothing should be listed.
func (s *QueryService) resolveParentID(ctx context.Context, id int64) (int64, bool, error) {
	t, err := s.Transactions.Get(ctx, id)
	if err != nil {
		if ledgererr.Is(err, ledgererr.KindNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !t.IsTaxes {
		return id, true, nil
	}
	if t.Stan() == "" {
		report(ctx, s.Diagnostics, orphanAnomaly(t))
		return 0, false, nil
	}
	parents, err := s.Transactions.ParentsForStans(ctx, []string{t.Stan()})
	if err != nil {
		return 0, false, err
	}
	switch ps := parents[t.Stan()]; len(ps) {
	case 0:
		report(ctx, s.Diagnostics, orphanAnomaly(t))
		return 0, false, nil
	case 1:
		return ps[0].ID, true, nil
	default:
		report(ctx, s.Diagnostics, duplicateParentAnomaly(t.Stan(), ps))
		return 0, false, nil
	}
}

// nest attaches tax rows to the page's parents. A stan_id claimed by more than one
// parent in the whole store attaches its taxes to none of them.
func (s *QueryService) nest(ctx context.Context, parents []repository.Transaction) ([]ParentRecord, error) {
	stans := make([]string, 0, len(parents))
	for _, p := range parents {
		if p.Stan() != "" {
			stans = append(stans, p.Stan())
		}
	}
	taxes, err := s.Transactions.TaxesForStans(ctx, stans)
	if err != nil {
		return nil, err
	}
	claimed, err := s.Transactions.ParentsForStans(ctx, stans)
	if err != nil {
		return nil, err
	}

	reported := make(map[string]bool)
	out := make([]ParentRecord, 0, len(parents))
	for _, p := range parents {
		rec := ParentRecord{Transaction: p, Taxes: []TaxRecord{}}
		stan := p.Stan()
		if group := taxes[stan]; stan != "" && len(group) > 0 {
			if len(claimed[stan]) > 1 {
				if !reported[stan] {
					report(ctx, s.Diagnostics, duplicateParentAnomaly(stan, claimed[stan]))
					reported[stan] = true
				}
			} else {
				for _, t := range group {
					rec.Taxes = append(rec.Taxes, toTaxRecord(t))
				}
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *QueryService) reportOrphans(ctx context.Context, f repository.Filter) error {
	if s.Diagnostics == nil {
		return nil
	}
	orphans, err := s.Transactions.OrphanTaxes(ctx, f)
	if err != nil {
		return err
	}
	for _, t := range orphans {
		report(ctx, s.Diagnostics, orphanAnomaly(t))
	}
	return nil
}

func toTaxRecord(t repository.Transaction) TaxRecord {
	return TaxRecord{
		ID:               t.ID,
		BookingDateTime:  t.BookingDateTime,
		ValueDateTime:    t.ValueDateTime,
		DayOrderID:       t.DayOrderID,
		BankDescription:  t.BankDescription,
		StanID:           t.Stan(),
		Debit:            t.Debit,
		Credit:           t.Credit,
		AvailableBalance: t.AvailableBalance,
		Description:      t.Description,
		Category:         t.Category,
	}
}

func orphanAnomaly(t repository.Transaction) Anomaly {
	msg := "tax row has no stan_id"
	if t.Stan() != "" {
		msg = fmt.Sprintf("no parent transaction for stan_id %s", t.Stan())
	}
	return Anomaly{Kind: AnomalyOrphanTax, TransactionID: t.ID, StanID: t.Stan(), Message: msg}
}

func duplicateParentAnomaly(stan string, parents []repository.Transaction) Anomaly {
	ids := make([]int64, 0, len(parents))
	for _, p := range parents {
		ids = append(ids, p.ID)
	}
	err := ledgererr.Integrity("nest taxes", "stan_id %s has %d candidate parents", stan, len(parents)).
		With("parent_ids", ids)
	return Anomaly{Kind: AnomalyDuplicateParent, StanID: stan, Message: err.Error()}
}
