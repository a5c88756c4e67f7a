package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/ledgererr"
)

// DefaultPercentiles are reported when a caller asks for none.
var DefaultPercentiles = []float64{10, 25, 50, 75, 90}

// Service resolves transaction windows from the store and runs the pure functions over them.
type Service struct {
	Transactions *repository.TransactionRepo
	Deviation    Deviation
}

// Window returns the rows booked in [from, to]; zero bounds are open. Tax rows are left
// out unless includeTaxes is set.
func (s *Service) Window(ctx context.Context, from, to time.Time, includeTaxes bool) ([]repository.Transaction, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, ledgererr.Validation("analytics window", "range end %s is before start %s",
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	f := repository.Filter{From: from, To: to, Taxes: repository.ParentsOnly}
	if includeTaxes {
		f.Taxes = repository.AllRows
	}
	return s.Transactions.Window(ctx, f)
}

// ReportRequest selects the window and percentiles for Report.
type ReportRequest struct {
	From         time.Time
	To           time.Time
	IncludeTaxes bool
	Percentiles  []float64
}

// Report bundles every statistic for one window.
type Report struct {
	From             *time.Time        `json:"from,omitempty"`
	To               *time.Time        `json:"to,omitempty"`
	IncludeTaxes     bool              `json:"include_taxes"`
	Transactions     int               `json:"transactions"`
	TotalExpenditure decimal.Decimal   `json:"total_expenditure"`
	TotalIncome      decimal.Decimal   `json:"total_income"`
	OverallRatio     Measure           `json:"income_to_expenditure"`
	Percentiles      []PercentilePoint `json:"percentiles"`
	Ratios           []RatioPoint      `json:"percentile_ratios"`
	Spread           SpreadStats       `json:"spread"`
	Categories       []CategoryShare   `json:"categories"`
}

// Report computes the full statistics bundle for req.
func (s *Service) Report(ctx context.Context, req ReportRequest) (Report, error) {
	ps := req.Percentiles
	if len(ps) == 0 {
		ps = DefaultPercentiles
	}
	txs, err := s.Window(ctx, req.From, req.To, req.IncludeTaxes)
	if err != nil {
		return Report{}, err
	}
	breakdown, err := PercentileBreakdown(txs, ps)
	if err != nil {
		return Report{}, err
	}

	r := Report{
		IncludeTaxes:     req.IncludeTaxes,
		Transactions:     len(txs),
		TotalExpenditure: TotalExpenditure(txs),
		TotalIncome:      TotalIncome(txs),
		OverallRatio:     OverallRatio(txs),
		Percentiles:      Points(breakdown),
		Ratios:           RatioPoints(IncomeToExpenditureRatio(breakdown)),
		Spread:           Spread(txs, s.Deviation),
		Categories:       CategoryShares(txs),
	}
	if !req.From.IsZero() {
		r.From = &req.From
	}
	if !req.To.IsZero() {
		r.To = &req.To
	}
	return r, nil
}

// Forecast projects month-end expenditure as of asOf. Only rows up to asOf are read.
func (s *Service) Forecast(ctx context.Context, year int, month time.Month, asOf time.Time, includeTaxes bool) (Forecast, error) {
	if month < time.January || month > time.December {
		return Forecast{}, ledgererr.Validation("forecast", "month %d out of range", month)
	}
	if asOf.IsZero() {
		return Forecast{}, ledgererr.Validation("forecast", "as-of date is required")
	}
	loc := asOf.Location()
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	if asOf.Before(end) {
		end = asOf
	}
	var txs []repository.Transaction
	if !end.Before(start) {
		var err error
		txs, err = s.Window(ctx, start, end, includeTaxes)
		if err != nil {
			return Forecast{}, err
		}
	}
	return ForecastMonthEnd(txs, year, month, asOf), nil
}
