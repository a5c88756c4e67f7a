// Package analytics computes totals, percentiles, spread and month-end forecasts over a
// window of stored transactions. Every function is pure: callers pass the rows and, where
// a notion of "today" is needed, the reference time.
package analytics

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/ledgererr"
)

// Measure is a value that may be undefined, for example the mean of nothing.
// It marshals to JSON null when undefined.
type Measure struct {
	Value   decimal.Decimal
	Defined bool
}

// Undefined is the "no data" marker.
var Undefined = Measure{}

func defined(v decimal.Decimal) Measure { return Measure{Value: v, Defined: true} }

func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Measure) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Undefined
		return nil
	}
	var v decimal.Decimal
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = defined(v)
	return nil
}

func (m Measure) String() string {
	if !m.Defined {
		return "undefined"
	}
	return m.Value.String()
}

// ratioPlaces bounds the precision of divisions that do not terminate.
const ratioPlaces = 6

func divide(num, den decimal.Decimal) Measure {
	if den.IsZero() {
		return Undefined
	}
	return defined(num.DivRound(den, ratioPlaces))
}

// TotalExpenditure sums debits.
func TotalExpenditure(txs []repository.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Debit)
	}
	return total
}

// TotalIncome sums credits.
func TotalIncome(txs []repository.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Credit)
	}
	return total
}

// OverallRatio is total income over total expenditure. Above 1 means the window saved money.
func OverallRatio(txs []repository.Transaction) Measure {
	return divide(TotalIncome(txs), TotalExpenditure(txs))
}

func expenditures(txs []repository.Transaction) []decimal.Decimal {
	var out []decimal.Decimal
	for _, t := range txs {
		if t.IsExpenditure() {
			out = append(out, t.Debit)
		}
	}
	return out
}

func incomes(txs []repository.Transaction) []decimal.Decimal {
	var out []decimal.Decimal
	for _, t := range txs {
		if t.IsIncome() {
			out = append(out, t.Credit)
		}
	}
	return out
}

// PercentilePoint holds the expenditure and income value at one percentile.
type PercentilePoint struct {
	Percentile  float64 `json:"percentile"`
	Expenditure Measure `json:"expenditure"`
	Income      Measure `json:"income"`
}

// PercentileBreakdown computes each requested percentile independently over the
// expenditure and the income distributions, interpolating linearly between order
// statistics at rank p/100*(n-1).
func PercentileBreakdown(txs []repository.Transaction, ps []float64) (map[float64]PercentilePoint, error) {
	for _, p := range ps {
		if math.IsNaN(p) || p < 0 || p > 100 {
			return nil, ledgererr.Validation("percentile breakdown", "percentile %v outside [0, 100]", p)
		}
	}
	exp := sortedCopy(expenditures(txs))
	inc := sortedCopy(incomes(txs))

	out := make(map[float64]PercentilePoint, len(ps))
	for _, p := range ps {
		out[p] = PercentilePoint{
			Percentile:  p,
			Expenditure: percentile(exp, p),
			Income:      percentile(inc, p),
		}
	}
	return out, nil
}

// Points returns a breakdown ordered by percentile.
func Points(b map[float64]PercentilePoint) []PercentilePoint {
	out := make([]PercentilePoint, 0, len(b))
	for _, pt := range b {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Percentile < out[j].Percentile })
	return out
}

func sortedCopy(vals []decimal.Decimal) []decimal.Decimal {
	out := append([]decimal.Decimal(nil), vals...)
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

// percentile expects sorted input.
func percentile(sorted []decimal.Decimal, p float64) Measure {
	n := len(sorted)
	if n == 0 {
		return Undefined
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return defined(sorted[lo])
	}
	frac := decimal.NewFromFloat(rank - float64(lo))
	v := sorted[lo].Add(sorted[hi].Sub(sorted[lo]).Mul(frac))
	return defined(v.Round(ratioPlaces))
}

// RatioPoint is income over expenditure at one percentile.
type RatioPoint struct {
	Percentile float64 `json:"percentile"`
	Ratio      Measure `json:"ratio"`
}

// IncomeToExpenditureRatio divides the income value by the expenditure value at each
// percentile. Missing data on either side or a zero expenditure yields Undefined.
func IncomeToExpenditureRatio(b map[float64]PercentilePoint) map[float64]Measure {
	out := make(map[float64]Measure, len(b))
	for p, pt := range b {
		if !pt.Expenditure.Defined || !pt.Income.Defined {
			out[p] = Undefined
			continue
		}
		out[p] = divide(pt.Income.Value, pt.Expenditure.Value)
	}
	return out
}

// RatioPoints returns ratios ordered by percentile.
func RatioPoints(r map[float64]Measure) []RatioPoint {
	out := make([]RatioPoint, 0, len(r))
	for p, m := range r {
		out = append(out, RatioPoint{Percentile: p, Ratio: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Percentile < out[j].Percentile })
	return out
}

// Deviation selects the standard deviation estimator.
type Deviation int

const (
	Population Deviation = iota
	Sample
)

// SpreadStats describes the expenditure distribution.
type SpreadStats struct {
	Count  int     `json:"count"`
	Min    Measure `json:"min"`
	Max    Measure `json:"max"`
	Mean   Measure `json:"mean"`
	StdDev Measure `json:"stddev"`
}

// Spread summarises expenditures. A sample deviation needs at least two values.
func Spread(txs []repository.Transaction, mode Deviation) SpreadStats {
	vals := expenditures(txs)
	s := SpreadStats{Count: len(vals)}
	if len(vals) == 0 {
		return s
	}
	lo, hi, sum := vals[0], vals[0], decimal.Zero
	for _, v := range vals {
		lo = decimal.Min(lo, v)
		hi = decimal.Max(hi, v)
		sum = sum.Add(v)
	}
	n := decimal.NewFromInt(int64(len(vals)))
	mean := sum.Div(n)
	s.Min, s.Max = defined(lo), defined(hi)
	s.Mean = defined(mean.Round(ratioPlaces))

	den := len(vals)
	if mode == Sample {
		den--
	}
	if den <= 0 {
		return s
	}
	// squared deviations are summed exactly; only the root goes through float64
	sq := decimal.Zero
	for _, v := range vals {
		d := v.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	variance := sq.Div(decimal.NewFromInt(int64(den))).InexactFloat64()
	s.StdDev = defined(decimal.NewFromFloat(math.Sqrt(variance)).Round(ratioPlaces))
	return s
}

// Forecast is the month-end projection of expenditure.
type Forecast struct {
	Year         int             `json:"year"`
	Month        time.Month      `json:"month"`
	AsOf         time.Time       `json:"as_of"`
	CurrentTotal decimal.Decimal `json:"current_total"`
	DaysElapsed  int             `json:"days_elapsed"`
	DaysWithData int             `json:"days_with_data"`
	DaysInMonth  int             `json:"days_in_month"`
	DailyMean    Measure         `json:"daily_mean"`
	Projected    Measure         `json:"projected"`
}

// DaysIn returns the number of days in the month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ForecastMonthEnd projects the month's expenditure from the mean over days that have
// debits booked in the month on or before asOf. Booking dates are read in asOf's location.
// With no such day the projection is Undefined, not zero.
func ForecastMonthEnd(txs []repository.Transaction, year int, month time.Month, asOf time.Time) Forecast {
	loc := asOf.Location()
	f := Forecast{
		Year:         year,
		Month:        month,
		AsOf:         asOf,
		CurrentTotal: decimal.Zero,
		DaysInMonth:  DaysIn(year, month),
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	switch {
	case asOf.Before(start):
		f.DaysElapsed = 0
	case asOf.Year() == year && asOf.Month() == month:
		f.DaysElapsed = asOf.Day()
	default:
		f.DaysElapsed = f.DaysInMonth
	}

	days := make(map[int]struct{})
	for _, t := range txs {
		if !t.IsExpenditure() {
			continue
		}
		booked := t.BookingDateTime.In(loc)
		if booked.Year() != year || booked.Month() != month || booked.After(asOf) {
			continue
		}
		f.CurrentTotal = f.CurrentTotal.Add(t.Debit)
		days[booked.Day()] = struct{}{}
	}
	f.DaysWithData = len(days)
	if f.DaysWithData == 0 {
		return f
	}
	mean := f.CurrentTotal.Div(decimal.NewFromInt(int64(f.DaysWithData)))
	f.DailyMean = defined(mean.Round(ratioPlaces))
	f.Projected = defined(mean.Mul(decimal.NewFromInt(int64(f.DaysInMonth))).Round(2))
	return f
}

// CategoryShare is one category's part of the window's expenditure and income.
type CategoryShare struct {
	Category         string          `json:"category"`
	Expenditure      decimal.Decimal `json:"expenditure"`
	ExpenditureShare Measure         `json:"expenditure_share"`
	Income           decimal.Decimal `json:"income"`
	IncomeShare      Measure         `json:"income_share"`
}

// Uncategorized labels rows the annotation pipeline has not reached yet.
const Uncategorized = "Uncategorized"

// CategoryShares reports each category's share of total expenditure and income in percent,
// largest expenditure first.
func CategoryShares(txs []repository.Transaction) []CategoryShare {
	byCat := make(map[string]*CategoryShare)
	var order []string
	for _, t := range txs {
		cat := Uncategorized
		if t.Category != nil && strings.TrimSpace(*t.Category) != "" {
			cat = *t.Category
		}
		cs, ok := byCat[cat]
		if !ok {
			cs = &CategoryShare{Category: cat, Expenditure: decimal.Zero, Income: decimal.Zero}
			byCat[cat] = cs
			order = append(order, cat)
		}
		cs.Expenditure = cs.Expenditure.Add(t.Debit)
		cs.Income = cs.Income.Add(t.Credit)
	}

	totalExp, totalInc := TotalExpenditure(txs), TotalIncome(txs)
	hundred := decimal.NewFromInt(100)
	out := make([]CategoryShare, 0, len(order))
	for _, cat := range order {
		cs := byCat[cat]
		cs.ExpenditureShare = divide(cs.Expenditure.Mul(hundred), totalExp)
		cs.IncomeShare = divide(cs.Income.Mul(hundred), totalInc)
		out = append(out, *cs)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Expenditure.Equal(out[j].Expenditure) {
			return out[i].Expenditure.GreaterThan(out[j].Expenditure)
		}
		return out[i].Category < out[j].Category
	})
	return out
}
