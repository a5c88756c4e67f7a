package statement

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/jask/budgettracker/internal/ledgererr"
)

// DateFormat is the bank export's date layout, e.g. "05 Jan 2024".
const DateFormat = "02 Jan 2006"

const headerMarker = "Booking Date"

const (
	colBooking = iota
	colValue
	colDocNo
	colDescription
	colDebit
	colCredit
	colBalance
	numColumns
)

var (
	stanPattern = regexp.MustCompile(`(?i)STAN\s*\((\d+)\)`)
	taxPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)FBRTax`),
		regexp.MustCompile(`(?i)Withholding Tax`),
		regexp.MustCompile(`(?i)Charges Taxes`),
		regexp.MustCompile(`(?i)CHG:.*Tax`),
	}
	amountPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)
)

// RawRow is one statement line before it gets a day_order_id.
type RawRow struct {
	SourceOrder      int
	Line             int
	BookingDateTime  time.Time
	ValueDateTime    time.Time
	BankDescription  string
	StanID           string
	Debit            decimal.Decimal
	Credit           decimal.Decimal
	AvailableBalance decimal.Decimal
	IsTaxes          bool
}

// Parser reads the bank's CSV export.
type Parser struct {
	Location *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{Location: loc}
}

// Parse skips the preamble up to the header row and returns the data rows in file order.
// Fields that fail to parse are left zero so ingestion can report the row.
func (p *Parser) Parse(r io.Reader) ([]RawRow, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var rows []RawRow
	seenHeader := false
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading statement CSV")
		}
		if !seenHeader {
			seenHeader = len(rec) > 0 && strings.Contains(strings.TrimPrefix(rec[0], "\ufeff"), headerMarker)
			continue
		}
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		line, _ := cr.FieldPos(0)
		row := p.parseRecord(rec)
		row.SourceOrder = len(rows) + 1
		row.Line = line
		rows = append(rows, row)
	}
	if !seenHeader {
		return nil, ledgererr.Validation("parse statement", "no header row containing %q", headerMarker)
	}
	return rows, nil
}

func (p *Parser) parseRecord(rec []string) RawRow {
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	desc := field(colDescription)
	return RawRow{
		BookingDateTime:  p.parseDate(field(colBooking)),
		ValueDateTime:    p.parseDate(field(colValue)),
		BankDescription:  desc,
		StanID:           ExtractStan(desc),
		Debit:            parseAmount(field(colDebit)),
		Credit:           parseAmount(field(colCredit)),
		AvailableBalance: parseAmount(field(colBalance)),
		IsTaxes:          IsTaxDescription(desc),
	}
}

func (p *Parser) parseDate(s string) time.Time {
	t, err := time.ParseInLocation(DateFormat, s, p.Location)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseAmount(s string) decimal.Decimal {
	cleaned := strings.ReplaceAll(amountPattern.FindString(s), ",", "")
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ExtractStan returns the digits of "STAN (123456)" in desc, or "".
func ExtractStan(desc string) string {
	m := stanPattern.FindStringSubmatch(desc)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsTaxDescription reports whether desc looks like a tax or charge line.
func IsTaxDescription(desc string) bool {
	for _, re := range taxPatterns {
		if re.MatchString(desc) {
			return true
		}
	}
	return false
}

// Write renders rows in the bank export layout, header included.
func Write(w io.Writer, accountTitle string, rows []RawRow) error {
	cw := csv.NewWriter(w)
	if accountTitle != "" {
		if err := cw.Write([]string{"Account Statement", accountTitle}); err != nil {
			return err
		}
	}
	header := []string{"Booking Date", "Value Date", "Doc No", "Description", "Debit", "Credit", "Available Balance"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, r := range rows {
		rec := make([]string, numColumns)
		rec[colBooking] = r.BookingDateTime.Format(DateFormat)
		rec[colValue] = r.ValueDateTime.Format(DateFormat)
		rec[colDocNo] = fmt.Sprintf("%06d", i+1)
		rec[colDescription] = r.BankDescription
		rec[colDebit] = formatAmount(r.Debit)
		rec[colCredit] = formatAmount(r.Credit)
		rec[colBalance] = r.AvailableBalance.StringFixed(2)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.StringFixed(2)
}
