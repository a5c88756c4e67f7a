package repository

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/budgettracker/internal/ledgererr"
)

// Patch lists the mutable fields of a transaction. Nil means "leave as is".
// For the nullable text columns an empty string clears the value.
// The identity columns (id, day_order_id, booking_date_time) are deliberately absent.
type Patch struct {
	ValueDateTime    *time.Time
	BankDescription  *string
	StanID           *string
	Debit            *decimal.Decimal
	Credit           *decimal.Decimal
	AvailableBalance *decimal.Decimal
	Description      *string
	Category         *string
	OriginatorName   *string
	Group            *string
	IsTaxes          *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.ValueDateTime == nil && p.BankDescription == nil && p.StanID == nil &&
		p.Debit == nil && p.Credit == nil && p.AvailableBalance == nil &&
		p.Description == nil && p.Category == nil && p.OriginatorName == nil &&
		p.Group == nil && p.IsTaxes == nil
}

// Classification keeps only the fields the annotation pipeline may write.
func (p Patch) Classification() Patch {
	return Patch{
		Description:    p.Description,
		Category:       p.Category,
		OriginatorName: p.OriginatorName,
		Group:          p.Group,
	}
}

func (p Patch) apply(t Transaction) Transaction {
	if p.ValueDateTime != nil {
		t.ValueDateTime = normalizeTime(*p.ValueDateTime)
	}
	if p.BankDescription != nil {
		t.BankDescription = *p.BankDescription
	}
	if p.StanID != nil {
		t.StanID = nullable(*p.StanID)
	}
	if p.Debit != nil {
		t.Debit = *p.Debit
	}
	if p.Credit != nil {
		t.Credit = *p.Credit
	}
	if p.AvailableBalance != nil {
		t.AvailableBalance = *p.AvailableBalance
	}
	if p.Description != nil {
		t.Description = nullable(*p.Description)
	}
	if p.Category != nil {
		t.Category = nullable(*p.Category)
	}
	if p.OriginatorName != nil {
		t.OriginatorName = nullable(*p.OriginatorName)
	}
	if p.Group != nil {
		t.Group = nullable(*p.Group)
	}
	if p.IsTaxes != nil {
		t.IsTaxes = *p.IsTaxes
	}
	return t
}

var immutableKeys = map[string]bool{
	"id":                true,
	"day_order_id":      true,
	"booking_date_time": true,
}

// ParsePatch converts column=value pairs into a Patch.
// Identity columns are rejected with ledgererr.ErrImmutableField.
func ParsePatch(fields map[string]string) (Patch, error) {
	const op = "parse patch"
	var p Patch
	for rawKey, raw := range fields {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if immutableKeys[key] {
			return Patch{}, ledgererr.Immutable(op, key)
		}
		value := strings.TrimSpace(raw)
		switch key {
		case "value_date_time":
			t, err := parseTimeValue(value)
			if err != nil {
				return Patch{}, ledgererr.Validation(op, "value_date_time %q: %v", value, err)
			}
			p.ValueDateTime = &t
		case "bank_statement_description":
			p.BankDescription = &value
		case "stan_id":
			p.StanID = &value
		case "debit", "credit", "available_balance":
			d, err := decimal.NewFromString(value)
			if err != nil {
				return Patch{}, ledgererr.Validation(op, "%s %q: %v", key, value, err)
			}
			switch key {
			case "debit":
				p.Debit = &d
			case "credit":
				p.Credit = &d
			default:
				p.AvailableBalance = &d
			}
		case "description":
			p.Description = &value
		case "category":
			p.Category = &value
		case "originator_name", "name":
			p.OriginatorName = &value
		case "group", "group_name":
			p.Group = &value
		case "is_taxes":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return Patch{}, ledgererr.Validation(op, "is_taxes %q: %v", value, err)
			}
			p.IsTaxes = &b
		default:
			return Patch{}, ledgererr.Validation(op, "unknown field %q", key)
		}
	}
	return p, nil
}

func parseTimeValue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// validateAmounts enforces "exactly one of debit/credit is non-zero, nothing negative".
func validateAmounts(op string, t Transaction) error {
	if t.Debit.IsNegative() || t.Credit.IsNegative() {
		return ledgererr.Validation(op, "debit and credit must not be negative").With("id", t.ID)
	}
	if t.Debit.IsZero() == t.Credit.IsZero() {
		return ledgererr.Validation(op, "exactly one of debit or credit must be non-zero").
			With("id", t.ID).With("debit", t.Debit.String()).With("credit", t.Credit.String())
	}
	return nil
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
