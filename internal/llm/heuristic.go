package llm

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/jask/budgettracker/internal/statement"
)

// HeuristicAnnotator classifies offline with keyword rules. Originator names that are
// within a small edit distance of one seen earlier are folded onto the earlier spelling.
type HeuristicAnnotator struct {
	MaxDistance int

	mu    sync.Mutex
	known []string
}

func NewHeuristicAnnotator() *HeuristicAnnotator {
	return &HeuristicAnnotator{MaxDistance: 2}
}

func (h *HeuristicAnnotator) Name() string { return "heuristic" }

var keywordCategories = []struct {
	keywords []string
	category string
}{
	{[]string{"fbrtax", "withholding tax", "excise", "govt", "fbr"}, "Government"},
	{[]string{"atm", "cash withdrawal"}, "ATM"},
	{[]string{"salary", "payroll"}, "Salary"},
	{[]string{"netflix", "spotify", "youtube", "icloud", "subscription"}, "Subscription"},
	{[]string{"k-electric", "sui gas", "ptcl", "utility", "bill", "electric", "water board"}, "Bills"},
	{[]string{"careem", "uber", "indrive", "fuel", "petrol", "shell", "pso"}, "Transport"},
	{[]string{"foodpanda", "restaurant", "cafe", "kolachi", "kfc", "mcdonald", "bakery"}, "Food"},
	{[]string{"cinema", "cinepax", "steam", "playstation"}, "Entertainment"},
	{[]string{"daraz", "amazon", "mart", "store", "pos"}, "Shopping"},
	{[]string{"ibft", "raast", "funds transfer", "transfer"}, "Transfer"},
}

var stanText = regexp.MustCompile(`(?i)STAN\s*\(\d+\)`)

// noise tokens that never make a useful originator name
var originatorNoise = map[string]bool{
	"pos": true, "ibft": true, "raast": true, "stan": true, "purchase": true, "inward": true,
	"outward": true, "transfer": true, "funds": true, "to": true, "from": true, "chg:": true,
}

func (h *HeuristicAnnotator) Annotate(ctx context.Context, batch []AnnotationRequest) ([]AnnotationResult, error) {
	out := make([]AnnotationResult, 0, len(batch))
	for _, req := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc := strings.ToLower(req.BankDescription)
		isTax := statement.IsTaxDescription(req.BankDescription)
		category := "Other"
		for _, kc := range keywordCategories {
			if containsAny(desc, kc.keywords) {
				category = kc.category
				break
			}
		}
		if isTax {
			category = "Government"
		}
		out = append(out, AnnotationResult{
			ID:             req.ID,
			Description:    cleanDescription(req.BankDescription),
			Category:       category,
			OriginatorName: h.canonical(originator(req.BankDescription)),
			IsTaxes:        &isTax,
		})
	}
	return out, nil
}

// canonical returns the first known spelling within MaxDistance of name, or records name.
func (h *HeuristicAnnotator) canonical(name string) string {
	if name == "" {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	lower := strings.ToLower(name)
	for _, k := range h.known {
		if levenshtein.ComputeDistance(lower, strings.ToLower(k)) <= h.MaxDistance {
			return k
		}
	}
	h.known = append(h.known, name)
	return name
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func cleanDescription(raw string) string {
	s := stanText.ReplaceAllString(raw, "")
	return strings.Join(strings.Fields(s), " ")
}

// originator takes the longest run of non-noise words, title-cased.
func originator(raw string) string {
	words := strings.Fields(cleanDescription(raw))
	var best, cur []string
	for _, w := range words {
		lw := strings.ToLower(w)
		if originatorNoise[lw] || hasDigit(lw) {
			if len(cur) > len(best) {
				best = cur
			}
			cur = nil
			continue
		}
		cur = append(cur, properCap(w))
	}
	if len(cur) > len(best) {
		best = cur
	}
	return strings.Join(best, " ")
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func properCap(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	r, size := utf8.DecodeRuneInString(lower)
	return string(unicode.ToUpper(r)) + lower[size:]
}
