package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultCategories is the closed set annotators choose from.
var DefaultCategories = []string{
	"Food", "Transport", "Shopping", "Bills", "Transfer", "Salary",
	"Entertainment", "ATM", "Subscription", "Government", "Other",
}

// Annotator classifies a batch of bank lines. A returned error fails the whole
// batch; per-item failures are reported through AnnotationResult.Err.
type Annotator interface {
	Annotate(ctx context.Context, batch []AnnotationRequest) ([]AnnotationResult, error)
	Name() string
}

type AnnotationRequest struct {
	ID              int64  `json:"id"`
	BankDescription string `json:"description_raw"`
	Amount          string `json:"amount,omitempty"`
	Direction       string `json:"direction,omitempty"`
	Hint            string `json:"hint,omitempty"`
}

type AnnotationResult struct {
	ID             int64  `json:"id"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	OriginatorName string `json:"originator_name"`
	Group          string `json:"group,omitempty"`
	IsTaxes        *bool  `json:"is_taxes"`
	Err            error  `json:"-"`
}

func systemPrompt(categories []string) string {
	return "You are a financial transaction analyzer. For every input item return an object with keys: " +
		"id (copy from input), description (clean human readable purpose), " +
		"category (one of: " + strings.Join(categories, ", ") + "), " +
		"originator_name (merchant, person or entity, empty if unknown), " +
		"is_taxes (true only for tax or government charge lines). " +
		"Respond with a JSON array only, no other text."
}

func userPrompt(batch []AnnotationRequest) (string, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return "", err
	}
	return "Transactions JSON:\n" + string(payload), nil
}

// decodeResults matches model output to the requested ids. Ids the model skipped
// or invented are reported as per-item failures.
func decodeResults(provider, raw string, batch []AnnotationRequest, categories []string) ([]AnnotationResult, error) {
	var items []AnnotationResult
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &items); err != nil {
		return nil, fmt.Errorf("%s: decode annotations: %w", provider, err)
	}
	byID := make(map[int64]AnnotationResult, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]AnnotationResult, 0, len(batch))
	for _, req := range batch {
		it, ok := byID[req.ID]
		if !ok {
			out = append(out, AnnotationResult{ID: req.ID, Err: fmt.Errorf("%s: no annotation returned", provider)})
			continue
		}
		it.Description = strings.TrimSpace(it.Description)
		it.OriginatorName = strings.TrimSpace(it.OriginatorName)
		it.Category = normalizeCategory(it.Category, categories)
		if it.Description == "" {
			it.Description = req.BankDescription
		}
		out = append(out, it)
	}
	return out, nil
}

func normalizeCategory(c string, categories []string) string {
	c = strings.TrimSpace(c)
	for _, known := range categories {
		if strings.EqualFold(c, known) {
			return known
		}
	}
	return "Other"
}

// cleanModelJSON strips Markdown fences and any text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = strings.TrimSpace(s[idx+1:])
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
