package llm

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

var ErrGeminiNoAPIKey = errors.New("gemini: api key not configured")

// GeminiAnnotator classifies a batch with the Gemini API.
type GeminiAnnotator struct {
	model      string
	categories []string
	client     *genai.Client
}

func NewGeminiAnnotator(ctx context.Context, apiKey, model string) (*GeminiAnnotator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrGeminiNoAPIKey
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAnnotator{model: model, categories: DefaultCategories, client: client}, nil
}

func (g *GeminiAnnotator) Name() string { return "gemini" }

// WithCategories replaces the category list offered to the model. Empty keeps the default.
func (g *GeminiAnnotator) WithCategories(categories []string) *GeminiAnnotator {
	if len(categories) > 0 {
		g.categories = categories
	}
	return g
}

func (g *GeminiAnnotator) Annotate(ctx context.Context, batch []AnnotationRequest) ([]AnnotationResult, error) {
	user, err := userPrompt(batch)
	if err != nil {
		return nil, err
	}
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: user}},
		},
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt(g.categories)}},
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, err
	}
	raw := resp.Text()
	if raw == "" {
		return nil, errors.New("gemini: empty response")
	}
	return decodeResults(g.Name(), raw, batch, g.categories)
}
