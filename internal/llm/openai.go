package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

var ErrOpenAINoAPIKey = errors.New("openai: api key not configured")

// OpenAIAnnotator asks a chat completion model to classify a batch.
type OpenAIAnnotator struct {
	model      string
	categories []string
	client     *openai.Client
}

// NewOpenAIAnnotator builds a client with SDK retries disabled; wrap it in Retrying instead.
func NewOpenAIAnnotator(apiKey, model string, opts ...option.RequestOption) (*OpenAIAnnotator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrOpenAINoAPIKey
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOpenAIModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIAnnotator{model: model, categories: DefaultCategories, client: &client}, nil
}

func (p *OpenAIAnnotator) Name() string { return "openai" }

func (p *OpenAIAnnotator) WithCategories(categories []string) *OpenAIAnnotator {
	if len(categories) > 0 {
		p.categories = categories
	}
	return p
}

func (p *OpenAIAnnotator) Annotate(ctx context.Context, batch []AnnotationRequest) ([]AnnotationResult, error) {
	user, err := userPrompt(batch)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(p.categories)),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}
	return decodeResults(p.Name(), resp.Choices[0].Message.Content, batch, p.categories)
}
