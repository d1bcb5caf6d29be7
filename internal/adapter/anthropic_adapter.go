package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens is used when the request sets no limit; the
// Messages API requires one.
const defaultAnthropicMaxTokens = 4096

// AnthropicAdapter implements ChatClient with the Anthropic Messages API.
type AnthropicAdapter struct {
	provider string
	model    string
	client   anthropic.Client
}

// NewAnthropicAdapter creates an adapter bound to model.
func NewAnthropicAdapter(apiKey, model string, opts ...Option) *AnthropicAdapter {
	o := newClientOptions("anthropic", opts)

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL+"/"))
	}

	return &AnthropicAdapter{
		provider: o.provider,
		model:    model,
		client:   anthropic.NewClient(reqOpts...),
	}
}

// Provider returns the provider name.
func (a *AnthropicAdapter) Provider() string {
	return a.provider
}

// Model returns the bound model.
func (a *AnthropicAdapter) Model() string {
	return a.model
}

// ChatCompletion maps the request onto a Messages call.
func (a *AnthropicAdapter) ChatCompletion(ctx context.Context, req OpenAIRequest) (OpenAIResponse, error) {
	maxTokens := defaultAnthropicMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(upstreamModel(a.provider, a.model)),
		MaxTokens: int64(maxTokens),
	}
	if system := req.SystemPrompt(); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, msg := range req.Conversation() {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return OpenAIResponse{}, &APIError{Provider: a.provider, StatusCode: apiErr.StatusCode, Message: errorBody(apiErr.RawJSON(), apiErr.StatusCode)}
		}
		return OpenAIResponse{}, fmt.Errorf("messages request failed: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	finish := "stop"
	if message.StopReason == anthropic.StopReasonMaxTokens {
		finish = "length"
	}

	input := int(message.Usage.InputTokens)
	output := int(message.Usage.OutputTokens)
	return OpenAIResponse{
		ID:       message.ID,
		Object:   "chat.completion",
		Created:  time.Now().Unix(),
		Model:    a.model,
		Provider: a.provider,
		Choices: []OpenAIChoice{{
			Message:      OpenAIMessage{Role: RoleAssistant, Content: text},
			FinishReason: finish,
		}},
		Usage: OpenAIUsage{
			PromptTokens:     input,
			CompletionTokens: output,
			TotalTokens:      input + output,
		},
	}, nil
}
