package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// OpenAIAdapter implements ChatClient with the official OpenAI SDK.
type OpenAIAdapter struct {
	provider string
	model    string
	client   openai.Client
}

// NewOpenAIAdapter creates an adapter bound to model. SDK retries are
// disabled; failover decides what happens after an error.
func NewOpenAIAdapter(apiKey, model string, opts ...Option) *OpenAIAdapter {
	o := newClientOptions("openai", opts)

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL+"/"))
	}

	return &OpenAIAdapter{
		provider: o.provider,
		model:    model,
		client:   openai.NewClient(reqOpts...),
	}
}

// Provider returns the provider name.
func (a *OpenAIAdapter) Provider() string {
	return a.provider
}

// Model returns the bound model.
func (a *OpenAIAdapter) Model() string {
	return a.model
}

// ChatCompletion sends the request through the OpenAI SDK.
func (a *OpenAIAdapter) ChatCompletion(ctx context.Context, req OpenAIRequest) (OpenAIResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(upstreamModel(a.provider, a.model)),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return OpenAIResponse{}, &APIError{Provider: a.provider, StatusCode: apiErr.StatusCode, Message: errorBody(apiErr.Message, apiErr.StatusCode)}
		}
		return OpenAIResponse{}, fmt.Errorf("chat completion request failed: %w", err)
	}

	out := OpenAIResponse{
		ID:       completion.ID,
		Object:   "chat.completion",
		Created:  completion.Created,
		Model:    a.model,
		Provider: a.provider,
		Choices:  make([]OpenAIChoice, 0, len(completion.Choices)),
		Usage: OpenAIUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, choice := range completion.Choices {
		out.Choices = append(out.Choices, OpenAIChoice{
			Index:        int(choice.Index),
			Message:      OpenAIMessage{Role: RoleAssistant, Content: choice.Message.Content},
			FinishReason: choice.FinishReason,
		})
	}
	if len(out.Choices) == 0 {
		return OpenAIResponse{}, errors.New("chat completion returned no choices")
	}
	return out, nil
}
