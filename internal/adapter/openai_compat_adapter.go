package adapter

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatAdapter implements ChatClient for providers that speak the
// OpenAI chat completions protocol (Groq, Mistral, Together).
type OpenAICompatAdapter struct {
	provider string
	model    string
	client   *openai.Client
}

// NewOpenAICompatAdapter creates an adapter bound to model. A
// "<provider>/" routing prefix on the model is stripped before sending.
func NewOpenAICompatAdapter(apiKey, model string, opts ...Option) *OpenAICompatAdapter {
	o := newClientOptions("openai-compatible", opts)

	config := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		config.BaseURL = o.baseURL
	}
	config.HTTPClient = o.httpClient

	return &OpenAICompatAdapter{
		provider: o.provider,
		model:    model,
		client:   openai.NewClientWithConfig(config),
	}
}

// Provider returns the provider name.
func (a *OpenAICompatAdapter) Provider() string {
	return a.provider
}

// Model returns the bound model.
func (a *OpenAICompatAdapter) Model() string {
	return a.model
}

// ChatCompletion sends the request through go-openai.
func (a *OpenAICompatAdapter) ChatCompletion(ctx context.Context, req OpenAIRequest) (OpenAIResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    upstreamModel(a.provider, a.model),
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
		Stop:     req.Stop,
		User:     req.User,
	}
	for _, msg := range req.Messages {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
			Name:    msg.Name,
		})
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if req.N != nil {
		chatReq.N = *req.N
	}
	if req.PresencePenalty != nil {
		chatReq.PresencePenalty = float32(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		chatReq.FrequencyPenalty = float32(*req.FrequencyPenalty)
	}

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return OpenAIResponse{}, a.wrapError(err)
	}

	out := OpenAIResponse{
		ID:       resp.ID,
		Object:   resp.Object,
		Created:  resp.Created,
		Model:    a.model,
		Provider: a.provider,
		Choices:  make([]OpenAIChoice, 0, len(resp.Choices)),
		Usage: OpenAIUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, OpenAIChoice{
			Index:        choice.Index,
			Message:      OpenAIMessage{Role: RoleAssistant, Content: choice.Message.Content},
			FinishReason: string(choice.FinishReason),
		})
	}
	if len(out.Choices) == 0 {
		return OpenAIResponse{}, errors.New("chat completion returned no choices")
	}
	return out, nil
}

func (a *OpenAICompatAdapter) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if code, ok := apiErr.Code.(string); ok && code != "" {
			msg = code + ": " + msg
		}
		return &APIError{Provider: a.provider, StatusCode: apiErr.HTTPStatusCode, Message: msg}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Provider: a.provider, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("chat completion request failed: %w", err)
}
