package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultGeminiBaseURL is the default Gemini API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter implements ChatClient for the Google Gemini REST API.
// It translates OpenAI-compatible requests to Gemini format and back.
type GeminiAdapter struct {
	provider   string
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiAdapter creates a GeminiAdapter bound to model. A "gemini/"
// routing prefix on the model is stripped.
func NewGeminiAdapter(apiKey, model string, opts ...Option) *GeminiAdapter {
	o := newClientOptions("gemini", opts)
	baseURL := o.baseURL
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}

	return &GeminiAdapter{
		provider:   o.provider,
		model:      model,
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: o.httpClient,
	}
}

// Provider returns the provider name.
func (g *GeminiAdapter) Provider() string {
	return g.provider
}

// Model returns the bound model.
func (g *GeminiAdapter) Model() string {
	return g.model
}

// ChatCompletion performs a generateContent call and maps the result back
// to OpenAI format.
func (g *GeminiAdapter) ChatCompletion(ctx context.Context, req OpenAIRequest) (OpenAIResponse, error) {
	geminiReq := g.mapToGeminiRequest(req)
	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, upstreamModel("gemini", g.model))

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return OpenAIResponse{}, fmt.Errorf("failed to marshal generateContent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return OpenAIResponse{}, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return OpenAIResponse{}, fmt.Errorf("failed to execute generateContent request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return OpenAIResponse{}, fmt.Errorf("failed to read generateContent response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: g.provider, StatusCode: resp.StatusCode, Message: string(respBody)}
		var geminiErr GeminiErrorResponse
		if err := json.Unmarshal(respBody, &geminiErr); err == nil && geminiErr.Error.Message != "" {
			apiErr.Message = geminiErr.Error.Message
			if geminiErr.Error.Status != "" {
				apiErr.Message = geminiErr.Error.Status + ": " + apiErr.Message
			}
		}
		return OpenAIResponse{}, apiErr
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return OpenAIResponse{}, fmt.Errorf("failed to unmarshal generateContent response: %w", err)
	}
	if len(geminiResp.Candidates) == 0 {
		return OpenAIResponse{}, errors.New("generateContent returned no candidates")
	}

	return g.mapToOpenAIResponse(geminiResp), nil
}

// mapToGeminiRequest converts an OpenAI request to Gemini format.
func (g *GeminiAdapter) mapToGeminiRequest(req OpenAIRequest) GeminiRequest {
	geminiReq := GeminiRequest{
		Contents: make([]GeminiContent, 0, len(req.Messages)),
	}

	for _, msg := range req.Conversation() {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		geminiReq.Contents = append(geminiReq.Contents, GeminiContent{
			Role:  role,
			Parts: []GeminiPart{{Text: msg.Content}},
		})
	}

	if system := req.SystemPrompt(); system != "" {
		geminiReq.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: system}},
		}
	}

	geminiReq.GenerationConfig = GeminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		TopP:            req.TopP,
		StopSequences:   req.Stop,
	}

	return geminiReq
}

// mapToOpenAIResponse converts a Gemini response to OpenAI format.
func (g *GeminiAdapter) mapToOpenAIResponse(resp GeminiResponse) OpenAIResponse {
	now := time.Now()
	out := OpenAIResponse{
		ID:       fmt.Sprintf("chatcmpl-%d", now.UnixNano()),
		Object:   "chat.completion",
		Created:  now.Unix(),
		Model:    g.model,
		Provider: g.provider,
		Choices:  make([]OpenAIChoice, 0, len(resp.Candidates)),
	}

	for i, candidate := range resp.Candidates {
		var content string
		for _, part := range candidate.Content.Parts {
			content += part.Text
		}
		out.Choices = append(out.Choices, OpenAIChoice{
			Index:        i,
			Message:      OpenAIMessage{Role: RoleAssistant, Content: content},
			FinishReason: mapGeminiFinishReason(candidate.FinishReason),
		})
	}

	if resp.UsageMetadata != nil {
		out.Usage = OpenAIUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return out
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return "stop"
	}
}

// Gemini API types.

// GeminiRequest represents a Gemini generateContent request.
type GeminiRequest struct {
	Contents          []GeminiContent        `json:"contents"`
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// GeminiContent represents a content block in Gemini format.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of a content block.
type GeminiPart struct {
	Text string `json:"text,omitempty"`
}

// GeminiGenerationConfig contains generation parameters.
type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GeminiResponse represents a Gemini generateContent response.
type GeminiResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
}

// GeminiCandidate represents a single generated candidate.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// GeminiUsageMetadata contains token usage information.
type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GeminiErrorResponse represents an error response from Gemini API.
type GeminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
