// Package handler provides the HTTP gateway in front of the failover manager.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hpn/gandalf-router/internal/adapter"
	"github.com/hpn/gandalf-router/internal/domain"
)

// Gin context keys set by ProxyHandler for the logging middleware.
const (
	ctxProvider = "provider"
	ctxModel    = "model"
	ctxAttempts = "attempts"
	ctxCacheHit = "cache_hit"
)

// Response headers naming the provider and model that served a completion.
const (
	headerProvider = "X-Gandalf-Provider"
	headerModel    = "X-Gandalf-Model"
	headerCache    = "X-Gandalf-Cache"
)

// OpenAI error types.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeRateLimit      = "rate_limit_error"
	errTypeServer         = "server_error"
	errTypeNotFound       = "not_found_error"
)

// ProxyHandler serves the OpenAI-compatible API and the admin endpoints.
type ProxyHandler struct {
	dispatcher *Dispatcher
	manager    *domain.Manager
	logger     *slog.Logger
}

// ProxyHandlerOption is a functional option for configuring ProxyHandler.
type ProxyHandlerOption func(*ProxyHandler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(dispatcher *Dispatcher, opts ...ProxyHandlerOption) *ProxyHandler {
	h := &ProxyHandler{
		dispatcher: dispatcher,
		manager:    dispatcher.Manager(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// HandleChatCompletion handles POST /v1/chat/completions.
func (h *ProxyHandler) HandleChatCompletion(c *gin.Context) {
	var req adapter.OpenAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendOpenAIError(c, http.StatusBadRequest, errTypeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Messages) == 0 {
		sendOpenAIError(c, http.StatusBadRequest, errTypeInvalidRequest, "messages array is required")
		return
	}
	if req.Stream {
		sendOpenAIError(c, http.StatusBadRequest, errTypeInvalidRequest, "streaming is not supported")
		return
	}

	result, err := h.dispatcher.Complete(c.Request.Context(), req)
	c.Set(ctxAttempts, result.Attempts)
	if err != nil {
		h.logger.Error("chat completion failed",
			slog.Int("attempts", result.Attempts),
			slog.String("error", err.Error()),
		)
		status, errType, message := classifyError(err)
		sendOpenAIError(c, status, errType, message)
		return
	}

	c.Set(ctxProvider, result.Provider)
	c.Set(ctxModel, result.Model)
	c.Header(headerProvider, result.Provider)
	c.Header(headerModel, result.Model)

	c.JSON(http.StatusOK, result.Response)
}

// classifyError maps a dispatch error to an HTTP status and OpenAI error.
func classifyError(err error) (int, string, string) {
	var apiErr *adapter.APIError
	switch {
	case domain.IsFatal(err):
		return http.StatusServiceUnavailable, errTypeServer, "No LLM provider is currently available. Please try again later."
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errTypeServer, "Upstream provider timed out."
	case errors.As(err, &apiErr) && apiErr.RateLimited():
		return http.StatusTooManyRequests, errTypeRateLimit, "All attempts were rate limited. Please retry later."
	default:
		return http.StatusBadGateway, errTypeServer, "Upstream provider request failed."
	}
}

// sendOpenAIError sends an error response in OpenAI-compatible format.
// Upstream error text is never echoed to the caller.
func sendOpenAIError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, adapter.OpenAIError{
		Error: adapter.OpenAIErrorDetail{
			Message: message,
			Type:    errType,
		},
	})
}

// HandleModels handles GET /v1/models with every configured provider model.
func (h *ProxyHandler) HandleModels(c *gin.Context) {
	list := adapter.ModelList{Object: "list", Data: []adapter.ModelInfo{}}
	for _, cfg := range h.manager.ProviderConfigs() {
		for _, model := range cfg.Models {
			list.Data = append(list.Data, adapter.ModelInfo{
				ID:      model,
				Object:  "model",
				OwnedBy: cfg.Name,
			})
		}
	}
	c.JSON(http.StatusOK, list)
}

// HandleHealth handles GET /health.
func (h *ProxyHandler) HandleHealth(c *gin.Context) {
	report := h.manager.Status()

	status := "degraded"
	available := 0
	for _, p := range report.Providers {
		if !p.Available {
			continue
		}
		available++
		if p.Name == report.CurrentProvider {
			status = "healthy"
		}
	}

	body := gin.H{
		"status":              status,
		"current_provider":    report.CurrentProvider,
		"current_model":       report.CurrentModel,
		"available_providers": available,
		"total_providers":     len(report.Providers),
	}
	if provider, at, ok := h.manager.NextRecovery(); ok {
		body["next_recovery"] = gin.H{
			"provider": provider,
			"at":       at.UTC().Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, body)
}

// HandleStatus handles GET /status.
func (h *ProxyHandler) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Status())
}

// HandleActivate handles POST /admin/providers/:name/activate.
func (h *ProxyHandler) HandleActivate(c *gin.Context) {
	name := c.Param("name")
	if !slices.Contains(h.manager.Providers(), name) {
		sendOpenAIError(c, http.StatusNotFound, errTypeNotFound, "unknown provider: "+name)
		return
	}

	switched, err := h.manager.ForceSwitch(name)
	if err != nil {
		sendOpenAIError(c, http.StatusServiceUnavailable, errTypeServer, err.Error())
		return
	}

	provider, model, _ := h.manager.Current()
	c.JSON(http.StatusOK, gin.H{
		"requested":        name,
		"switched":         switched,
		"activated":        provider == name,
		"current_provider": provider,
		"current_model":    model,
	})
}

// HandleReconcile handles POST /admin/cooldowns/reconcile.
func (h *ProxyHandler) HandleReconcile(c *gin.Context) {
	recovered := h.manager.ReconcileCooldowns()
	if recovered == nil {
		recovered = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}
