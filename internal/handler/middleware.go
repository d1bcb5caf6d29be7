package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hpn/gandalf-router/internal/ui"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const ctxRequestID = "request_id"

// RequestIDMiddleware propagates the caller's request id or assigns a new one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// CORSMiddleware returns a middleware that enables permissive CORS.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Gandalf-Provider, X-Gandalf-Model, X-Gandalf-Cache")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs each request with the provider and model that
// served it. When console is set the request is also printed there.
func LoggingMiddleware(logger *slog.Logger, console *ui.Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		provider := c.GetString(ctxProvider)
		model := c.GetString(ctxModel)
		attempts := c.GetInt(ctxAttempts)

		logger.Info("request completed",
			slog.String("request_id", c.GetString(ctxRequestID)),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", latency),
			slog.String("client_ip", c.ClientIP()),
			slog.String("provider", provider),
			slog.String("model", model),
			slog.Int("attempts", attempts),
			slog.Bool("cache_hit", c.GetBool(ctxCacheHit)),
		)

		if console != nil {
			console.PrintRequest(c.Request.Method, path, c.Writer.Status(), latency, ui.ServedBy(provider, model))
		}
	}
}

// RecoveryMiddleware recovers from panics with an OpenAI-compatible 500.
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("path", c.Request.URL.Path),
					slog.String("request_id", c.GetString(ctxRequestID)),
				)
				sendOpenAIError(c, http.StatusInternalServerError, errTypeServer, "Internal server error")
			}
		}()

		c.Next()
	}
}

// StripAuthHeadersMiddleware drops the caller's Authorization header. Upstream
// credentials come from the environment, never from the caller.
func StripAuthHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			c.Request.Header.Del("Authorization")
			c.Set("original_auth", "***STRIPPED***")
		}

		c.Next()
	}
}
