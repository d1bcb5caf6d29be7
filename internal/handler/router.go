package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hpn/gandalf-router/internal/ui"
)

// RouterConfig holds the optional parts of the gateway router.
type RouterConfig struct {
	Logger  *slog.Logger
	Console *ui.Console
	Cache   *FlashCache
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h *ProxyHandler, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()

	router.Use(RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware())
	router.Use(CORSMiddleware())
	router.Use(StripAuthHeadersMiddleware())
	router.Use(LoggingMiddleware(logger, cfg.Console))
	if cfg.Cache != nil {
		router.Use(CacheMiddleware(cfg.Cache, h.dispatcher.Manager()))
	}

	// OpenAI-compatible
	router.POST("/v1/chat/completions", h.HandleChatCompletion)
	router.POST("/chat/completions", h.HandleChatCompletion)
	router.GET("/v1/models", h.HandleModels)

	router.GET("/health", h.HandleHealth)
	router.GET("/status", h.HandleStatus)

	admin := router.Group("/admin")
	admin.POST("/providers/:name/activate", h.HandleActivate)
	admin.POST("/cooldowns/reconcile", h.HandleReconcile)

	return router
}
