// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mailmerge/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store        storage.Store
	Jobs         JobManager
	Inputs       InputPolicy
	History      HistoryStore // nil disables /api/batches/history
	BundlePrefix string
	Engine       string
	Version      string
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Batch    BatchHandler
	History  HistoryHandler
	Progress ProgressSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(deps.Version, deps.Engine),
		Batch:    NewBatchHandler(deps.Store, deps.Jobs, deps.Inputs, deps.BundlePrefix),
		History:  NewHistoryHandler(deps.History),
		Progress: NewWebSocketHandler(deps.Jobs),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Batch routes
	batchGroup := e.Group("/api/batches")
	batchGroup.POST("", handlers.Batch.HandleSubmitBatch)
	batchGroup.GET("/history", handlers.History.HandleBatchHistory)
	batchGroup.GET("/:jobId/status", handlers.Batch.HandleBatchStatus)
	batchGroup.GET("/:jobId/status/msgpack", handlers.Batch.HandleBatchStatusMsgpack)
	batchGroup.GET("/:jobId/progress", handlers.Batch.HandleBatchProgressStream)
	batchGroup.GET("/:jobId/bundle", handlers.Batch.HandleBatchBundle)
	batchGroup.GET("/:jobId/preview", handlers.Batch.HandleBatchPreview)

	// WebSocket progress feed
	e.GET("/api/ws/batches/:jobId", handlers.Progress.HandleBatchSocket)
}

// MiddlewareOptions configures SetupMiddleware
type MiddlewareOptions struct {
	EnableCORS     bool
	AllowOrigins   []string
	RequestLogging bool
	BodyLimit      string
	RequestTimeout time.Duration // zero disables the timeout middleware
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	if opts.RequestLogging {
		// Skip polling endpoints to reduce log noise
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/status") ||
					strings.HasSuffix(path, "/status/msgpack") ||
					strings.HasSuffix(path, "/progress") ||
					path == "/api/health"
			},
		}))
	}

	if opts.EnableCORS {
		origins := opts.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	if opts.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: opts.RequestTimeout,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return strings.HasSuffix(path, "/progress") ||
					strings.HasSuffix(path, "/bundle") ||
					strings.HasPrefix(path, "/api/ws/") ||
					c.Request().Method == http.MethodPost ||
					c.Request().Header.Get("Accept") == "text/event-stream"
			},
			ErrorMessage: "Request timeout",
		}))
	}

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}
}
