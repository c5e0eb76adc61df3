package server

import (
	"net/http"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RegisterRoutes configures all API routes, middleware, and error handlers
func RegisterRoutes(e *echo.Echo, h *Handlers, m *metrics.Metrics, cfg ServerConfig) {
	// Set custom error handler for consistent JSON responses
	e.HTTPErrorHandler = NotFoundJSON()

	// Apply global middleware
	e.Use(SetJSONContentType) // handlers that stream or serve text override it
	e.Use(SetNoCacheHeaders)

	// Optional API key authentication
	if cfg.APIKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key",
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.APIKey, nil
			},
		}))
	}

	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)
	v1.GET("/state", h.State)
	v1.GET("/trades/recent", h.RecentTrades)
	v1.GET("/stream", h.Stream)

	// Quotes hit the node, so they are rate limited
	quotes := v1.Group("/quote")
	quotes.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(2),
		Burst:     5,
		ExpiresIn: 2 * time.Minute,
	})))
	quotes.GET("", h.Quote)

	// Operator pause over new buys
	pause := v1.Group("/pause")
	pause.GET("", h.PauseGet)
	pause.PUT("", h.PauseSet)
	pause.DELETE("", h.PauseClear)
	pause.GET("/history", h.PauseHistory)

	// Catch-all route for 404 responses
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: http.StatusNotFound})
	})
}
