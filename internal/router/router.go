// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/config"
	"github.com/iliyamo/cinema-ticket-scanner/internal/handler"
	"github.com/iliyamo/cinema-ticket-scanner/internal/middleware"
	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
)

// Deps are the handlers and shared clients the routes are built from.
// Redis may be nil; rate limiting and caching are then skipped.
type Deps struct {
	DB        handler.Pinger
	Auth      *handler.AuthHandler
	Showtimes *handler.ShowtimeHandler
	Tickets   *handler.TicketHandler
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	JWTSecret string
	Log       *zap.Logger
}

// RegisterRoutes registers unauthenticated probes.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.DB != nil {
		e.GET("/readyz", handler.Ready(d.DB))
	}
}

// RegisterAuth registers operator login and token refresh under /v1/auth,
// and the protected /v1/me.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth")
	g.POST("/login", d.Auth.Login)
	// rotates the refresh token
	g.POST("/refresh", d.Auth.Refresh)

	e.GET("/v1/me", d.Auth.Me, operatorOnly(d)...)
}

// RegisterScanner registers the endpoints a ticket scanner calls. Cinema
// ownership is checked before the response cache, and the verification
// limiter keys on the operator (see RATE_LIMIT_KEY_STRATEGY).
func RegisterScanner(e *echo.Echo, d Deps) {
	g := e.Group("/v1", operatorOnly(d)...)

	g.GET("/cinemas/:id/showtimes", d.Showtimes.List,
		middleware.RequireCinemaParam("id"),
		middleware.NewRedisCache(d.Cache, d.Redis, d.Log),
	)
	g.POST("/bookings/verify-ticket", d.Tickets.Verify,
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log),
	)
}

func operatorOnly(d Deps) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(model.RoleStaff, model.RoleOwner),
	}
}
