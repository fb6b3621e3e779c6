package simserver

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/farebound/tripseats/internal/config"
	"github.com/farebound/tripseats/internal/middleware"
)

// RegisterRoutes wires the reservation API onto an Echo instance.
// Reads and the event stream are public; anything that mutates seat
// state requires a guest token and is rate limited.
func RegisterRoutes(e *echo.Echo, h *Handler, cfg config.Server, rdb *redis.Client) {
	e.GET("/healthz", h.Health)
	e.POST("/v1/auth/guest", h.Guest)
	e.GET("/v1/slots/:slot/seats", h.SeatMap)
	e.GET("/v1/slots/:slot/events", h.Events)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(cfg.JWTSecret))
	auth.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	auth.POST("/slots/:slot/locks", h.AcquireLock)
	auth.DELETE("/locks/:token", h.ReleaseLock)
	auth.POST("/locks/:token/book", h.Book)
}
