package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"flexjar-proxy-go/internal/config"
	"flexjar-proxy-go/internal/route"
)

// RateLimiter returns a per-client-IP rate limiter with an in-memory store.
// Liveness and readiness checks are never limited. Rejected requests get a
// JSON 429 body in the same shape as other proxy errors.
func RateLimiter(cfg config.RateLimitConfig, basePath string) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return route.IsHealthCheck(basePath, c.Request().URL.Path)
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}
