package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"flexjar-proxy-go/internal/config"
	"flexjar-proxy-go/internal/token"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the liveness, readiness and debug endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	tokens  token.Source
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, tokens token.Source, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:     cfg,
		version: v,
		tokens:  tokens,
		logger:  logger.With("component", "health_handler"),
	}
}

// Alive answers liveness and readiness checks. It never touches the token
// endpoint or the backend.
func (h *HealthHandler) Alive(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Debug performs a token exchange and reports proxy status. The token
// itself is never included.
func (h *HealthHandler) Debug(c echo.Context) error {
	tok, err := h.tokens.Token(c.Request().Context())
	if err != nil {
		h.logger.Warn("debug token exchange failed", "err", sanitizeError(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to acquire access token",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     string(h.version),
		"backend_url": h.cfg.Backend.BaseURL,
		"base_path":   h.cfg.Server.BasePath,
		"token_type":  tok.TokenType,
		"expires_in":  tok.ExpiresIn,
	})
}
