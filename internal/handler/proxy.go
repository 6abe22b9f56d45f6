package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/labstack/echo/v4"

	"flexjar-proxy-go/internal/model"
	"flexjar-proxy-go/internal/service"
	"flexjar-proxy-go/internal/token"
)

// secretPatterns match credentials that may appear in error messages.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(client_secret=)[^&\s"]+`),
	regexp.MustCompile(`(?i)(bearer\s+)[^\s"]+`),
	regexp.MustCompile(`(?i)(basic\s+)[^\s"]+`),
}

// ProxyHandler forwards POST requests to the backend.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the backend and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	path := logicalPath(c)

	h.logger.Info("intercepted call",
		"method", req.Method,
		"path", path,
	)

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          path,
		RawQuery:      req.URL.RawQuery,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		RequestID:     c.Response().Header().Get(echo.HeaderXRequestID),
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Backend values replace anything middleware has already set.
	header := c.Response().Header()
	for key, vals := range resp.Header {
		header.Del(key)
		for _, v := range vals {
			header.Add(key, v)
		}
	}

	// Set exactly once, from the backend's own values.
	header.Del(echo.HeaderContentType)
	header.Del(echo.HeaderContentLength)
	if resp.ContentType != "" {
		header.Set(echo.HeaderContentType, resp.ContentType)
	} else {
		// A nil value stops net/http from sniffing one in.
		header[echo.HeaderContentType] = nil
	}
	if resp.ContentLength >= 0 && bodyAllowedForStatus(resp.StatusCode) {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Without a declared length the body may be an open-ended stream; flush
	// each chunk so the caller sees bytes as the backend produces them.
	var dst io.Writer = c.Response()
	if resp.ContentLength < 0 {
		dst = &flushWriter{res: c.Response()}
	}

	// If the copy fails mid-stream the status has already been sent, so the
	// caller receives a truncated response with the original status.
	if n, err := io.Copy(dst, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"path", path,
			"bytes", n,
			"request_id", pr.RequestID,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"method", c.Request().Method,
		"path", logicalPath(c),
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	var authErr *token.AuthError
	if errors.As(err, &authErr) {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to acquire access token",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "backend request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "backend request failed",
	})
}

// bodyAllowedForStatus reports whether a response with the given status may
// carry a Content-Length (RFC 9110 section 8.6).
func bodyAllowedForStatus(status int) bool {
	return status >= 200 && status != http.StatusNoContent
}

// flushWriter flushes the response after every write.
type flushWriter struct {
	res *echo.Response
}

func (w *flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if n > 0 {
		w.res.Flush()
	}
	return n, err
}

// sanitizeError redacts client secrets and credentials from error messages.
func sanitizeError(err error) string {
	msg := err.Error()
	for _, p := range secretPatterns {
		msg = p.ReplaceAllString(msg, "${1}[REDACTED]")
	}
	return msg
}
