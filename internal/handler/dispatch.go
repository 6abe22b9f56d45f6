package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"flexjar-proxy-go/internal/config"
	"flexjar-proxy-go/internal/route"
)

// logicalPathKey is the echo.Context key holding the request path with the
// base path stripped.
const logicalPathKey = "logical_path"

// rule pairs a request predicate with the handler that answers it.
type rule struct {
	name   string
	match  func(method, path string) bool
	handle echo.HandlerFunc
}

// Dispatcher classifies every inbound request through an ordered rule list.
// The first matching rule answers the request; no other rule runs.
type Dispatcher struct {
	basePath string
	rules    []rule
	logger   *slog.Logger
}

// NewDispatcher builds the rule table:
//
//	health   /isAlive, /isReady (any method)  → 200
//	debug    /debug (when enabled)            → token check
//	method   anything but POST                → 405
//	forward  everything else                  → backend
func NewDispatcher(cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		basePath: cfg.Server.BasePath,
		logger:   logger.With("component", "dispatcher"),
	}

	d.rules = append(d.rules, rule{name: "health", match: pathIn(route.Alive, route.Ready), handle: health.Alive})
	if cfg.Debug.Enabled {
		d.rules = append(d.rules, rule{name: "debug", match: pathIn(route.Debug), handle: health.Debug})
	}
	d.rules = append(d.rules,
		rule{name: "method", match: notMethod(http.MethodPost), handle: d.methodNotAllowed},
		rule{name: "forward", match: always, handle: proxy.Handle},
	)
	return d
}

// Dispatch runs the first rule whose predicate matches the request.
func (d *Dispatcher) Dispatch(c echo.Context) error {
	req := c.Request()
	path := d.LogicalPath(req.URL.Path)
	c.Set(logicalPathKey, path)

	for _, r := range d.rules {
		if r.match(req.Method, path) {
			return r.handle(c)
		}
	}
	return echo.ErrNotFound
}

// LogicalPath strips the base path prefix. Paths outside the base path are
// returned unchanged; an empty remainder becomes "/".
func (d *Dispatcher) LogicalPath(p string) string {
	logical, _ := route.Strip(d.basePath, p)
	return logical
}

func (d *Dispatcher) methodNotAllowed(c echo.Context) error {
	req := c.Request()
	d.logger.Info("ignoring call",
		"method", req.Method,
		"path", logicalPath(c),
	)
	c.Response().Header().Set(echo.HeaderAllow, http.MethodPost)
	return c.JSON(http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}

// logicalPath returns the path recorded by Dispatch, falling back to the raw
// request path when the handler is invoked directly.
func logicalPath(c echo.Context) string {
	if p, ok := c.Get(logicalPathKey).(string); ok {
		return p
	}
	return c.Request().URL.Path
}

func pathIn(paths ...string) func(string, string) bool {
	return func(_, path string) bool {
		for _, p := range paths {
			if path == p {
				return true
			}
		}
		return false
	}
}

func notMethod(method string) func(string, string) bool {
	return func(m, _ string) bool {
		return m != method
	}
}

func always(string, string) bool { return true }
