package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flexjar-proxy-go/internal/config"
	"flexjar-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Every path other than the metrics endpoint goes through the dispatcher.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, d *Dispatcher, m *metrics.Metrics) {
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", d.Dispatch)
}
