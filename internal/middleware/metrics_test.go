package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"flexjar-proxy-go/internal/metrics"
)

const basePath = "/syk/flexjar"

// findRequestCounter returns the value of flexjar_proxy_http_requests_total
// for the given route label, plus its labels.
func findRequestCounter(t *testing.T, m *metrics.Metrics, route string) (float64, map[string]string, bool) {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() != "flexjar_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == route {
				return metric.GetCounter().GetValue(), labels, true
			}
		}
	}
	return 0, nil, false
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, basePath))
	e.POST("/*", func(c echo.Context) error {
		return c.String(http.StatusCreated, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, basePath+"/feedback", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	v, labels, ok := findRequestCounter(t, m, "forward")
	if !ok {
		t.Fatal("expected flexjar_proxy_http_requests_total with route=forward")
	}
	if v != 1 {
		t.Errorf("counter value = %v, want 1", v)
	}
	if labels["status_code"] != "201" {
		t.Errorf("status_code = %q, want %q", labels["status_code"], "201")
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, basePath))
	e.GET("/isAlive", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	req := httptest.NewRequest(http.MethodGet, "/isAlive", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "flexjar_proxy_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected flexjar_proxy_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, basePath))
	e.POST("/*", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too large")
	})

	req := httptest.NewRequest(http.MethodPost, basePath+"/feedback", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	_, labels, ok := findRequestCounter(t, m, "forward")
	if !ok {
		t.Fatal("expected flexjar_proxy_http_requests_total with route=forward")
	}
	if labels["status_code"] != "413" {
		t.Errorf("status_code = %q, want %q", labels["status_code"], "413")
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, basePath))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusMethodNotAllowed, "no")
	})

	req := httptest.NewRequest("XYZZY", basePath+"/feedback", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	_, labels, ok := findRequestCounter(t, m, "forward")
	if !ok {
		t.Fatal("expected flexjar_proxy_http_requests_total with route=forward")
	}
	if labels["method"] != "other" {
		t.Errorf("method = %q, want %q", labels["method"], "other")
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, basePath))
	// No routes registered; request should yield 404.

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	_, labels, ok := findRequestCounter(t, m, "other")
	if !ok {
		t.Fatal("expected flexjar_proxy_http_requests_total with route=other")
	}
	if labels["status_code"] != "404" {
		t.Errorf("status_code = %q, want %q", labels["status_code"], "404")
	}
}
