package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"flexjar-proxy-go/internal/client"
	"flexjar-proxy-go/internal/config"
	"flexjar-proxy-go/internal/model"
	"flexjar-proxy-go/internal/token"
)

// recorder collects the order of outbound calls.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeSource struct {
	rec *recorder
	err error
}

func (f *fakeSource) Token(context.Context) (*model.AccessToken, error) {
	f.rec.add("token")
	if f.err != nil {
		return nil, f.err
	}
	return &model.AccessToken{AccessToken: "test-token", ExpiresIn: 3599, TokenType: "Bearer"}, nil
}

func newTestService(t *testing.T, backendURL string, src token.Source) *ProxyService {
	t.Helper()
	cfg := &config.Config{
		Backend: config.BackendConfig{
			BaseURL:                      backendURL,
			ResponseHeaderTimeoutSeconds: 10,
			IdleConnections:              10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewProxyService(client.NewBackendClient(cfg, logger, nil), src, cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return svc
}

func TestBuildBackendURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		rawQuery string
		want     string
	}{
		{"host only", "http://backend.internal", "/feedback", "", "http://backend.internal/feedback"},
		{"base with path", "http://flexjar-backend.flex/api/v1", "/feedback/azure", "", "http://flexjar-backend.flex/api/v1/feedback/azure"},
		{"query preserved", "http://backend.internal", "/feedback", "app=tbd&x=1", "http://backend.internal/feedback?app=tbd&x=1"},
		{"root path", "https://backend.internal", "/", "", "https://backend.internal/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, _ := url.Parse(tt.base)
			s := &ProxyService{baseURL: base}
			if got := s.buildBackendURL(tt.path, tt.rawQuery); got != tt.want {
				t.Errorf("buildBackendURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildRequestHeaders(t *testing.T) {
	s := &ProxyService{}
	h := s.buildRequestHeaders(&model.AccessToken{AccessToken: "abc"}, "req-1")

	if got := h.Get("Authorization"); got != "Bearer abc" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer abc")
	}
	if got := h.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
	if got := h.Get("X-Request-Id"); got != "req-1" {
		t.Errorf("X-Request-Id = %q, want %q", got, "req-1")
	}
	if got := h.Get("User-Agent"); got != userAgent {
		t.Errorf("User-Agent = %q, want %q", got, userAgent)
	}

	if h := s.buildRequestHeaders(&model.AccessToken{AccessToken: "abc"}, ""); len(h.Values("X-Request-Id")) != 0 {
		t.Error("X-Request-Id should be omitted when empty")
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	s := &ProxyService{}
	src := http.Header{
		"Content-Type":      {"application/json"},
		"Content-Length":    {"42"},
		"Transfer-Encoding": {"chunked"},
		"Connection":        {"close"},
		"Set-Cookie":        {"a=1", "b=2"},
		"X-Backend-Trace":   {"abc"},
		"Location":          {"/feedback/abc"},
		"Date":              {"Mon, 01 Jan 2025 00:00:00 GMT"},
	}

	dst := s.filterResponseHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Content-Type recomputed", "Content-Type", 0},
		{"Content-Length recomputed", "Content-Length", 0},
		{"Transfer-Encoding stripped (hop-by-hop)", "Transfer-Encoding", 0},
		{"Connection stripped (hop-by-hop)", "Connection", 0},
		{"Set-Cookie passed through", "Set-Cookie", 2},
		{"X-Backend-Trace passed through", "X-Backend-Trace", 1},
		{"Location passed through", "Location", 1},
		{"Date passed through", "Date", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestForward_HappyPath(t *testing.T) {
	rec := &recorder{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add("backend")
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/feedback" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/feedback")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-token")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"feedback":"ok"}` {
			t.Errorf("body = %q, want %q", body, `{"feedback":"ok"}`)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer backend.Close()

	svc := newTestService(t, backend.URL, &fakeSource{rec: rec})

	body := `{"feedback":"ok"}`
	resp, err := svc.Forward(&model.ProxyRequest{
		Ctx:           context.Background(),
		Method:        http.MethodPost,
		Path:          "/feedback",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if resp.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want %q", resp.ContentType, "application/json")
	}
	if resp.ContentLength != int64(len(`{"id":"abc"}`)) {
		t.Errorf("ContentLength = %d, want %d", resp.ContentLength, len(`{"id":"abc"}`))
	}
	if resp.Header.Get("Content-Type") != "" || resp.Header.Get("Content-Length") != "" {
		t.Error("filtered header should not carry Content-Type or Content-Length")
	}
	if resp.Header.Get("X-Backend") != "yes" {
		t.Errorf("X-Backend = %q, want %q", resp.Header.Get("X-Backend"), "yes")
	}

	got, _ := io.ReadAll(resp.Body)
	if string(got) != `{"id":"abc"}` {
		t.Errorf("body = %q, want %q", got, `{"id":"abc"}`)
	}

	if events := rec.list(); strings.Join(events, ",") != "token,backend" {
		t.Errorf("call order = %v, want [token backend]", events)
	}
}

func TestForward_TokenFailureSkipsBackend(t *testing.T) {
	rec := &recorder{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rec.add("backend")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	svc := newTestService(t, backend.URL, &fakeSource{rec: rec, err: &token.AuthError{StatusCode: http.StatusBadRequest}})

	_, err := svc.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodPost,
		Path:   "/feedback",
		Body:   http.NoBody,
	})
	var authErr *token.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Forward() error = %v, want *token.AuthError", err)
	}
	if errors.Is(err, ErrBackendUnreachable) {
		t.Error("token failure should not be reported as ErrBackendUnreachable")
	}
	if events := rec.list(); strings.Join(events, ",") != "token" {
		t.Errorf("call order = %v, want [token]", events)
	}
}

func TestForward_BackendUnreachable(t *testing.T) {
	rec := &recorder{}
	svc := newTestService(t, "http://127.0.0.1:1", &fakeSource{rec: rec})

	_, err := svc.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodPost,
		Path:   "/feedback",
		Body:   http.NoBody,
	})
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("Forward() error = %v, want ErrBackendUnreachable", err)
	}
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		t.Errorf("Forward() error = %v, want wrapped *url.Error", err)
	}
}

func TestNewProxyService_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Backend: config.BackendConfig{BaseURL: "http://bad host\x7f"}}
	if _, err := NewProxyService(nil, nil, cfg, logger); err == nil {
		t.Fatal("NewProxyService() expected error for invalid URL, got nil")
	}
}
