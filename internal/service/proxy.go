// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"flexjar-proxy-go/internal/client"
	"flexjar-proxy-go/internal/config"
	"flexjar-proxy-go/internal/model"
	"flexjar-proxy-go/internal/token"
)

// ErrBackendUnreachable wraps transport failures talking to the backend.
var ErrBackendUnreachable = errors.New("backend unreachable")

// recomputedResponseHeaders are never copied from the backend; the handler
// sets them explicitly from ProxyResponse.ContentType and ContentLength.
var recomputedResponseHeaders = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
}

// hopByHopHeaders apply to a single connection and are not relayed.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

const userAgent = "flexjar-proxy-go/1.0"

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.BackendClient
	tokens  token.Source
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.BackendClient, tokens token.Source, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		tokens:  tokens,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// Forward acquires an access token, sends the request to the backend and
// returns the response with its headers filtered.
// The caller is responsible for closing the response body.
//
// A token failure is returned as *token.AuthError and the backend is not
// contacted. A transport failure is wrapped in ErrBackendUnreachable.
// Neither is retried.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	tok, err := s.tokens.Token(pr.Ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	backendURL := s.buildBackendURL(pr.Path, pr.RawQuery)
	header := s.buildRequestHeaders(tok, pr.RequestID)

	s.logger.Debug("forwarding request",
		"method", http.MethodPost,
		"path", pr.Path,
		"request_id", pr.RequestID,
	)

	resp, err := s.client.DoStream(pr.Ctx, http.MethodPost, backendURL, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w: %w", ErrBackendUnreachable, err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildBackendURL appends the logical path (and query, if any) to the
// backend base URL.
func (s *ProxyService) buildBackendURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = s.baseURL.Path + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

func (s *ProxyService) buildRequestHeaders(tok *model.AccessToken, requestID string) http.Header {
	dst := make(http.Header)
	dst.Set("Authorization", "Bearer "+tok.AccessToken)
	dst.Set("Content-Type", "application/json")
	dst.Set("User-Agent", userAgent)
	if requestID != "" {
		dst.Set("X-Request-Id", requestID)
	}
	return dst
}

func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if recomputedResponseHeaders[canonical] || hopByHopHeaders[canonical] {
			continue
		}
		dst[key] = vals
	}
	return dst
}
