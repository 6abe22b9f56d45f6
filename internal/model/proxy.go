// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// AccessToken is the result of a client-credentials exchange. ExpiresIn is
// informational; tokens are fetched per forwarded request unless the
// token cache is enabled.
type AccessToken struct {
	AccessToken string
	ExpiresIn   int64
	TokenType   string
}

// ProxyRequest represents an inbound request to be forwarded to the backend.
// Path is the logical path, with the configured base path already stripped.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawQuery      string
	Body          io.ReadCloser
	ContentLength int64
	RequestID     string
}

// ProxyResponse represents the backend response to be streamed back.
// ContentType and ContentLength carry the backend's own values; once the
// service has filtered Header it no longer holds either field, so the handler
// sets each exactly once.
type ProxyResponse struct {
	StatusCode    int
	Header        http.Header
	ContentType   string
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}
