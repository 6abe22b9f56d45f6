// Package token acquires OAuth2 access tokens with the client-credentials grant.
package token

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flexjar-proxy-go/internal/client"
	"flexjar-proxy-go/internal/config"
	"flexjar-proxy-go/internal/metrics"
	"flexjar-proxy-go/internal/model"
)

// maxResponseBytes caps how much of a token endpoint response is read.
const maxResponseBytes = 1 << 20

// Source hands out access tokens for backend calls.
type Source interface {
	Token(ctx context.Context) (*model.AccessToken, error)
}

// Acquirer performs one client-credentials exchange per Token call.
// It holds no per-request state and is safe for concurrent use.
type Acquirer struct {
	cfg        config.AzureConfig
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewAcquirer creates an Acquirer for the configured token endpoint.
// The metrics parameter is optional; pass nil to disable token metrics recording.
func NewAcquirer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Acquirer {
	return &Acquirer{
		cfg: cfg.Azure,
		httpClient: &http.Client{
			Transport: client.NewTransport(2),
			Timeout:   time.Duration(cfg.Azure.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "token_acquirer"),
		metrics: m,
	}
}

// NewSource returns the Acquirer itself, or a caching wrapper around it when
// the token cache is enabled.
func NewSource(cfg *config.Config, a *Acquirer, logger *slog.Logger) Source {
	if !cfg.Token.CacheEnabled {
		return a
	}
	early := time.Duration(cfg.Token.CacheEarlyExpirySeconds) * time.Second
	logger.Info("token cache enabled", "early_expiry", early.String())
	return NewCached(a, early)
}

// Token exchanges the client credentials for an access token.
// Errors are always *AuthError.
func (a *Acquirer) Token(ctx context.Context) (*model.AccessToken, error) {
	start := time.Now()
	tok, outcome, err := a.fetch(ctx)
	if a.metrics != nil {
		a.metrics.TokenDuration.Observe(time.Since(start).Seconds())
		a.metrics.TokenRequests.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return nil, err
	}

	a.logger.Debug("token acquired",
		"token_type", tok.TokenType,
		"expires_in", tok.ExpiresIn,
	)
	return tok, nil
}

func (a *Acquirer) fetch(ctx context.Context) (*model.AccessToken, string, error) {
	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("scope", a.cfg.Scope)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, metrics.OutcomeUnreachable, &AuthError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	// Some identity providers only read the credentials from the header,
	// others only from the form; send both.
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, metrics.OutcomeUnreachable, &AuthError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, metrics.OutcomeUnreachable, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		authErr := &AuthError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			authErr.Code = er.Error
			authErr.Description = er.Description
		}
		return nil, metrics.OutcomeRejected, authErr
	}

	tok, err := parseTokenResponse(body)
	if err != nil {
		return nil, metrics.OutcomeInvalid, &AuthError{StatusCode: resp.StatusCode, Err: err}
	}
	return tok, metrics.OutcomeSuccess, nil
}

// tokenResponse accepts both the RFC 6749 snake_case field names and
// camelCase variants.
type tokenResponse struct {
	AccessToken      string  `json:"access_token"`
	AccessTokenCamel string  `json:"accessToken"`
	ExpiresIn        seconds `json:"expires_in"`
	ExpiresInCamel   seconds `json:"expiresIn"`
	TokenType        string  `json:"token_type"`
	TokenTypeCamel   string  `json:"tokenType"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func parseTokenResponse(body []byte) (*model.AccessToken, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	tok := &model.AccessToken{
		AccessToken: cmp.Or(tr.AccessToken, tr.AccessTokenCamel),
		ExpiresIn:   int64(cmp.Or(tr.ExpiresIn, tr.ExpiresInCamel)),
		TokenType:   cmp.Or(tr.TokenType, tr.TokenTypeCamel),
	}
	if tok.AccessToken == "" {
		return nil, errors.New("decode response: missing access_token")
	}
	if tok.TokenType == "" {
		return nil, errors.New("decode response: missing token_type")
	}
	return tok, nil
}

// seconds decodes a lifetime sent either as a JSON number or as a numeric
// string (Azure AD v1 endpoints quote it).
type seconds int64

func (s *seconds) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	*s = seconds(n)
	return nil
}
