package token

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"flexjar-proxy-go/internal/model"
)

// Cached reuses an access token until shortly before it expires.
// Concurrent callers share a single refresh.
type Cached struct {
	source oauth2.TokenSource
}

// NewCached wraps src so that a token is refetched only once it is within
// earlyExpiry of its expiry. Tokens without a lifetime are never reused.
func NewCached(src Source, earlyExpiry time.Duration) *Cached {
	return &Cached{
		source: oauth2.ReuseTokenSourceWithExpiry(nil, &oauth2Adapter{src: src}, earlyExpiry),
	}
}

// Token returns the cached token or fetches a new one. Refreshes run on a
// background context bounded by the acquirer's HTTP timeout, since the
// result is shared with other requests.
func (c *Cached) Token(_ context.Context) (*model.AccessToken, error) {
	t, err := c.source.Token()
	if err != nil {
		return nil, err
	}

	tok := &model.AccessToken{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
	}
	if remaining := time.Until(t.Expiry); remaining > 0 {
		tok.ExpiresIn = int64(remaining / time.Second)
	}
	return tok, nil
}

// oauth2Adapter exposes a Source as an oauth2.TokenSource.
type oauth2Adapter struct {
	src Source
}

func (a *oauth2Adapter) Token() (*oauth2.Token, error) {
	tok, err := a.src.Token(context.Background())
	if err != nil {
		return nil, err
	}

	// A zero Expiry means "never expires" to oauth2; use now instead so a
	// token without a lifetime is not reused.
	expiry := time.Now()
	if tok.ExpiresIn > 0 {
		expiry = expiry.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Expiry:      expiry,
	}, nil
}
