package token

import (
	"fmt"
	"strings"
)

// AuthError reports a failed client-credentials exchange: the token endpoint
// was unreachable, answered with a non-2xx status, or returned a body that
// could not be parsed into a token. It never carries credentials.
type AuthError struct {
	// StatusCode is the token endpoint's HTTP status, or 0 when no response arrived.
	StatusCode int
	// Code and Description are the OAuth2 "error" and "error_description" fields, if any.
	Code        string
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString("token endpoint")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, " (%s)", e.Description)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
