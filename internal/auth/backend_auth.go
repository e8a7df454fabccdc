package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// BearerToken pulls the token out of an "Authorization: Bearer <token>"
// header value. It returns "" for anything else.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// NewBackendClient returns the HTTP client used to call the Hive backend.
// A non-empty token is attached to every request as a bearer token; with an
// empty token the client sends no Authorization header.
func NewBackendClient(token string, timeout time.Duration) *http.Client {
	if token == "" {
		return &http.Client{Timeout: timeout}
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = timeout
	return client
}

// PickToken prefers the token the admin opened the desk with and falls back
// to the configured service token.
func PickToken(requestToken, serviceToken string) string {
	if requestToken != "" {
		return requestToken
	}
	return serviceToken
}
