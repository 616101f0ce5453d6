package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/room4-2/livewire/live"
)

// ErrTokenExpired is returned when an access token is already past its expiry
// at dial time.
var ErrTokenExpired = errors.New("gemini: access token expired")

// TokenSourceAuth adapts an oauth2.TokenSource to live.Authenticator.
type TokenSourceAuth struct {
	Source oauth2.TokenSource
}

func (a TokenSourceAuth) GetAccessToken(_ context.Context) (string, time.Time, error) {
	if a.Source == nil {
		return "", time.Time{}, errors.New("gemini: nil token source")
	}
	tok, err := a.Source.Token()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gemini: fetch token: %w", err)
	}
	return tok.AccessToken, tok.Expiry, nil
}

// StaticToken authenticates with a fixed bearer token that never expires.
func StaticToken(token string) live.Authenticator {
	return TokenSourceAuth{Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})}
}

// authHeader fills h with credentials. An API key takes precedence over auth.
func authHeader(ctx context.Context, h http.Header, apiKey string, auth live.Authenticator, now time.Time) error {
	if apiKey != "" {
		h.Set("x-goog-api-key", apiKey)
		return nil
	}
	if auth == nil {
		return errors.New("gemini: no credentials configured")
	}
	tok, expiry, err := auth.GetAccessToken(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return errors.New("gemini: empty access token")
	}
	if !expiry.IsZero() && !now.Before(expiry) {
		return ErrTokenExpired
	}
	h.Set("Authorization", "Bearer "+tok)
	return nil
}
