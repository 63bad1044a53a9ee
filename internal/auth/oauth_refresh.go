package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// RefreshOAuthProfile exchanges a profile's refresh token for a new access
// token via the given oauth2 endpoint, updating Access/Refresh/Expires on
// the returned Profile (the caller persists it with AddProfile).
func RefreshOAuthProfile(ctx context.Context, p Profile, endpoint oauth2.Endpoint, clientID, clientSecret string) (Profile, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: p.Refresh})
	tok, err := src.Token()
	if err != nil {
		return p, err
	}
	p.Access = tok.AccessToken
	if tok.RefreshToken != "" {
		p.Refresh = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		p.Expires = tok.Expiry.UnixMilli()
	}
	return p, nil
}

// AccessTokenExpiry inspects a JWT-shaped access token for its exp claim,
// used to pre-emptively refresh OAuth profiles before the provider rejects
// a stale token. Non-JWT tokens (opaque bearer tokens) simply fall back to
// the Profile.Expires field recorded at issue time.
func AccessTokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
