package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/golang-jwt/jwt/v5"
)

const appleIssuer = "https://appleid.apple.com"

// FederatedIdentity is what a verified third-party identity token asserts.
type FederatedIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// FederatedVerifier checks a third-party identity token.
type FederatedVerifier interface {
	Verify(ctx context.Context, identityToken string) (*FederatedIdentity, error)
}

type AppleClaims struct {
	Email         string      `json:"email"`
	EmailVerified interface{} `json:"email_verified"`
	jwt.RegisteredClaims
}

// AppleVerifier validates Sign in with Apple identity tokens against Apple's
// published JWKS. The key set is fetched on first use and refreshed in the
// background.
type AppleVerifier struct {
	jwksURL   string
	bundleIDs []string
	clock     clock.Clock

	mu   sync.Mutex
	jwks *keyfunc.JWKS
}

func NewAppleVerifier(jwksURL string, bundleIDs []string, clk clock.Clock) *AppleVerifier {
	return &AppleVerifier{jwksURL: jwksURL, bundleIDs: bundleIDs, clock: clk}
}

// NewAppleVerifierWithKeys uses a fixed key set instead of fetching one.
func NewAppleVerifierWithKeys(jwks *keyfunc.JWKS, bundleIDs []string, clk clock.Clock) *AppleVerifier {
	return &AppleVerifier{jwks: jwks, bundleIDs: bundleIDs, clock: clk}
}

func (v *AppleVerifier) keySet() (*keyfunc.JWKS, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwks != nil {
		return v.jwks, nil
	}

	jwks, err := keyfunc.Get(v.jwksURL, keyfunc.Options{
		Client:            &http.Client{Timeout: 10 * time.Second},
		RefreshInterval:   24 * time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			slog.Warn("apple jwks refresh failed", "error", err)
		},
	})
	if err != nil {
		return nil, upstream("fetch apple jwks", err)
	}
	v.jwks = jwks
	return jwks, nil
}

func (v *AppleVerifier) Verify(ctx context.Context, identityToken string) (*FederatedIdentity, error) {
	if identityToken == "" {
		return nil, ErrInvalidToken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jwks, err := v.keySet()
	if err != nil {
		return nil, err
	}

	claims := &AppleClaims{}
	token, err := jwt.ParseWithClaims(identityToken, claims, jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: apple identity token: %v", ErrInvalidToken, err)
	}

	if !v.audienceAllowed(claims.Audience) {
		return nil, fmt.Errorf("%w: apple identity token audience %v", ErrInvalidToken, claims.Audience)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: apple identity token has no subject", ErrInvalidToken)
	}

	return &FederatedIdentity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.Email != "" && claimTrue(claims.EmailVerified),
	}, nil
}

// claimTrue reads Apple's boolean claims, sent either as JSON bools or as
// the strings "true"/"false".
func claimTrue(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}

func (v *AppleVerifier) audienceAllowed(aud jwt.ClaimStrings) bool {
	for _, a := range aud {
		if slices.Contains(v.bundleIDs, a) {
			return true
		}
	}
	return false
}

// Close stops the background key refresh.
func (v *AppleVerifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

var errNoVerifier = fmt.Errorf("%w: federated sign-in not configured", ErrInvalidToken)
