package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

var (
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrTokenExpired     = errors.New("token is expired")
	ErrWrongKind        = errors.New("unexpected token kind")
)

// Claims is the signed payload of both token kinds. FamilyID and ParentID
// are only set on refresh tokens.
type Claims struct {
	Kind       TokenKind `json:"kind"`
	FamilyID   string    `json:"fam,omitempty"`
	ParentID   string    `json:"par,omitempty"`
	SessionID  string    `json:"sid,omitempty"`
	Generation int       `json:"gen"`
	Email      string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) TokenID() string { return c.ID }

func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Lineage carries the linkage a new token is minted with.
type Lineage struct {
	FamilyID   string
	ParentID   string
	SessionID  string
	Generation int
	Email      string
}

type IssuedToken struct {
	Raw    string
	Claims *Claims
}

type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
}

func NewTokenCodec(secret, issuer string, accessTTL, refreshTTL time.Duration, clk clock.Clock) *TokenCodec {
	return &TokenCodec{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clk,
	}
}

func (c *TokenCodec) TTL(kind TokenKind) time.Duration {
	if kind == TokenKindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Mint signs a new token with a fresh id. Family and parent are dropped for
// access tokens.
func (c *TokenCodec) Mint(kind TokenKind, subject string, lineage Lineage) (*IssuedToken, error) {
	now := c.clock.Now()
	claims := &Claims{
		Kind:       kind,
		SessionID:  lineage.SessionID,
		Generation: lineage.Generation,
		Email:      lineage.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(kind))),
		},
	}
	if kind == TokenKindRefresh {
		claims.FamilyID = lineage.FamilyID
		claims.ParentID = lineage.ParentID
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return &IssuedToken{Raw: raw, Claims: claims}, nil
}

// Verify checks signature, issuer, expiry and kind.
func (c *TokenCodec) Verify(raw string, expected TokenKind) (*Claims, error) {
	claims, err := c.parse(raw,
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		return nil, err
	}
	if claims.Kind != expected {
		return nil, ErrWrongKind
	}
	return claims, nil
}

// ParseSigned checks the signature only. Expired tokens are accepted.
func (c *TokenCodec) ParseSigned(raw string) (*Claims, error) {
	return c.parse(raw, jwt.WithoutClaimsValidation())
}

// Decode reads the payload without any signature check. Only for tokens
// that are already trusted.
func (c *TokenCodec) Decode(raw string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

// IssuedHere reports whether raw looks like one of our own tokens, judged
// by algorithm and issuer without checking the signature.
func (c *TokenCodec) IssuedHere(raw string) bool {
	claims := &Claims{}
	token, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return false
	}
	return token.Method.Alg() == jwt.SigningMethodHS256.Alg() && claims.Issuer == c.issuer
}

func (c *TokenCodec) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidSignature
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidSignature
	}
	if !token.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header, or "" for any other scheme.
func ExtractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
