package services

import (
	"errors"
	"fmt"
)

// Outward-facing failures. Handlers map these to status codes with errors.Is.
var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpired             = errors.New("token expired")
	ErrRevoked             = errors.New("token revoked")
	ErrReuseDetected       = errors.New("refresh token reuse detected, all sessions revoked")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrUpstreamUnavailable = errors.New("identity or storage backend unavailable")
	ErrRateLimited         = errors.New("too many login attempts")
	ErrInvalidInput        = errors.New("invalid input")
)

// Store and provider level conditions. These never leave the services package
// unmapped.
var (
	ErrUnknownAccount  = errors.New("no account for identifier")
	ErrWrongPassword   = errors.New("password mismatch")
	ErrProfileNotFound = errors.New("profile not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyRotated  = errors.New("refresh token already rotated")
	ErrEmailTaken      = errors.New("email already registered")
	ErrUsernameTaken   = errors.New("username already taken")
)

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUpstreamUnavailable, err)
}
