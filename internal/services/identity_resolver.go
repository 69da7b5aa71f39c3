package services

import (
	"context"
	"errors"
	"log/slog"
)

// IdentityResolver wraps the identity provider and collapses credential
// failures into outward-facing errors.
type IdentityResolver struct {
	provider IdentityProvider
}

func NewIdentityResolver(provider IdentityProvider) *IdentityResolver {
	return &IdentityResolver{provider: provider}
}

// VerifyPassword never tells the caller which of email or password was
// wrong. The real cause is logged.
func (r *IdentityResolver) VerifyPassword(ctx context.Context, email, password string) (*Account, error) {
	acct, err := r.provider.VerifyPassword(ctx, email, password)
	if err == nil {
		return acct, nil
	}

	switch {
	case errors.Is(err, ErrUnknownAccount):
		slog.Warn("login failed", "action", "login_failed", "email", email, "cause", "unknown_account")
		return nil, ErrInvalidCredentials
	case errors.Is(err, ErrWrongPassword):
		slog.Warn("login failed", "action", "login_failed", "email", email, "cause", "wrong_password")
		return nil, ErrInvalidCredentials
	}
	return nil, r.upstreamFailure("verify password", err)
}

func (r *IdentityResolver) VerifyFederatedBearer(ctx context.Context, token string) (*Account, error) {
	acct, err := r.provider.VerifyFederatedBearer(ctx, token)
	if err == nil {
		return acct, nil
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return nil, r.upstreamFailure("verify federated bearer", err)
	}
	if errors.Is(err, ErrInvalidToken) {
		return nil, err
	}
	return nil, ErrInvalidToken
}

func (r *IdentityResolver) VerifySessionCookie(ctx context.Context, cookie string) (*Account, error) {
	acct, err := r.provider.VerifySessionCookie(ctx, cookie)
	if err != nil {
		return nil, r.upstreamFailure("verify session cookie", err)
	}
	return acct, nil
}

func (r *IdentityResolver) LookupProfile(ctx context.Context, accountID string) (*ProfileRef, error) {
	ref, err := r.provider.LookupProfile(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, err
		}
		return nil, r.upstreamFailure("lookup profile", err)
	}
	return ref, nil
}

func (r *IdentityResolver) upstreamFailure(op string, err error) error {
	if !errors.Is(err, ErrUpstreamUnavailable) {
		err = upstream(op, err)
	}
	slog.Error("identity provider unavailable", "action", "upstream_unavailable", "op", op, "error", err)
	return err
}
