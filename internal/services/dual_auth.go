package services

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type AuthMethod string

const (
	AuthMethodNativeToken     AuthMethod = "native-token"
	AuthMethodFederatedBearer AuthMethod = "federated-bearer"
	AuthMethodSessionCookie   AuthMethod = "session-cookie"
)

// Credentials are the raw credential carriers of one request.
type Credentials struct {
	Authorization string
	SessionCookie string
}

// AuthenticatedUser is built fresh per request. Only the profile fields
// come from the cache.
type AuthenticatedUser struct {
	AccountID string
	ProfileID *string
	Email     string
	Username  *string
	Method    AuthMethod
	SessionID string
	TokenID   string
}

// Strategy resolves credentials one way. nil means not applicable or
// rejected; the next strategy runs.
type Strategy func(ctx context.Context, creds Credentials) *AuthenticatedUser

const touchTimeout = 2 * time.Second

// DualAuthResolver tries native token, federated bearer and session cookie
// in that order and stops at the first success.
type DualAuthResolver struct {
	codec       *TokenCodec
	revocations RevocationStore
	sessions    SessionRegistry
	identity    *IdentityResolver
	profiles    *ProfileCache

	strategies []Strategy
}

func NewDualAuthResolver(codec *TokenCodec, revocations RevocationStore, sessions SessionRegistry, identity *IdentityResolver, profiles *ProfileCache) *DualAuthResolver {
	r := &DualAuthResolver{
		codec:       codec,
		revocations: revocations,
		sessions:    sessions,
		identity:    identity,
		profiles:    profiles,
	}
	r.strategies = []Strategy{r.nativeToken, r.federatedBearer, r.sessionCookie}
	return r
}

// Resolve returns nil when no strategy accepts the credentials.
func (r *DualAuthResolver) Resolve(ctx context.Context, creds Credentials) *AuthenticatedUser {
	for _, strategy := range r.strategies {
		if user := strategy(ctx, creds); user != nil {
			return user
		}
	}
	return nil
}

func (r *DualAuthResolver) Require(ctx context.Context, creds Credentials) (*AuthenticatedUser, error) {
	user := r.Resolve(ctx, creds)
	if user == nil {
		return nil, ErrNotAuthenticated
	}
	return user, nil
}

func (r *DualAuthResolver) nativeToken(ctx context.Context, creds Credentials) *AuthenticatedUser {
	raw := ExtractBearer(creds.Authorization)
	if raw == "" {
		return nil
	}
	claims, err := r.codec.Verify(raw, TokenKindAccess)
	if err != nil {
		return nil
	}

	revoked, reason, err := revokedFor(ctx, r.revocations, claims)
	if err != nil {
		slog.Error("revocation check failed", "action", "upstream_unavailable", "user_id", claims.Subject, "error", err)
		return nil
	}
	if revoked {
		slog.Debug("revoked access token presented", "user_id", claims.Subject, "token_id", claims.ID, "reason", reason)
		return nil
	}
	if claims.SessionID != "" && !r.sessionLive(ctx, claims) {
		return nil
	}

	user := &AuthenticatedUser{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Method:    AuthMethodNativeToken,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
	}
	if !r.attachProfile(ctx, user) {
		return nil
	}
	if user.SessionID != "" {
		r.touch(ctx, user.SessionID)
	}
	return user
}

// sessionLive rejects access tokens whose session was ended or belongs to
// someone else. Storage errors reject too.
func (r *DualAuthResolver) sessionLive(ctx context.Context, claims *Claims) bool {
	sess, err := r.sessions.Get(ctx, claims.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		slog.Debug("access token for ended session", "user_id", claims.Subject, "session_id", claims.SessionID)
		return false
	case err != nil:
		slog.Error("session check failed", "action", "upstream_unavailable", "user_id", claims.Subject, "error", err)
		return false
	}
	return sess.UserID == claims.Subject
}

func (r *DualAuthResolver) federatedBearer(ctx context.Context, creds Credentials) *AuthenticatedUser {
	raw := ExtractBearer(creds.Authorization)
	if raw == "" || r.codec.IssuedHere(raw) {
		return nil
	}
	acct, err := r.identity.VerifyFederatedBearer(ctx, raw)
	if err != nil {
		return nil
	}

	user := &AuthenticatedUser{
		AccountID: acct.ID,
		Email:     acct.Email,
		Method:    AuthMethodFederatedBearer,
	}
	if !r.attachProfile(ctx, user) {
		return nil
	}
	return user
}

func (r *DualAuthResolver) sessionCookie(ctx context.Context, creds Credentials) *AuthenticatedUser {
	if creds.SessionCookie == "" {
		return nil
	}
	acct, err := r.identity.VerifySessionCookie(ctx, creds.SessionCookie)
	if err != nil || acct == nil {
		return nil
	}

	user := &AuthenticatedUser{
		AccountID: acct.ID,
		Email:     acct.Email,
		Method:    AuthMethodSessionCookie,
	}
	if !r.attachProfile(ctx, user) {
		return nil
	}
	return user
}

// attachProfile fills the profile fields from cache or provider. A missing
// profile leaves them nil; a provider failure rejects the user.
func (r *DualAuthResolver) attachProfile(ctx context.Context, user *AuthenticatedUser) bool {
	if r.profiles != nil {
		if ref, ok := r.profiles.Get(user.AccountID); ok {
			setProfile(user, ref)
			return true
		}
	}

	ref, err := r.identity.LookupProfile(ctx, user.AccountID)
	if err != nil {
		return errors.Is(err, ErrProfileNotFound)
	}
	if r.profiles != nil {
		r.profiles.Put(user.AccountID, *ref)
	}
	setProfile(user, ref)
	return true
}

func setProfile(user *AuthenticatedUser, ref *ProfileRef) {
	id := ref.ProfileID
	user.ProfileID = &id
	user.Username = ref.Username
}

func (r *DualAuthResolver) touch(ctx context.Context, sessionID string) {
	go func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
		defer cancel()
		if err := r.sessions.Touch(tctx, sessionID); err != nil {
			slog.Warn("session touch failed", "session_id", sessionID, "error", err)
		}
	}()
}
