package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/models"
	"github.com/google/uuid"
)

// AccountManager is the write side of the identity provider.
type AccountManager interface {
	CreateAccount(ctx context.Context, email, password string) (*Account, error)
	LinkFederated(ctx context.Context, identityToken, fallbackEmail string) (*Account, error)
	EndBrowserSessionsForAccount(ctx context.Context, accountID string) (int64, error)
}

// ClientInfo is the device metadata stored on a session.
type ClientInfo struct {
	UserAgent string
	IP        string
	Device    map[string]string
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	FamilyID         string
}

type LoginResult struct {
	TokenPair
	Account Account
}

// AuthService runs the token lifecycle: login, refresh with rotation and
// reuse detection, logout and session revocation.
type AuthService struct {
	codec    *TokenCodec
	identity *IdentityResolver
	accounts AccountManager
	stores   AuthStores
	tx       TxRunner
	limiter  AttemptLimiter
	clock    clock.Clock
}

func NewAuthService(codec *TokenCodec, identity *IdentityResolver, accounts AccountManager, stores AuthStores, tx TxRunner, clk clock.Clock) *AuthService {
	return &AuthService{
		codec:    codec,
		identity: identity,
		accounts: accounts,
		stores:   stores,
		tx:       tx,
		clock:    clk,
	}
}

// SetLimiter enables per-email login attempt limiting.
func (s *AuthService) SetLimiter(l AttemptLimiter) {
	s.limiter = l
}

func (s *AuthService) Login(ctx context.Context, email, password string, client ClientInfo) (*LoginResult, error) {
	acct, err := s.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.startFamily(ctx, acct, client)
}

// VerifyCredentials checks email and password under the attempt limit
// without minting tokens. Failures are ErrInvalidCredentials or
// ErrRateLimited.
func (s *AuthService) VerifyCredentials(ctx context.Context, email, password string) (*Account, error) {
	key := normalizeEmail(email)
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, key)
		if err != nil {
			slog.Warn("login limiter unavailable", "error", err)
		}
		if !allowed {
			slog.Warn("login rate limited", "action", "login_rate_limited", "email", key)
			return nil, ErrRateLimited
		}
	}

	acct, err := s.identity.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, key); err != nil {
			slog.Warn("login limiter reset failed", "error", err)
		}
	}
	return acct, nil
}

func (s *AuthService) RegisterAndLogin(ctx context.Context, email, password string, client ClientInfo) (*LoginResult, error) {
	acct, err := s.accounts.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.startFamily(ctx, acct, client)
}

func (s *AuthService) LoginFederated(ctx context.Context, identityToken, fallbackEmail string, client ClientInfo) (*LoginResult, error) {
	acct, err := s.accounts.LinkFederated(ctx, identityToken, fallbackEmail)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			logUpstream(ctx, "link federated", "", err)
		}
		return nil, err
	}
	return s.startFamily(ctx, acct, client)
}

// startFamily mints a root refresh token with no parent and opens a session.
func (s *AuthService) startFamily(ctx context.Context, acct *Account, client ClientInfo) (*LoginResult, error) {
	gen, err := s.stores.Revocations.Generation(ctx, acct.ID)
	if err != nil {
		logUpstream(ctx, "login generation", acct.ID, err)
		return nil, err
	}

	lineage := Lineage{
		FamilyID:   uuid.NewString(),
		SessionID:  uuid.NewString(),
		Generation: gen,
		Email:      acct.Email,
	}
	refresh, err := s.codec.Mint(TokenKindRefresh, acct.ID, lineage)
	if err != nil {
		return nil, err
	}
	access, err := s.codec.Mint(TokenKindAccess, acct.ID, lineage)
	if err != nil {
		return nil, err
	}

	device, _ := json.Marshal(client.Device)
	if client.Device == nil {
		device = []byte("{}")
	}

	err = s.tx.WithinTx(ctx, func(st AuthStores) error {
		if err := st.Rotations.RecordIssued(ctx, models.RotationRecord{
			TokenID:   refresh.Claims.ID,
			UserID:    acct.ID,
			FamilyID:  lineage.FamilyID,
			ExpiresAt: refresh.Claims.ExpiresAtTime(),
		}); err != nil {
			return err
		}
		return st.Sessions.Create(ctx, &models.Session{
			ID:             lineage.SessionID,
			UserID:         acct.ID,
			CurrentTokenID: refresh.Claims.ID,
			FamilyID:       lineage.FamilyID,
			DeviceInfo:     device,
			UserAgent:      client.UserAgent,
			IP:             client.IP,
		})
	})
	if err != nil {
		logUpstream(ctx, "login", acct.ID, err)
		return nil, err
	}

	slog.Info("login succeeded", "action", "login", "user_id", acct.ID, "family_id", lineage.FamilyID, "session_id", lineage.SessionID)
	return &LoginResult{
		TokenPair: pairOf(access, refresh),
		Account:   *acct,
	}, nil
}

// Refresh redeems a refresh token exactly once. A second redemption of the
// same token revokes everything the subject holds.
func (s *AuthService) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	claims, err := s.codec.Verify(raw, TokenKindRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}

	// The ledger is consulted before the blacklist: a redeemed token is
	// also blacklisted as rotated, and must surface as a replay.
	used, err := s.stores.Rotations.WasUsed(ctx, claims.ID)
	if err != nil {
		logUpstream(ctx, "refresh ledger lookup", claims.Subject, err)
		return nil, err
	}
	if used {
		return nil, s.handleReuse(ctx, claims)
	}

	revoked, reason, err := revokedFor(ctx, s.stores.Revocations, claims)
	if err != nil {
		logUpstream(ctx, "refresh revocation lookup", claims.Subject, err)
		return nil, err
	}
	if revoked {
		// A concurrent redemption may have consumed the token since the
		// ledger check.
		if used, err := s.stores.Rotations.WasUsed(ctx, claims.ID); err == nil && used {
			return nil, s.handleReuse(ctx, claims)
		}
		slog.Info("revoked refresh token presented", "user_id", claims.Subject, "family_id", claims.FamilyID, "reason", reason)
		return nil, ErrRevoked
	}

	family, err := s.stores.Rotations.FamilyOf(ctx, claims.ID)
	if err != nil {
		logUpstream(ctx, "refresh family lookup", claims.Subject, err)
		return nil, err
	}
	if family == "" || family != claims.FamilyID {
		slog.Warn("refresh token not in ledger", "user_id", claims.Subject, "token_id", claims.ID, "family_id", claims.FamilyID)
		return nil, ErrInvalidToken
	}

	lineage := Lineage{
		FamilyID:   claims.FamilyID,
		ParentID:   claims.ID,
		SessionID:  claims.SessionID,
		Generation: claims.Generation,
		Email:      claims.Email,
	}
	refresh, err := s.codec.Mint(TokenKindRefresh, claims.Subject, lineage)
	if err != nil {
		return nil, err
	}
	access, err := s.codec.Mint(TokenKindAccess, claims.Subject, lineage)
	if err != nil {
		return nil, err
	}

	var parent *string
	if claims.ParentID != "" {
		p := claims.ParentID
		parent = &p
	}
	err = s.tx.WithinTx(ctx, func(st AuthStores) error {
		if err := st.Rotations.RecordRotation(ctx, Rotation{
			TokenID:        claims.ID,
			Subject:        claims.Subject,
			FamilyID:       claims.FamilyID,
			ParentID:       parent,
			ChildID:        refresh.Claims.ID,
			ExpiresAt:      claims.ExpiresAtTime(),
			ChildExpiresAt: refresh.Claims.ExpiresAtTime(),
		}); err != nil {
			return err
		}
		if err := st.Revocations.Add(ctx, revocationEntry(claims, ReasonRotated, s.clock.Now())); err != nil {
			return err
		}
		return st.Sessions.UpdateCurrentToken(ctx, claims.SessionID, claims.ID, refresh.Claims.ID)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRotated):
		// Lost a race against a concurrent redemption of the same token.
		return nil, s.handleReuse(ctx, claims)
	case errors.Is(err, ErrSessionNotFound):
		slog.Info("refresh for ended session", "user_id", claims.Subject, "session_id", claims.SessionID)
		return nil, ErrRevoked
	default:
		logUpstream(ctx, "refresh rotation", claims.Subject, err)
		return nil, err
	}

	pair := pairOf(access, refresh)
	return &pair, nil
}

// handleReuse revokes every token and session of the subject before
// reporting ErrReuseDetected. If revocation cannot complete the caller sees
// the storage error and the next attempt detects the replay again.
func (s *AuthService) handleReuse(ctx context.Context, claims *Claims) error {
	var revoked, ended int64
	err := s.tx.WithinTx(ctx, func(st AuthStores) error {
		var err error
		revoked, err = st.Revocations.RevokeAllForSubject(ctx, claims.Subject, ReasonReuseDetected)
		if err != nil {
			return err
		}
		ended, err = st.Sessions.RevokeAllForSubject(ctx, claims.Subject)
		return err
	})
	if err != nil {
		logUpstream(ctx, "reuse revocation", claims.Subject, err)
		return err
	}

	reportReuse(reuseEvent{
		Subject:    claims.Subject,
		FamilyID:   claims.FamilyID,
		TokenID:    claims.ID,
		IssuedAt:   claims.IssuedAtTime(),
		ExpiresAt:  claims.ExpiresAtTime(),
		DetectedAt: s.clock.Now(),
		Revoked:    revoked,
		Sessions:   ended,
	})
	return ErrReuseDetected
}

// Logout blacklists the presented token and ends its session. It never
// fails; housekeeping errors are logged.
func (s *AuthService) Logout(ctx context.Context, rawAccess string) {
	if rawAccess == "" {
		return
	}
	claims, err := s.codec.ParseSigned(rawAccess)
	if err != nil {
		slog.Debug("logout with unusable token", "error", err)
		return
	}

	now := s.clock.Now()
	if err := s.stores.Revocations.Add(ctx, revocationEntry(claims, ReasonLogout, now)); err != nil {
		slog.Warn("logout blacklist failed", "user_id", claims.Subject, "token_id", claims.ID, "error", err)
	}
	if claims.SessionID == "" {
		return
	}
	if err := s.endSession(ctx, claims.SessionID, ReasonLogout); err != nil && !errors.Is(err, ErrSessionNotFound) {
		slog.Warn("logout session end failed", "user_id", claims.Subject, "session_id", claims.SessionID, "error", err)
	}
	slog.Info("logout", "action", "logout", "user_id", claims.Subject, "session_id", claims.SessionID)
}

// EndSession ends one of the subject's own sessions.
func (s *AuthService) EndSession(ctx context.Context, subject, sessionID string) error {
	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != subject {
		return ErrSessionNotFound
	}
	return s.endSession(ctx, sessionID, ReasonLogout)
}

// endSession deletes the session and blacklists its current refresh token.
func (s *AuthService) endSession(ctx context.Context, sessionID, reason string) error {
	return s.tx.WithinTx(ctx, func(st AuthStores) error {
		sess, err := st.Sessions.End(ctx, sessionID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		return st.Revocations.Add(ctx, models.RevokedToken{
			TokenID:   sess.CurrentTokenID,
			UserID:    sess.UserID,
			Kind:      string(TokenKindRefresh),
			Reason:    reason,
			ExpiresAt: now.Add(s.codec.TTL(TokenKindRefresh)),
			CreatedAt: now,
		})
	})
}

func (s *AuthService) ListSessions(ctx context.Context, subject string) ([]models.Session, error) {
	return s.stores.Sessions.ListForSubject(ctx, subject)
}

// RevokeAllSessions logs the subject out everywhere, including browser
// cookie sessions. Returns the number of token sessions ended.
func (s *AuthService) RevokeAllSessions(ctx context.Context, subject, reason string) (int64, error) {
	var ended int64
	err := s.tx.WithinTx(ctx, func(st AuthStores) error {
		if _, err := st.Revocations.RevokeAllForSubject(ctx, subject, reason); err != nil {
			return err
		}
		var err error
		ended, err = st.Sessions.RevokeAllForSubject(ctx, subject)
		return err
	})
	if err != nil {
		logUpstream(ctx, "revoke all sessions", subject, err)
		return 0, err
	}

	if s.accounts != nil {
		if _, err := s.accounts.EndBrowserSessionsForAccount(ctx, subject); err != nil {
			slog.Warn("browser session cleanup failed", "user_id", subject, "error", err)
		}
	}
	slog.Info("all sessions revoked", "action", "revoke_all", "user_id", subject, "reason", reason, "sessions", ended)
	return ended, nil
}

func pairOf(access, refresh *IssuedToken) TokenPair {
	return TokenPair{
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		AccessExpiresAt:  access.Claims.ExpiresAtTime(),
		RefreshExpiresAt: refresh.Claims.ExpiresAtTime(),
		SessionID:        refresh.Claims.SessionID,
		FamilyID:         refresh.Claims.FamilyID,
	}
}
