package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Account is the identity provider's view of a user.
type Account struct {
	ID    string
	Email string
}

// ProfileRef maps an account to its app profile.
type ProfileRef struct {
	ProfileID string
	Username  *string
}

// IdentityProvider is the external identity collaborator.
type IdentityProvider interface {
	// VerifyPassword returns ErrUnknownAccount or ErrWrongPassword on a
	// credential mismatch.
	VerifyPassword(ctx context.Context, email, password string) (*Account, error)
	VerifyFederatedBearer(ctx context.Context, token string) (*Account, error)
	// VerifySessionCookie returns nil, nil when the cookie matches nothing.
	VerifySessionCookie(ctx context.Context, cookie string) (*Account, error)
	// LookupProfile returns ErrProfileNotFound when the account has none.
	LookupProfile(ctx context.Context, accountID string) (*ProfileRef, error)
}

// dummyHash keeps VerifyPassword timing similar for unknown emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("powder-dummy-password"), bcrypt.DefaultCost)

// LocalIdentityProvider keeps accounts, profiles and browser sessions in
// Postgres.
type LocalIdentityProvider struct {
	db        *gorm.DB
	federated FederatedVerifier
	clock     clock.Clock
	cookieTTL time.Duration

	mu      sync.RWMutex
	onProfs []func(accountID string)
}

func NewLocalIdentityProvider(db *gorm.DB, federated FederatedVerifier, cookieTTL time.Duration, clk clock.Clock) *LocalIdentityProvider {
	return &LocalIdentityProvider{
		db:        db,
		federated: federated,
		clock:     clk,
		cookieTTL: cookieTTL,
	}
}

// OnProfileChange registers fn to run after any profile mutation.
func (p *LocalIdentityProvider) OnProfileChange(fn func(accountID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onProfs = append(p.onProfs, fn)
}

func (p *LocalIdentityProvider) profileChanged(accountID string) {
	p.mu.RLock()
	hooks := p.onProfs
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(accountID)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount registers an email/password account with an empty profile.
func (p *LocalIdentityProvider) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") || len(password) < 8 {
		return nil, fmt.Errorf("%w: email required and password must be at least 8 characters", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:           uuid.New(),
		Email:        email,
		Password:     string(hash),
		AuthProvider: "email",
	}
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&models.Profile{ID: uuid.New(), UserID: user.ID}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, upstream("create account", err)
	}
	return &Account{ID: user.ID.String(), Email: user.Email}, nil
}

func (p *LocalIdentityProvider) VerifyPassword(ctx context.Context, email, password string) (*Account, error) {
	var user models.User
	err := p.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrUnknownAccount
		}
		return nil, upstream("verify password", err)
	}

	// Apple-only accounts have no password.
	if user.Password == "" {
		return nil, ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}
	return &Account{ID: user.ID.String(), Email: user.Email}, nil
}

// VerifyFederatedBearer accepts an identity token for an already linked
// account. Unlinked identities are ErrUnknownAccount.
func (p *LocalIdentityProvider) VerifyFederatedBearer(ctx context.Context, token string) (*Account, error) {
	if p.federated == nil {
		return nil, errNoVerifier
	}
	ident, err := p.federated.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = p.db.WithContext(ctx).Where("apple_user_id = ?", ident.Subject).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, upstream("verify federated bearer", err)
	}
	return &Account{ID: user.ID.String(), Email: user.Email}, nil
}

// LinkFederated verifies an identity token and returns the account linked
// to its subject. An unlinked subject is attached to an existing account
// only through an email the identity token itself marks verified; otherwise
// a new account is created. fallbackEmail only names new accounts.
func (p *LocalIdentityProvider) LinkFederated(ctx context.Context, identityToken, fallbackEmail string) (*Account, error) {
	if p.federated == nil {
		return nil, errNoVerifier
	}
	ident, err := p.federated.Verify(ctx, identityToken)
	if err != nil {
		return nil, err
	}
	appleUserID := ident.Subject
	db := p.db.WithContext(ctx)

	var user models.User
	err = db.Where("apple_user_id = ?", appleUserID).Take(&user).Error
	if err == nil {
		return &Account{ID: user.ID.String(), Email: user.Email}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, upstream("link federated account", err)
	}

	if ident.EmailVerified {
		err = db.Where("email = ?", normalizeEmail(ident.Email)).Take(&user).Error
		if err == nil {
			return p.attachFederated(ctx, &user, appleUserID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, upstream("link federated account", err)
		}
	}

	email := normalizeEmail(ident.Email)
	if email == "" {
		email = normalizeEmail(fallbackEmail)
	}
	if email == "" {
		email = appleUserID + "@privaterelay.appleid.com"
	}
	return p.createFederatedAccount(ctx, email, appleUserID)
}

// attachFederated links appleUserID to an account that has no federated
// identity yet. An account already linked elsewhere is ErrEmailTaken.
func (p *LocalIdentityProvider) attachFederated(ctx context.Context, user *models.User, appleUserID string) (*Account, error) {
	res := p.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND apple_user_id IS NULL", user.ID).
		Update("apple_user_id", appleUserID)
	if res.Error != nil {
		return nil, upstream("link federated account", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrEmailTaken
	}
	slog.Info("federated identity linked", "user_id", user.ID.String())
	return &Account{ID: user.ID.String(), Email: user.Email}, nil
}

func (p *LocalIdentityProvider) createFederatedAccount(ctx context.Context, email, appleUserID string) (*Account, error) {
	user := models.User{
		ID:           uuid.New(),
		Email:        email,
		AppleUserID:  &appleUserID,
		AuthProvider: "apple",
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&models.Profile{ID: uuid.New(), UserID: user.ID}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, upstream("create federated account", err)
	}
	return &Account{ID: user.ID.String(), Email: user.Email}, nil
}

func (p *LocalIdentityProvider) VerifySessionCookie(ctx context.Context, cookie string) (*Account, error) {
	if cookie == "" {
		return nil, nil
	}

	var user models.User
	err := p.db.WithContext(ctx).
		Joins("JOIN browser_sessions ON browser_sessions.user_id = users.id").
		Where("browser_sessions.token_hash = ? AND browser_sessions.expires_at > ?", hashToken(cookie), p.clock.Now()).
		Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, upstream("verify session cookie", err)
	}
	return &Account{ID: user.ID.String(), Email: user.Email}, nil
}

func (p *LocalIdentityProvider) LookupProfile(ctx context.Context, accountID string) (*ProfileRef, error) {
	var profile models.Profile
	err := p.db.WithContext(ctx).Where("user_id = ?", accountID).Take(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, upstream("lookup profile", err)
	}
	return &ProfileRef{ProfileID: profile.ID.String(), Username: profile.Username}, nil
}

// UpdateUsername sets or clears the profile username.
func (p *LocalIdentityProvider) UpdateUsername(ctx context.Context, accountID string, username *string) (*ProfileRef, error) {
	if username != nil {
		trimmed := strings.TrimSpace(*username)
		if len(trimmed) < 3 || len(trimmed) > 50 {
			return nil, fmt.Errorf("%w: username must be between 3 and 50 characters", ErrInvalidInput)
		}
		username = &trimmed
	}

	var profile models.Profile
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", accountID).Take(&profile).Error; err != nil {
			return err
		}
		profile.Username = username
		return tx.Model(&profile).Update("username", username).Error
	})
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, ErrProfileNotFound
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return nil, ErrUsernameTaken
		}
		return nil, upstream("update username", err)
	}

	p.profileChanged(accountID)
	return &ProfileRef{ProfileID: profile.ID.String(), Username: profile.Username}, nil
}

// StartBrowserSession issues an opaque cookie value. Only its hash is stored.
func (p *LocalIdentityProvider) StartBrowserSession(ctx context.Context, accountID string) (string, time.Time, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: account id: %v", ErrInvalidInput, err)
	}

	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(rawBytes)

	expiresAt := p.clock.Now().Add(p.cookieTTL)
	record := models.BrowserSession{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hashToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: p.clock.Now(),
	}
	if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", time.Time{}, upstream("start browser session", err)
	}
	return raw, expiresAt, nil
}

func (p *LocalIdentityProvider) EndBrowserSession(ctx context.Context, cookie string) error {
	if cookie == "" {
		return nil
	}
	err := p.db.WithContext(ctx).
		Where("token_hash = ?", hashToken(cookie)).
		Delete(&models.BrowserSession{}).Error
	if err != nil {
		return upstream("end browser session", err)
	}
	return nil
}

// EndBrowserSessionsForAccount drops every cookie session of the account.
func (p *LocalIdentityProvider) EndBrowserSessionsForAccount(ctx context.Context, accountID string) (int64, error) {
	res := p.db.WithContext(ctx).
		Where("user_id = ?", accountID).
		Delete(&models.BrowserSession{})
	if res.Error != nil {
		return 0, upstream("end browser sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func (p *LocalIdentityProvider) PruneBrowserSessions(ctx context.Context) (int64, error) {
	res := p.db.WithContext(ctx).
		Where("expires_at <= ?", p.clock.Now()).
		Delete(&models.BrowserSession{})
	if res.Error != nil {
		return 0, upstream("prune browser sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}
