package authtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/google/uuid"
)

type account struct {
	services.Account
	password string
}

// Identity is an in-memory identity provider with call counters.
type Identity struct {
	mu        sync.Mutex
	byEmail   map[string]*account
	federated map[string]string
	cookies   map[string]string
	profiles  map[string]services.ProfileRef
	failure   error
	hooks     []func(accountID string)

	LookupCalls    atomic.Int64
	FederatedCalls atomic.Int64
	CookieCalls    atomic.Int64
}

func NewIdentity() *Identity {
	return &Identity{
		byEmail:   make(map[string]*account),
		federated: make(map[string]string),
		cookies:   make(map[string]string),
		profiles:  make(map[string]services.ProfileRef),
	}
}

// AddAccount registers an account with a profile and returns it.
func (f *Identity) AddAccount(email, password string) services.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct := &account{
		Account:  services.Account{ID: uuid.NewString(), Email: strings.ToLower(email)},
		password: password,
	}
	f.byEmail[acct.Email] = acct
	f.profiles[acct.ID] = services.ProfileRef{ProfileID: uuid.NewString()}
	return acct.Account
}

// OnProfileChange registers fn to run after UpdateUsername.
func (f *Identity) OnProfileChange(fn func(accountID string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, fn)
}

func (f *Identity) UpdateUsername(_ context.Context, accountID string, username *string) (*services.ProfileRef, error) {
	f.mu.Lock()
	if err := f.check(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	p, ok := f.profiles[accountID]
	if !ok {
		f.mu.Unlock()
		return nil, services.ErrProfileNotFound
	}
	if username != nil && len(*username) < 3 {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: username too short", services.ErrInvalidInput)
	}
	p.Username = username
	f.profiles[accountID] = p
	hooks := f.hooks
	f.mu.Unlock()

	for _, fn := range hooks {
		fn(accountID)
	}
	return &p, nil
}

func (f *Identity) RemoveProfile(accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, accountID)
}

func (f *Identity) Profile(accountID string) (services.ProfileRef, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[accountID]
	return p, ok
}

// AcceptFederated makes token verify as a federated bearer for accountID.
func (f *Identity) AcceptFederated(token, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.federated[token] = accountID
}

func (f *Identity) AddCookie(cookie, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies[cookie] = accountID
}

// Fail makes every call fail as an upstream outage. Fail(nil) heals.
func (f *Identity) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = err
}

func (f *Identity) check() error {
	if f.failure != nil {
		return fmt.Errorf("identity: %w: %v", services.ErrUpstreamUnavailable, f.failure)
	}
	return nil
}

func (f *Identity) byID(id string) *account {
	for _, a := range f.byEmail {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (f *Identity) VerifyPassword(_ context.Context, email, password string) (*services.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	acct, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, services.ErrUnknownAccount
	}
	if acct.password != password {
		return nil, services.ErrWrongPassword
	}
	out := acct.Account
	return &out, nil
}

func (f *Identity) VerifyFederatedBearer(_ context.Context, token string) (*services.Account, error) {
	f.FederatedCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	id, ok := f.federated[token]
	if !ok {
		return nil, services.ErrInvalidToken
	}
	acct := f.byID(id)
	if acct == nil {
		return nil, services.ErrUnknownAccount
	}
	out := acct.Account
	return &out, nil
}

func (f *Identity) VerifySessionCookie(_ context.Context, cookie string) (*services.Account, error) {
	f.CookieCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	id, ok := f.cookies[cookie]
	if !ok {
		return nil, nil
	}
	acct := f.byID(id)
	if acct == nil {
		return nil, nil
	}
	out := acct.Account
	return &out, nil
}

func (f *Identity) LookupProfile(_ context.Context, accountID string) (*services.ProfileRef, error) {
	f.LookupCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	p, ok := f.profiles[accountID]
	if !ok {
		return nil, services.ErrProfileNotFound
	}
	return &p, nil
}

func (f *Identity) CreateAccount(_ context.Context, email, password string) (*services.Account, error) {
	f.mu.Lock()
	exists := f.byEmail[strings.ToLower(email)] != nil
	f.mu.Unlock()
	if exists {
		return nil, services.ErrEmailTaken
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password too short", services.ErrInvalidInput)
	}
	acct := f.AddAccount(email, password)
	return &acct, nil
}

func (f *Identity) LinkFederated(ctx context.Context, identityToken, _ string) (*services.Account, error) {
	return f.VerifyFederatedBearer(ctx, identityToken)
}

func (f *Identity) EndBrowserSessionsForAccount(_ context.Context, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for c, id := range f.cookies {
		if id == accountID {
			delete(f.cookies, c)
			n++
		}
	}
	return n, nil
}

func (f *Identity) StartBrowserSession(_ context.Context, accountID string) (string, time.Time, error) {
	cookie := uuid.NewString()
	f.AddCookie(cookie, accountID)
	return cookie, time.Now().Add(time.Hour), nil
}

func (f *Identity) EndBrowserSession(_ context.Context, cookie string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cookies, cookie)
	return nil
}
