package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/authtest"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var client = services.ClientInfo{UserAgent: "PowderApp/3.2 iOS", IP: "10.0.0.7", Device: map[string]string{"model": "iPhone15,2"}}

func bearer(tok string) services.Credentials {
	return services.Credentials{Authorization: "Bearer " + tok}
}

func login(t *testing.T, env *authtest.Env, email, password string) *services.LoginResult {
	t.Helper()
	res, err := env.Auth.Login(context.Background(), email, password, client)
	require.NoError(t, err)
	return res
}

func TestLogin_StartsFamilyWithRootToken(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")

	res := login(t, env, "rider@powder.app", "correct-horse")
	assert.Equal(t, acct.ID, res.Account.ID)

	refresh, err := env.Codec.Verify(res.RefreshToken, services.TokenKindRefresh)
	require.NoError(t, err)
	assert.Empty(t, refresh.ParentID)
	assert.Equal(t, res.FamilyID, refresh.FamilyID)
	assert.Equal(t, acct.ID, refresh.Subject)

	access, err := env.Codec.Verify(res.AccessToken, services.TokenKindAccess)
	require.NoError(t, err)
	assert.Empty(t, access.FamilyID)
	assert.Equal(t, res.SessionID, access.SessionID)
	assert.WithinDuration(t, env.Clock.Now().Add(authtest.AccessTTL), res.AccessExpiresAt, time.Second)
	assert.WithinDuration(t, env.Clock.Now().Add(authtest.RefreshTTL), res.RefreshExpiresAt, time.Second)

	rec, ok := env.Memory.Record(refresh.ID)
	require.True(t, ok)
	assert.Nil(t, rec.ParentID)
	assert.Nil(t, rec.ChildID)
	assert.Equal(t, res.FamilyID, rec.FamilyID)

	sess, ok := env.Memory.Session(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, refresh.ID, sess.CurrentTokenID)
	assert.Equal(t, "PowderApp/3.2 iOS", sess.UserAgent)
	assert.JSONEq(t, `{"model":"iPhone15,2"}`, string(sess.DeviceInfo))
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	ctx := context.Background()

	_, unknownErr := env.Auth.Login(ctx, "nobody@powder.app", "correct-horse", client)
	_, wrongErr := env.Auth.Login(ctx, "rider@powder.app", "battery-staple", client)

	require.ErrorIs(t, unknownErr, services.ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, services.ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLogin_ProviderOutageIsNotCredentialFailure(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	env.Identity.Fail(errors.New("connection refused"))

	_, err := env.Auth.Login(context.Background(), "rider@powder.app", "correct-horse", client)
	assert.ErrorIs(t, err, services.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, services.ErrInvalidCredentials)
}

func TestLogin_StoreOutageFailsClosed(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	env.Memory.Fail(errors.New("connection reset"))

	_, err := env.Auth.Login(context.Background(), "rider@powder.app", "correct-horse", client)
	assert.ErrorIs(t, err, services.ErrUpstreamUnavailable)
}

type countingLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return true, l.err
	}
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}

func (l *countingLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
	return nil
}

func TestLogin_RateLimited(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	limiter := &countingLimiter{limit: 2, counts: map[string]int{}}
	env.Auth.SetLimiter(limiter)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.Auth.Login(ctx, "rider@powder.app", "wrong", client)
		require.ErrorIs(t, err, services.ErrInvalidCredentials)
	}
	_, err := env.Auth.Login(ctx, "Rider@Powder.app", "correct-horse", client)
	assert.ErrorIs(t, err, services.ErrRateLimited)
}

func TestLogin_SuccessResetsLimiter(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	limiter := &countingLimiter{limit: 2, counts: map[string]int{}}
	env.Auth.SetLimiter(limiter)
	ctx := context.Background()

	_, err := env.Auth.Login(ctx, "rider@powder.app", "wrong", client)
	require.ErrorIs(t, err, services.ErrInvalidCredentials)
	login(t, env, "rider@powder.app", "correct-horse")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Empty(t, limiter.counts)
}

func TestLogin_LimiterOutageFailsOpen(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	env.Auth.SetLimiter(&countingLimiter{err: errors.New("redis down")})

	login(t, env, "rider@powder.app", "correct-horse")
}

func TestRefresh_RotatesWithinFamily(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")
	r0, err := env.Codec.Verify(res.RefreshToken, services.TokenKindRefresh)
	require.NoError(t, err)

	env.Clock.Advance(10 * time.Minute)
	pair, err := env.Auth.Refresh(context.Background(), res.RefreshToken)
	require.NoError(t, err)

	r1, err := env.Codec.Verify(pair.RefreshToken, services.TokenKindRefresh)
	require.NoError(t, err)
	assert.NotEqual(t, r0.ID, r1.ID)
	assert.Equal(t, r0.FamilyID, r1.FamilyID)
	assert.Equal(t, r0.ID, r1.ParentID)
	assert.Equal(t, res.SessionID, r1.SessionID)
	assert.Equal(t, res.FamilyID, pair.FamilyID)

	parent, ok := env.Memory.Record(r0.ID)
	require.True(t, ok)
	require.NotNil(t, parent.ChildID)
	assert.Equal(t, r1.ID, *parent.ChildID)

	entry, ok := env.Memory.RevokedEntry(r0.ID)
	require.True(t, ok)
	assert.Equal(t, services.ReasonRotated, entry.Reason)

	sess, ok := env.Memory.Session(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, r1.ID, sess.CurrentTokenID)

	user, err := env.Resolver.Require(context.Background(), bearer(pair.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, services.AuthMethodNativeToken, user.Method)
}

func TestRefresh_ReuseRevokesEverything(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	ctx := context.Background()

	res := login(t, env, "rider@powder.app", "correct-horse")
	other := login(t, env, "rider@powder.app", "correct-horse")

	pair, err := env.Auth.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)

	_, err = env.Auth.Refresh(ctx, res.RefreshToken)
	require.ErrorIs(t, err, services.ErrReuseDetected)

	_, err = env.Auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, services.ErrRevoked)

	_, err = env.Resolver.Require(ctx, bearer(pair.AccessToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)

	// Other device sessions of the subject go too.
	_, err = env.Auth.Refresh(ctx, other.RefreshToken)
	assert.ErrorIs(t, err, services.ErrRevoked)
	_, err = env.Resolver.Require(ctx, bearer(other.AccessToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)

	sessions, err := env.Auth.ListSessions(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// A fresh login after the incident works.
	again := login(t, env, "rider@powder.app", "correct-horse")
	_, err = env.Resolver.Require(ctx, bearer(again.AccessToken))
	assert.NoError(t, err)
	_, err = env.Auth.Refresh(ctx, again.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_ConcurrentRedemptionOneWins(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Auth.Refresh(context.Background(), res.RefreshToken)
		}(i)
	}
	wg.Wait()

	var ok, reused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, services.ErrReuseDetected):
			reused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, reused)
}

func TestRefresh_Rejections(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")
	ctx := context.Background()

	t.Run("access token", func(t *testing.T) {
		_, err := env.Auth.Refresh(ctx, res.AccessToken)
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := env.Auth.Refresh(ctx, "eyJ.not.valid")
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})

	t.Run("unknown to ledger", func(t *testing.T) {
		stray, err := env.Codec.Mint(services.TokenKindRefresh, res.Account.ID, services.Lineage{FamilyID: "made-up"})
		require.NoError(t, err)
		_, err = env.Auth.Refresh(ctx, stray.Raw)
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		env.Clock.Advance(authtest.RefreshTTL + time.Second)
		_, err := env.Auth.Refresh(ctx, res.RefreshToken)
		assert.ErrorIs(t, err, services.ErrExpired)
	})
}

func TestRefresh_StoreOutageFailsClosed(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	env.Memory.Fail(errors.New("timeout"))
	_, err := env.Auth.Refresh(context.Background(), res.RefreshToken)
	assert.ErrorIs(t, err, services.ErrUpstreamUnavailable)

	env.Memory.Fail(nil)
	_, err = env.Auth.Refresh(context.Background(), res.RefreshToken)
	assert.NoError(t, err)
}

func TestLogout_WithoutTokenIsNoop(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	env.Auth.Logout(context.Background(), "")
	env.Auth.Logout(context.Background(), "not-a-jwt")

	_, ok := env.Memory.Session(res.SessionID)
	assert.True(t, ok)
}

func TestLogout_RevokesTokenAndSession(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")
	ctx := context.Background()

	env.Auth.Logout(ctx, res.AccessToken)

	access := env.Codec.Decode(res.AccessToken)
	entry, ok := env.Memory.RevokedEntry(access.ID)
	require.True(t, ok)
	assert.Equal(t, services.ReasonLogout, entry.Reason)

	_, ok = env.Memory.Session(res.SessionID)
	assert.False(t, ok)

	_, err := env.Resolver.Require(ctx, bearer(res.AccessToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)

	_, err = env.Auth.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, services.ErrRevoked)
}

func TestLogout_ExpiredTokenStillEndsSession(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	env.Clock.Advance(authtest.AccessTTL + time.Minute)
	env.Auth.Logout(context.Background(), res.AccessToken)

	_, ok := env.Memory.Session(res.SessionID)
	assert.False(t, ok)
}

func TestLogout_StoreOutageIsSwallowed(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	env.Memory.Fail(errors.New("down"))
	assert.NotPanics(t, func() {
		env.Auth.Logout(context.Background(), res.AccessToken)
	})
}

func TestEndSession_OnlyOwnSessions(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	stranger := env.Identity.AddAccount("other@powder.app", "other-pass")
	res := login(t, env, "rider@powder.app", "correct-horse")
	ctx := context.Background()

	err := env.Auth.EndSession(ctx, stranger.ID, res.SessionID)
	assert.ErrorIs(t, err, services.ErrSessionNotFound)
	_, ok := env.Memory.Session(res.SessionID)
	require.True(t, ok)

	require.NoError(t, env.Auth.EndSession(ctx, res.Account.ID, res.SessionID))
	_, ok = env.Memory.Session(res.SessionID)
	assert.False(t, ok)

	_, err = env.Auth.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, services.ErrRevoked)

	err = env.Auth.EndSession(ctx, res.Account.ID, res.SessionID)
	assert.ErrorIs(t, err, services.ErrSessionNotFound)
}

func TestRevokeAllSessions(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	a := login(t, env, "rider@powder.app", "correct-horse")
	b := login(t, env, "rider@powder.app", "correct-horse")
	env.Identity.AddCookie("browser-cookie", acct.ID)
	ctx := context.Background()

	ended, err := env.Auth.RevokeAllSessions(ctx, acct.ID, services.ReasonRevokeAll)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ended)

	for _, res := range []*services.LoginResult{a, b} {
		_, err := env.Auth.Refresh(ctx, res.RefreshToken)
		assert.ErrorIs(t, err, services.ErrRevoked)
		_, err = env.Resolver.Require(ctx, bearer(res.AccessToken))
		assert.ErrorIs(t, err, services.ErrNotAuthenticated)
	}

	_, err = env.Resolver.Require(ctx, services.Credentials{SessionCookie: "browser-cookie"})
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)
}

func TestListSessions_MostRecentFirst(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	first := login(t, env, "rider@powder.app", "correct-horse")
	env.Clock.Advance(time.Minute)
	second := login(t, env, "rider@powder.app", "correct-horse")

	sessions, err := env.Auth.ListSessions(context.Background(), first.Account.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.SessionID, sessions[0].ID)
	assert.Equal(t, first.SessionID, sessions[1].ID)
}

func TestRegisterAndLogin(t *testing.T) {
	env := authtest.NewEnv(t)
	ctx := context.Background()

	res, err := env.Auth.RegisterAndLogin(ctx, "new@powder.app", "long-enough", client)
	require.NoError(t, err)
	_, err = env.Resolver.Require(ctx, bearer(res.AccessToken))
	assert.NoError(t, err)

	_, err = env.Auth.RegisterAndLogin(ctx, "new@powder.app", "long-enough", client)
	assert.ErrorIs(t, err, services.ErrEmailTaken)

	_, err = env.Auth.RegisterAndLogin(ctx, "short@powder.app", "short", client)
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestLoginFederated(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	env.Identity.AcceptFederated("apple-id-token", acct.ID)
	ctx := context.Background()

	res, err := env.Auth.LoginFederated(ctx, "apple-id-token", "", client)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, res.Account.ID)

	_, err = env.Auth.LoginFederated(ctx, "forged", "", client)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}
