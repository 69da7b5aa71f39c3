package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/authtest"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_NativeTokenWins(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")
	// The same string would also pass as a federated bearer.
	env.Identity.AcceptFederated(res.AccessToken, acct.ID)

	user, err := env.Resolver.Require(context.Background(), services.Credentials{
		Authorization: "Bearer " + res.AccessToken,
		SessionCookie: "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, services.AuthMethodNativeToken, user.Method)
	assert.Equal(t, acct.ID, user.AccountID)
	assert.Equal(t, "rider@powder.app", user.Email)
	assert.Equal(t, res.SessionID, user.SessionID)
	assert.Zero(t, env.Identity.FederatedCalls.Load())
	assert.Zero(t, env.Identity.CookieCalls.Load())

	profile, _ := env.Identity.Profile(acct.ID)
	require.NotNil(t, user.ProfileID)
	assert.Equal(t, profile.ProfileID, *user.ProfileID)
}

func TestResolver_TouchesSession(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	_, err := env.Resolver.Require(context.Background(), bearer(res.AccessToken))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return env.Memory.Touches() == 1 }, time.Second, 5*time.Millisecond)
}

func TestResolver_FederatedBearerFallback(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	env.Identity.AcceptFederated("apple-identity-token", acct.ID)

	user, err := env.Resolver.Require(context.Background(), bearer("apple-identity-token"))
	require.NoError(t, err)
	assert.Equal(t, services.AuthMethodFederatedBearer, user.Method)
	assert.Equal(t, acct.ID, user.AccountID)
	assert.Empty(t, user.SessionID)
	assert.Equal(t, int64(1), env.Identity.FederatedCalls.Load())
}

func TestResolver_SessionCookieFallback(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	env.Identity.AddCookie("cookie-value", acct.ID)

	user, err := env.Resolver.Require(context.Background(), services.Credentials{
		Authorization: "Bearer junk",
		SessionCookie: "cookie-value",
	})
	require.NoError(t, err)
	assert.Equal(t, services.AuthMethodSessionCookie, user.Method)
	assert.Equal(t, acct.ID, user.AccountID)
}

func TestResolver_NoCredentials(t *testing.T) {
	env := authtest.NewEnv(t)

	tests := []struct {
		name  string
		creds services.Credentials
	}{
		{"empty", services.Credentials{}},
		{"basic scheme", services.Credentials{Authorization: "Basic cmlkZXI6cHc="}},
		{"unknown bearer", bearer("nope")},
		{"unknown cookie", services.Credentials{SessionCookie: "stale"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, env.Resolver.Resolve(context.Background(), tt.creds))
			_, err := env.Resolver.Require(context.Background(), tt.creds)
			assert.ErrorIs(t, err, services.ErrNotAuthenticated)
		})
	}
}

func TestResolver_ExpiredAccessToken(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	env.Clock.Advance(authtest.AccessTTL + time.Second)

	_, err := env.Resolver.Require(context.Background(), bearer(res.AccessToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)
}

func TestResolver_RefreshTokenIsNotAccess(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	_, err := env.Resolver.Require(context.Background(), bearer(res.RefreshToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)
}

func TestResolver_ProfileCache(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.Resolver.Require(ctx, bearer(res.AccessToken))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), env.Identity.LookupCalls.Load())

	env.Clock.Advance(authtest.CacheTTL - time.Second)
	_, err := env.Resolver.Require(ctx, bearer(res.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.Identity.LookupCalls.Load())

	env.Clock.Advance(time.Second)
	_, err = env.Resolver.Require(ctx, bearer(res.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, int64(2), env.Identity.LookupCalls.Load())

	env.Cache.Invalidate(acct.ID)
	_, err = env.Resolver.Require(ctx, bearer(res.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, int64(3), env.Identity.LookupCalls.Load())
}

func TestResolver_MissingProfileIsSoft(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	env.Identity.RemoveProfile(acct.ID)
	res := login(t, env, "rider@powder.app", "correct-horse")

	user, err := env.Resolver.Require(context.Background(), bearer(res.AccessToken))
	require.NoError(t, err)
	assert.Nil(t, user.ProfileID)
	assert.Nil(t, user.Username)
}

func TestResolver_ProviderOutageFailsClosed(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	env.Identity.AddCookie("cookie-value", acct.ID)
	res := login(t, env, "rider@powder.app", "correct-horse")

	env.Identity.Fail(errors.New("provider timeout"))

	_, err := env.Resolver.Require(context.Background(), bearer(res.AccessToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)
	_, err = env.Resolver.Require(context.Background(), services.Credentials{SessionCookie: "cookie-value"})
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)
}

func TestResolver_RevocationStoreOutageFailsClosed(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")

	env.Memory.Fail(errors.New("db down"))

	_, err := env.Resolver.Require(context.Background(), bearer(res.AccessToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)
}

func TestResolver_EndedSessionRejectsAccessToken(t *testing.T) {
	env := authtest.NewEnv(t)
	acct := env.Identity.AddAccount("rider@powder.app", "correct-horse")
	phone := login(t, env, "rider@powder.app", "correct-horse")
	laptop := login(t, env, "rider@powder.app", "correct-horse")
	ctx := context.Background()

	require.NoError(t, env.Auth.EndSession(ctx, acct.ID, laptop.SessionID))

	_, err := env.Resolver.Require(ctx, bearer(laptop.AccessToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)
	_, err = env.Resolver.Require(ctx, bearer(phone.AccessToken))
	assert.NoError(t, err)
}

func TestResolver_OwnTokenSkipsFederatedCheck(t *testing.T) {
	env := authtest.NewEnv(t)
	env.Identity.AddAccount("rider@powder.app", "correct-horse")
	res := login(t, env, "rider@powder.app", "correct-horse")
	env.Clock.Advance(authtest.AccessTTL + time.Second)

	_, err := env.Resolver.Require(context.Background(), bearer(res.AccessToken))
	assert.ErrorIs(t, err, services.ErrNotAuthenticated)
	assert.Zero(t, env.Identity.FederatedCalls.Load())
}
