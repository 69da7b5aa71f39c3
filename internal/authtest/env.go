package authtest

import (
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
)

const (
	Secret     = "test-secret-with-enough-length!!"
	Issuer     = "powder-test"
	AccessTTL  = 15 * time.Minute
	RefreshTTL = 30 * 24 * time.Hour
	CacheTTL   = 5 * time.Minute
)

// Env wires the lifecycle service and resolver over in-memory fakes and a
// fake clock.
type Env struct {
	Clock    *clock.Fake
	Memory   *Memory
	Identity *Identity
	Codec    *services.TokenCodec
	Cache    *services.ProfileCache
	Auth     *services.AuthService
	Resolver *services.DualAuthResolver
}

func NewEnv(t testing.TB) *Env {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	mem := NewMemory(clk)
	ident := NewIdentity()
	codec := services.NewTokenCodec(Secret, Issuer, AccessTTL, RefreshTTL, clk)

	cache, err := services.NewProfileCache(1000, CacheTTL, clk)
	if err != nil {
		t.Fatalf("profile cache: %v", err)
	}
	t.Cleanup(cache.Close)
	ident.OnProfileChange(cache.Invalidate)

	resolver := services.NewIdentityResolver(ident)
	stores := mem.Stores()

	return &Env{
		Clock:    clk,
		Memory:   mem,
		Identity: ident,
		Codec:    codec,
		Cache:    cache,
		Auth:     services.NewAuthService(codec, resolver, ident, stores, mem.Tx(), clk),
		Resolver: services.NewDualAuthResolver(codec, stores.Revocations, stores.Sessions, resolver, cache),
	}
}
