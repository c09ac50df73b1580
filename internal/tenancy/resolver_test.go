// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tenancy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/cache"
)

func newResolverFixture(t *testing.T, cfg ResolverConfig) (*TenantResolver, TenantRepository) {
	t.Helper()
	repo := NewMemoryTenantRepository()
	require.NoError(t, repo.Create(context.Background(), &Tenant{ID: "t1", Slug: "acme", Plan: PlanPro}))
	r := NewTenantResolver(cfg, repo, cache.NewMemoryCache(0))
	return r, repo
}

func TestTenantResolver_HeaderStrategy(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategyHeader},
		HeaderName: "X-Tenant-ID",
		CacheTTL:   time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/connect", nil)
	req.Header.Set("X-Tenant-ID", "acme")

	tenant, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "t1", tenant.ID)
}

func TestTenantResolver_SubdomainStrategy(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategySubdomain},
		BaseDomain: "example.com",
		CacheTTL:   time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/connect", nil)
	req.Host = "acme.example.com"

	tenant, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "t1", tenant.ID)
}

func TestTenantResolver_PathStrategy(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies:  []string{StrategyPath},
		PathPattern: "/t/{tenant}",
		CacheTTL:    time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/t/acme/connect", nil)

	tenant, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "t1", tenant.ID)
}

func TestTenantResolver_QueryStrategy(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategyQuery},
		QueryParam: "tenant",
		CacheTTL:   time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/connect?tenant=acme", nil)

	tenant, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "t1", tenant.ID)
}

func TestTenantResolver_JWTStrategy(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategyJWT},
		JWTClaim:   "tenant_id",
		CacheTTL:   time.Minute,
	})

	payload, err := json.Marshal(map[string]any{"tenant_id": "acme"})
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.RawURLEncoding.EncodeToString(payload)
	token := header + "." + body + ".sig"

	req := httptest.NewRequest(http.MethodGet, "/v1/connect", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	tenant, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "t1", tenant.ID)
}

func TestTenantResolver_CustomStrategy(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategyCustom},
		CacheTTL:   time.Minute,
	})
	r.WithCustomExtractor(func(req *http.Request) (string, bool) {
		return "acme", true
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/connect", nil)
	tenant, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "t1", tenant.ID)
}

func TestTenantResolver_FirstMatchWins(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategyHeader, StrategyQuery},
		HeaderName: "X-Tenant-ID",
		QueryParam: "tenant",
		CacheTTL:   time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/connect?tenant=should-not-be-used", nil)
	req.Header.Set("X-Tenant-ID", "acme")

	tenant, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "t1", tenant.ID)
}

func TestTenantResolver_NoStrategyMatchesReturnsNotFound(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategyHeader},
		HeaderName: "X-Tenant-ID",
		CacheTTL:   time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/connect", nil)
	_, err := r.Resolve(context.Background(), req)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeTenantNotFound))
}

func TestTenantResolver_SuspendedTenantDenied(t *testing.T) {
	r, repo := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategyHeader},
		HeaderName: "X-Tenant-ID",
		CacheTTL:   time.Minute,
	})
	require.NoError(t, repo.Suspend(context.Background(), "t1"))
	r.InvalidateCache("acme")

	req := httptest.NewRequest(http.MethodGet, "/v1/connect", nil)
	req.Header.Set("X-Tenant-ID", "acme")

	_, err := r.Resolve(context.Background(), req)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeTenantSuspended))
}

func TestTenantResolver_UnknownSlugReturnsNotFound(t *testing.T) {
	r, _ := newResolverFixture(t, ResolverConfig{
		Strategies: []string{StrategyHeader},
		HeaderName: "X-Tenant-ID",
		CacheTTL:   time.Minute,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/connect", nil)
	req.Header.Set("X-Tenant-ID", "ghost")

	_, err := r.Resolve(context.Background(), req)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeTenantNotFound))
}

func TestTenantResolver_CacheServesSecondLookupWithoutRepositoryHit(t *testing.T) {
	repo := NewMemoryTenantRepository()
	require.NoError(t, repo.Create(context.Background(), &Tenant{ID: "t1", Slug: "acme"}))
	c := cache.NewMemoryCache(0)
	r := NewTenantResolver(ResolverConfig{
		Strategies: []string{StrategyHeader},
		HeaderName: "X-Tenant-ID",
		CacheTTL:   time.Minute,
	}, repo, c)

	req := httptest.NewRequest(http.MethodGet, "/v1/connect", nil)
	req.Header.Set("X-Tenant-ID", "acme")

	_, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(context.Background(), "t1"))

	tenant, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "t1", tenant.ID)
}
