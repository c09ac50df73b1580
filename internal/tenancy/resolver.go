// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tenancy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ManuGH/xg2g/internal/cache"
)

// Strategy names understood by TenantResolver, in the order
// config.TenancyConfig.Strategies lists them. The first strategy that
// extracts a non-empty identifier wins; later strategies never run.
const (
	StrategySubdomain = "subdomain"
	StrategyHeader    = "header"
	StrategyPath      = "path"
	StrategyQuery     = "query"
	StrategyJWT       = "jwt"
	StrategyCustom    = "custom"
)

// CustomExtractor lets callers register an out-of-band identification
// strategy (e.g. mTLS client cert CN) without a resolver code change.
type CustomExtractor func(r *http.Request) (slug string, ok bool)

// ResolverConfig mirrors config.TenancyConfig, kept separate so this
// package has no import-time dependency on internal/config.
type ResolverConfig struct {
	Strategies  []string
	HeaderName  string
	PathPattern string
	QueryParam  string
	JWTClaim    string
	BaseDomain  string
	CacheTTL    time.Duration
}

// TenantResolver extracts a tenant identifier from an inbound request using
// an ordered list of strategies, looks it up through TenantRepository
// (fronted by a TTL cache), and enforces that the tenant is admissible.
type TenantResolver struct {
	cfg        ResolverConfig
	repo       TenantRepository
	cache      cache.Cache
	pathRegexp *regexp.Regexp
	custom     CustomExtractor
}

// NewTenantResolver builds a resolver. c may be cache.NewNoOpCache() to
// disable caching entirely.
func NewTenantResolver(cfg ResolverConfig, repo TenantRepository, c cache.Cache) *TenantResolver {
	r := &TenantResolver{cfg: cfg, repo: repo, cache: c}
	if cfg.PathPattern != "" {
		r.pathRegexp = compilePathPattern(cfg.PathPattern)
	}
	return r
}

// WithCustomExtractor registers the "custom" strategy's implementation.
func (r *TenantResolver) WithCustomExtractor(fn CustomExtractor) *TenantResolver {
	r.custom = fn
	return r
}

// compilePathPattern turns a "/t/{tenant}/..." pattern into a regexp with a
// single capture group for the placeholder segment.
func compilePathPattern(pattern string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(pattern)
	placeholder := regexp.QuoteMeta("{tenant}")
	escaped = strings.Replace(escaped, placeholder, `([a-z0-9-]+)`, 1)
	return regexp.MustCompile("^" + escaped)
}

func (r *TenantResolver) extractSubdomain(req *http.Request) (string, bool) {
	host := req.Host
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}
	if r.cfg.BaseDomain == "" || !strings.HasSuffix(host, "."+r.cfg.BaseDomain) {
		return "", false
	}
	sub := strings.TrimSuffix(host, "."+r.cfg.BaseDomain)
	if sub == "" || strings.Contains(sub, ".") {
		return "", false
	}
	return sub, true
}

func (r *TenantResolver) extractHeader(req *http.Request) (string, bool) {
	name := r.cfg.HeaderName
	if name == "" {
		name = "X-Tenant-ID"
	}
	v := req.Header.Get(name)
	return v, v != ""
}

func (r *TenantResolver) extractPath(req *http.Request) (string, bool) {
	if r.pathRegexp == nil {
		return "", false
	}
	m := r.pathRegexp.FindStringSubmatch(req.URL.Path)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func (r *TenantResolver) extractQuery(req *http.Request) (string, bool) {
	name := r.cfg.QueryParam
	if name == "" {
		name = "tenant"
	}
	v := req.URL.Query().Get(name)
	return v, v != ""
}

// extractJWT pulls the bearer token from the Authorization header and
// returns the configured claim without verifying the signature: signature
// verification is the session-auth layer's job, not tenant resolution's.
// Malformed or missing tokens simply fail this strategy so the chain falls
// through to the next one.
func (r *TenantResolver) extractJWT(req *http.Request) (string, bool) {
	auth := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(auth, prefix)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}
	claims, err := decodeJWTPayload(parts[1])
	if err != nil {
		return "", false
	}
	claim := r.cfg.JWTClaim
	if claim == "" {
		claim = "tenant_id"
	}
	v, ok := claims[claim].(string)
	return v, ok && v != ""
}

func (r *TenantResolver) extractCustom(req *http.Request) (string, bool) {
	if r.custom == nil {
		return "", false
	}
	return r.custom(req)
}

func (r *TenantResolver) extract(strategy string, req *http.Request) (string, bool) {
	switch strategy {
	case StrategySubdomain:
		return r.extractSubdomain(req)
	case StrategyHeader:
		return r.extractHeader(req)
	case StrategyPath:
		return r.extractPath(req)
	case StrategyQuery:
		return r.extractQuery(req)
	case StrategyJWT:
		return r.extractJWT(req)
	case StrategyCustom:
		return r.extractCustom(req)
	default:
		return "", false
	}
}

// Resolve runs the configured strategies in order, looks up the winning
// slug through the cache-fronted repository, and enforces that the tenant
// is admissible (active, not suspended or deleted).
func (r *TenantResolver) Resolve(ctx context.Context, req *http.Request) (*Tenant, error) {
	var slug string
	var found bool
	for _, strategy := range r.cfg.Strategies {
		if slug, found = r.extract(strategy, req); found {
			break
		}
	}
	if !found {
		return nil, NewError(CodeTenantNotFound, "no tenant identifier present in request")
	}

	t, err := r.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case StatusActive:
		return t, nil
	case StatusSuspended:
		return nil, NewError(CodeTenantSuspended, "tenant is suspended")
	default:
		return nil, NewError(CodeTenantAccessDenied, "tenant is not active")
	}
}

func (r *TenantResolver) lookup(ctx context.Context, slug string) (*Tenant, error) {
	cacheKey := "slug:" + slug
	if r.cache != nil {
		if v, ok := r.cache.Get(cacheKey); ok {
			if t, ok := v.(*Tenant); ok {
				return t, nil
			}
		}
	}

	t, err := r.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	ttl := r.cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if r.cache != nil {
		r.cache.Set(cacheKey, t, ttl)
	}
	return t, nil
}

// InvalidateCache drops any cached lookup for slug, forcing the next
// Resolve to hit the repository. Callers should invoke this after
// Suspend/Activate/Update so admission decisions reflect the change
// within one request instead of waiting out the TTL.
func (r *TenantResolver) InvalidateCache(slug string) {
	if r.cache != nil {
		r.cache.Delete("slug:" + slug)
	}
}

func decodeJWTPayload(segment string) (map[string]any, error) {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt segment encoding: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("invalid jwt payload: %w", err)
	}
	return claims, nil
}
