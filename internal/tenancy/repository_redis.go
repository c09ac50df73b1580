// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTenantRepository backs FindByID/FindBySlug with a redis.Client,
// JSON-encoded tenant records, so the TTL cache fronting TenantResolver has
// something realistic to shadow. Create/Update/Delete/Suspend/Activate
// mutate both the id and slug keys so either lookup path stays consistent.
type RedisTenantRepository struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisTenantRepositoryConfig mirrors cache.RedisConfig's connection shape.
type RedisTenantRepositoryConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisTenantRepository dials Redis and verifies connectivity before
// returning.
func NewRedisTenantRepository(cfg RedisTenantRepositoryConfig, logger zerolog.Logger) (*RedisTenantRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisTenantRepository{client: client, logger: logger}, nil
}

func idKey(id string) string     { return "tenant:id:" + id }
func slugKey(slug string) string { return "tenant:slug:" + slug }

func (r *RedisTenantRepository) FindByID(ctx context.Context, id string) (*Tenant, error) {
	data, err := r.client.Get(ctx, idKey(id)).Bytes()
	if err == redis.Nil {
		return nil, NewError(CodeTenantNotFound, "tenant not found")
	}
	if err != nil {
		return nil, NewError(CodeInternalError, "redis lookup failed")
	}
	var t Tenant
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, NewError(CodeInternalError, "corrupt tenant record")
	}
	return &t, nil
}

func (r *RedisTenantRepository) FindBySlug(ctx context.Context, slug string) (*Tenant, error) {
	id, err := r.client.Get(ctx, slugKey(slug)).Result()
	if err == redis.Nil {
		return nil, NewError(CodeTenantNotFound, "tenant not found")
	}
	if err != nil {
		return nil, NewError(CodeInternalError, "redis lookup failed")
	}
	return r.FindByID(ctx, id)
}

// FindAll is not supported by the redis-backed reference implementation
// (no secondary index over all tenant keys); returns an empty result.
func (r *RedisTenantRepository) FindAll(_ context.Context, _ *TenantFilter) ([]*Tenant, error) {
	return nil, nil
}

func (r *RedisTenantRepository) put(ctx context.Context, t *Tenant) error {
	data, err := json.Marshal(t)
	if err != nil {
		return NewError(CodeInternalError, "failed to encode tenant")
	}
	if err := r.client.Set(ctx, idKey(t.ID), data, 0).Err(); err != nil {
		return NewError(CodeInternalError, "redis write failed")
	}
	if err := r.client.Set(ctx, slugKey(t.Slug), t.ID, 0).Err(); err != nil {
		return NewError(CodeInternalError, "redis write failed")
	}
	return nil
}

func (r *RedisTenantRepository) Create(ctx context.Context, t *Tenant) error {
	if !ValidSlug(t.Slug) {
		return NewError(CodeInvalidSlug, "tenant slug is invalid or reserved")
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusActive
	}
	return r.put(ctx, t)
}

func (r *RedisTenantRepository) Update(ctx context.Context, t *Tenant) error {
	existing, err := r.FindByID(ctx, t.ID)
	if err != nil {
		return err
	}
	if existing.Slug != t.Slug {
		_ = r.client.Del(ctx, slugKey(existing.Slug)).Err()
	}
	t.UpdatedAt = time.Now()
	return r.put(ctx, t)
}

func (r *RedisTenantRepository) Delete(ctx context.Context, id string) error {
	t, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, idKey(id), slugKey(t.Slug)).Err(); err != nil {
		return NewError(CodeInternalError, "redis delete failed")
	}
	return nil
}

func (r *RedisTenantRepository) Suspend(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, StatusSuspended)
}

func (r *RedisTenantRepository) Activate(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, StatusActive)
}

func (r *RedisTenantRepository) setStatus(ctx context.Context, id string, status Status) error {
	t, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return r.put(ctx, t)
}

// Close releases the underlying redis connection pool.
func (r *RedisTenantRepository) Close() error {
	return r.client.Close()
}
