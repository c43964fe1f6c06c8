// Package cache provides an advisory read-through cache for project
// listings. It is never authoritative: every project or score mutation
// invalidates the affected organization's entries.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"folio/api/internal/store"
)

// ProjectListCache caches project listings per organization (and, for
// department-narrowed callers, per department) in Redis.
type ProjectListCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and returns a project list cache.
func New(redisURL string, ttl time.Duration) (*ProjectListCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient builds a cache from an existing Redis client.
func NewWithClient(client *redis.Client, ttl time.Duration) *ProjectListCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ProjectListCache{client: client, prefix: "projects:", ttl: ttl}
}

func (c *ProjectListCache) key(organizationID, departmentID string) string {
	if departmentID == "" {
		return c.prefix + organizationID
	}
	return c.prefix + organizationID + ":" + departmentID
}

// Get returns the cached listing and whether it was present.
func (c *ProjectListCache) Get(ctx context.Context, organizationID, departmentID string) ([]store.Project, bool, error) {
	payload, err := c.client.Get(ctx, c.key(organizationID, departmentID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var projects []store.Project
	if err := json.Unmarshal([]byte(payload), &projects); err != nil {
		return nil, false, fmt.Errorf("decode cached projects: %w", err)
	}
	return projects, true, nil
}

// Set stores a listing under the organization (and department) key.
func (c *ProjectListCache) Set(ctx context.Context, organizationID, departmentID string, projects []store.Project) error {
	payload, err := json.Marshal(projects)
	if err != nil {
		return fmt.Errorf("encode projects: %w", err)
	}
	if err := c.client.Set(ctx, c.key(organizationID, departmentID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops every cached listing for the organization, department
// narrowed entries included.
func (c *ProjectListCache) Invalidate(ctx context.Context, organizationID string) error {
	pattern := c.prefix + organizationID + "*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *ProjectListCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *ProjectListCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
