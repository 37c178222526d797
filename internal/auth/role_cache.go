package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/uptrace/bun"

	"ticketa/internal/models"
)

const (
	// roleCacheTTL bounds how stale a cached role set may get. Role grants
	// are rare; a short TTL keeps revocations from lingering.
	roleCacheTTL = 5 * time.Minute

	roleCacheKeyPrefix = "user_roles:"
)

// RoleCache is the production RoleSource: user_roles rows behind a Redis
// cache. A nil Redis client degrades to uncached lookups.
type RoleCache struct {
	DB     *bun.DB
	Client *redis.Client
}

func NewRoleCache(db *bun.DB, client *redis.Client) *RoleCache {
	return &RoleCache{DB: db, Client: client}
}

func (c *RoleCache) RolesForUser(ctx context.Context, userID string) ([]models.AppRole, error) {
	if cached, ok := c.getCached(ctx, userID); ok {
		return cached, nil
	}

	var rows []models.UserRole
	err := c.DB.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for %s: %w", userID, err)
	}

	roles := make([]models.AppRole, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, row.Role)
	}

	c.setCached(ctx, userID, roles)
	return roles, nil
}

// Invalidate drops the cached role set after a grant or revocation.
func (c *RoleCache) Invalidate(ctx context.Context, userID string) error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Del(ctx, roleCacheKeyPrefix+userID).Err()
}

func (c *RoleCache) getCached(ctx context.Context, userID string) ([]models.AppRole, bool) {
	if c.Client == nil {
		return nil, false
	}

	payload, err := c.Client.Get(ctx, roleCacheKeyPrefix+userID).Result()
	if err != nil {
		// redis.Nil (cache miss) and transport errors both fall through to
		// the database.
		return nil, false
	}

	var roles []models.AppRole
	if err := json.Unmarshal([]byte(payload), &roles); err != nil {
		return nil, false
	}
	return roles, true
}

func (c *RoleCache) setCached(ctx context.Context, userID string, roles []models.AppRole) {
	if c.Client == nil {
		return
	}

	payload, err := json.Marshal(roles)
	if err != nil {
		return
	}
	c.Client.Set(ctx, roleCacheKeyPrefix+userID, payload, roleCacheTTL)
}
