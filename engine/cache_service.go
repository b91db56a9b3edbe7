package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JoshuaRamirez/ACS-sub000/db"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// Cache TTLs per snapshot kind. Principal snapshots churn with membership
// changes; aggregate lists churn faster still.
const (
	cacheTTLPrincipal  = 10 * time.Minute
	cacheTTLAggregates = 5 * time.Minute
)

// CacheService is a read-through Redis cache over graph snapshots. Misses
// and any Redis failure fall back to the graph; the cache is an accelerator,
// never an authority.
type CacheService struct {
	redis   *db.RedisDB
	keys    *db.RedisKeyBuilder
	graph   *Graph
	metrics *Metrics
}

// NewCacheService creates a cache over the given graph for one tenant
func NewCacheService(redisDB *db.RedisDB, tenantID string, graph *Graph, metrics *Metrics) *CacheService {
	return &CacheService{
		redis:   redisDB,
		keys:    db.NewRedisKeyBuilder(tenantID),
		graph:   graph,
		metrics: metrics,
	}
}

// GetUser returns a user snapshot, read-through cached
func (c *CacheService) GetUser(ctx context.Context, id int64) (*UserSnapshot, error) {
	key := c.keys.CacheUserKey(id)
	var snap UserSnapshot
	if c.readCached(ctx, key, &snap) {
		return &snap, nil
	}

	fresh, err := c.graph.GetUser(id)
	if err != nil {
		return nil, err
	}
	c.writeCached(ctx, key, fresh, cacheTTLPrincipal)
	return fresh, nil
}

// GetGroup returns a group snapshot, read-through cached
func (c *CacheService) GetGroup(ctx context.Context, id int64) (*GroupSnapshot, error) {
	key := c.keys.CacheGroupKey(id)
	var snap GroupSnapshot
	if c.readCached(ctx, key, &snap) {
		return &snap, nil
	}

	fresh, err := c.graph.GetGroup(id)
	if err != nil {
		return nil, err
	}
	c.writeCached(ctx, key, fresh, cacheTTLPrincipal)
	return fresh, nil
}

// GetRole returns a role snapshot, read-through cached
func (c *CacheService) GetRole(ctx context.Context, id int64) (*RoleSnapshot, error) {
	key := c.keys.CacheRoleKey(id)
	var snap RoleSnapshot
	if c.readCached(ctx, key, &snap) {
		return &snap, nil
	}

	fresh, err := c.graph.GetRole(id)
	if err != nil {
		return nil, err
	}
	c.writeCached(ctx, key, fresh, cacheTTLPrincipal)
	return fresh, nil
}

// GetUserGroups returns the group ids a user belongs to
func (c *CacheService) GetUserGroups(ctx context.Context, userID int64) ([]int64, error) {
	key := c.keys.CacheUserGroupsKey(userID)
	var ids []int64
	if c.readCached(ctx, key, &ids) {
		return ids, nil
	}

	snap, err := c.graph.GetUser(userID)
	if err != nil {
		return nil, err
	}
	c.writeCached(ctx, key, snap.GroupIDs, cacheTTLAggregates)
	return snap.GroupIDs, nil
}

// GetUserRoles returns the role ids assigned to a user
func (c *CacheService) GetUserRoles(ctx context.Context, userID int64) ([]int64, error) {
	key := c.keys.CacheUserRolesKey(userID)
	var ids []int64
	if c.readCached(ctx, key, &ids) {
		return ids, nil
	}

	snap, err := c.graph.GetUser(userID)
	if err != nil {
		return nil, err
	}
	c.writeCached(ctx, key, snap.RoleIDs, cacheTTLAggregates)
	return snap.RoleIDs, nil
}

// GetPermissions returns a principal's direct permission tuples
func (c *CacheService) GetPermissions(ctx context.Context, kind PrincipalKind, id int64) ([]Permission, error) {
	key := c.keys.CachePermissionsKey(string(kind), id)
	var perms []Permission
	if c.readCached(ctx, key, &perms) {
		return perms, nil
	}

	perms, err := c.directPermissions(kind, id)
	if err != nil {
		return nil, err
	}
	c.writeCached(ctx, key, perms, cacheTTLAggregates)
	return perms, nil
}

func (c *CacheService) directPermissions(kind PrincipalKind, id int64) ([]Permission, error) {
	switch kind {
	case KindUser:
		snap, err := c.graph.GetUser(id)
		if err != nil {
			return nil, err
		}
		return snap.Permissions, nil
	case KindGroup:
		snap, err := c.graph.GetGroup(id)
		if err != nil {
			return nil, err
		}
		return snap.Permissions, nil
	case KindRole:
		snap, err := c.graph.GetRole(id)
		if err != nil {
			return nil, err
		}
		return snap.Permissions, nil
	default:
		return nil, InvalidArgumentf("unknown principal kind %q", kind)
	}
}

// readCached loads and decodes a cached value; any failure counts as a miss
func (c *CacheService) readCached(ctx context.Context, key string, target any) bool {
	if c.redis == nil {
		return false
	}

	raw, err := c.redis.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slogging.Get().Warn("Cache read for %s failed: %v", key, err)
		}
		c.metrics.ObserveCacheHit(false)
		return false
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		slogging.Get().Warn("Cache entry %s is undecodable, dropping: %v", key, err)
		_ = c.redis.Del(ctx, key)
		c.metrics.ObserveCacheHit(false)
		return false
	}
	c.metrics.ObserveCacheHit(true)
	return true
}

func (c *CacheService) writeCached(ctx context.Context, key string, value any, ttl time.Duration) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		slogging.Get().Warn("Cache write for %s failed to serialize: %v", key, err)
		return
	}
	if err := c.redis.Set(ctx, key, string(data), ttl); err != nil {
		slogging.Get().Warn("Cache write for %s failed: %v", key, err)
	}
}
