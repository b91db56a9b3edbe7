package engine

import (
	"context"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// InvalidationEvent names the principals whose cached state a finished
// command made stale
type InvalidationEvent struct {
	Command  CommandKind
	Affected []PrincipalRef
}

// Invalidate drops the cache entries covered by an event. Invalidation is
// targeted; only the affected principals and their aggregates are touched,
// never the whole tenant.
func (c *CacheService) Invalidate(ctx context.Context, event InvalidationEvent) {
	if c.redis == nil || len(event.Affected) == 0 {
		return
	}

	keys := make([]string, 0, len(event.Affected)*3)
	for _, ref := range event.Affected {
		switch ref.Kind {
		case KindUser:
			keys = append(keys,
				c.keys.CacheUserKey(ref.ID),
				c.keys.CacheUserGroupsKey(ref.ID),
				c.keys.CacheUserRolesKey(ref.ID),
			)
		case KindGroup:
			keys = append(keys, c.keys.CacheGroupKey(ref.ID))
		case KindRole:
			keys = append(keys, c.keys.CacheRoleKey(ref.ID))
		}
		keys = append(keys, c.keys.CachePermissionsKey(string(ref.Kind), ref.ID))
	}

	if err := c.redis.Del(ctx, keys...); err != nil {
		slogging.Get().Warn("Cache invalidation after %s failed for %d keys: %v", event.Command, len(keys), err)
		return
	}
	slogging.Get().Debug("Invalidated %d cache keys after %s", len(keys), event.Command)
}

// Flush drops every cache key for the tenant. Used on startup so a reloaded
// graph never serves stale snapshots.
func (c *CacheService) Flush(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	keys, err := c.redis.Keys(ctx, c.keys.TenantPattern())
	if err != nil {
		return Transientf(err, "listing tenant cache keys")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...); err != nil {
		return Transientf(err, "flushing %d tenant cache keys", len(keys))
	}
	slogging.Get().Info("Flushed %d cache keys", len(keys))
	return nil
}
