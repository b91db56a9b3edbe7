package engine

import (
	"context"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// Warmup pre-populates the cache from the loaded graph so the first reads
// after startup hit Redis instead of taking the graph read lock. Warming is
// best-effort; failures are logged and startup proceeds.
func (c *CacheService) Warmup(ctx context.Context) {
	if c.redis == nil {
		return
	}
	logger := slogging.Get()

	warmed := 0
	for _, snap := range c.graph.Users() {
		if ctx.Err() != nil {
			return
		}
		c.writeCached(ctx, c.keys.CacheUserKey(snap.ID), snap, cacheTTLPrincipal)
		c.writeCached(ctx, c.keys.CacheUserGroupsKey(snap.ID), snap.GroupIDs, cacheTTLAggregates)
		c.writeCached(ctx, c.keys.CacheUserRolesKey(snap.ID), snap.RoleIDs, cacheTTLAggregates)
		warmed++
	}
	for _, snap := range c.graph.Groups() {
		if ctx.Err() != nil {
			return
		}
		c.writeCached(ctx, c.keys.CacheGroupKey(snap.ID), snap, cacheTTLPrincipal)
		warmed++
	}
	for _, snap := range c.graph.Roles() {
		if ctx.Err() != nil {
			return
		}
		c.writeCached(ctx, c.keys.CacheRoleKey(snap.ID), snap, cacheTTLPrincipal)
		warmed++
	}

	logger.Info("Cache warmup primed %d snapshots", warmed)
}
