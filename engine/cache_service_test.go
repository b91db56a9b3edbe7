package engine

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaRamirez/ACS-sub000/db"
)

func newTestCache(t *testing.T, graph *Graph) (*CacheService, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCacheService(db.NewRedisDBFromClient(client), "tenant-a", graph, nil), mr
}

func TestCacheReadThrough(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))
	require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))

	cache, mr := newTestCache(t, g)
	ctx := context.Background()

	snap, err := cache.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Name)

	// The miss populated Redis.
	assert.True(t, mr.Exists("acs:tenant-a:cache:user:1"))

	// A graph change without invalidation serves the cached copy; the
	// cache is only refreshed through invalidation.
	require.NoError(t, g.Rename(KindUser, 1, "alicia"))
	stale, err := cache.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", stale.Name)

	t.Run("missing principal is not cached", func(t *testing.T) {
		_, err := cache.GetUser(ctx, 99)
		assert.True(t, IsKind(err, KindNotFound))
		assert.False(t, mr.Exists("acs:tenant-a:cache:user:99"))
	})
}

func TestCacheAggregates(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))
	require.NoError(t, g.Create(KindRole, 1, 102, "deployer"))
	require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))
	require.NoError(t, g.Link(KindRole, 1, KindUser, 1))

	cache, _ := newTestCache(t, g)
	ctx := context.Background()

	groups, err := cache.GetUserGroups(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, groups)

	roles, err := cache.GetUserRoles(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, roles)

	// Second read comes from Redis and agrees.
	groups, err = cache.GetUserGroups(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, groups)
}

func TestCachePermissions(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindRole, 1, 100, "deployer"))
	_, err := g.UpsertPermission(Permission{
		ID: 1, OwnerID: 1, OwnerKind: KindRole,
		URIPattern: "/api/deployments/*", Verb: VerbPost, Grant: true,
	})
	require.NoError(t, err)

	cache, _ := newTestCache(t, g)

	perms, err := cache.GetPermissions(context.Background(), KindRole, 1)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "/api/deployments/*", perms[0].URIPattern)
}

func TestCacheInvalidation(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))

	cache, mr := newTestCache(t, g)
	ctx := context.Background()

	_, err := cache.GetUser(ctx, 1)
	require.NoError(t, err)
	_, err = cache.GetGroup(ctx, 1)
	require.NoError(t, err)
	require.True(t, mr.Exists("acs:tenant-a:cache:user:1"))
	require.True(t, mr.Exists("acs:tenant-a:cache:group:1"))

	cache.Invalidate(ctx, InvalidationEvent{
		Command:  CommandAddUserToGroup,
		Affected: []PrincipalRef{{Kind: KindUser, ID: 1}},
	})

	// Only the named principal's keys are dropped.
	assert.False(t, mr.Exists("acs:tenant-a:cache:user:1"))
	assert.True(t, mr.Exists("acs:tenant-a:cache:group:1"))

	// The next read refills from the graph.
	require.NoError(t, g.Rename(KindUser, 1, "alicia"))
	snap, err := cache.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alicia", snap.Name)
}

func TestCacheWarmupAndFlush(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))
	require.NoError(t, g.Create(KindRole, 1, 102, "deployer"))

	cache, mr := newTestCache(t, g)
	ctx := context.Background()

	cache.Warmup(ctx)
	assert.True(t, mr.Exists("acs:tenant-a:cache:user:1"))
	assert.True(t, mr.Exists("acs:tenant-a:cache:group:1"))
	assert.True(t, mr.Exists("acs:tenant-a:cache:role:1"))

	require.NoError(t, cache.Flush(ctx))
	assert.False(t, mr.Exists("acs:tenant-a:cache:user:1"))
	assert.False(t, mr.Exists("acs:tenant-a:cache:group:1"))
	assert.False(t, mr.Exists("acs:tenant-a:cache:role:1"))
}

func TestCacheUndecodableEntryFallsBack(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))

	cache, mr := newTestCache(t, g)
	require.NoError(t, mr.Set("acs:tenant-a:cache:user:1", "not-json"))

	snap, err := cache.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Name)
}

func TestCacheSurvivesRedisOutage(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))

	cache, mr := newTestCache(t, g)
	mr.Close()

	// Reads degrade to the graph when Redis is gone.
	snap, err := cache.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Name)
}
