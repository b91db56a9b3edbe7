package db

import "fmt"

// RedisKeyBuilder provides methods to build Redis keys following the defined patterns.
// All cache keys are namespaced by tenant so multiple tenant processes can
// safely share a Redis instance.
type RedisKeyBuilder struct {
	tenantID string
}

// NewRedisKeyBuilder creates a new Redis key builder for a tenant
func NewRedisKeyBuilder(tenantID string) *RedisKeyBuilder {
	return &RedisKeyBuilder{tenantID: tenantID}
}

// Principal keys

// CacheUserKey builds a cache key for a user snapshot
func (b *RedisKeyBuilder) CacheUserKey(userID int64) string {
	return fmt.Sprintf("acs:%s:cache:user:%d", b.tenantID, userID)
}

// CacheGroupKey builds a cache key for a group snapshot
func (b *RedisKeyBuilder) CacheGroupKey(groupID int64) string {
	return fmt.Sprintf("acs:%s:cache:group:%d", b.tenantID, groupID)
}

// CacheRoleKey builds a cache key for a role snapshot
func (b *RedisKeyBuilder) CacheRoleKey(roleID int64) string {
	return fmt.Sprintf("acs:%s:cache:role:%d", b.tenantID, roleID)
}

// Aggregate keys

// CacheUserGroupsKey builds a cache key for a user's group membership set
func (b *RedisKeyBuilder) CacheUserGroupsKey(userID int64) string {
	return fmt.Sprintf("acs:%s:cache:user_groups:%d", b.tenantID, userID)
}

// CacheUserRolesKey builds a cache key for a user's role assignment set
func (b *RedisKeyBuilder) CacheUserRolesKey(userID int64) string {
	return fmt.Sprintf("acs:%s:cache:user_roles:%d", b.tenantID, userID)
}

// CachePermissionsKey builds a cache key for a principal's direct permission set
func (b *RedisKeyBuilder) CachePermissionsKey(kind string, principalID int64) string {
	return fmt.Sprintf("acs:%s:cache:permissions:%s:%d", b.tenantID, kind, principalID)
}

// TenantPattern returns the match pattern covering every key of this tenant
func (b *RedisKeyBuilder) TenantPattern() string {
	return fmt.Sprintf("acs:%s:cache:*", b.tenantID)
}
