package roleguard

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

const defaultRolePermissionTTL = 10 * time.Minute

// RolePermissionCache holds the permission set of each role kind. Role
// permission lists are small, read constantly, and change rarely, so they
// get their own admission-based cache instead of competing with per-request
// decisions in the main tier.
type RolePermissionCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewRolePermissionCache builds the cache. The counter and cost settings are
// generous for the handful of role kinds but cheap to hold.
func NewRolePermissionCache() (*RolePermissionCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RolePermissionCache{cache: cache, ttl: defaultRolePermissionTTL}, nil
}

// SetTTL adjusts how long a role's permission set stays cached.
func (c *RolePermissionCache) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		c.ttl = ttl
	}
}

// Get returns the cached permission set for a role kind.
func (c *RolePermissionCache) Get(kind RoleKind) ([]Permission, bool) {
	v, ok := c.cache.Get(rolePermissionsCacheKey(kind))
	if !ok {
		return nil, false
	}
	perms, ok := v.([]Permission)
	return perms, ok
}

// Set stores the permission set, costed by entry count.
func (c *RolePermissionCache) Set(kind RoleKind, perms []Permission) {
	c.cache.SetWithTTL(rolePermissionsCacheKey(kind), perms, int64(len(perms)+1), c.ttl)
}

// Invalidate drops one role kind's cached permissions.
func (c *RolePermissionCache) Invalidate(kind RoleKind) {
	c.cache.Del(rolePermissionsCacheKey(kind))
}

// Clear drops every cached permission set.
func (c *RolePermissionCache) Clear() {
	c.cache.Clear()
}

// Wait blocks until buffered writes are applied. Tests use it to make Set
// visible before asserting.
func (c *RolePermissionCache) Wait() {
	c.cache.Wait()
}

// Close releases the underlying cache.
func (c *RolePermissionCache) Close() {
	c.cache.Close()
}
