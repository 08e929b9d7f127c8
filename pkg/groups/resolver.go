// Package groups flattens group membership for quorum evaluation. Expansion
// happens at decision time so directory changes take effect immediately;
// results may be cached for a bounded TTL because staleness can only delay a
// quorum, never corrupt one.
package groups

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-access-approval/pkg/interfaces/cache"
	"github.com/goliatone/go-access-approval/pkg/interfaces/directory"
	"github.com/google/uuid"
)

// DefaultMaxDepth caps nested-group recursion.
const DefaultMaxDepth = 4

// Resolver flattens nested groups with a visited-set guard and optional
// TTL caching of the flattened member set.
type Resolver struct {
	inner    directory.GroupResolver
	cache    cache.Cache
	ttl      time.Duration
	maxDepth int
}

// Option configures the resolver.
type Option func(*Resolver)

// WithCache enables TTL caching of flattened member sets.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithMaxDepth overrides the nested-group recursion cap.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// NewResolver wraps a directory group resolver.
func NewResolver(inner directory.GroupResolver, opts ...Option) *Resolver {
	r := &Resolver{
		inner:    inner,
		cache:    &cache.Nop{},
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.inner == nil {
		r.inner = directory.NopGroups{}
	}
	return r
}

// Members returns the flattened member set of a group. Members that are
// themselves groups are expanded recursively up to the depth cap; cycles are
// broken by the visited set.
func (r *Resolver) Members(ctx context.Context, groupID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	key := fmt.Sprintf("groups:flat:%s", groupID)
	if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		if members, valid := cached.(map[uuid.UUID]struct{}); valid {
			return members, nil
		}
	}

	members := make(map[uuid.UUID]struct{})
	visited := map[uuid.UUID]struct{}{groupID: {}}
	if err := r.expand(ctx, groupID, members, visited, 0); err != nil {
		return nil, err
	}

	if r.ttl > 0 {
		_ = r.cache.Set(ctx, key, members, r.ttl)
	}
	return members, nil
}

// IsMember reports whether the user belongs to the group, transitively.
func (r *Resolver) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	ok, err := r.inner.IsMember(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	members, err := r.Members(ctx, groupID)
	if err != nil {
		return false, err
	}
	_, found := members[userID]
	return found, nil
}

func (r *Resolver) expand(ctx context.Context, groupID uuid.UUID, members, visited map[uuid.UUID]struct{}, depth int) error {
	if depth >= r.maxDepth {
		return nil
	}
	ids, err := r.inner.ExpandGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		members[id] = struct{}{}
		// A member id that expands to further members is a nested group.
		if err := r.expand(ctx, id, members, visited, depth+1); err != nil {
			return err
		}
	}
	return nil
}
