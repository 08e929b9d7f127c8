package directory

import (
	"context"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/google/uuid"
)

// EnvironmentLookup resolves the environment a policy is scoped to. Owned by
// the host's project service; this module only reads.
type EnvironmentLookup interface {
	GetEnvironment(ctx context.Context, id uuid.UUID) (domain.Environment, error)
}

// GroupResolver answers group-membership questions against the host's
// directory. Resolution happens at evaluation time so membership changes are
// honored immediately; ExpandGroup may return nested group ids, which callers
// expand with a visited-set guard.
type GroupResolver interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	ExpandGroup(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// NopEnvironments returns zero-valued environments for every lookup.
type NopEnvironments struct{}

var _ EnvironmentLookup = (*NopEnvironments)(nil)

func (NopEnvironments) GetEnvironment(ctx context.Context, id uuid.UUID) (domain.Environment, error) {
	return domain.Environment{ID: id}, nil
}

// NopGroups resolves every group as empty.
type NopGroups struct{}

var _ GroupResolver = (*NopGroups)(nil)

func (NopGroups) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	return false, nil
}

func (NopGroups) ExpandGroup(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

// StaticGroups is a fixed in-memory membership table, useful for tests and
// single-binary hosts without an external directory.
type StaticGroups struct {
	Members map[uuid.UUID][]uuid.UUID
}

var _ GroupResolver = (*StaticGroups)(nil)

func (s StaticGroups) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	for _, member := range s.Members[groupID] {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s StaticGroups) ExpandGroup(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	members := s.Members[groupID]
	out := make([]uuid.UUID, len(members))
	copy(out, members)
	return out, nil
}
