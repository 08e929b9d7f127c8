package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	"github.com/google/uuid"
)

// PolicyRepository is the in-memory policy store used by tests and hosts
// without a database.
type PolicyRepository struct {
	base baseMemoryRepo[domain.AccessApprovalPolicy]
}

var _ store.PolicyRepository = (*PolicyRepository)(nil)

func NewPolicyRepository() *PolicyRepository {
	return &PolicyRepository{
		base: newBaseMemoryRepo(func(p *domain.AccessApprovalPolicy) *domain.RecordMeta { return &p.RecordMeta }),
	}
}

func (r *PolicyRepository) Create(ctx context.Context, policy *domain.AccessApprovalPolicy) error {
	seen := make(map[uuid.UUID]struct{}, len(policy.Approvers))
	for i := range policy.Approvers {
		edge := &policy.Approvers[i]
		if _, dup := seen[edge.ApproverID]; dup {
			return store.ErrConflict
		}
		seen[edge.ApproverID] = struct{}{}
		edge.EnsureID()
		edge.PolicyID = policy.ID
	}
	if err := r.base.create(ctx, policy); err != nil {
		return err
	}
	// Edge PolicyID may have been nil before create assigned the policy id.
	r.base.mu.Lock()
	stored := r.base.records[policy.ID]
	for i := range stored.Approvers {
		stored.Approvers[i].PolicyID = policy.ID
		policy.Approvers[i].PolicyID = policy.ID
	}
	r.base.records[policy.ID] = stored
	r.base.mu.Unlock()
	return nil
}

func (r *PolicyRepository) Update(ctx context.Context, policy *domain.AccessApprovalPolicy) error {
	seen := make(map[uuid.UUID]struct{}, len(policy.Approvers))
	for i := range policy.Approvers {
		edge := &policy.Approvers[i]
		if _, dup := seen[edge.ApproverID]; dup {
			return store.ErrConflict
		}
		seen[edge.ApproverID] = struct{}{}
		edge.EnsureID()
		edge.PolicyID = policy.ID
	}
	return r.base.update(ctx, policy)
}

func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AccessApprovalPolicy, error) {
	policy, err := r.base.getByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return clonePolicy(policy), nil
}

func (r *PolicyRepository) Find(ctx context.Context, filter store.PolicyFilter, opts store.ListOptions) (store.ListResult[domain.AccessApprovalPolicy], error) {
	result, err := r.base.list(ctx, opts, func(p *domain.AccessApprovalPolicy) bool {
		return matchesFilter(p, filter)
	})
	if err != nil {
		return store.ListResult[domain.AccessApprovalPolicy]{}, err
	}
	for i := range result.Items {
		result.Items[i] = *clonePolicy(&result.Items[i])
	}
	return result, nil
}

func (r *PolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.base.softDelete(ctx, id)
}

func matchesFilter(policy *domain.AccessApprovalPolicy, filter store.PolicyFilter) bool {
	if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, policy.ID) {
		return false
	}
	if len(filter.EnvironmentIDs) > 0 && !slices.Contains(filter.EnvironmentIDs, policy.EnvironmentID) {
		return false
	}
	if len(filter.ProjectIDs) > 0 && !slices.Contains(filter.ProjectIDs, policy.ProjectID) {
		return false
	}
	return true
}

func clonePolicy(policy *domain.AccessApprovalPolicy) *domain.AccessApprovalPolicy {
	out := *policy
	out.Approvers = make([]domain.PolicyApprover, len(policy.Approvers))
	copy(out.Approvers, policy.Approvers)
	sort.SliceStable(out.Approvers, func(i, j int) bool {
		return out.Approvers[i].Position < out.Approvers[j].Position
	})
	return &out
}

// touch is kept for symmetry with the bun backend, which bumps updated_at on
// every write path.
func touch(meta *domain.RecordMeta) {
	meta.UpdatedAt = time.Now().UTC()
}
