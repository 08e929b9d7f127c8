// Package policies manages access approval policy aggregates: validation,
// lookup through the assembler-backed repository, and the delete cascade that
// closes in-flight requests.
package policies

import (
	"context"
	"errors"

	"github.com/goliatone/go-access-approval/pkg/activity"
	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/directory"
	"github.com/goliatone/go-access-approval/pkg/interfaces/logger"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	"github.com/goliatone/go-access-approval/pkg/pathmatch"
	"github.com/google/uuid"
)

// Dependencies wires repositories and collaborators.
type Dependencies struct {
	Policies     store.PolicyRepository
	Requests     store.RequestRepository
	Transaction  store.TransactionManager
	Environments directory.EnvironmentLookup
	Logger       logger.Logger
	Hooks        activity.Hooks
}

// Service exposes policy administration. All state lives in the store; the
// service itself is stateless between calls.
type Service struct {
	policies     store.PolicyRepository
	requests     store.RequestRepository
	tx           store.TransactionManager
	environments directory.EnvironmentLookup
	logger       logger.Logger
	hooks        activity.Hooks
}

var (
	errPoliciesRequired = errors.New("policies: policy repository is required")
	errRequestsRequired = errors.New("policies: request repository is required")
)

// NewService constructs the policy service.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Policies == nil {
		return nil, errPoliciesRequired
	}
	if deps.Requests == nil {
		return nil, errRequestsRequired
	}
	if deps.Transaction == nil {
		deps.Transaction = &store.NopTransactionManager{}
	}
	if deps.Environments == nil {
		deps.Environments = directory.NopEnvironments{}
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	return &Service{
		policies:     deps.Policies,
		requests:     deps.Requests,
		tx:           deps.Transaction,
		environments: deps.Environments,
		logger:       deps.Logger,
		hooks:        deps.Hooks,
	}, nil
}

// ApproverInput declares one approver edge on a policy.
type ApproverInput struct {
	ApproverID   uuid.UUID
	ApproverType string
}

// PolicyInput carries the fields of a create or update.
type PolicyInput struct {
	EnvironmentID     uuid.UUID
	Name              string
	SecretPathPattern string
	ApprovalsRequired int
	ApproverOrdering  string
	EnforcementLevel  string
	Approvers         []ApproverInput
}

// Create validates and persists a new policy.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, input PolicyInput) (*domain.AccessApprovalPolicy, error) {
	if err := s.validate(ctx, input); err != nil {
		return nil, err
	}
	policy := buildPolicy(input)
	if err := s.policies.Create(ctx, policy); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domain.InvalidPolicy("duplicate approver on policy")
		}
		return nil, err
	}
	s.hooks.Notify(ctx, activity.Event{
		Verb:       "policy.created",
		ActorID:    actorID.String(),
		ObjectType: "access_approval_policy",
		ObjectID:   policy.ID.String(),
	})
	s.logger.Info("policy created",
		logger.F("policy_id", policy.ID),
		logger.F("environment_id", policy.EnvironmentID),
		logger.F("approvers", len(policy.Approvers)))
	return policy, nil
}

// Update replaces the policy definition. In-flight requests keep the rules
// snapshotted at their creation.
func (s *Service) Update(ctx context.Context, actorID, id uuid.UUID, input PolicyInput) (*domain.AccessApprovalPolicy, error) {
	if err := s.validate(ctx, input); err != nil {
		return nil, err
	}
	current, err := s.policies.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.PolicyNotFound(id)
		}
		return nil, err
	}
	policy := buildPolicy(input)
	policy.RecordMeta = current.RecordMeta
	if err := s.policies.Update(ctx, policy); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domain.InvalidPolicy("duplicate approver on policy")
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.PolicyNotFound(id)
		}
		return nil, err
	}
	s.hooks.Notify(ctx, activity.Event{
		Verb:       "policy.updated",
		ActorID:    actorID.String(),
		ObjectType: "access_approval_policy",
		ObjectID:   id.String(),
	})
	return s.Get(ctx, id)
}

// Get fetches one policy aggregate from the primary.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.AccessApprovalPolicy, error) {
	policy, err := s.policies.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.PolicyNotFound(id)
		}
		return nil, err
	}
	return policy, nil
}

// Find lists policies through the closed filter surface.
func (s *Service) Find(ctx context.Context, filter store.PolicyFilter, opts store.ListOptions) (store.ListResult[domain.AccessApprovalPolicy], error) {
	return s.policies.Find(ctx, filter, opts)
}

// Delete removes the policy and cancels its open requests in the same
// logical operation, so no request is left pending against a deleted policy.
func (s *Service) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	cancelled := 0
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.policies.Delete(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.PolicyNotFound(id)
			}
			return err
		}
		n, err := s.requests.CancelByPolicy(ctx, id)
		if err != nil {
			return err
		}
		cancelled = n
		return nil
	})
	if err != nil {
		return err
	}
	s.hooks.Notify(ctx, activity.Event{
		Verb:       "policy.deleted",
		ActorID:    actorID.String(),
		ObjectType: "access_approval_policy",
		ObjectID:   id.String(),
		Metadata:   map[string]any{"cancelled_requests": cancelled},
	})
	s.logger.Info("policy deleted",
		logger.F("policy_id", id),
		logger.F("cancelled_requests", cancelled))
	return nil
}

func (s *Service) validate(ctx context.Context, input PolicyInput) error {
	if input.EnvironmentID == uuid.Nil {
		return domain.InvalidPolicy("environment id is required")
	}
	if _, err := s.environments.GetEnvironment(ctx, input.EnvironmentID); err != nil {
		return domain.InvalidPolicy("environment %s cannot be resolved", input.EnvironmentID)
	}
	if err := pathmatch.ValidatePattern(input.SecretPathPattern); err != nil {
		return err
	}
	if input.ApprovalsRequired < 1 {
		return domain.InvalidPolicy("approvals required must be at least 1")
	}
	switch input.ApproverOrdering {
	case domain.OrderingSequential, domain.OrderingUnordered:
	default:
		return domain.InvalidPolicy("unknown approver ordering %q", input.ApproverOrdering)
	}
	switch input.EnforcementLevel {
	case domain.EnforcementHard, domain.EnforcementSoft:
	default:
		return domain.InvalidPolicy("unknown enforcement level %q", input.EnforcementLevel)
	}

	seen := make(map[uuid.UUID]struct{}, len(input.Approvers))
	for _, approver := range input.Approvers {
		if approver.ApproverID == uuid.Nil {
			return domain.InvalidPolicy("approver id is required")
		}
		switch approver.ApproverType {
		case domain.ApproverTypeUser, domain.ApproverTypeGroup:
		default:
			return domain.InvalidPolicy("unknown approver type %q", approver.ApproverType)
		}
		if _, dup := seen[approver.ApproverID]; dup {
			return domain.InvalidPolicy("approver %s listed twice", approver.ApproverID)
		}
		seen[approver.ApproverID] = struct{}{}
	}
	// Group membership is expanded at evaluation time, so the authoring-time
	// bound is the distinct approver entries.
	if input.ApprovalsRequired > len(seen) {
		return domain.InvalidPolicy("approvals required (%d) exceeds approver count (%d)", input.ApprovalsRequired, len(seen))
	}
	return nil
}

func buildPolicy(input PolicyInput) *domain.AccessApprovalPolicy {
	policy := &domain.AccessApprovalPolicy{
		EnvironmentID:     input.EnvironmentID,
		Name:              input.Name,
		SecretPathPattern: pathmatch.Normalize(input.SecretPathPattern),
		ApprovalsRequired: input.ApprovalsRequired,
		ApproverOrdering:  input.ApproverOrdering,
		EnforcementLevel:  input.EnforcementLevel,
	}
	for i, approver := range input.Approvers {
		policy.Approvers = append(policy.Approvers, domain.PolicyApprover{
			ApproverID:   approver.ApproverID,
			ApproverType: approver.ApproverType,
			Position:     i,
		})
	}
	return policy
}
