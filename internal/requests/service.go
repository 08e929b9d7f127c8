// Package requests orchestrates the approval request lifecycle: creation
// against a policy, transactional decision recording, expiry sweeping, and
// the terminal transitions consumers subscribe to.
package requests

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-access-approval/internal/quorum"
	"github.com/goliatone/go-access-approval/pkg/activity"
	"github.com/goliatone/go-access-approval/pkg/config"
	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/broadcaster"
	"github.com/goliatone/go-access-approval/pkg/interfaces/logger"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	"github.com/goliatone/go-access-approval/pkg/pathmatch"
	"github.com/goliatone/go-access-approval/pkg/retry"
	"github.com/google/uuid"
)

// Transition topics published on the broadcaster.
const (
	TopicRequestApproved = "approval.request.approved"
	TopicRequestRejected = "approval.request.rejected"
	TopicRequestExpired  = "approval.request.expired"
)

// Dependencies wires repositories, membership resolution, and event sinks.
type Dependencies struct {
	Policies    store.PolicyRepository
	Requests    store.RequestRepository
	Transaction store.TransactionManager
	Groups      quorum.Membership
	Logger      logger.Logger
	Broadcaster broadcaster.Broadcaster
	Hooks       activity.Hooks
	Config      config.RequestsConfig
	Decisions   config.DecisionsConfig
	Clock       func() time.Time
}

// Service is the request lifecycle controller. It holds no mutable state;
// every transition is transaction-scoped against the store.
type Service struct {
	policies    store.PolicyRepository
	requests    store.RequestRepository
	tx          store.TransactionManager
	groups      quorum.Membership
	logger      logger.Logger
	broadcaster broadcaster.Broadcaster
	hooks       activity.Hooks
	cfg         config.RequestsConfig
	decisions   config.DecisionsConfig
	backoff     retry.Backoff
	clock       func() time.Time
}

var (
	errPoliciesRequired = errors.New("requests: policy repository is required")
	errRequestsRequired = errors.New("requests: request repository is required")
	errTxRequired       = errors.New("requests: transaction manager is required")

	// errRequestLapsed signals that the TTL elapsed mid-decision; the expiry
	// transition must run outside the decision transaction, which rolls back.
	errRequestLapsed = errors.New("requests: request past expiry")
)

// NewService constructs the lifecycle controller.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Policies == nil {
		return nil, errPoliciesRequired
	}
	if deps.Requests == nil {
		return nil, errRequestsRequired
	}
	if deps.Transaction == nil {
		return nil, errTxRequired
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = &broadcaster.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	cfg := deps.Config
	if cfg.TTL <= 0 {
		cfg.TTL = config.Defaults().Requests.TTL
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = config.Defaults().Requests.SweepBatch
	}
	decisions := deps.Decisions
	if decisions.RetryBase <= 0 {
		decisions.RetryBase = config.Defaults().Decisions.RetryBase
	}
	if decisions.RetryMax <= 0 {
		decisions.RetryMax = config.Defaults().Decisions.RetryMax
	}
	return &Service{
		policies:    deps.Policies,
		requests:    deps.Requests,
		tx:          deps.Transaction,
		groups:      deps.Groups,
		logger:      deps.Logger,
		broadcaster: deps.Broadcaster,
		hooks:       deps.Hooks,
		cfg:         cfg,
		decisions:   decisions,
		backoff:     retry.ExponentialBackoff{Base: decisions.RetryBase, Max: decisions.RetryMax},
		clock:       deps.Clock,
	}, nil
}

// CreateInput describes a new access request.
type CreateInput struct {
	PolicyID    uuid.UUID
	RequesterID uuid.UUID
	SecretPath  string
}

// CreateRequest snapshots the policy's rules onto a new pending request.
// Later policy edits never retroactively change the request.
func (s *Service) CreateRequest(ctx context.Context, input CreateInput) (*domain.ApprovalRequest, error) {
	policy, err := s.policies.GetByID(ctx, input.PolicyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.PolicyNotFound(input.PolicyID)
		}
		return nil, err
	}

	path := pathmatch.Normalize(input.SecretPath)
	if !pathmatch.Match(policy.SecretPathPattern, path) {
		return nil, domain.PathNotCovered(path, policy.SecretPathPattern)
	}

	now := s.clock().UTC()
	request := &domain.ApprovalRequest{
		PolicyID:          policy.ID,
		RequesterID:       input.RequesterID,
		SecretPath:        path,
		Status:            domain.RequestStatusPending,
		ExpiresAt:         now.Add(s.cfg.TTL),
		Approvers:         snapshotApprovers(policy.Approvers),
		ApprovalsRequired: policy.ApprovalsRequired,
		ApproverOrdering:  policy.ApproverOrdering,
		EnforcementLevel:  policy.EnforcementLevel,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	// Degenerate snapshots settle immediately: a zero quorum approves, a
	// quorum no approver set can reach rejects. Neither may linger pending.
	outcome, err := quorum.Evaluate(ctx, quorum.Input{
		Approvers:         request.Approvers,
		ApprovalsRequired: request.ApprovalsRequired,
		Ordering:          request.ApproverOrdering,
		Enforcement:       request.EnforcementLevel,
	}, s.groups)
	if err != nil {
		return nil, err
	}
	if outcome != domain.RequestStatusPending {
		moved, err := s.requests.TransitionStatus(ctx, request.ID, domain.RequestStatusPending, outcome)
		if err != nil {
			return nil, err
		}
		if moved {
			request.Status = outcome
			s.emit(ctx, domain.Transition{
				RequestID:  request.ID,
				PolicyID:   request.PolicyID,
				From:       domain.RequestStatusPending,
				To:         outcome,
				OccurredAt: now,
			})
		}
	}

	s.hooks.Notify(ctx, activity.Event{
		Verb:       "request.created",
		ActorID:    input.RequesterID.String(),
		ObjectType: "approval_request",
		ObjectID:   request.ID.String(),
		Metadata:   map[string]any{"secret_path": path, "policy_id": policy.ID.String()},
	})
	s.logger.Info("approval request created",
		logger.F("request_id", request.ID),
		logger.F("policy_id", policy.ID),
		logger.F("secret_path", path))
	return request, nil
}

// DecisionInput is one approver's submission.
type DecisionInput struct {
	RequestID  uuid.UUID
	ApproverID uuid.UUID
	Decision   string
	Comment    string
}

// RecordDecision appends the decision and re-evaluates quorum inside a single
// transaction, so the terminal threshold fires exactly one transition even
// under concurrent submissions. Transient store contention is retried a
// bounded number of times; domain errors propagate unmodified.
func (s *Service) RecordDecision(ctx context.Context, input DecisionInput) (*domain.ApprovalRequest, error) {
	if input.Decision != domain.DecisionApprove && input.Decision != domain.DecisionReject {
		return nil, domain.InvalidDecision(input.Decision)
	}

	var (
		request    *domain.ApprovalRequest
		transition *domain.Transition
	)
	attempt := 0
	for {
		request, transition = nil, nil
		err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			request, transition, err = s.recordDecisionTx(ctx, input)
			return err
		})
		if err == nil {
			break
		}
		if errors.Is(err, errRequestLapsed) {
			s.expireLapsed(ctx, request)
			return nil, domain.RequestNotPending(domain.RequestStatusExpired)
		}
		if !domain.IsTransient(err) || attempt >= s.decisions.MaxRetries {
			return nil, err
		}
		attempt++
		s.logger.Warn("decision transaction contended, retrying",
			logger.F("request_id", input.RequestID),
			logger.F("attempt", attempt))
		if err := retry.Sleep(ctx, s.backoff, attempt); err != nil {
			return nil, err
		}
	}

	if transition != nil {
		s.emit(ctx, *transition)
	}
	s.hooks.Notify(ctx, activity.Event{
		Verb:       "request.decided",
		ActorID:    input.ApproverID.String(),
		ObjectType: "approval_request",
		ObjectID:   input.RequestID.String(),
		Metadata: map[string]any{
			"decision": input.Decision,
			"status":   request.Status,
		},
	})
	return request, nil
}

// recordDecisionTx runs the locked read / evaluate / write cycle. It must be
// called inside a transaction.
func (s *Service) recordDecisionTx(ctx context.Context, input DecisionInput) (*domain.ApprovalRequest, *domain.Transition, error) {
	request, err := s.requests.GetForUpdate(ctx, input.RequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, domain.RequestNotFound(input.RequestID)
		}
		return nil, nil, err
	}

	now := s.clock().UTC()
	if request.Status != domain.RequestStatusPending {
		return nil, nil, domain.RequestNotPending(request.Status)
	}
	if !request.ExpiresAt.After(now) {
		// Lazy expiry: the sweep has not caught this request yet. The error
		// rolls this transaction back, so the caller runs the move separately.
		return request, nil, errRequestLapsed
	}

	designated, err := quorum.IsDesignated(ctx, request.Approvers, input.ApproverID, s.groups)
	if err != nil {
		return nil, nil, err
	}
	if !designated {
		return nil, nil, domain.NotAnApprover(input.ApproverID)
	}
	for _, existing := range request.Records {
		if existing.ApproverID == input.ApproverID {
			return nil, nil, domain.DuplicateDecision(input.ApproverID)
		}
	}

	record := &domain.ApprovalRecord{
		RequestID:  request.ID,
		ApproverID: input.ApproverID,
		Decision:   input.Decision,
		Comment:    input.Comment,
		DecidedAt:  now,
	}
	if err := s.requests.AppendRecord(ctx, record); err != nil {
		// Unique (request_id, approver_id) is the backstop under races.
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, domain.DuplicateDecision(input.ApproverID)
		}
		return nil, nil, err
	}
	request.Records = append(request.Records, *record)

	outcome, err := quorum.Evaluate(ctx, quorum.Input{
		Approvers:         request.Approvers,
		ApprovalsRequired: request.ApprovalsRequired,
		Ordering:          request.ApproverOrdering,
		Enforcement:       request.EnforcementLevel,
		Records:           request.Records,
	}, s.groups)
	if err != nil {
		return nil, nil, err
	}
	if outcome == domain.RequestStatusPending {
		return request, nil, nil
	}

	moved, err := s.requests.TransitionStatus(ctx, request.ID, domain.RequestStatusPending, outcome)
	if err != nil {
		return nil, nil, err
	}
	if !moved {
		// The row lock makes this unreachable; keep the terminal-state
		// contract anyway.
		return nil, nil, domain.RequestNotPending(outcome)
	}
	request.Status = outcome
	return request, &domain.Transition{
		RequestID:  request.ID,
		PolicyID:   request.PolicyID,
		From:       domain.RequestStatusPending,
		To:         outcome,
		OccurredAt: now,
	}, nil
}

// expireLapsed moves a past-TTL request to expired in its own transaction,
// mirroring what the sweep would do. The compare-and-set means a concurrent
// sweep or decision winning the race is fine; only the winner emits.
func (s *Service) expireLapsed(ctx context.Context, request *domain.ApprovalRequest) {
	moved := false
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		moved, err = s.requests.TransitionStatus(ctx, request.ID, domain.RequestStatusPending, domain.RequestStatusExpired)
		return err
	})
	if err != nil {
		s.logger.Warn("lapsed request expiry failed",
			logger.F("request_id", request.ID),
			logger.F("error", err))
		return
	}
	if moved {
		s.emit(ctx, domain.Transition{
			RequestID:  request.ID,
			PolicyID:   request.PolicyID,
			From:       domain.RequestStatusPending,
			To:         domain.RequestStatusExpired,
			OccurredAt: s.clock().UTC(),
		})
	}
}

// Get returns one request with its decision records.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.RequestNotFound(id)
		}
		return nil, err
	}
	return request, nil
}

// ListByRequester pages a user's own requests.
func (s *Service) ListByRequester(ctx context.Context, requesterID uuid.UUID, opts store.ListOptions) (store.ListResult[domain.ApprovalRequest], error) {
	return s.requests.ListByRequester(ctx, requesterID, opts)
}

// ExpireSweep transitions pending requests whose TTL elapsed. Idempotent and
// safe to run concurrently: each move is a compare-and-set, so a request
// concurrently decided or already swept is skipped.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	expirable, err := s.requests.ListExpirable(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, request := range expirable {
		moved := false
		err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			moved, err = s.requests.TransitionStatus(ctx, request.ID, domain.RequestStatusPending, domain.RequestStatusExpired)
			return err
		})
		if err != nil {
			return swept, err
		}
		if !moved {
			continue
		}
		swept++
		s.emit(ctx, domain.Transition{
			RequestID:  request.ID,
			PolicyID:   request.PolicyID,
			From:       domain.RequestStatusPending,
			To:         domain.RequestStatusExpired,
			OccurredAt: now,
		})
	}
	if swept > 0 {
		s.logger.Info("expired pending requests", logger.F("count", swept))
	}
	return swept, nil
}

// RunSweeper loops ExpireSweep until the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context) error {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = config.Defaults().Requests.SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ExpireSweep(ctx, s.clock().UTC()); err != nil {
				s.logger.Error("expiry sweep failed", logger.F("error", err))
			}
		}
	}
}

// CancelForPolicy bulk-cancels the policy's open requests. Called by the
// policy service as part of policy deletion.
func (s *Service) CancelForPolicy(ctx context.Context, policyID uuid.UUID) (int, error) {
	var cancelled int
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		cancelled, err = s.requests.CancelByPolicy(ctx, policyID)
		return err
	})
	return cancelled, err
}

// emit publishes the transition after commit; delivery failures are logged,
// never propagated into the already-committed transition.
func (s *Service) emit(ctx context.Context, transition domain.Transition) {
	topic := ""
	switch transition.To {
	case domain.RequestStatusApproved:
		topic = TopicRequestApproved
	case domain.RequestStatusRejected:
		topic = TopicRequestRejected
	case domain.RequestStatusExpired:
		topic = TopicRequestExpired
	default:
		return
	}
	if err := s.broadcaster.Broadcast(ctx, broadcaster.Event{Topic: topic, Payload: transition}); err != nil {
		s.logger.Warn("transition broadcast failed",
			logger.F("request_id", transition.RequestID),
			logger.F("topic", topic),
			logger.F("error", err))
	}
}

func snapshotApprovers(approvers []domain.PolicyApprover) domain.ApproverSnapshot {
	snapshot := make(domain.ApproverSnapshot, 0, len(approvers))
	for _, approver := range approvers {
		snapshot = append(snapshot, domain.SnapshotApprover{
			ApproverID:   approver.ApproverID,
			ApproverType: approver.ApproverType,
			Position:     approver.Position,
		})
	}
	return snapshot
}
