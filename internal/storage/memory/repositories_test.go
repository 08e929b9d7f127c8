package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	"github.com/google/uuid"
)

func samplePolicy(approvers ...uuid.UUID) *domain.AccessApprovalPolicy {
	policy := &domain.AccessApprovalPolicy{
		EnvironmentID:     uuid.New(),
		Name:              "prod secrets",
		SecretPathPattern: "/prod/**",
		ApprovalsRequired: 1,
		ApproverOrdering:  domain.OrderingUnordered,
		EnforcementLevel:  domain.EnforcementHard,
	}
	for i, id := range approvers {
		policy.Approvers = append(policy.Approvers, domain.PolicyApprover{
			ApproverID:   id,
			ApproverType: domain.ApproverTypeUser,
			Position:     i,
		})
	}
	return policy
}

func TestPolicyRepositoryRoundTrip(t *testing.T) {
	repo := NewPolicyRepository()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	policy := samplePolicy(a, b)
	if err := repo.Create(ctx, policy); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if policy.ID == uuid.Nil {
		t.Fatal("id not assigned on create")
	}

	got, err := repo.GetByID(ctx, policy.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.Approvers) != 2 {
		t.Fatalf("got %d approvers, want 2", len(got.Approvers))
	}
	for i, edge := range got.Approvers {
		if edge.PolicyID != policy.ID {
			t.Fatalf("edge %d missing policy id", i)
		}
	}

	// Mutating the returned aggregate must not leak into the store.
	got.Approvers[0].ApproverID = uuid.New()
	again, err := repo.GetByID(ctx, policy.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if again.Approvers[0].ApproverID != a {
		t.Fatal("stored aggregate mutated through returned copy")
	}
}

func TestPolicyRepositoryDuplicateApprover(t *testing.T) {
	repo := NewPolicyRepository()
	approverID := uuid.New()
	policy := samplePolicy(approverID, approverID)

	err := repo.Create(context.Background(), policy)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestPolicyRepositoryFindFilters(t *testing.T) {
	repo := NewPolicyRepository()
	ctx := context.Background()

	first := samplePolicy(uuid.New())
	second := samplePolicy(uuid.New())
	for _, policy := range []*domain.AccessApprovalPolicy{first, second} {
		if err := repo.Create(ctx, policy); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	result, err := repo.Find(ctx, store.PolicyFilter{EnvironmentIDs: []uuid.UUID{first.EnvironmentID}}, store.ListOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ID != first.ID {
		t.Fatalf("environment filter returned %d items", len(result.Items))
	}

	all, err := repo.Find(ctx, store.PolicyFilter{}, store.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(all.Items) != 1 || all.Total != 2 {
		t.Fatalf("pagination wrong: %d items, total %d", len(all.Items), all.Total)
	}
}

func TestPolicyRepositoryDelete(t *testing.T) {
	repo := NewPolicyRepository()
	ctx := context.Background()
	policy := samplePolicy(uuid.New())
	if err := repo.Create(ctx, policy); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.Delete(ctx, policy.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, policy.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted policy still readable: %v", err)
	}
	if err := repo.Delete(ctx, policy.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v, want not found", err)
	}
}

func sampleRequest(policyID uuid.UUID, expiresAt time.Time) *domain.ApprovalRequest {
	return &domain.ApprovalRequest{
		PolicyID:    policyID,
		RequesterID: uuid.New(),
		SecretPath:  "/prod/db/password",
		Status:      domain.RequestStatusPending,
		ExpiresAt:   expiresAt,
		Approvers: domain.ApproverSnapshot{
			{ApproverID: uuid.New(), ApproverType: domain.ApproverTypeUser},
		},
		ApprovalsRequired: 1,
		ApproverOrdering:  domain.OrderingUnordered,
		EnforcementLevel:  domain.EnforcementSoft,
	}
}

func TestRequestRepositoryAppendRecord(t *testing.T) {
	repo := NewRequestRepository()
	ctx := context.Background()
	request := sampleRequest(uuid.New(), time.Now().Add(time.Hour))
	if err := repo.Create(ctx, request); err != nil {
		t.Fatalf("Create: %v", err)
	}

	approverID := uuid.New()
	record := &domain.ApprovalRecord{
		RequestID:  request.ID,
		ApproverID: approverID,
		Decision:   domain.DecisionApprove,
	}
	if err := repo.AppendRecord(ctx, record); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if record.ID == uuid.Nil || record.DecidedAt.IsZero() {
		t.Fatalf("record metadata not filled: %+v", record)
	}

	dup := &domain.ApprovalRecord{
		RequestID:  request.ID,
		ApproverID: approverID,
		Decision:   domain.DecisionReject,
	}
	if err := repo.AppendRecord(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate append err = %v, want conflict", err)
	}

	orphan := &domain.ApprovalRecord{RequestID: uuid.New(), ApproverID: uuid.New(), Decision: domain.DecisionApprove}
	if err := repo.AppendRecord(ctx, orphan); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("orphan append err = %v, want not found", err)
	}

	got, err := repo.GetByID(ctx, request.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(got.Records))
	}
}

func TestRequestRepositoryTransitionStatus(t *testing.T) {
	repo := NewRequestRepository()
	ctx := context.Background()
	request := sampleRequest(uuid.New(), time.Now().Add(time.Hour))
	if err := repo.Create(ctx, request); err != nil {
		t.Fatalf("Create: %v", err)
	}

	moved, err := repo.TransitionStatus(ctx, request.ID, domain.RequestStatusPending, domain.RequestStatusApproved)
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if !moved {
		t.Fatal("first transition did not move")
	}

	// Compare-and-set fails once the row left the expected status.
	moved, err = repo.TransitionStatus(ctx, request.ID, domain.RequestStatusPending, domain.RequestStatusRejected)
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if moved {
		t.Fatal("second transition moved an already terminal request")
	}

	if _, err := repo.TransitionStatus(ctx, uuid.New(), domain.RequestStatusPending, domain.RequestStatusApproved); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing request err = %v, want not found", err)
	}
}

func TestRequestRepositoryListExpirable(t *testing.T) {
	repo := NewRequestRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := sampleRequest(uuid.New(), now.Add(-time.Minute))
	fresh := sampleRequest(uuid.New(), now.Add(time.Hour))
	terminal := sampleRequest(uuid.New(), now.Add(-time.Minute))
	terminal.Status = domain.RequestStatusApproved
	for _, request := range []*domain.ApprovalRequest{stale, fresh, terminal} {
		if err := repo.Create(ctx, request); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	expirable, err := repo.ListExpirable(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpirable: %v", err)
	}
	if len(expirable) != 1 || expirable[0].ID != stale.ID {
		t.Fatalf("expirable = %d items, want just the stale pending request", len(expirable))
	}
}

func TestRequestRepositoryCancelByPolicy(t *testing.T) {
	repo := NewRequestRepository()
	ctx := context.Background()
	policyID := uuid.New()

	pending := sampleRequest(policyID, time.Now().Add(time.Hour))
	decided := sampleRequest(policyID, time.Now().Add(time.Hour))
	decided.Status = domain.RequestStatusRejected
	foreign := sampleRequest(uuid.New(), time.Now().Add(time.Hour))
	for _, request := range []*domain.ApprovalRequest{pending, decided, foreign} {
		if err := repo.Create(ctx, request); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	cancelled, err := repo.CancelByPolicy(ctx, policyID)
	if err != nil {
		t.Fatalf("CancelByPolicy: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("cancelled = %d, want 1", cancelled)
	}
	got, err := repo.GetByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.RequestStatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}
	untouched, err := repo.GetByID(ctx, foreign.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if untouched.Status != domain.RequestStatusPending {
		t.Fatalf("foreign request cancelled")
	}
}

func TestTxManagerSerializes(t *testing.T) {
	tm := NewTxManager()
	ctx := context.Background()

	active := 0
	maxActive := 0
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = tm.WithinTransaction(ctx, func(ctx context.Context) error {
				active++
				if active > maxActive {
					maxActive = active
				}
				active--
				return nil
			})
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if maxActive != 1 {
		t.Fatalf("transactions overlapped: max active %d", maxActive)
	}
}
