package memory

import (
	"context"
	"time"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	"github.com/google/uuid"
)

// RequestRepository is the in-memory request store. Records live on the
// request aggregate; the repository mutex doubles as the row lock the bun
// backend gets from its transaction.
type RequestRepository struct {
	base baseMemoryRepo[domain.ApprovalRequest]
}

var _ store.RequestRepository = (*RequestRepository)(nil)

func NewRequestRepository() *RequestRepository {
	return &RequestRepository{
		base: newBaseMemoryRepo(func(r *domain.ApprovalRequest) *domain.RecordMeta { return &r.RecordMeta }),
	}
}

func (r *RequestRepository) Create(ctx context.Context, request *domain.ApprovalRequest) error {
	if request.Status == "" {
		request.Status = domain.RequestStatusPending
	}
	return r.base.create(ctx, request)
}

func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	request, err := r.base.getByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return cloneRequest(request), nil
}

// GetForUpdate matches GetByID here; serialization comes from the memory
// transaction manager's global lock.
func (r *RequestRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *RequestRepository) AppendRecord(ctx context.Context, record *domain.ApprovalRecord) error {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	request, ok := r.base.records[record.RequestID]
	if !ok {
		return store.ErrNotFound
	}
	for _, existing := range request.Records {
		if existing.ApproverID == record.ApproverID {
			return store.ErrConflict
		}
	}
	record.EnsureID()
	if record.DecidedAt.IsZero() {
		record.DecidedAt = time.Now().UTC()
	}
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	request.Records = append(request.Records, *record)
	touch(&request.RecordMeta)
	r.base.records[record.RequestID] = request
	return nil
}

func (r *RequestRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	request, ok := r.base.records[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if request.Status != from {
		return false, nil
	}
	request.Status = to
	touch(&request.RecordMeta)
	r.base.records[id] = request
	return true, nil
}

func (r *RequestRepository) List(ctx context.Context, opts store.ListOptions) (store.ListResult[domain.ApprovalRequest], error) {
	return r.listWith(ctx, opts, nil)
}

func (r *RequestRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID, opts store.ListOptions) (store.ListResult[domain.ApprovalRequest], error) {
	return r.listWith(ctx, opts, func(req *domain.ApprovalRequest) bool {
		return req.RequesterID == requesterID
	})
}

func (r *RequestRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalRequest, error) {
	result, err := r.listWith(ctx, store.ListOptions{Limit: limit}, func(req *domain.ApprovalRequest) bool {
		return req.Status == domain.RequestStatusPending && !req.ExpiresAt.After(now)
	})
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (r *RequestRepository) CancelByPolicy(ctx context.Context, policyID uuid.UUID) (int, error) {
	r.base.mu.Lock()
	defer r.base.mu.Unlock()

	moved := 0
	for id, request := range r.base.records {
		if request.PolicyID != policyID || request.Status != domain.RequestStatusPending {
			continue
		}
		request.Status = domain.RequestStatusCancelled
		touch(&request.RecordMeta)
		r.base.records[id] = request
		moved++
	}
	return moved, nil
}

func (r *RequestRepository) listWith(ctx context.Context, opts store.ListOptions, keep func(*domain.ApprovalRequest) bool) (store.ListResult[domain.ApprovalRequest], error) {
	result, err := r.base.list(ctx, opts, keep)
	if err != nil {
		return store.ListResult[domain.ApprovalRequest]{}, err
	}
	for i := range result.Items {
		result.Items[i] = *cloneRequest(&result.Items[i])
	}
	return result, nil
}

func cloneRequest(request *domain.ApprovalRequest) *domain.ApprovalRequest {
	out := *request
	out.Approvers = make(domain.ApproverSnapshot, len(request.Approvers))
	copy(out.Approvers, request.Approvers)
	out.Records = make([]domain.ApprovalRecord, len(request.Records))
	copy(out.Records, request.Records)
	return &out
}
