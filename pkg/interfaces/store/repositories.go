package store

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a record cannot be located.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when an insert violates a uniqueness constraint,
// e.g. a second decision record for the same (request, approver) pair.
var ErrConflict = errors.New("store: conflict")

// ListOptions capture pagination knobs common to repositories.
type ListOptions struct {
	Limit              int
	Offset             int
	IncludeSoftDeleted bool
}

// ListResult bundles records and totals.
type ListResult[T any] struct {
	Items []T
	Total int
}

// PolicyFilter is the closed filter surface for policy listing. Empty slices
// mean "any"; multiple values mean set membership. No arbitrary predicates.
type PolicyFilter struct {
	IDs            []uuid.UUID
	EnvironmentIDs []uuid.UUID
	ProjectIDs     []string
}

// Empty reports whether no predicate is set.
func (f PolicyFilter) Empty() bool {
	return len(f.IDs) == 0 && len(f.EnvironmentIDs) == 0 && len(f.ProjectIDs) == 0
}

// PolicyRepository persists policies together with their approver edges.
// GetByID is the authoritative read used at decision time and must hit the
// primary; Find tolerates replica staleness.
type PolicyRepository interface {
	Create(ctx context.Context, policy *domain.AccessApprovalPolicy) error
	Update(ctx context.Context, policy *domain.AccessApprovalPolicy) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AccessApprovalPolicy, error)
	Find(ctx context.Context, filter PolicyFilter, opts ListOptions) (ListResult[domain.AccessApprovalPolicy], error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RequestRepository persists approval requests and their decision records.
type RequestRepository interface {
	Create(ctx context.Context, request *domain.ApprovalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)
	// GetForUpdate loads the request plus records with a row lock where the
	// backend supports one; callers must be inside WithinTransaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)
	// AppendRecord inserts a decision record. A (request_id, approver_id)
	// uniqueness violation surfaces as a duplicate-decision conflict.
	AppendRecord(ctx context.Context, record *domain.ApprovalRecord) error
	// TransitionStatus compare-and-sets status from -> to. Returns false when
	// the request no longer has the expected status, without error.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	List(ctx context.Context, opts ListOptions) (ListResult[domain.ApprovalRequest], error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID, opts ListOptions) (ListResult[domain.ApprovalRequest], error)
	// ListExpirable returns pending requests whose expiry is at or before now.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalRequest, error)
	// CancelByPolicy bulk-transitions every pending request of the policy to
	// cancelled and reports how many moved.
	CancelByPolicy(ctx context.Context, policyID uuid.UUID) (int, error)
}
