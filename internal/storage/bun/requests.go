package bunrepo

import (
	"context"
	"time"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// RequestRepository persists approval requests and decision records. Plain
// reads go through go-repository-bun; the paths that must share the decision
// transaction use the handle carried by the context.
type RequestRepository struct {
	db   *bun.DB
	repo repository.Repository[*domain.ApprovalRequest]
}

var _ store.RequestRepository = (*RequestRepository)(nil)

func NewRequestRepository(db *bun.DB) *RequestRepository {
	handlers := repository.ModelHandlers[*domain.ApprovalRequest]{
		NewRecord: func() *domain.ApprovalRequest { return &domain.ApprovalRequest{} },
		GetID:     func(r *domain.ApprovalRequest) uuid.UUID { return r.ID },
		SetID: func(r *domain.ApprovalRequest, id uuid.UUID) {
			r.ID = id
		},
		GetIdentifier:      func() string { return "secret_path" },
		GetIdentifierValue: func(r *domain.ApprovalRequest) string { return r.SecretPath },
	}
	return &RequestRepository{
		db:   db,
		repo: repository.MustNewRepository[*domain.ApprovalRequest](db, handlers),
	}
}

func (r *RequestRepository) Create(ctx context.Context, request *domain.ApprovalRequest) error {
	request.EnsureID()
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now
	if request.Status == "" {
		request.Status = domain.RequestStatusPending
	}
	_, err := r.repo.Create(ctx, request)
	return mapError(err)
}

func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	request, err := r.repo.Get(ctx, withID(id), withoutDeleted())
	if err != nil {
		return nil, mapError(err)
	}
	if err := r.loadRecords(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// GetForUpdate reads the request with a row lock on dialects that support
// SELECT FOR UPDATE. SQLite serializes at the transaction level instead.
func (r *RequestRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	idb := conn(ctx, r.db)
	request := new(domain.ApprovalRequest)
	q := idb.NewSelect().
		Model(request).
		Where("id = ?", id).
		Where("deleted_at IS NULL")
	if r.db.Dialect().Name() != dialect.SQLite {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	if err := r.loadRecords(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

func (r *RequestRepository) AppendRecord(ctx context.Context, record *domain.ApprovalRecord) error {
	record.EnsureID()
	now := time.Now().UTC()
	if record.DecidedAt.IsZero() {
		record.DecidedAt = now
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	_, err := conn(ctx, r.db).NewInsert().Model(record).Exec(ctx)
	return mapError(err)
}

func (r *RequestRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	res, err := conn(ctx, r.db).NewUpdate().
		Model((*domain.ApprovalRequest)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *RequestRepository) List(ctx context.Context, opts store.ListOptions) (store.ListResult[domain.ApprovalRequest], error) {
	records, total, err := r.repo.List(ctx, withListOptions(opts))
	if err != nil {
		return store.ListResult[domain.ApprovalRequest]{}, mapError(err)
	}
	items, err := r.collect(ctx, records)
	if err != nil {
		return store.ListResult[domain.ApprovalRequest]{}, err
	}
	return store.ListResult[domain.ApprovalRequest]{Items: items, Total: total}, nil
}

func (r *RequestRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID, opts store.ListOptions) (store.ListResult[domain.ApprovalRequest], error) {
	records, total, err := r.repo.List(ctx, withRequester(requesterID), withListOptions(opts))
	if err != nil {
		return store.ListResult[domain.ApprovalRequest]{}, mapError(err)
	}
	items, err := r.collect(ctx, records)
	if err != nil {
		return store.ListResult[domain.ApprovalRequest]{}, err
	}
	return store.ListResult[domain.ApprovalRequest]{Items: items, Total: total}, nil
}

func (r *RequestRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalRequest, error) {
	var requests []domain.ApprovalRequest
	q := conn(ctx, r.db).NewSelect().
		Model(&requests).
		Where("status = ?", domain.RequestStatusPending).
		Where("expires_at <= ?", now).
		Where("deleted_at IS NULL").
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	return requests, nil
}

func (r *RequestRepository) CancelByPolicy(ctx context.Context, policyID uuid.UUID) (int, error) {
	res, err := conn(ctx, r.db).NewUpdate().
		Model((*domain.ApprovalRequest)(nil)).
		Set("status = ?", domain.RequestStatusCancelled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("policy_id = ?", policyID).
		Where("status = ?", domain.RequestStatusPending).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *RequestRepository) loadRecords(ctx context.Context, request *domain.ApprovalRequest) error {
	var records []domain.ApprovalRecord
	err := conn(ctx, r.db).NewSelect().
		Model(&records).
		Where("request_id = ?", request.ID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return mapError(err)
	}
	request.Records = records
	return nil
}

func (r *RequestRepository) collect(ctx context.Context, records []*domain.ApprovalRequest) ([]domain.ApprovalRequest, error) {
	if len(records) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(records))
	byID := make(map[uuid.UUID]*domain.ApprovalRequest, len(records))
	items := make([]domain.ApprovalRequest, len(records))
	for i, rec := range records {
		items[i] = *rec
		ids = append(ids, rec.ID)
		byID[rec.ID] = &items[i]
	}

	var children []domain.ApprovalRecord
	err := conn(ctx, r.db).NewSelect().
		Model(&children).
		Where("request_id IN (?)", bun.In(ids)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	for _, child := range children {
		if parent, ok := byID[child.RequestID]; ok {
			parent.Records = append(parent.Records, child)
		}
	}
	return items, nil
}
