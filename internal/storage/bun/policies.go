package bunrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-access-approval/internal/assembler"
	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PolicyRepository reads and writes policy aggregates. Reads run the wide
// join (policy -> environment, left-join approver edges -> users) and nest
// the flat rows through the assembler, mirroring the persisted layout: the
// environments and users tables are owned by the host and only joined here.
type PolicyRepository struct {
	db      *bun.DB
	replica *bun.DB
}

var _ store.PolicyRepository = (*PolicyRepository)(nil)

// PolicyOption configures the repository.
type PolicyOption func(*PolicyRepository)

// WithReadReplica routes Find through a replica connection. Staleness is
// acceptable for listing; GetByID always reads the primary because it feeds
// decision-time checks.
func WithReadReplica(replica *bun.DB) PolicyOption {
	return func(r *PolicyRepository) {
		r.replica = replica
	}
}

func NewPolicyRepository(db *bun.DB, opts ...PolicyOption) *PolicyRepository {
	repo := &PolicyRepository{db: db}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

func (r *PolicyRepository) Create(ctx context.Context, policy *domain.AccessApprovalPolicy) error {
	policy.EnsureID()
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(policy).Exec(ctx); err != nil {
			return err
		}
		return insertApprovers(ctx, tx, policy)
	})
	return mapError(err)
}

func (r *PolicyRepository) Update(ctx context.Context, policy *domain.AccessApprovalPolicy) error {
	policy.UpdatedAt = time.Now().UTC()

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(policy).
			WherePK().
			Where("deleted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return store.ErrNotFound
		}
		// Approver edges are replaced wholesale; request snapshots keep the
		// old rules for in-flight requests.
		if _, err := tx.NewDelete().
			Model((*domain.PolicyApprover)(nil)).
			Where("policy_id = ?", policy.ID).
			Exec(ctx); err != nil {
			return err
		}
		return insertApprovers(ctx, tx, policy)
	})
	return mapError(err)
}

func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AccessApprovalPolicy, error) {
	var rows []assembler.PolicyRow
	err := r.findQuery(conn(ctx, r.db), store.PolicyFilter{IDs: []uuid.UUID{id}}).Scan(ctx, &rows)
	if err != nil {
		return nil, mapError(err)
	}
	policies, err := assembler.NestPolicies(rows)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, store.ErrNotFound
	}
	return &policies[0], nil
}

func (r *PolicyRepository) Find(ctx context.Context, filter store.PolicyFilter, opts store.ListOptions) (store.ListResult[domain.AccessApprovalPolicy], error) {
	idb := bun.IDB(r.db)
	if r.replica != nil {
		idb = r.replica
	}

	var rows []assembler.PolicyRow
	q := r.findQuery(idb, filter)
	// Pagination applies to parent policies, not join rows, so page ids first.
	if opts.Limit > 0 || opts.Offset > 0 {
		sub := idb.NewSelect().
			Table("access_approval_policies").
			Column("id").
			Where("deleted_at IS NULL").
			OrderExpr("created_at ASC").
			Limit(opts.Limit).
			Offset(opts.Offset)
		q = q.Where("p.id IN (?)", sub)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return store.ListResult[domain.AccessApprovalPolicy]{}, mapError(err)
	}
	policies, err := assembler.NestPolicies(rows)
	if err != nil {
		return store.ListResult[domain.AccessApprovalPolicy]{}, err
	}
	return store.ListResult[domain.AccessApprovalPolicy]{Items: policies, Total: len(policies)}, nil
}

func (r *PolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewUpdate().
		Model((*domain.AccessApprovalPolicy)(nil)).
		Set("deleted_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *PolicyRepository) findQuery(idb bun.IDB, filter store.PolicyFilter) *bun.SelectQuery {
	q := idb.NewSelect().
		TableExpr("access_approval_policies AS p").
		ColumnExpr("p.id AS policy_id").
		ColumnExpr("p.name AS name").
		ColumnExpr("p.secret_path_pattern AS secret_path_pattern").
		ColumnExpr("p.approvals_required AS approvals_required").
		ColumnExpr("p.approver_ordering AS approver_ordering").
		ColumnExpr("p.enforcement_level AS enforcement_level").
		ColumnExpr("p.created_at AS created_at").
		ColumnExpr("p.updated_at AS updated_at").
		ColumnExpr("e.id AS env_id").
		ColumnExpr("e.slug AS env_slug").
		ColumnExpr("e.name AS env_name").
		ColumnExpr("e.project_id AS project_id").
		ColumnExpr("pa.approver_id AS approver_id").
		ColumnExpr("pa.approver_type AS approver_type").
		ColumnExpr("pa.position AS approver_position").
		ColumnExpr("u.username AS approver_username").
		Join("JOIN environments AS e ON e.id = p.environment_id").
		Join("LEFT JOIN access_approval_policy_approvers AS pa ON pa.policy_id = p.id AND pa.deleted_at IS NULL").
		Join("LEFT JOIN users AS u ON u.id = pa.approver_id").
		Where("p.deleted_at IS NULL").
		OrderExpr("p.created_at ASC, p.id ASC, pa.position ASC")

	if len(filter.IDs) > 0 {
		q = q.Where("p.id IN (?)", bun.In(filter.IDs))
	}
	if len(filter.EnvironmentIDs) > 0 {
		q = q.Where("p.environment_id IN (?)", bun.In(filter.EnvironmentIDs))
	}
	if len(filter.ProjectIDs) > 0 {
		q = q.Where("e.project_id IN (?)", bun.In(filter.ProjectIDs))
	}
	return q
}

func insertApprovers(ctx context.Context, tx bun.Tx, policy *domain.AccessApprovalPolicy) error {
	if len(policy.Approvers) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range policy.Approvers {
		edge := &policy.Approvers[i]
		edge.EnsureID()
		edge.PolicyID = policy.ID
		if edge.CreatedAt.IsZero() {
			edge.CreatedAt = now
		}
		edge.UpdatedAt = now
	}
	_, err := tx.NewInsert().Model(&policy.Approvers).Exec(ctx)
	return err
}
