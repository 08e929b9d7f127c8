// Package assembler denormalizes flat policy join rows into nested policy
// aggregates. The backing query joins policy -> environment and left-joins the
// approver edges, so one policy appears once per approver, or once with null
// approver columns when it has none.
package assembler

import (
	"database/sql"
	"time"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/google/uuid"
)

// PolicyRow is one flat row of the policy find query. Approver columns come
// from an outer join and may be null.
type PolicyRow struct {
	PolicyID          uuid.UUID `bun:"policy_id"`
	Name              string    `bun:"name"`
	SecretPathPattern string    `bun:"secret_path_pattern"`
	ApprovalsRequired int       `bun:"approvals_required"`
	ApproverOrdering  string    `bun:"approver_ordering"`
	EnforcementLevel  string    `bun:"enforcement_level"`
	CreatedAt         time.Time `bun:"created_at"`
	UpdatedAt         time.Time `bun:"updated_at"`

	EnvID     uuid.UUID `bun:"env_id"`
	EnvSlug   string    `bun:"env_slug"`
	EnvName   string    `bun:"env_name"`
	ProjectID string    `bun:"project_id"`

	ApproverID       uuid.NullUUID  `bun:"approver_id"`
	ApproverType     sql.NullString `bun:"approver_type"`
	ApproverPosition sql.NullInt64  `bun:"approver_position"`
	ApproverUsername sql.NullString `bun:"approver_username"`
}

// NestPolicies folds rows into one aggregate per distinct policy id,
// preserving first-seen order. Parent fields are captured on first sight;
// duplicate approver edges introduced by extra join fan-out are dropped. A
// row missing required parent columns fails the whole assembly rather than
// silently dropping a policy.
func NestPolicies(rows []PolicyRow) ([]domain.AccessApprovalPolicy, error) {
	aggregates := make([]domain.AccessApprovalPolicy, 0, len(rows))
	index := make(map[uuid.UUID]int, len(rows))
	seenApprovers := make(map[uuid.UUID]map[uuid.UUID]struct{})

	for i := range rows {
		row := &rows[i]
		if row.PolicyID == uuid.Nil {
			return nil, domain.AssemblyError("join row %d has no policy id", i)
		}
		if row.EnvID == uuid.Nil {
			return nil, domain.AssemblyError("join row %d for policy %s has no environment", i, row.PolicyID)
		}

		pos, ok := index[row.PolicyID]
		if !ok {
			pos = len(aggregates)
			index[row.PolicyID] = pos
			aggregates = append(aggregates, materializeParent(row))
			seenApprovers[row.PolicyID] = make(map[uuid.UUID]struct{})
		}

		if !row.ApproverID.Valid {
			continue
		}
		approverID := row.ApproverID.UUID
		if _, dup := seenApprovers[row.PolicyID][approverID]; dup {
			continue
		}
		seenApprovers[row.PolicyID][approverID] = struct{}{}

		approverType := domain.ApproverTypeUser
		if row.ApproverType.Valid && row.ApproverType.String != "" {
			approverType = row.ApproverType.String
		}
		aggregates[pos].Approvers = append(aggregates[pos].Approvers, domain.PolicyApprover{
			PolicyID:     row.PolicyID,
			ApproverID:   approverID,
			ApproverType: approverType,
			Position:     int(row.ApproverPosition.Int64),
			Username:     row.ApproverUsername.String,
		})
	}

	return aggregates, nil
}

func materializeParent(row *PolicyRow) domain.AccessApprovalPolicy {
	policy := domain.AccessApprovalPolicy{
		EnvironmentID:     row.EnvID,
		Name:              row.Name,
		SecretPathPattern: row.SecretPathPattern,
		ApprovalsRequired: row.ApprovalsRequired,
		ApproverOrdering:  row.ApproverOrdering,
		EnforcementLevel:  row.EnforcementLevel,
		Environment: domain.Environment{
			ID:        row.EnvID,
			Slug:      row.EnvSlug,
			Name:      row.EnvName,
			ProjectID: row.ProjectID,
		},
		ProjectID: row.ProjectID,
	}
	policy.ID = row.PolicyID
	policy.CreatedAt = row.CreatedAt
	policy.UpdatedAt = row.UpdatedAt
	return policy
}
