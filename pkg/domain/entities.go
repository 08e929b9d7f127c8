package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecordMeta captures identifiers and audit fields shared across entities.
type RecordMeta struct {
	ID        uuid.UUID `bun:",pk,type:uuid" json:"id"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt time.Time `bun:",soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureID assigns a UUID when the struct is about to be persisted.
func (m *RecordMeta) EnsureID() {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
}

// Environment is the scope a policy attaches to. It is owned by an external
// project service; this module reads it (directory lookup or join columns)
// and never writes it.
type Environment struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	ProjectID string    `json:"project_id"`
}

// Approver ordering modes.
const (
	OrderingUnordered  = "unordered"
	OrderingSequential = "sequential"
)

// Enforcement levels. Hard blocks on any designated rejection; soft keeps the
// rejection as an auditable override trail without vetoing.
const (
	EnforcementHard = "hard"
	EnforcementSoft = "soft"
)

// Approver principal types. Groups are expanded to members at evaluation
// time, never at policy-authoring time.
const (
	ApproverTypeUser  = "user"
	ApproverTypeGroup = "group"
)

// AccessApprovalPolicy configures how many designated approvers must sign off
// before access to a secret path is granted.
type AccessApprovalPolicy struct {
	bun.BaseModel `bun:"table:access_approval_policies"`
	RecordMeta

	EnvironmentID     uuid.UUID `bun:",type:uuid,nullzero,notnull" json:"environment_id"`
	Name              string    `bun:",nullzero" json:"name"`
	SecretPathPattern string    `bun:",nullzero,notnull" json:"secret_path_pattern"`
	ApprovalsRequired int       `bun:",notnull" json:"approvals_required"`
	ApproverOrdering  string    `bun:",nullzero,notnull" json:"approver_ordering"`
	EnforcementLevel  string    `bun:",nullzero,notnull" json:"enforcement_level"`

	// Denormalized from the environment join; not columns of the policy table.
	Environment Environment `bun:"-" json:"environment"`
	ProjectID   string      `bun:"-" json:"project_id"`

	Approvers []PolicyApprover `bun:"rel:has-many,join:id=policy_id" json:"approvers"`
}

// PolicyApprover is one designated approver edge on a policy. Position is an
// explicit index so sequential policies do not depend on insertion order.
type PolicyApprover struct {
	bun.BaseModel `bun:"table:access_approval_policy_approvers"`
	RecordMeta

	PolicyID     uuid.UUID `bun:",type:uuid,notnull,unique:policy_approver" json:"policy_id"`
	ApproverID   uuid.UUID `bun:",type:uuid,notnull,unique:policy_approver" json:"approver_id"`
	ApproverType string    `bun:",nullzero,notnull" json:"approver_type"`
	Position     int       `bun:",notnull" json:"position"`
	Username     string    `bun:"-" json:"username,omitempty"`
}

// Request statuses. Every status except pending is terminal.
const (
	RequestStatusPending   = "pending"
	RequestStatusApproved  = "approved"
	RequestStatusRejected  = "rejected"
	RequestStatusExpired   = "expired"
	RequestStatusCancelled = "cancelled"
)

// TerminalStatus reports whether a request status admits no further transition.
func TerminalStatus(status string) bool {
	switch status {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusExpired, RequestStatusCancelled:
		return true
	}
	return false
}

// SnapshotApprover is one entry of the approver list frozen onto a request.
type SnapshotApprover struct {
	ApproverID   uuid.UUID `json:"approver_id"`
	ApproverType string    `json:"approver_type"`
	Position     int       `json:"position"`
}

// ApproverSnapshot persists the frozen approver list as JSON. The snapshot is
// written once at request creation and never mutated, so later policy edits
// cannot change the rules of an in-flight request.
type ApproverSnapshot []SnapshotApprover

func (s ApproverSnapshot) Value() (driver.Value, error) {
	if len(s) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]SnapshotApprover(s))
}

func (s *ApproverSnapshot) Scan(value any) error {
	if s == nil {
		return errors.New("ApproverSnapshot: Scan on nil pointer")
	}
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		if len(v) == 0 {
			*s = nil
			return nil
		}
		return json.Unmarshal(v, (*[]SnapshotApprover)(s))
	case string:
		if v == "" {
			*s = nil
			return nil
		}
		return json.Unmarshal([]byte(v), (*[]SnapshotApprover)(s))
	default:
		return fmt.Errorf("ApproverSnapshot: unsupported type %T", value)
	}
}

// ApprovalRequest is one user asking for access under a policy. The quorum
// rules that govern it are the snapshotted fields, not the live policy.
type ApprovalRequest struct {
	bun.BaseModel `bun:"table:access_approval_requests"`
	RecordMeta

	PolicyID    uuid.UUID `bun:",type:uuid,nullzero,notnull" json:"policy_id"`
	RequesterID uuid.UUID `bun:",type:uuid,nullzero,notnull" json:"requester_id"`
	SecretPath  string    `bun:",nullzero,notnull" json:"secret_path"`
	Status      string    `bun:",nullzero,notnull" json:"status"`
	ExpiresAt   time.Time `bun:",nullzero,notnull" json:"expires_at"`

	Approvers         ApproverSnapshot `bun:"type:jsonb,nullzero" json:"approvers"`
	ApprovalsRequired int              `bun:",notnull" json:"approvals_required"`
	ApproverOrdering  string           `bun:",nullzero,notnull" json:"approver_ordering"`
	EnforcementLevel  string           `bun:",nullzero,notnull" json:"enforcement_level"`

	Records []ApprovalRecord `bun:"rel:has-many,join:id=request_id" json:"records"`
}

// Decision values.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ApprovalRecord is one approver's decision on a request. At most one record
// exists per (request, approver); resubmission is a conflict, not an update.
type ApprovalRecord struct {
	bun.BaseModel `bun:"table:access_approval_records"`
	RecordMeta

	RequestID  uuid.UUID `bun:",type:uuid,notnull,unique:request_approver" json:"request_id"`
	ApproverID uuid.UUID `bun:",type:uuid,notnull,unique:request_approver" json:"approver_id"`
	Decision   string    `bun:",nullzero,notnull" json:"decision"`
	Comment    string    `bun:",nullzero" json:"comment,omitempty"`
	DecidedAt  time.Time `bun:",nullzero,notnull" json:"decided_at"`
}
