// Package commands exposes go-command compatible handlers so host transports
// (HTTP, CLI, queues) can drive the engine without importing its services
// directly.
package commands

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-access-approval/internal/policies"
	"github.com/goliatone/go-access-approval/internal/requests"
	"github.com/goliatone/go-access-approval/pkg/interfaces/logger"
	command "github.com/goliatone/go-command"
	"github.com/google/uuid"
)

// CreatePolicy is the payload for creating a policy.
type CreatePolicy struct {
	ActorID           uuid.UUID                `json:"actor_id"`
	EnvironmentID     uuid.UUID                `json:"environment_id"`
	Name              string                   `json:"name"`
	SecretPathPattern string                   `json:"secret_path_pattern"`
	ApprovalsRequired int                      `json:"approvals_required"`
	ApproverOrdering  string                   `json:"approver_ordering"`
	EnforcementLevel  string                   `json:"enforcement_level"`
	Approvers         []policies.ApproverInput `json:"approvers"`
}

// DeletePolicy removes a policy and cancels its open requests.
type DeletePolicy struct {
	ActorID  uuid.UUID `json:"actor_id"`
	PolicyID uuid.UUID `json:"policy_id"`
}

// CreateRequest opens an approval request under a policy.
type CreateRequest struct {
	PolicyID    uuid.UUID `json:"policy_id"`
	RequesterID uuid.UUID `json:"requester_id"`
	SecretPath  string    `json:"secret_path"`
}

// RecordDecision submits one approver's decision.
type RecordDecision struct {
	RequestID  uuid.UUID `json:"request_id"`
	ApproverID uuid.UUID `json:"approver_id"`
	Decision   string    `json:"decision"`
	Comment    string    `json:"comment"`
}

// ExpireSweep triggers one expiry pass.
type ExpireSweep struct {
	Now time.Time `json:"now"`
}

// Catalog bundles the command handlers backed by the module services.
type Catalog struct {
	CreatePolicy   command.Commander[CreatePolicy]
	DeletePolicy   command.Commander[DeletePolicy]
	CreateRequest  command.Commander[CreateRequest]
	RecordDecision command.Commander[RecordDecision]
	ExpireSweep    command.Commander[ExpireSweep]
}

// Dependencies wires the services into the command catalog.
type Dependencies struct {
	Policies *policies.Service
	Requests *requests.Service
	Logger   logger.Logger
}

// NewCatalog builds the command catalog using the supplied dependencies.
func NewCatalog(deps Dependencies) (*Catalog, error) {
	if deps.Policies == nil {
		return nil, errors.New("commands: policy service is required")
	}
	if deps.Requests == nil {
		return nil, errors.New("commands: request service is required")
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	return &Catalog{
		CreatePolicy:   policyCreateCommand{svc: deps.Policies},
		DeletePolicy:   policyDeleteCommand{svc: deps.Policies},
		CreateRequest:  requestCreateCommand{svc: deps.Requests},
		RecordDecision: decisionCommand{svc: deps.Requests},
		ExpireSweep:    sweepCommand{svc: deps.Requests},
	}, nil
}

type policyCreateCommand struct {
	svc *policies.Service
}

func (c policyCreateCommand) Execute(ctx context.Context, msg CreatePolicy) error {
	_, err := c.svc.Create(ctx, msg.ActorID, policies.PolicyInput{
		EnvironmentID:     msg.EnvironmentID,
		Name:              msg.Name,
		SecretPathPattern: msg.SecretPathPattern,
		ApprovalsRequired: msg.ApprovalsRequired,
		ApproverOrdering:  msg.ApproverOrdering,
		EnforcementLevel:  msg.EnforcementLevel,
		Approvers:         msg.Approvers,
	})
	return err
}

type policyDeleteCommand struct {
	svc *policies.Service
}

func (c policyDeleteCommand) Execute(ctx context.Context, msg DeletePolicy) error {
	return c.svc.Delete(ctx, msg.ActorID, msg.PolicyID)
}

type requestCreateCommand struct {
	svc *requests.Service
}

func (c requestCreateCommand) Execute(ctx context.Context, msg CreateRequest) error {
	_, err := c.svc.CreateRequest(ctx, requests.CreateInput{
		PolicyID:    msg.PolicyID,
		RequesterID: msg.RequesterID,
		SecretPath:  msg.SecretPath,
	})
	return err
}

type decisionCommand struct {
	svc *requests.Service
}

func (c decisionCommand) Execute(ctx context.Context, msg RecordDecision) error {
	_, err := c.svc.RecordDecision(ctx, requests.DecisionInput{
		RequestID:  msg.RequestID,
		ApproverID: msg.ApproverID,
		Decision:   msg.Decision,
		Comment:    msg.Comment,
	})
	return err
}

type sweepCommand struct {
	svc *requests.Service
}

func (c sweepCommand) Execute(ctx context.Context, msg ExpireSweep) error {
	now := msg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := c.svc.ExpireSweep(ctx, now)
	return err
}
