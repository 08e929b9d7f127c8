package quorum

import (
	"context"
	"testing"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/google/uuid"
)

type staticMembership map[uuid.UUID][]uuid.UUID

func (m staticMembership) Members(_ context.Context, groupID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	out := map[uuid.UUID]struct{}{}
	for _, id := range m[groupID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func users(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func userSnapshot(ids ...uuid.UUID) domain.ApproverSnapshot {
	snapshot := make(domain.ApproverSnapshot, 0, len(ids))
	for i, id := range ids {
		snapshot = append(snapshot, domain.SnapshotApprover{
			ApproverID:   id,
			ApproverType: domain.ApproverTypeUser,
			Position:     i,
		})
	}
	return snapshot
}

func record(approverID uuid.UUID, decision string) domain.ApprovalRecord {
	return domain.ApprovalRecord{ApproverID: approverID, Decision: decision}
}

func TestEvaluateUnordered(t *testing.T) {
	ids := users(3)
	a, b, c := ids[0], ids[1], ids[2]
	outsider := uuid.New()

	cases := []struct {
		name     string
		required int
		records  []domain.ApprovalRecord
		want     string
	}{
		{
			name:     "no decisions stays pending",
			required: 2,
			want:     domain.RequestStatusPending,
		},
		{
			name:     "one of two stays pending",
			required: 2,
			records:  []domain.ApprovalRecord{record(a, domain.DecisionApprove)},
			want:     domain.RequestStatusPending,
		},
		{
			name:     "quorum reached",
			required: 2,
			records: []domain.ApprovalRecord{
				record(a, domain.DecisionApprove),
				record(c, domain.DecisionApprove),
			},
			want: domain.RequestStatusApproved,
		},
		{
			name:     "rejections make quorum unreachable",
			required: 3,
			records:  []domain.ApprovalRecord{record(b, domain.DecisionReject)},
			want:     domain.RequestStatusRejected,
		},
		{
			name:     "rejection with slack stays pending",
			required: 2,
			records:  []domain.ApprovalRecord{record(b, domain.DecisionReject)},
			want:     domain.RequestStatusPending,
		},
		{
			name:     "outsider decisions never count",
			required: 2,
			records: []domain.ApprovalRecord{
				record(outsider, domain.DecisionApprove),
				record(outsider, domain.DecisionReject),
				record(a, domain.DecisionApprove),
			},
			want: domain.RequestStatusPending,
		},
		{
			name:     "zero required approves immediately",
			required: 0,
			want:     domain.RequestStatusApproved,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, err := Evaluate(context.Background(), Input{
				Approvers:         userSnapshot(a, b, c),
				ApprovalsRequired: tc.required,
				Ordering:          domain.OrderingUnordered,
				Enforcement:       domain.EnforcementSoft,
				Records:           tc.records,
			}, nil)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if status != tc.want {
				t.Fatalf("status = %q, want %q", status, tc.want)
			}
		})
	}
}

func TestEvaluateHardVeto(t *testing.T) {
	ids := users(3)
	a, b, c := ids[0], ids[1], ids[2]

	status, err := Evaluate(context.Background(), Input{
		Approvers:         userSnapshot(a, b, c),
		ApprovalsRequired: 1,
		Ordering:          domain.OrderingUnordered,
		Enforcement:       domain.EnforcementHard,
		Records: []domain.ApprovalRecord{
			record(c, domain.DecisionReject),
			record(a, domain.DecisionApprove),
		},
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if status != domain.RequestStatusRejected {
		t.Fatalf("status = %q, want rejected veto", status)
	}

	// The same veto from a non-designated user must not fire.
	status, err = Evaluate(context.Background(), Input{
		Approvers:         userSnapshot(a, b),
		ApprovalsRequired: 1,
		Ordering:          domain.OrderingUnordered,
		Enforcement:       domain.EnforcementHard,
		Records:           []domain.ApprovalRecord{record(uuid.New(), domain.DecisionReject)},
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if status != domain.RequestStatusPending {
		t.Fatalf("status = %q, want pending", status)
	}
}

func TestEvaluateSequential(t *testing.T) {
	ids := users(3)
	a, b, c := ids[0], ids[1], ids[2]

	cases := []struct {
		name     string
		required int
		records  []domain.ApprovalRecord
		want     string
	}{
		{
			name:     "in order approvals reach quorum",
			required: 2,
			records: []domain.ApprovalRecord{
				record(a, domain.DecisionApprove),
				record(b, domain.DecisionApprove),
			},
			want: domain.RequestStatusApproved,
		},
		{
			name:     "out of turn approval does not advance",
			required: 2,
			records: []domain.ApprovalRecord{
				record(c, domain.DecisionApprove),
				record(a, domain.DecisionApprove),
			},
			want: domain.RequestStatusPending,
		},
		{
			name:     "current turn rejection rejects",
			required: 2,
			records: []domain.ApprovalRecord{
				record(a, domain.DecisionApprove),
				record(b, domain.DecisionReject),
			},
			want: domain.RequestStatusRejected,
		},
		{
			name:     "out of turn soft rejection is moot",
			required: 2,
			records: []domain.ApprovalRecord{
				record(c, domain.DecisionReject),
				record(a, domain.DecisionApprove),
			},
			want: domain.RequestStatusPending,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, err := Evaluate(context.Background(), Input{
				Approvers:         userSnapshot(a, b, c),
				ApprovalsRequired: tc.required,
				Ordering:          domain.OrderingSequential,
				Enforcement:       domain.EnforcementSoft,
				Records:           tc.records,
			}, nil)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if status != tc.want {
				t.Fatalf("status = %q, want %q", status, tc.want)
			}
		})
	}
}

func TestEvaluateSequentialUnreachableQuorum(t *testing.T) {
	ids := users(2)
	a, b := ids[0], ids[1]

	cases := []struct {
		name    string
		records []domain.ApprovalRecord
	}{
		{
			name: "turn approver already approved out of turn",
			records: []domain.ApprovalRecord{
				record(b, domain.DecisionApprove),
				record(a, domain.DecisionApprove),
			},
		},
		{
			name: "turn approver already rejected out of turn",
			records: []domain.ApprovalRecord{
				record(b, domain.DecisionReject),
				record(a, domain.DecisionApprove),
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, err := Evaluate(context.Background(), Input{
				Approvers:         userSnapshot(a, b),
				ApprovalsRequired: 2,
				Ordering:          domain.OrderingSequential,
				Enforcement:       domain.EnforcementSoft,
				Records:           tc.records,
			}, nil)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if status != domain.RequestStatusRejected {
				t.Fatalf("status = %q, want rejected for a dead turn slot", status)
			}
		})
	}
}

func TestEvaluateSequentialGroupSlotStaysOpen(t *testing.T) {
	a := uuid.New()
	member := uuid.New()
	groupID := uuid.New()
	membership := staticMembership{groupID: {member}}

	snapshot := domain.ApproverSnapshot{
		{ApproverID: a, ApproverType: domain.ApproverTypeUser, Position: 0},
		{ApproverID: groupID, ApproverType: domain.ApproverTypeGroup, Position: 1},
	}

	// The only current group member decided out of turn, but the directory can
	// still add members, so the group slot keeps the request pending.
	status, err := Evaluate(context.Background(), Input{
		Approvers:         snapshot,
		ApprovalsRequired: 2,
		Ordering:          domain.OrderingSequential,
		Enforcement:       domain.EnforcementSoft,
		Records: []domain.ApprovalRecord{
			record(member, domain.DecisionApprove),
			record(a, domain.DecisionApprove),
		},
	}, membership)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if status != domain.RequestStatusPending {
		t.Fatalf("status = %q, want pending", status)
	}
}

func TestEvaluateSequentialRespectsPositionNotInsertion(t *testing.T) {
	ids := users(2)
	a, b := ids[0], ids[1]

	// b is declared first by position even though it appears last in the
	// snapshot slice.
	snapshot := domain.ApproverSnapshot{
		{ApproverID: a, ApproverType: domain.ApproverTypeUser, Position: 1},
		{ApproverID: b, ApproverType: domain.ApproverTypeUser, Position: 0},
	}

	status, err := Evaluate(context.Background(), Input{
		Approvers:         snapshot,
		ApprovalsRequired: 2,
		Ordering:          domain.OrderingSequential,
		Enforcement:       domain.EnforcementSoft,
		Records: []domain.ApprovalRecord{
			record(b, domain.DecisionApprove),
			record(a, domain.DecisionApprove),
		},
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if status != domain.RequestStatusApproved {
		t.Fatalf("status = %q, want approved", status)
	}
}

func TestEvaluateGroupApprovers(t *testing.T) {
	member := uuid.New()
	other := uuid.New()
	groupID := uuid.New()
	membership := staticMembership{groupID: {member, other}}

	snapshot := domain.ApproverSnapshot{
		{ApproverID: groupID, ApproverType: domain.ApproverTypeGroup, Position: 0},
		{ApproverID: groupID, ApproverType: domain.ApproverTypeGroup, Position: 1},
	}

	// Two members of the same group fill two group slots.
	status, err := Evaluate(context.Background(), Input{
		Approvers:         snapshot,
		ApprovalsRequired: 2,
		Ordering:          domain.OrderingUnordered,
		Enforcement:       domain.EnforcementSoft,
		Records: []domain.ApprovalRecord{
			record(member, domain.DecisionApprove),
			record(other, domain.DecisionApprove),
		},
	}, membership)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if status != domain.RequestStatusApproved {
		t.Fatalf("status = %q, want approved", status)
	}

	// A non-member never matches the group slot.
	status, err = Evaluate(context.Background(), Input{
		Approvers:         snapshot,
		ApprovalsRequired: 2,
		Ordering:          domain.OrderingUnordered,
		Enforcement:       domain.EnforcementSoft,
		Records:           []domain.ApprovalRecord{record(uuid.New(), domain.DecisionApprove)},
	}, membership)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if status != domain.RequestStatusPending {
		t.Fatalf("status = %q, want pending", status)
	}
}

func TestIsDesignated(t *testing.T) {
	member := uuid.New()
	direct := uuid.New()
	groupID := uuid.New()
	membership := staticMembership{groupID: {member}}

	snapshot := domain.ApproverSnapshot{
		{ApproverID: direct, ApproverType: domain.ApproverTypeUser, Position: 0},
		{ApproverID: groupID, ApproverType: domain.ApproverTypeGroup, Position: 1},
	}

	cases := []struct {
		name string
		user uuid.UUID
		want bool
	}{
		{"direct approver", direct, true},
		{"group member", member, true},
		{"outsider", uuid.New(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := IsDesignated(context.Background(), snapshot, tc.user, membership)
			if err != nil {
				t.Fatalf("IsDesignated: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("designated = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestQuorumMonotonicity(t *testing.T) {
	ids := users(4)
	snapshot := userSnapshot(ids...)

	records := []domain.ApprovalRecord{}
	for _, id := range ids {
		records = append(records, record(id, domain.DecisionApprove))
		for required := 1; required <= len(records); required++ {
			status, err := Evaluate(context.Background(), Input{
				Approvers:         snapshot,
				ApprovalsRequired: required,
				Ordering:          domain.OrderingUnordered,
				Enforcement:       domain.EnforcementSoft,
				Records:           records,
			}, nil)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if status != domain.RequestStatusApproved {
				t.Fatalf("%d approvals with %d required: status = %q, want approved", len(records), required, status)
			}
		}
	}
}
