// Package quorum decides the next state of an approval request from its
// snapshotted rules and the decisions recorded so far. It is pure: no storage
// access, only the membership lookup needed to expand group approvers at
// evaluation time.
package quorum

import (
	"context"
	"sort"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/google/uuid"
)

// Membership expands a group approver into its current member set.
type Membership interface {
	Members(ctx context.Context, groupID uuid.UUID) (map[uuid.UUID]struct{}, error)
}

// Input bundles the request's frozen rules with the recorded decisions.
// Records must be in decision (insertion) order.
type Input struct {
	Approvers         domain.ApproverSnapshot
	ApprovalsRequired int
	Ordering          string
	Enforcement       string
	Records           []domain.ApprovalRecord
}

// Evaluate returns the request status the decisions warrant: approved,
// rejected, or pending (unchanged). Rules, in order:
//
//  1. hard enforcement + any designated rejection -> rejected (veto)
//  2. sequential ordering: decisions only count when they arrive in declared
//     approver order; a rejection by the approver whose turn it is rejects
//  3. enough qualifying approvals -> approved
//  4. quorum arithmetically unreachable -> rejected
//  5. otherwise pending
func Evaluate(ctx context.Context, in Input, membership Membership) (string, error) {
	if in.ApprovalsRequired <= 0 {
		// Invalid configurations are rejected at authoring time; treat
		// defensively as an empty quorum.
		return domain.RequestStatusApproved, nil
	}

	slots, err := buildSlots(ctx, in.Approvers, membership)
	if err != nil {
		return "", err
	}

	if in.Enforcement == domain.EnforcementHard {
		for _, record := range in.Records {
			if record.Decision != domain.DecisionReject {
				continue
			}
			if slotFor(slots, record.ApproverID, false) >= 0 {
				return domain.RequestStatusRejected, nil
			}
		}
	}

	if in.Ordering == domain.OrderingSequential {
		return evaluateSequential(in, slots)
	}
	return evaluateUnordered(in, slots)
}

// IsDesignated reports whether the user is part of the snapshotted approver
// set, transitively through group membership.
func IsDesignated(ctx context.Context, approvers domain.ApproverSnapshot, userID uuid.UUID, membership Membership) (bool, error) {
	slots, err := buildSlots(ctx, approvers, membership)
	if err != nil {
		return false, err
	}
	return slotFor(slots, userID, false) >= 0, nil
}

// slot is one approver position. Group slots carry the member set expanded at
// evaluation time.
type slot struct {
	approverID uuid.UUID
	members    map[uuid.UUID]struct{}
	taken      bool
	approved   bool
}

func (s *slot) matches(userID uuid.UUID) bool {
	if s.approverID == userID {
		return true
	}
	if s.members == nil {
		return false
	}
	_, ok := s.members[userID]
	return ok
}

func buildSlots(ctx context.Context, approvers domain.ApproverSnapshot, membership Membership) ([]*slot, error) {
	ordered := make(domain.ApproverSnapshot, len(approvers))
	copy(ordered, approvers)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	slots := make([]*slot, 0, len(ordered))
	for _, approver := range ordered {
		s := &slot{approverID: approver.ApproverID}
		if approver.ApproverType == domain.ApproverTypeGroup && membership != nil {
			members, err := membership.Members(ctx, approver.ApproverID)
			if err != nil {
				return nil, err
			}
			s.members = members
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// slotFor finds the first slot the user can act for. With freeOnly, slots
// already consumed by another decision are skipped.
func slotFor(slots []*slot, userID uuid.UUID, freeOnly bool) int {
	for i, s := range slots {
		if freeOnly && s.taken {
			continue
		}
		if s.matches(userID) {
			return i
		}
	}
	return -1
}

// evaluateSequential replays decisions in the order they were recorded. A
// decision only counts when it comes from the approver whose turn it is; an
// out-of-turn decision stays on file for audit but never advances the count,
// even once its turn arrives. Because an approver gets exactly one decision,
// a turn held by an approver who already spent theirs can never be filled,
// so the quorum is unreachable and the request rejects.
func evaluateSequential(in Input, slots []*slot) (string, error) {
	decided := make(map[uuid.UUID]struct{}, len(in.Records))
	turn := 0
	approvals := 0
	for _, record := range in.Records {
		decided[record.ApproverID] = struct{}{}
		if turn >= len(slots) {
			continue
		}
		if !slots[turn].matches(record.ApproverID) {
			continue
		}
		if record.Decision == domain.DecisionReject {
			return domain.RequestStatusRejected, nil
		}
		approvals++
		if approvals >= in.ApprovalsRequired {
			return domain.RequestStatusApproved, nil
		}
		turn++
	}
	if turn >= len(slots) {
		// Ran out of slots with the quorum still open.
		return domain.RequestStatusRejected, nil
	}
	// A user slot is dead once its approver has decided; resubmission is a
	// conflict. Group slots stay open because membership can still change.
	current := slots[turn]
	if current.members == nil {
		if _, done := decided[current.approverID]; done {
			return domain.RequestStatusRejected, nil
		}
	}
	return domain.RequestStatusPending, nil
}

// evaluateUnordered assigns each decision to the first free slot its approver
// can act for. A slot settles on first decision; approvals count toward
// quorum, rejections make the slot unavailable. When the free slots left
// cannot close the gap, the quorum is unreachable.
func evaluateUnordered(in Input, slots []*slot) (string, error) {
	approvals := 0
	for _, record := range in.Records {
		idx := slotFor(slots, record.ApproverID, true)
		if idx < 0 {
			continue
		}
		slots[idx].taken = true
		slots[idx].approved = record.Decision == domain.DecisionApprove
		if slots[idx].approved {
			approvals++
			if approvals >= in.ApprovalsRequired {
				return domain.RequestStatusApproved, nil
			}
		}
	}

	free := 0
	for _, s := range slots {
		if !s.taken {
			free++
		}
	}
	if approvals+free < in.ApprovalsRequired {
		return domain.RequestStatusRejected, nil
	}
	return domain.RequestStatusPending, nil
}
