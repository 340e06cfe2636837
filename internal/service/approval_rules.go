package service

import (
	"github.com/google/uuid"

	"ergon.app/erp/internal/model"
)

// maxDelegationDepth bounds how far a delegate chain is followed back to
// the listed approver it stands in for.
const maxDelegationDepth = 8

// eligibility describes on whose behalf an actor may act at a level.
type eligibility struct {
	// Principal is the listed approver the actor counts as.
	Principal uuid.UUID
	// Escalated is set when the actor is the level's escalation target
	// acting on an escalated request. Their approval satisfies the level.
	Escalated bool
}

// eligibleAt reports whether actor may act on req at level.
func eligibleAt(req *model.ApprovalRequest, level *model.ApprovalLevel, actor uuid.UUID) (eligibility, bool) {
	actions := req.ActionsAt(level.LevelNumber)
	if delegatedAway(actions, actor) {
		return eligibility{}, false
	}
	if level.Lists(actor) {
		return eligibility{Principal: actor}, true
	}
	if principal, ok := resolveDelegate(actions, level, actor); ok {
		return eligibility{Principal: principal}, true
	}
	if req.Status == model.ApprovalStatusEscalated && level.EscalationTo != nil && *level.EscalationTo == actor {
		return eligibility{Principal: actor, Escalated: true}, true
	}
	return eligibility{}, false
}

func delegatedAway(actions []model.ApprovalAction, actor uuid.UUID) bool {
	for _, a := range actions {
		if a.Action == model.ApprovalActionDelegate && a.ApproverID == actor {
			return true
		}
	}
	return false
}

// resolveDelegate follows Delegate actions from actor back to a listed approver.
func resolveDelegate(actions []model.ApprovalAction, level *model.ApprovalLevel, actor uuid.UUID) (uuid.UUID, bool) {
	current := actor
	for depth := 0; depth < maxDelegationDepth; depth++ {
		var from uuid.UUID
		found := false
		for _, a := range actions {
			if a.Action == model.ApprovalActionDelegate && a.DelegatedTo != nil && *a.DelegatedTo == current {
				from = a.ApproverID
				found = true
				break
			}
		}
		if !found {
			return uuid.Nil, false
		}
		if level.Lists(from) {
			return from, true
		}
		current = from
	}
	return uuid.Nil, false
}

// holderOf follows Delegate actions forward from principal to whoever now
// carries its obligation at the level.
func holderOf(actions []model.ApprovalAction, principal uuid.UUID) uuid.UUID {
	current := principal
	for depth := 0; depth < maxDelegationDepth; depth++ {
		next, ok := delegatedTo(actions, current)
		if !ok {
			break
		}
		current = next
	}
	return current
}

func delegatedTo(actions []model.ApprovalAction, actor uuid.UUID) (uuid.UUID, bool) {
	for _, a := range actions {
		if a.Action == model.ApprovalActionDelegate && a.ApproverID == actor && a.DelegatedTo != nil {
			return *a.DelegatedTo, true
		}
	}
	return uuid.Nil, false
}

// approvalsAt returns the distinct listed principals who approved at level,
// and whether an escalation target approved it outright. An approval counts
// for the approver when listed and for every listed approver whose
// obligation was delegated to them.
func approvalsAt(req *model.ApprovalRequest, level *model.ApprovalLevel) (map[uuid.UUID]struct{}, bool) {
	actions := req.ActionsAt(level.LevelNumber)
	principals := make(map[uuid.UUID]struct{})
	overridden := false
	for _, a := range actions {
		if a.Action != model.ApprovalActionApprove {
			continue
		}
		credited := false
		if level.Lists(a.ApproverID) {
			principals[a.ApproverID] = struct{}{}
			credited = true
		}
		for _, p := range level.ApproverIDs {
			if p != a.ApproverID && holderOf(actions, p) == a.ApproverID {
				principals[p] = struct{}{}
				credited = true
			}
		}
		if !credited && level.EscalationTo != nil && *level.EscalationTo == a.ApproverID {
			overridden = true
		}
	}
	return principals, overridden
}

// approvedBelow collects every principal who approved a level before n.
func approvedBelow(req *model.ApprovalRequest, wf *model.ApprovalWorkflow, n int) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{})
	for k := 1; k < n; k++ {
		level := wf.Level(k)
		if level == nil {
			continue
		}
		principals, _ := approvalsAt(req, level)
		for p := range principals {
			out[p] = struct{}{}
		}
	}
	return out
}

// levelSatisfied applies the workflow's approval type to level. Approvers in
// carried count toward the level when it allows skipping.
func levelSatisfied(wf *model.ApprovalWorkflow, req *model.ApprovalRequest, level *model.ApprovalLevel) bool {
	principals, overridden := approvalsAt(req, level)
	if overridden {
		return true
	}
	if level.SkipIfApprovedAbove {
		for p := range approvedBelow(req, wf, level.LevelNumber) {
			if level.Lists(p) {
				principals[p] = struct{}{}
			}
		}
	}

	switch wf.ApprovalType {
	case model.ApprovalTypeAnyApprover:
		return len(principals) > 0
	case model.ApprovalTypeAllApprovers:
		for _, id := range level.ApproverIDs {
			if _, ok := principals[id]; !ok {
				return false
			}
		}
		return true
	default:
		return len(principals) >= level.MinApprovers
	}
}
