package usecase

import (
	"github.com/mohitkumawat/realpm/internal/biz/domain"
)

// ApprovalPolicy decides the initial status of a freshly planned action.
// Direct replies auto-approve when the model is confident; state-changing
// tasks additionally require the trigger to come from the operator.
type ApprovalPolicy struct {
	operatorUserID string
}

// NewApprovalPolicy creates a new approval policy
func NewApprovalPolicy(operatorUserID string) *ApprovalPolicy {
	return &ApprovalPolicy{operatorUserID: operatorUserID}
}

// Decide returns the status the action enters the queue with.
func (p *ApprovalPolicy) Decide(a *domain.Action) domain.ActionStatus {
	authorized := p.operatorUserID != "" && a.TriggerUserID == p.operatorUserID

	switch a.Type {
	case domain.ActionSendMessage, domain.ActionDraftReply:
		if a.Confidence > 0.7 {
			return domain.StatusApproved
		}
	case domain.ActionScheduleMessage, domain.ActionUpdateContextSection:
		if authorized && a.Confidence > 0.85 {
			return domain.StatusApproved
		}
	}
	return domain.StatusPending
}
