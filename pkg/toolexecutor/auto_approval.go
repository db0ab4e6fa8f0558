package toolexecutor

import "context"

// AutoApproveHandler approves every request without user interaction.
// Only the tier check is lifted; critical payloads and policy denials still apply.
type AutoApproveHandler struct{}

// RequestApproval implements ApprovalHandler.
func (AutoApproveHandler) RequestApproval(_ context.Context, _ ApprovalRequest) (ApprovalResponse, error) {
	return ApprovalResponse{Approved: true, Reason: "auto-approved"}, nil
}

// DenyAllHandler rejects every request. It is the non-interactive default.
type DenyAllHandler struct{}

// RequestApproval implements ApprovalHandler.
func (DenyAllHandler) RequestApproval(_ context.Context, _ ApprovalRequest) (ApprovalResponse, error) {
	return ApprovalResponse{Approved: false, Reason: "approval unavailable in non-interactive mode"}, nil
}
