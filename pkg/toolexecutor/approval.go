package toolexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/danger"
	"github.com/rs/zerolog/log"
)

// ApprovalRequest asks a human to approve one invocation of an
// ApprovalRequired tool.
type ApprovalRequest struct {
	InvocationID string                `json:"invocation_id"`
	Tool         string                `json:"tool"`
	PluginID     string                `json:"plugin_id"`
	PrincipalID  string                `json:"principal_id,omitempty"`
	Tier         danger.Tier           `json:"tier"`
	Reason       string                `json:"reason"`
	Findings     []contentscan.Finding `json:"findings,omitempty"`
	Params       map[string]any        `json:"params,omitempty"`
	Timeout      time.Duration         `json:"timeout"`
}

// ApprovalResponse is the human's answer.
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// ApprovalHandler delivers requests to whoever can approve them.
type ApprovalHandler interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error)
}

// ApprovalManager bounds approval requests with a timeout. Errors and
// timeouts count as a denial.
type ApprovalManager struct {
	handler        ApprovalHandler
	defaultTimeout time.Duration
}

// NewApprovalManager creates a manager with a 60s default timeout.
func NewApprovalManager(handler ApprovalHandler) *ApprovalManager {
	return &ApprovalManager{
		handler:        handler,
		defaultTimeout: 60 * time.Second,
	}
}

// RequestApproval returns true only on an explicit approval.
func (am *ApprovalManager) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	if am.handler == nil {
		return false, fmt.Errorf("no approval handler configured")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = am.defaultTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info().
		Str("plugin_id", req.PluginID).
		Str("tool", req.Tool).
		Str("invocation_id", req.InvocationID).
		Msg("Requesting approval")

	responseChan := make(chan ApprovalResponse, 1)
	errorChan := make(chan error, 1)

	go func() {
		response, err := am.handler.RequestApproval(timeoutCtx, req)
		if err != nil {
			errorChan <- err
		} else {
			responseChan <- response
		}
	}()

	select {
	case response := <-responseChan:
		if response.Approved {
			log.Info().
				Str("plugin_id", req.PluginID).
				Str("reason", response.Reason).
				Msg("Approval granted")
		} else {
			log.Warn().
				Str("plugin_id", req.PluginID).
				Str("reason", response.Reason).
				Msg("Approval denied")
		}
		return response.Approved, nil

	case err := <-errorChan:
		log.Error().
			Err(err).
			Str("plugin_id", req.PluginID).
			Msg("Approval request failed")
		return false, fmt.Errorf("approval request failed: %w", err)

	case <-timeoutCtx.Done():
		log.Warn().
			Str("plugin_id", req.PluginID).
			Dur("timeout", timeout).
			Msg("Approval request timed out")
		return false, fmt.Errorf("approval request timed out after %v", timeout)
	}
}

// SetDefaultTimeout sets the timeout used when a request carries none.
func (am *ApprovalManager) SetDefaultTimeout(timeout time.Duration) {
	am.defaultTimeout = timeout
}

// GetDefaultTimeout returns the default timeout.
func (am *ApprovalManager) GetDefaultTimeout() time.Duration {
	return am.defaultTimeout
}

// SetHandler swaps the approval handler.
func (am *ApprovalManager) SetHandler(handler ApprovalHandler) {
	am.handler = handler
}
