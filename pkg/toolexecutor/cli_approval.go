package toolexecutor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// CLIApprovalHandler asks for approval on a terminal.
type CLIApprovalHandler struct {
	reader io.Reader
	writer io.Writer
}

// NewCLIApprovalHandler creates a handler reading answers from reader.
func NewCLIApprovalHandler(reader io.Reader, writer io.Writer) *CLIApprovalHandler {
	return &CLIApprovalHandler{
		reader: reader,
		writer: writer,
	}
}

// RequestApproval prints the request and waits for y/N.
func (c *CLIApprovalHandler) RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	c.displayApprovalRequest(req)

	responseChan := make(chan ApprovalResponse, 1)
	errorChan := make(chan error, 1)

	go func() {
		response, err := c.readUserInput(req)
		if err != nil {
			errorChan <- err
		} else {
			responseChan <- response
		}
	}()

	select {
	case response := <-responseChan:
		return response, nil

	case err := <-errorChan:
		return ApprovalResponse{}, err

	case <-ctx.Done():
		fmt.Fprintln(c.writer, "\n  Approval request timed out")
		return ApprovalResponse{Approved: false, Reason: "timeout"}, ctx.Err()
	}
}

func (c *CLIApprovalHandler) displayApprovalRequest(req ApprovalRequest) {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "  APPROVAL REQUIRED")
	fmt.Fprintf(c.writer, "  Tool:       %s\n", req.Tool)
	fmt.Fprintf(c.writer, "  Plugin:     %s (%s)\n", req.PluginID, req.Tier)

	if req.PrincipalID != "" {
		fmt.Fprintf(c.writer, "  Principal:  %s\n", req.PrincipalID)
	}
	if req.Reason != "" {
		fmt.Fprintf(c.writer, "  Reason:     %s\n", req.Reason)
	}
	if len(req.Params) > 0 {
		fmt.Fprintf(c.writer, "  Params:     %v\n", req.Params)
	}
	for _, f := range req.Findings {
		fmt.Fprintf(c.writer, "  Finding:    [%s] %s\n", f.Severity, f.Description)
	}

	fmt.Fprint(c.writer, "\n  Approve this invocation? [y/N]: ")
}

func (c *CLIApprovalHandler) readUserInput(req ApprovalRequest) (ApprovalResponse, error) {
	scanner := bufio.NewScanner(c.reader)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ApprovalResponse{}, fmt.Errorf("failed to read input: %w", err)
		}
		return ApprovalResponse{Approved: false, Reason: "no input provided"}, nil
	}

	input := strings.TrimSpace(strings.ToLower(scanner.Text()))

	switch input {
	case "y", "yes":
		log.Info().Str("plugin_id", req.PluginID).Msg("Invocation approved via CLI")
		fmt.Fprintln(c.writer, "  Approved")
		return ApprovalResponse{Approved: true, Reason: "approved by user"}, nil

	case "n", "no", "":
		log.Info().Str("plugin_id", req.PluginID).Msg("Invocation denied via CLI")
		fmt.Fprintln(c.writer, "  Denied")
		return ApprovalResponse{Approved: false, Reason: "denied by user"}, nil

	default:
		log.Warn().Str("plugin_id", req.PluginID).Str("input", input).Msg("Invalid input for approval")
		fmt.Fprintf(c.writer, "  Invalid input: %s (defaulting to deny)\n", input)
		return ApprovalResponse{Approved: false, Reason: fmt.Sprintf("invalid input: %s", input)}, nil
	}
}
