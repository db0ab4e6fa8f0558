package toolexecutor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/warden/pkg/capability"
	"github.com/harun/warden/pkg/gate"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const (
	defaultTimeout = 30 * time.Second
	maxOutputSize  = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler.
// PluginID defaults to Name; the gate classifies and authorizes by PluginID.
type ToolDefinition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Parameters   []ToolParameter `json:"parameters"`
	Handler      ToolHandler     `json:"-"`
	PluginID     string          `json:"plugin_id,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]any) (any, error)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool           `json:"success"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type registeredTool struct {
	def      ToolDefinition
	schema   *gojsonschema.Schema
	required capability.Set
}

// ExecutionObserver receives execution outcomes, typically for metrics.
// Status is one of "success", "error", "timeout" or "denied".
type ExecutionObserver interface {
	ObserveExecution(tool, status string, duration time.Duration)
	ObserveApproval(tool string, approved bool)
}

// ToolExecutor registers tools and runs them once the gate allows it.
type ToolExecutor struct {
	tools           map[string]*registeredTool
	gate            *gate.Gate
	approvalManager *ApprovalManager
	observer        ExecutionObserver
	mu              sync.RWMutex
}

// New creates an executor. SetGate must be called before Execute; without a
// gate every invocation is refused.
func New() *ToolExecutor {
	te := &ToolExecutor{
		tools: make(map[string]*registeredTool),
	}

	log.Info().Msg("Tool executor initialized")

	return te
}

// SetGate sets the authorization gate every invocation goes through.
func (te *ToolExecutor) SetGate(g *gate.Gate) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.gate = g
}

// SetApprovalManager enables escalation for ApprovalRequired tools.
func (te *ToolExecutor) SetApprovalManager(manager *ApprovalManager) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.approvalManager = manager
	log.Info().Msg("Approval manager configured for tool executor")
}

// SetObserver attaches an observer for execution outcomes.
func (te *ToolExecutor) SetObserver(o ExecutionObserver) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.observer = o
}

// RegisterTool validates and registers a tool, replacing any tool of the same name.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if def.PluginID == "" {
		def.PluginID = def.Name
	}

	required, err := capability.ParseAll(def.Capabilities)
	if err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &registeredTool{def: def, schema: schema, required: required}

	log.Info().
		Str("tool", def.Name).
		Str("plugin_id", def.PluginID).
		Strs("capabilities", required.Strings()).
		Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)

	log.Info().Str("tool", name).Msg("Tool unregistered")
}

// GetTool returns a copy of a tool definition by name, or nil.
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tool, ok := te.tools[name]
	if !ok {
		return nil
	}
	def := tool.def
	return &def
}

// ListTools returns all registered tool names, sorted.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// RequiredCapabilities implements gate.PluginRegistry. The result is the
// union of every tool registered under the plugin.
func (te *ToolExecutor) RequiredCapabilities(pluginID string) (capability.Set, bool) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	var caps capability.Set
	found := false
	for _, tool := range te.tools {
		if tool.def.PluginID == pluginID {
			caps = caps.Union(tool.required)
			found = true
		}
	}
	return caps, found
}

// Execute authorizes and runs a tool.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]any, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	te.mu.RLock()
	tool := te.tools[toolName]
	g := te.gate
	approvals := te.approvalManager
	observer := te.observer
	te.mu.RUnlock()

	observe := func(status string) {
		if observer != nil {
			observer.ObserveExecution(toolName, status, time.Since(startTime))
		}
	}

	if tool == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}
	if g == nil {
		log.Error().Str("tool", toolName).Msg("No authorization gate configured")
		return ToolResult{
			Success: false,
			Error:   "no authorization gate configured",
		}
	}

	if err := validateParameters(tool.schema, params); err != nil {
		log.Error().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	invocationID, _ := gonanoid.New()
	inv := gate.Invocation{
		ID:       invocationID,
		PluginID: tool.def.PluginID,
		Payload:  payloadText(params),
		Required: tool.required,
	}
	caller := execCtx.Caller()

	res := g.Authorize(caller, inv)
	if res.NeedsApproval() && approvals != nil {
		approved, err := approvals.RequestApproval(ctx, ApprovalRequest{
			InvocationID: invocationID,
			Tool:         toolName,
			PluginID:     tool.def.PluginID,
			PrincipalID:  caller.PrincipalID,
			Tier:         res.Classification.Tier,
			Reason:       res.Reason,
			Findings:     res.Findings,
			Params:       params,
		})
		if err != nil {
			log.Warn().Err(err).Str("tool", toolName).Msg("Approval escalation failed")
		}
		if observer != nil {
			observer.ObserveApproval(toolName, approved)
		}
		if approved {
			caller.Auth = gate.AuthApproved
			res = g.Authorize(caller, inv)
		}
	}

	metadata := map[string]any{
		"invocation_id": invocationID,
		"plugin_id":     tool.def.PluginID,
		"tier":          res.Classification.Tier.String(),
	}
	if len(res.Findings) > 0 {
		metadata["findings"] = res.Findings
	}

	if !res.Allowed {
		metadata["stage"] = string(res.Stage)
		metadata["needs_approval"] = res.NeedsApproval()
		observe("denied")
		return ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("authorization denied at %s check: %s", res.Stage, res.Reason),
			Metadata: metadata,
		}
	}

	log.Debug().Str("tool", toolName).Str("invocation_id", invocationID).Msg("Executing tool")

	timeout := defaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	resultChan := make(chan any, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := tool.def.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(startTime)
		output, truncated := truncateOutput(result)
		metadata["duration"] = duration.Milliseconds()

		log.Debug().
			Str("tool", toolName).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		observe("success")

		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
			Metadata:  metadata,
		}

	case err := <-errChan:
		duration := time.Since(startTime)
		metadata["duration"] = duration.Milliseconds()

		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		observe("error")

		return ToolResult{
			Success:  false,
			Error:    err.Error(),
			Metadata: metadata,
		}

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)
		metadata["duration"] = duration.Milliseconds()

		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Msg("Tool execution timeout")
		observe("timeout")

		return ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("tool execution timeout after %v", timeout),
			Metadata: metadata,
		}
	}
}

// payloadText flattens every string found in params into one newline
// separated text, keys in sorted order, so the scanner sees raw values.
func payloadText(params map[string]any) string {
	var parts []string
	collectStrings(params, &parts)
	return strings.Join(parts, "\n")
}

func collectStrings(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		*out = append(*out, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(val[k], out)
		}
	case []any:
		for _, item := range val {
			collectStrings(item, out)
		}
	case []string:
		*out = append(*out, val...)
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	properties := make(map[string]any, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateParameters(schema *gojsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

func truncateOutput(output any) (any, bool) {
	str := fmt.Sprintf("%v", output)

	if len(str) <= maxOutputSize {
		return output, false
	}

	// back off to a rune boundary
	cut := maxOutputSize
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", cut).
		Msg("Output truncated")

	return str[:cut] + "\n... [output truncated]", true
}
