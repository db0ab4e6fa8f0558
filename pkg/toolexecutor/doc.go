// Package toolexecutor registers plugin tools and runs them behind the
// authorization gate.
//
// Invariants:
//   - A handler never runs unless the gate allowed the invocation.
//   - Parameters are schema-validated before authorization.
//   - ApprovalRequired tools escalate to the ApprovalManager when one is set;
//     an approval only lifts the tier check, every other check still runs.
//
// Usage:
//
//	exec := toolexecutor.New()
//	g := gate.New(nil, nil, nil, gate.WithPluginRegistry(exec))
//	exec.SetGate(g)
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:         "send_sms",
//		PluginID:     "communication_hub",
//		Description:  "Send a text message",
//		Capabilities: []string{"sms:send"},
//		Parameters:   []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "body", Required: true}},
//		Handler:      sendSMS,
//	})
package toolexecutor
