package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/gate"
	"github.com/harun/warden/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

// errDenied makes a denied check exit non-zero.
var errDenied = errors.New("invocation denied")

type checkOptions struct {
	plugin       string
	payload      string
	principal    string
	auth         string
	subAgent     bool
	sandboxed    bool
	capabilities []string
	approval     string
}

func newCheckCmd(global *globalOptions) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Authorize one tool invocation",
		Long: `Run one invocation through the full authorization gate and report the
decision. ApprovalRequired tools are escalated according to --approval or the
approval.mode config setting. Exits non-zero when the invocation is denied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.plugin, "plugin", "p", "", "plugin id to authorize")
	cmd.Flags().StringVar(&opts.payload, "payload", "", "raw invocation payload to scan")
	cmd.Flags().StringVar(&opts.principal, "principal", "", "principal id of the caller")
	cmd.Flags().StringVar(&opts.auth, "auth", "user", "caller authorization level (user, approved, owner)")
	cmd.Flags().BoolVar(&opts.subAgent, "sub-agent", false, "caller is a sub-agent")
	cmd.Flags().BoolVar(&opts.sandboxed, "sandboxed", false, "caller runs in a sandbox")
	cmd.Flags().StringSliceVar(&opts.capabilities, "capabilities", nil, "capabilities the plugin requires")
	cmd.Flags().StringVar(&opts.approval, "approval", "", "approval mode override (deny, prompt, auto)")
	_ = cmd.MarkFlagRequired("plugin")

	return cmd
}

func runCheck(cmd *cobra.Command, global *globalOptions, opts *checkOptions) error {
	auth, err := gate.ParseAuthLevel(opts.auth)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(global.cfgFile)
	if err != nil {
		return err
	}
	if opts.approval != "" {
		cfg.Approval.Mode = opts.approval
	}

	rt, err := newRuntime(cfg, global.logLevel, streams{
		in:     cmd.InOrStdin(),
		errOut: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	// the invocation is modelled as a tool that only reports success
	err = rt.executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:         opts.plugin,
		PluginID:     opts.plugin,
		Description:  "Dry run of " + opts.plugin,
		Capabilities: opts.capabilities,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "payload", Type: "string", Description: "Raw invocation payload"},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return "authorized", nil
		},
	})
	if err != nil {
		return err
	}

	params := map[string]any{}
	if opts.payload != "" {
		params["payload"] = opts.payload
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := rt.executor.Execute(ctx, opts.plugin, params, &toolexecutor.ExecutionContext{
		PrincipalID: opts.principal,
		IsSubAgent:  opts.subAgent,
		IsSandboxed: opts.sandboxed,
		Auth:        auth,
	})

	out := cmd.OutOrStdout()
	if global.jsonOut {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else {
		printCheckResult(out, opts.plugin, result)
	}

	if !result.Success {
		return errDenied
	}
	return nil
}

func printCheckResult(w io.Writer, plugin string, result toolexecutor.ToolResult) {
	fmt.Fprintf(w, "Plugin:    %s\n", plugin)
	if tier, ok := result.Metadata["tier"].(string); ok {
		fmt.Fprintf(w, "Tier:      %s\n", tier)
	}
	if result.Success {
		fmt.Fprintln(w, "Decision:  ALLOWED")
	} else {
		fmt.Fprintln(w, "Decision:  DENIED")
		fmt.Fprintf(w, "Reason:    %s\n", result.Error)
	}
	if findings, ok := result.Metadata["findings"].([]contentscan.Finding); ok {
		printFindings(w, findings)
	}
}
