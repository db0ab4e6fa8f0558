package toolexecutor

import (
	"context"
	"time"

	"github.com/harun/warden/pkg/gate"
)

// ExecutionContext carries who is invoking a tool and under which limits.
type ExecutionContext struct {
	PrincipalID string
	SessionKey  string
	IsSubAgent  bool
	IsSandboxed bool
	Auth        gate.AuthLevel
	Timeout     time.Duration
}

// Caller converts the execution context to the gate's view of the caller.
// A nil context is an unprivileged primary-agent caller.
func (c *ExecutionContext) Caller() gate.Caller {
	if c == nil {
		return gate.Caller{Auth: gate.AuthUser}
	}
	return gate.Caller{
		PrincipalID: c.PrincipalID,
		IsSubAgent:  c.IsSubAgent,
		IsSandboxed: c.IsSandboxed,
		Auth:        c.Auth,
	}
}

type execContextKey struct{}

// ContextWithExecContext attaches the execution context for tool handlers.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext returns the execution context a handler runs under, or nil.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	execCtx, _ := ctx.Value(execContextKey{}).(*ExecutionContext)
	return execCtx
}
