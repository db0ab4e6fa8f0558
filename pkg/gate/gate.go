// Package gate composes the danger classifier, the content scanner and the
// policy engine into the single authorization contract every plugin
// invocation follows.
//
// Invariants:
//   - Checks run in order: tier, content, policy, capability. The first veto
//     decides; no check is skipped for any caller on the allow path.
//   - Any check can deny; none can force an allow.
//   - Exactly one AuditRecord is emitted per call and sink failures never
//     affect the verdict.
//
// Usage:
//
//	g := gate.New(danger.NewClassifier(), contentscan.New(), policy.NewEngine(nil, nil),
//		gate.WithAuditSink(sink))
//	res := g.Authorize(gate.Caller{Auth: gate.AuthOwner}, gate.Invocation{PluginID: "notes", Payload: "add milk"})
package gate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/danger"
	"github.com/harun/warden/pkg/policy"
	"github.com/rs/zerolog/log"
)

// Gate is stateless apart from its collaborators and safe for concurrent use.
type Gate struct {
	classifier *danger.Classifier
	scanner    *contentscan.Scanner
	engine     *policy.Engine
	plugins    PluginRegistry
	sink       AuditSink
	now        func() time.Time
	newID      func() string
}

// Option configures a Gate.
type Option func(*Gate)

// WithPluginRegistry sets where declared plugin capabilities come from.
func WithPluginRegistry(r PluginRegistry) Option {
	return func(g *Gate) {
		g.plugins = r
	}
}

// WithAuditSink sets the audit destination.
func WithAuditSink(s AuditSink) Option {
	return func(g *Gate) {
		g.sink = s
	}
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithIDGenerator overrides audit record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(g *Gate) {
		g.newID = newID
	}
}

// New creates a gate. Nil components are replaced by defaults.
func New(classifier *danger.Classifier, scanner *contentscan.Scanner, engine *policy.Engine, opts ...Option) *Gate {
	if classifier == nil {
		classifier = danger.NewClassifier()
	}
	if scanner == nil {
		scanner = contentscan.New()
	}
	if engine == nil {
		engine = policy.NewEngine(nil, nil)
	}

	g := &Gate{
		classifier: classifier,
		scanner:    scanner,
		engine:     engine,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Classifier returns the danger classifier in use.
func (g *Gate) Classifier() *danger.Classifier {
	return g.classifier
}

// Scanner returns the content scanner in use.
func (g *Gate) Scanner() *contentscan.Scanner {
	return g.scanner
}

// Engine returns the policy engine in use.
func (g *Gate) Engine() *policy.Engine {
	return g.engine
}

// Authorize decides whether caller may run inv.
func (g *Gate) Authorize(caller Caller, inv Invocation) Result {
	res := g.authorize(caller, inv)
	g.audit(caller, inv, res)
	return res
}

func (g *Gate) authorize(caller Caller, inv Invocation) Result {
	res := Result{Findings: []contentscan.Finding{}}

	// 1. identity tier
	res.Classification = g.classifier.Classify(inv.PluginID)
	if !caller.Auth.Satisfies(res.Classification.Tier) {
		return deny(res, StageTier, fmt.Sprintf("%s tool requires more than %s authorization: %s",
			res.Classification.Tier, caller.Auth, res.Classification.Reason))
	}

	// 2. payload content
	scan := g.scanner.Scan(inv.PluginID, inv.Payload)
	res.Scan = &scan
	res.Findings = scan.Findings
	if !scan.Allowed {
		return deny(res, StageContent, fmt.Sprintf("payload classified %s: %v", scan.RiskLevel, scan.Categories()))
	}

	// 3. layered rules
	decision := g.engine.EvaluatePipeline(inv.PluginID, caller.IsSubAgent, caller.IsSandboxed)
	res.Policy = &decision
	if !decision.Allowed {
		return deny(res, StagePolicy, fmt.Sprintf("denied at %s layer: %s", decision.DecidingLayer, decision.Reason))
	}

	// 4. capability grants
	required := inv.Required
	if g.plugins != nil {
		if declared, ok := g.plugins.RequiredCapabilities(inv.PluginID); ok {
			required = required.Union(declared)
		}
	}
	caps := g.engine.EvaluateCapabilities(inv.PluginID, required)
	res.Capabilities = &caps
	if !caps.Allowed {
		return deny(res, StageCapability, fmt.Sprintf("missing capabilities: %v", caps.MissingNames()))
	}

	res.Allowed = true
	res.Stage = StageNone
	res.Reason = decision.Reason
	return res
}

func deny(res Result, stage Stage, reason string) Result {
	res.Allowed = false
	res.Stage = stage
	res.Reason = reason
	return res
}

func (g *Gate) audit(caller Caller, inv Invocation, res Result) {
	evt := log.Debug()
	if !res.Allowed {
		evt = log.Warn()
	}
	evt.Str("plugin_id", inv.PluginID).
		Str("principal", caller.PrincipalID).
		Bool("allowed", res.Allowed).
		Str("stage", string(res.Stage)).
		Str("tier", res.Classification.Tier.String()).
		Str("reason", res.Reason).
		Msg("Authorization decision")

	if g.sink == nil {
		return
	}

	rec := AuditRecord{
		InvocationID: inv.ID,
		PluginID:     inv.PluginID,
		PrincipalID:  caller.PrincipalID,
		IsSubAgent:   caller.IsSubAgent,
		IsSandboxed:  caller.IsSandboxed,
		Allowed:      res.Allowed,
		Stage:        res.Stage,
		Reason:       res.Reason,
		Tier:         res.Classification.Tier,
		RiskLevel:    contentscan.RiskSafe,
		Findings:     res.Findings,
	}
	if res.Scan != nil {
		rec.RiskLevel = res.Scan.RiskLevel
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("plugin_id", inv.PluginID).
				Msg("Audit sink panicked, record dropped")
		}
	}()

	rec.ID = g.newID()
	rec.Timestamp = g.now()
	g.sink.Record(rec)
}
