package policy

import (
	"fmt"
	"sync"
	"testing"

	"github.com/harun/warden/pkg/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, rules ...Rule) *Engine {
	t.Helper()
	e := NewEngine(nil, nil)
	for _, r := range rules {
		require.NoError(t, e.Store().Add(r))
	}
	return e
}

func TestEngine_NoPolicyConfigured(t *testing.T) {
	e := newTestEngine(t)

	d := e.EvaluatePipeline("unknown_tool", false, false)
	assert.True(t, d.Allowed)
	assert.Equal(t, NoLayer, d.DecidingLayer)
	assert.Equal(t, "no policy configured", d.Reason)
	assert.Equal(t, 4, d.EvaluatedLayerCount)
}

func TestEngine_LayerCount(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name        string
		isSubAgent  bool
		isSandboxed bool
		want        int
	}{
		{"primary agent", false, false, 4},
		{"sub-agent", true, false, 5},
		{"sandboxed", false, true, 5},
		{"sandboxed sub-agent", true, true, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.EvaluatePipeline("notes", tt.isSubAgent, tt.isSandboxed)
			assert.Equal(t, tt.want, d.EvaluatedLayerCount)
		})
	}
}

func TestEngine_GroupDenyOverGlobalWildcardAllow(t *testing.T) {
	e := newTestEngine(t,
		Rule{Layer: LayerGlobal, SubjectID: "*", Action: Allow, Reason: "default allow"},
		Rule{Layer: LayerGroup, SubjectID: "telegram_bridge", Action: Deny, Reason: "group forbids messaging"},
	)

	d := e.EvaluatePipeline("telegram_bridge", false, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, LayerGroup, d.DecidingLayer)
	assert.Equal(t, "group forbids messaging", d.Reason)

	other := e.EvaluatePipeline("calculator", false, false)
	assert.True(t, other.Allowed)
	assert.Equal(t, LayerGlobal, other.DecidingLayer)
}

func TestEngine_LaterAllowNeverRevertsDeny(t *testing.T) {
	e := newTestEngine(t,
		Rule{Layer: LayerSession, SubjectID: "notes", Action: Deny},
		Rule{Layer: LayerGroup, SubjectID: "notes", Action: Allow},
	)

	d := e.EvaluatePipeline("notes", false, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, LayerSession, d.DecidingLayer)
	assert.NotEmpty(t, d.Reason)
}

func TestEngine_LastDenyIsReported(t *testing.T) {
	e := newTestEngine(t,
		Rule{Layer: LayerGlobal, SubjectID: "sandbox_exec", Action: Deny, Reason: "global"},
		Rule{Layer: LayerSession, SubjectID: "sandbox_exec", Action: Allow, Reason: "session"},
		Rule{Layer: LayerSandbox, SubjectID: "*", Action: Deny, Reason: "sandbox"},
	)

	d := e.EvaluatePipeline("sandbox_exec", false, true)
	assert.False(t, d.Allowed)
	assert.Equal(t, LayerSandbox, d.DecidingLayer)
	assert.Equal(t, "sandbox", d.Reason)

	d = e.EvaluatePipeline("sandbox_exec", false, false)
	assert.Equal(t, LayerGlobal, d.DecidingLayer, "sandbox layer only applies to sandboxed calls")
}

func TestEngine_LaterAllowMovesDecidingLayerWhileAllowed(t *testing.T) {
	e := newTestEngine(t,
		Rule{Layer: LayerGlobal, SubjectID: "*", Action: Allow},
		Rule{Layer: LayerPluginProfile, SubjectID: "web_search", Action: Allow, Reason: "profile allows search"},
	)

	d := e.EvaluatePipeline("web_search", false, false)
	assert.True(t, d.Allowed)
	assert.Equal(t, LayerPluginProfile, d.DecidingLayer)
	assert.Equal(t, "profile allows search", d.Reason)
}

func TestEngine_ExactMatchBeatsWildcardWithinLayer(t *testing.T) {
	e := newTestEngine(t,
		Rule{Layer: LayerSession, SubjectID: "*", Action: Deny},
		Rule{Layer: LayerSession, SubjectID: "calculator", Action: Allow},
	)

	assert.True(t, e.EvaluatePipeline("calculator", false, false).Allowed)
	assert.False(t, e.EvaluatePipeline("notes", false, false).Allowed)
}

func TestEngine_SubAgentLayer(t *testing.T) {
	e := newTestEngine(t,
		Rule{Layer: LayerSubAgent, SubjectID: "file_manager", Action: Deny, Reason: "sub-agents may not touch files"},
	)

	assert.True(t, e.EvaluatePipeline("file_manager", false, false).Allowed)

	d := e.EvaluatePipeline("file_manager", true, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, LayerSubAgent, d.DecidingLayer)
}

func TestEngine_Monotonicity(t *testing.T) {
	layers := AllLayers()

	for _, denyAt := range layers {
		for _, allowAt := range layers {
			if allowAt <= denyAt {
				continue
			}
			name := fmt.Sprintf("deny@%s allow@%s", denyAt, allowAt)
			t.Run(name, func(t *testing.T) {
				e := newTestEngine(t,
					Rule{Layer: denyAt, SubjectID: "notes", Action: Deny},
					Rule{Layer: allowAt, SubjectID: "notes", Action: Allow},
					Rule{Layer: allowAt, SubjectID: "*", Action: Allow},
				)
				d := e.EvaluatePipeline("notes", true, true)
				assert.False(t, d.Allowed)
				assert.Equal(t, denyAt, d.DecidingLayer)
			})
		}
	}
}

func TestEngine_AddingDenyOnlyNarrows(t *testing.T) {
	e := newTestEngine(t, Rule{Layer: LayerGlobal, SubjectID: "*", Action: Allow})
	plugins := []string{"calculator", "notes", "web_search", "telegram_bridge"}

	before := e.FilterAllowed(plugins, true, true)
	assert.Equal(t, plugins, before)

	for _, l := range AllLayers() {
		require.NoError(t, e.Store().Add(Rule{Layer: l, SubjectID: plugins[int(l)%len(plugins)], Action: Deny}))
		after := e.FilterAllowed(plugins, true, true)
		assert.Subset(t, before, after)
		before = after
	}
	assert.Empty(t, before)
}

func TestEngine_Idempotent(t *testing.T) {
	e := newTestEngine(t,
		Rule{Layer: LayerGlobal, SubjectID: "*", Action: Allow},
		Rule{Layer: LayerGroup, SubjectID: "web_search", Action: Deny},
	)

	for _, id := range []string{"web_search", "calculator", "unknown"} {
		first := e.EvaluatePipeline(id, true, false)
		second := e.EvaluatePipeline(id, true, false)
		assert.Equal(t, first, second)
	}
}

func TestEngine_LegacyEvaluateMatchesPipeline(t *testing.T) {
	e := newTestEngine(t,
		Rule{Layer: LayerSession, SubjectID: "notes", Action: Deny},
		Rule{Layer: LayerGroup, SubjectID: "notes", Action: Allow},
	)

	assert.Equal(t, e.EvaluatePipeline("notes", false, false), e.Evaluate("notes", false, false))
}

func TestEngine_RuleRemoval(t *testing.T) {
	e := newTestEngine(t, Rule{Layer: LayerGroup, SubjectID: "notes", Action: Deny})

	assert.False(t, e.Store().Remove(LayerSession, "notes"))
	assert.False(t, e.Store().Remove(Layer(99), "notes"))
	assert.True(t, e.Store().Remove(LayerGroup, "notes"))
	assert.False(t, e.Store().Remove(LayerGroup, "notes"))

	assert.True(t, e.EvaluatePipeline("notes", false, false).Allowed)
}

func TestEngine_EvaluateCapabilities(t *testing.T) {
	e := newTestEngine(t)
	required := capability.NewSet(capability.SMSSend, capability.ContactsRead)

	empty := e.EvaluateCapabilities("communication_hub", 0)
	assert.True(t, empty.Allowed)
	assert.True(t, empty.MissingCapabilities.IsEmpty())

	denied := e.EvaluateCapabilities("communication_hub", required)
	assert.False(t, denied.Allowed)
	assert.Equal(t, []string{"contacts:read", "sms:send"}, denied.MissingNames())

	require.NoError(t, e.Capabilities().Grant("communication_hub", capability.SMSSend))
	partial := e.EvaluateCapabilities("communication_hub", required)
	assert.False(t, partial.Allowed)
	assert.Equal(t, capability.NewSet(capability.ContactsRead), partial.MissingCapabilities)

	require.NoError(t, e.Capabilities().Grant("communication_hub", capability.ContactsRead))
	granted := e.EvaluateCapabilities("communication_hub", required)
	assert.True(t, granted.Allowed)
	assert.True(t, granted.MissingCapabilities.IsEmpty())
}

func TestEngine_InstancesAreIndependent(t *testing.T) {
	a := newTestEngine(t, Rule{Layer: LayerGlobal, SubjectID: "*", Action: Deny})
	b := newTestEngine(t)

	assert.False(t, a.EvaluatePipeline("notes", false, false).Allowed)
	assert.True(t, b.EvaluatePipeline("notes", false, false).Allowed)
}

func TestEngine_ConcurrentEvaluationAndMutation(t *testing.T) {
	e := newTestEngine(t, Rule{Layer: LayerGlobal, SubjectID: "*", Action: Allow})
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = e.Store().Replace([]Rule{
					{Layer: LayerGlobal, SubjectID: "*", Action: Allow},
					{Layer: LayerSession, SubjectID: "notes", Action: Deny},
				})
				_ = e.Store().Replace([]Rule{
					{Layer: LayerGlobal, SubjectID: "*", Action: Allow},
				})
			}
		}()
	}

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d := e.EvaluatePipeline("notes", false, false)
				if d.Allowed {
					assert.Equal(t, LayerGlobal, d.DecidingLayer)
				} else {
					assert.Equal(t, LayerSession, d.DecidingLayer)
				}
				assert.True(t, e.EvaluatePipeline("calculator", false, false).Allowed)
			}
		}()
	}

	wg.Wait()
}
