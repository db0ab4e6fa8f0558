package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/warden/pkg/contentscan"
	"github.com/harun/warden/pkg/danger"
	"github.com/harun/warden/pkg/gate"
	"github.com/harun/warden/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSink holds every Record call until release is closed.
type blockingSink struct {
	release chan struct{}

	mu   sync.Mutex
	recs []gate.AuditRecord
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{})}
}

func (b *blockingSink) Record(rec gate.AuditRecord) {
	<-b.release
	b.mu.Lock()
	b.recs = append(b.recs, rec)
	b.mu.Unlock()
}

func (b *blockingSink) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.recs))
	for _, r := range b.recs {
		out = append(out, r.ID)
	}
	return out
}

func TestAsyncSink_DoesNotDelayAuthorize(t *testing.T) {
	slow := newBlockingSink()
	sink := NewAsyncSink(slow, 4)

	g := gate.New(danger.NewClassifier(), contentscan.New(), policy.NewEngine(nil, nil),
		gate.WithAuditSink(sink))

	finished := make(chan gate.Result, 1)
	go func() {
		finished <- g.Authorize(gate.Caller{PrincipalID: "tester"}, gate.Invocation{PluginID: "calculator", Payload: "2+2"})
	}()

	select {
	case res := <-finished:
		assert.True(t, res.Allowed)
	case <-time.After(2 * time.Second):
		t.Fatal("Authorize waited on a blocked audit sink")
	}

	close(slow.release)
	require.NoError(t, sink.Close())
	assert.Len(t, slow.ids(), 1)
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	slow := newBlockingSink()
	sink := NewAsyncSink(slow, 2)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		sink.Record(gate.AuditRecord{ID: id})
	}

	// the writer may already hold one record, so two or three are dropped
	assert.GreaterOrEqual(t, sink.Dropped(), uint64(2))
	assert.LessOrEqual(t, sink.Dropped(), uint64(3))

	close(slow.release)
	require.NoError(t, sink.Close())
	assert.Equal(t, uint64(5), sink.Dropped()+uint64(len(slow.ids())))
}

func TestAsyncSink_CloseDrainsQueue(t *testing.T) {
	s := openTestStore(t)
	sink := NewAsyncSink(s, 16)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"q1", "q2", "q3"} {
		sink.Record(sampleRecord(id, base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, sink.Close())

	recs, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "q3", recs[0].ID)

	t.Run("records after close are dropped", func(t *testing.T) {
		assert.NotPanics(t, func() { sink.Record(sampleRecord("late", base)) })
		assert.Equal(t, uint64(1), sink.Dropped())
		assert.NoError(t, sink.Close())
	})
}

func TestAsyncSink_RecoversPanics(t *testing.T) {
	var got []string
	var mu sync.Mutex
	sink := NewAsyncSink(gate.AuditSinkFunc(func(rec gate.AuditRecord) {
		if rec.ID == "boom" {
			panic("sink failure")
		}
		mu.Lock()
		got = append(got, rec.ID)
		mu.Unlock()
	}), 8)

	sink.Record(gate.AuditRecord{ID: "boom"})
	sink.Record(gate.AuditRecord{ID: "ok"})
	require.NoError(t, sink.Close())

	assert.Equal(t, []string{"ok"}, got)
}
