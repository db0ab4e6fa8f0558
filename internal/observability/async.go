package observability

import (
	"sync"
	"sync/atomic"

	"github.com/harun/warden/pkg/gate"
	"github.com/rs/zerolog/log"
)

// DefaultQueueSize is the AsyncSink buffer used when none is configured.
const DefaultQueueSize = 1024

// AsyncSink hands records to a slower sink on a background goroutine so
// Record never blocks the caller. When the buffer is full the record is
// dropped and counted.
type AsyncSink struct {
	next  gate.AuditSink
	queue chan gate.AuditRecord
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsyncSink starts the writer goroutine. size <= 0 means DefaultQueueSize.
func NewAsyncSink(next gate.AuditSink, size int) *AsyncSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &AsyncSink{
		next:  next,
		queue: make(chan gate.AuditRecord, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Record implements gate.AuditSink.
func (a *AsyncSink) Record(rec gate.AuditRecord) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(rec, "closed")
		return
	}
	select {
	case a.queue <- rec:
	default:
		a.drop(rec, "queue full")
	}
}

// Dropped returns how many records never reached the wrapped sink.
func (a *AsyncSink) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting records and waits until the queued ones are written.
func (a *AsyncSink) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return nil
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for rec := range a.queue {
		a.deliver(rec)
	}
}

func (a *AsyncSink) deliver(rec gate.AuditRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("id", rec.ID).
				Msg("Audit sink panicked, record dropped")
		}
	}()
	a.next.Record(rec)
}

func (a *AsyncSink) drop(rec gate.AuditRecord, reason string) {
	n := a.dropped.Add(1)
	if n == 1 || n%1000 == 0 {
		log.Warn().
			Str("id", rec.ID).
			Str("reason", reason).
			Uint64("dropped", n).
			Msg("Audit record dropped")
	}
}
