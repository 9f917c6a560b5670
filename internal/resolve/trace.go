package resolve

import (
	"context"
	"sync"
	"time"
)

// TraceEntry records where one resolution was answered from.
type TraceEntry struct {
	ChainID  string
	Contract string
	Method   string
	Source   Source
	Cached   bool
	Latency  time.Duration
}

// Trace collects the resolutions made under a context.
type Trace struct {
	mu      sync.Mutex
	entries []TraceEntry
}

type traceKey struct{}

func WithTrace(ctx context.Context) (context.Context, *Trace) {
	t := &Trace{}
	return context.WithValue(ctx, traceKey{}, t), t
}

func (t *Trace) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func record(ctx context.Context, d Descriptor, res Result, latency time.Duration) {
	t, ok := ctx.Value(traceKey{}).(*Trace)
	if !ok {
		return
	}
	t.mu.Lock()
	t.entries = append(t.entries, TraceEntry{
		ChainID:  string(d.Ref.ChainID),
		Contract: d.Ref.Address,
		Method:   d.Method,
		Source:   res.Source,
		Cached:   res.Cached,
		Latency:  latency,
	})
	t.mu.Unlock()
}
