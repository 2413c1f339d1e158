package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/scheduler"
	"github.com/uros-5/tinymist/internal/workspace"
)

// Publisher receives the diagnostics of a document at revision rev. A
// closed document is published once with no diagnostics.
type Publisher func(uri content.URI, rev int, diags []protocol.Diagnostic)

type published struct {
	rev int
	fp  memo.Fingerprint
}

// Start runs diagnostics on s after every change and evicts stale cache
// entries every evictEvery. A change of one document can change the
// diagnostics of its importers, so every open document is rechecked;
// unchanged results are not published again.
func (d *Dispatcher) Start(s *scheduler.Scheduler, publish Publisher, evictEvery time.Duration) {
	var mu sync.Mutex
	last := map[content.URI]published{}

	emit := func(uri content.URI, rev int, diags []protocol.Diagnostic) {
		mu.Lock()
		defer mu.Unlock()
		if !d.store.Snapshot().Has(uri) {
			return
		}
		p := published{rev: rev, fp: diagnosticsFingerprint(diags)}
		if prev, ok := last[uri]; ok && prev == p {
			return
		}
		last[uri] = p
		publish(uri, rev, diags)
	}

	d.store.OnChange(func(ev content.Event) {
		if ev.Kind == content.Closed {
			mu.Lock()
			delete(last, ev.URI)
			publish(ev.URI, ev.Rev, []protocol.Diagnostic{})
			mu.Unlock()
		}
		// The listener runs inside the edit; scheduling may wait for room
		// in the queue.
		go func() {
			for _, uri := range d.store.Snapshot().URIs() {
				if err := s.ScheduleHighPriorityTask(d.diagnosticsTask(uri, emit)); err != nil {
					return
				}
			}
		}()
	})

	if evictEvery > 0 {
		s.SchedulePeriodicTask(evictEvery, scheduler.Task{
			Name:    "evict",
			Key:     "evict",
			Execute: func(context.Context) error { return d.Evict() },
		})
	}
}

func (d *Dispatcher) diagnosticsTask(uri content.URI, emit Publisher) scheduler.Task {
	return scheduler.Task{
		Name: "diagnostics " + uri,
		Key:  "diagnostics:" + uri,
		Execute: func(ctx context.Context) error {
			snap := d.store.Snapshot()
			v, ok := snap.Get(uri)
			if !ok {
				return nil
			}
			resp, err := d.handle(ctx, "diagnostics:"+uri, Diagnostics{URI: uri}, snap)
			if errors.Is(err, ErrUnknownDocument) {
				return nil
			}
			if err != nil || resp.Outcome != Completed {
				return err
			}
			diags, _ := resp.Result.([]protocol.Diagnostic)
			emit(uri, v.Rev, diags)
			return nil
		},
	}
}

// Evict drops cache entries of closed documents and entries outside the
// retention window, and forgets the indexed symbols of closed documents.
func (d *Dispatcher) Evict() error {
	snap := d.store.Snapshot()
	n := d.memo.Evict(snap.Gen(), snap.Has)
	log.Debugf("evicted %d entries, %d left", n, d.memo.Len())
	if d.symbols != nil {
		return d.symbols.Retain(snap.Has)
	}
	return nil
}

func diagnosticsFingerprint(diags []protocol.Diagnostic) memo.Fingerprint {
	h := memo.NewHasher()
	for _, d := range diags {
		h.Uint(uint64(d.Range.Start.Line)).Uint(uint64(d.Range.Start.Character)).
			Uint(uint64(d.Range.End.Line)).Uint(uint64(d.Range.End.Character)).
			String(d.Message)
		if d.Severity != nil {
			h.Int(int(*d.Severity))
		}
	}
	return h.Sum()
}

// Graph returns the import graph of the current snapshot.
func (d *Dispatcher) Graph(ctx context.Context) (*workspace.Graph, error) {
	snap := d.store.Snapshot()
	sess := d.memo.Begin(ctx, snap.Gen(), analysis.Inputs(snap))
	g, err := d.ix.Graph(sess.Frame())
	if err != nil {
		sess.Discard()
		return nil, err
	}
	sess.Commit()
	return g, nil
}
