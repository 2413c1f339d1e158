// Package dispatch runs editor requests against the analysis engine. Every
// request is answered from the snapshot current when it arrives, inside its
// own memo session: a completed request publishes what it computed, a
// cancelled one leaves the cache as it found it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tliron/commonlog"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/symstore"
	"github.com/uros-5/tinymist/internal/workspace"
)

var log = commonlog.GetLogger("tinymist.dispatch")

var (
	// ErrUnknownDocument is returned for requests on documents that are not open.
	ErrUnknownDocument = errors.New("dispatch: unknown document")

	// ErrInvalidPosition is returned for positions outside the document.
	ErrInvalidPosition = errors.New("dispatch: invalid position")

	// ErrInvalidName is returned when a rename target is not a valid name.
	ErrInvalidName = errors.New("dispatch: invalid name")

	// ErrUnsupportedRequest is returned for request values this package does not define.
	ErrUnsupportedRequest = errors.New("dispatch: unsupported request")
)

type inflight struct {
	kind   Kind
	uri    content.URI
	cancel context.CancelFunc
}

type Dispatcher struct {
	store   *content.Store
	memo    *memo.Memo
	a       *analysis.Analyzer
	ix      *workspace.Index
	symbols *symstore.Store

	latestOnly map[Kind]bool
	reg        prometheus.Registerer
	metrics    *metrics

	mu       sync.Mutex
	inflight map[string]*inflight
}

type Option func(*Dispatcher)

// WithLatestOnly sets the request kinds that an edit of their document
// cancels.
func WithLatestOnly(kinds ...string) Option {
	return func(d *Dispatcher) {
		d.latestOnly = map[Kind]bool{}
		for _, k := range kinds {
			d.latestOnly[Kind(k)] = true
		}
	}
}

// WithRegisterer registers the request metrics on reg instead of a private
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.reg = reg }
}

// WithSymbolStore backs workspace symbol search with s.
func WithSymbolStore(s *symstore.Store) Option {
	return func(d *Dispatcher) { d.symbols = s }
}

func New(store *content.Store, m *memo.Memo, ix *workspace.Index, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		memo:     m,
		a:        ix.A,
		ix:       ix,
		inflight: map[string]*inflight{},
	}
	WithLatestOnly(string(KindHover), string(KindCompletion), string(KindSignatureHelp), string(KindDocumentSymbols))(d)
	for _, opt := range opts {
		opt(d)
	}
	if d.reg == nil {
		d.reg = prometheus.NewRegistry()
	}
	d.metrics = newMetrics(d.reg)
	store.OnChange(d.supersede)
	return d
}

// Handle runs req under a fresh request ID.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (Response, error) {
	return d.HandleID(ctx, uuid.NewString(), req)
}

// HandleID runs req under the given ID, which Cancel accepts while the
// request runs. Cancellation is an outcome, not an error: the response then
// has Outcome Cancelled and no result.
func (d *Dispatcher) HandleID(ctx context.Context, id string, req Request) (Response, error) {
	return d.handle(ctx, id, req, nil)
}

// handle runs req against snap, or against the snapshot current after the
// request is registered when snap is nil.
func (d *Dispatcher) handle(ctx context.Context, id string, req Request, snap *content.Snapshot) (Response, error) {
	if req == nil {
		return Response{ID: id}, fmt.Errorf("%w: nil", ErrUnsupportedRequest)
	}
	start := time.Now()
	resp := Response{ID: id, Kind: req.Kind()}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.track(id, req, cancel)
	defer d.untrack(id)

	// The request is registered before the snapshot is taken, so an edit
	// either precedes the snapshot or cancels the request.
	if snap == nil {
		snap = d.store.Snapshot()
	}
	sess := d.memo.Begin(ctx, snap.Gen(), analysis.Inputs(snap))
	result, err := d.run(sess.Frame(), snap, req)

	switch {
	case err == nil:
		sess.Commit()
		resp.Result = result
	case errors.Is(err, memo.ErrCancelled) || ctx.Err() != nil:
		sess.Discard()
		resp.Outcome = Cancelled
		err = nil
		log.Debugf("%s %s cancelled", resp.Kind, id)
	case errors.Is(err, memo.ErrDependencyCycle):
		// Entries outside the cycle are still sound.
		sess.Commit()
		log.Warningf("%s %s hit a dependency cycle", resp.Kind, id)
		err = nil
	default:
		sess.Discard()
		resp.Outcome = Failed
	}
	d.metrics.observe(resp.Kind, resp.Outcome, time.Since(start))
	return resp, err
}

// Cancel cancels the running request id. It reports whether such a request
// was running.
func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.inflight[id]
	if ok {
		r.cancel()
	}
	return ok
}

func (d *Dispatcher) track(id string, req Request, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[id] = &inflight{kind: req.Kind(), uri: req.Document(), cancel: cancel}
}

func (d *Dispatcher) untrack(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

// supersede cancels the latest-only requests on the changed document.
func (d *Dispatcher) supersede(ev content.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, r := range d.inflight {
		if r.uri == ev.URI && d.latestOnly[r.kind] {
			log.Debugf("%s %s superseded by %s of %s", r.kind, id, ev.Kind, ev.URI)
			r.cancel()
		}
	}
}

func (d *Dispatcher) run(fr *memo.Frame, snap *content.Snapshot, req Request) (any, error) {
	switch r := req.(type) {
	case Hover:
		return d.hover(fr, snap, r)
	case Completion:
		return d.completion(fr, snap, r)
	case Definition:
		return d.definition(fr, snap, r)
	case References:
		return d.references(fr, snap, r)
	case Rename:
		return d.rename(fr, snap, r)
	case DocumentSymbols:
		return d.documentSymbols(fr, snap, r)
	case Diagnostics:
		return d.diagnostics(fr, snap, r)
	case SignatureHelp:
		return d.signatureHelp(fr, snap, r)
	case WorkspaceSymbols:
		return d.workspaceSymbols(fr, snap, r)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedRequest, req)
}
