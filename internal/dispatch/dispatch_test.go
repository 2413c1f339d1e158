package dispatch_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/dispatch"
	"github.com/uros-5/tinymist/internal/eval"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/symstore"
	"github.com/uros-5/tinymist/internal/syntax"
	"github.com/uros-5/tinymist/internal/workspace"
)

const root = "file:///work"

type env struct {
	t     *testing.T
	store *content.Store
	memo  *memo.Memo
	reg   *prometheus.Registry
	d     *dispatch.Dispatcher
}

func newEnv(t *testing.T, ev eval.Evaluator, opts ...dispatch.Option) *env {
	a := analysis.New(root, ".typ", ev)
	e := &env{t: t, store: content.NewStore(), memo: memo.New(), reg: prometheus.NewRegistry()}
	opts = append([]dispatch.Option{dispatch.WithRegisterer(e.reg)}, opts...)
	e.d = dispatch.New(e.store, e.memo, workspace.New(a, 0, 2), opts...)
	return e
}

func (e *env) open(name, text string) content.URI {
	uri := root + "/" + name
	_, err := e.store.Open(uri, text)
	require.NoError(e.t, err)
	return uri
}

func (e *env) handle(req dispatch.Request) any {
	e.t.Helper()
	resp, err := e.d.Handle(context.Background(), req)
	require.NoError(e.t, err)
	require.Equal(e.t, dispatch.Completed, resp.Outcome)
	return resp.Result
}

func at(uri content.URI, line, char uint32) dispatch.At {
	return dispatch.At{URI: uri, Position: protocol.Position{Line: line, Character: char}}
}

func TestHoverAndDefinition(t *testing.T) {
	e := newEnv(t, nil)
	lib := e.open("lib.typ", "#let shared = 2pt")
	main := e.open("main.typ", "#import \"lib.typ\": shared\n#shared")

	h, ok := e.handle(dispatch.Hover{At: at(main, 1, 2)}).(*protocol.Hover)
	require.True(t, ok)
	require.NotNil(t, h)
	md, ok := h.Contents.(protocol.MarkupContent)
	require.True(t, ok)
	assert.Equal(t, protocol.MarkupKindMarkdown, md.Kind)
	assert.Contains(t, md.Value, "let shared: length")
	assert.Equal(t, protocol.Range{Start: protocol.Position{Line: 1, Character: 1}, End: protocol.Position{Line: 1, Character: 7}}, *h.Range)

	locs := e.handle(dispatch.Definition{At: at(main, 1, 2)}).([]protocol.Location)
	require.Len(t, locs, 1)
	assert.Equal(t, lib, locs[0].URI)
	assert.Equal(t, protocol.Position{Line: 0, Character: 5}, locs[0].Range.Start)
}

func TestRenameAcrossDocuments(t *testing.T) {
	e := newEnv(t, nil)
	lib := e.open("lib.typ", "#let x = 1\n#x")
	main := e.open("main.typ", "#import \"lib.typ\": x\n#x #x")
	e.open("other.typ", "#let x = 2\n#x")

	edit := e.handle(dispatch.Rename{At: at(main, 1, 1), NewName: "y"}).(*protocol.WorkspaceEdit)
	require.NotNil(t, edit)
	assert.Len(t, edit.Changes, 2)
	assert.Len(t, edit.Changes[lib], 2)
	require.Len(t, edit.Changes[main], 3)
	assert.Equal(t, protocol.Position{Line: 0, Character: 19}, edit.Changes[main][0].Range.Start)
	assert.Equal(t, protocol.Position{Line: 1, Character: 4}, edit.Changes[main][2].Range.Start)
	for _, te := range edit.Changes[main] {
		assert.Equal(t, "y", te.NewText)
	}

	_, err := e.d.Handle(context.Background(), dispatch.Rename{At: at(main, 1, 1), NewName: "1y"})
	assert.ErrorIs(t, err, dispatch.ErrInvalidName)
}

func TestRenameLabel(t *testing.T) {
	e := newEnv(t, nil)
	main := e.open("main.typ", "= Intro <intro>\nSee @intro here")

	edit := e.handle(dispatch.Rename{At: at(main, 1, 6), NewName: "sec:intro"}).(*protocol.WorkspaceEdit)
	require.NotNil(t, edit)
	require.Len(t, edit.Changes[main], 2)
	assert.Equal(t, protocol.Position{Line: 0, Character: 9}, edit.Changes[main][0].Range.Start)
	assert.Equal(t, protocol.Position{Line: 1, Character: 5}, edit.Changes[main][1].Range.Start)
}

func TestReferences(t *testing.T) {
	e := newEnv(t, nil)
	lib := e.open("lib.typ", "#let x = 1\n#x")
	main := e.open("main.typ", "#import \"lib.typ\": x\n#x #x")

	locs := e.handle(dispatch.References{At: at(lib, 0, 5), IncludeDeclaration: false}).([]protocol.Location)
	var uris []string
	for _, l := range locs {
		uris = append(uris, l.URI)
	}
	assert.Equal(t, []string{lib, main, main, main}, uris)
}

func TestDiagnostics(t *testing.T) {
	e := newEnv(t, nil)
	main := e.open("main.typ", "#let a = 1\n#b")

	diags := e.handle(dispatch.Diagnostics{URI: main}).([]protocol.Diagnostic)
	require.Len(t, diags, 1)
	assert.Equal(t, "unknown variable: b", diags[0].Message)
	assert.Equal(t, analysis.CodeUnresolvedSymbol, diags[0].Code.Value)
	assert.Equal(t, protocol.DiagnosticSeverityError, *diags[0].Severity)
	assert.Equal(t, protocol.Range{Start: protocol.Position{Line: 1, Character: 1}, End: protocol.Position{Line: 1, Character: 2}}, diags[0].Range)
}

func TestDocumentSymbols(t *testing.T) {
	e := newEnv(t, nil)
	main := e.open("main.typ", "= One\n#let f() = 1\n== Sub\n= Two\n")

	syms := e.handle(dispatch.DocumentSymbols{URI: main}).([]protocol.DocumentSymbol)
	require.Len(t, syms, 2)
	assert.Equal(t, protocol.SymbolKindNamespace, syms[0].Kind)
	require.Len(t, syms[0].Children, 2)
	assert.Equal(t, "f", syms[0].Children[0].Name)
	assert.Equal(t, protocol.SymbolKindFunction, syms[0].Children[0].Kind)
	assert.Equal(t, uint32(3), syms[0].Range.End.Line)
}

func TestSignatureHelp(t *testing.T) {
	e := newEnv(t, nil)
	main := e.open("main.typ", "#let f(a, b, size: 1) = a\n#f(1, 2)")

	help := e.handle(dispatch.SignatureHelp{At: at(main, 1, 6)}).(*protocol.SignatureHelp)
	require.NotNil(t, help)
	require.Len(t, help.Signatures, 1)
	assert.Equal(t, "f(a, b, size: ..)", help.Signatures[0].Label)
	require.NotNil(t, help.ActiveParameter)
	assert.Equal(t, protocol.UInteger(1), *help.ActiveParameter)
}

func TestCompletion(t *testing.T) {
	e := newEnv(t, nil)
	main := e.open("main.typ", "#let alpha = 1\n#al")

	items := e.handle(dispatch.Completion{At: at(main, 1, 3)}).([]protocol.CompletionItem)
	var labels []string
	for _, it := range items {
		labels = append(labels, it.Label)
		if it.Label == "alpha" {
			assert.Equal(t, protocol.CompletionItemKindVariable, *it.Kind)
		}
	}
	assert.Contains(t, labels, "alpha")
}

func TestWorkspaceSymbols(t *testing.T) {
	for _, withStore := range []bool{false, true} {
		name := "memory"
		if withStore {
			name = "sqlite"
		}
		t.Run(name, func(t *testing.T) {
			var opts []dispatch.Option
			if withStore {
				s, err := symstore.Open("")
				require.NoError(t, err)
				defer s.Close()
				opts = append(opts, dispatch.WithSymbolStore(s))
			}
			e := newEnv(t, nil, opts...)
			a := e.open("a.typ", "#let heading_size = 1\n#let size = 2")
			e.open("b.typ", "#let resize(x) = x\n#let other = 3")

			syms := e.handle(dispatch.WorkspaceSymbols{Query: "size"}).([]protocol.SymbolInformation)
			var names []string
			for _, s := range syms {
				names = append(names, s.Name)
			}
			assert.Equal(t, []string{"size", "heading_size", "resize"}, names)
			assert.Equal(t, a, syms[0].Location.URI)
			assert.Equal(t, protocol.Position{Line: 1, Character: 5}, syms[0].Location.Range.Start)
			assert.Equal(t, protocol.SymbolKindFunction, syms[2].Kind)

			_, err := e.store.Edit(a, content.Change{Text: "#let sizes = 1"})
			require.NoError(t, err)
			syms = e.handle(dispatch.WorkspaceSymbols{Query: "size"}).([]protocol.SymbolInformation)
			names = names[:0]
			for _, s := range syms {
				names = append(names, s.Name)
			}
			assert.Equal(t, []string{"sizes", "resize"}, names)
		})
	}
}

func TestHardFailures(t *testing.T) {
	e := newEnv(t, nil)
	main := e.open("main.typ", "#let a = 1")

	_, err := e.d.Handle(context.Background(), dispatch.Hover{At: at(root+"/missing.typ", 0, 0)})
	assert.ErrorIs(t, err, dispatch.ErrUnknownDocument)

	_, err = e.d.Handle(context.Background(), dispatch.Completion{At: at(main, 5, 0)})
	assert.ErrorIs(t, err, dispatch.ErrInvalidPosition)

	_, err = e.d.Handle(context.Background(), &dispatch.Hover{At: at(main, 0, 0)})
	assert.ErrorIs(t, err, dispatch.ErrUnsupportedRequest)

	resp, err := e.d.Handle(context.Background(), dispatch.Diagnostics{URI: main})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Completed, resp.Outcome)

	expected := `
# HELP tinymist_requests_total Total requests by kind and outcome
# TYPE tinymist_requests_total counter
tinymist_requests_total{kind="completion",outcome="failed"} 1
tinymist_requests_total{kind="diagnostics",outcome="completed"} 1
tinymist_requests_total{kind="hover",outcome="failed"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(e.reg, strings.NewReader(expected), "tinymist_requests_total"))
}

func TestCancelledRequestLeavesCacheUntouched(t *testing.T) {
	e := newEnv(t, nil)
	main := e.open("main.typ", "#let a = 1\n#a")
	e.handle(dispatch.Diagnostics{URI: main})
	before := e.memo.Entries()

	_, err := e.store.Edit(main, content.Change{Text: "#let a = 2\n#a"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := e.d.Handle(ctx, dispatch.References{At: at(main, 1, 1), IncludeDeclaration: true})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Cancelled, resp.Outcome)
	assert.Nil(t, resp.Result)

	after := e.memo.Entries()
	require.Equal(t, len(before), len(after))
	for k, info := range before {
		assert.Same(t, info.Entry, after[k].Entry, k.String())
		assert.Equal(t, info.VerifiedAt, after[k].VerifiedAt, k.String())
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(counter(t, e.reg, "references", "cancelled")))
}

// counter re-registers the request counter to read one of its series.
func counter(t *testing.T, reg *prometheus.Registry, kind, outcome string) prometheus.Counter {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tinymist_requests_total",
		Help: "Total requests by kind and outcome",
	}, []string{"kind", "outcome"})
	err := reg.Register(vec)
	var are prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &are)
	return are.ExistingCollector.(*prometheus.CounterVec).WithLabelValues(kind, outcome)
}

// blockingEvaluator parks every evaluation until its context ends.
type blockingEvaluator struct{ started chan struct{} }

func (b blockingEvaluator) Eval(ctx context.Context, _ *syntax.LinkedNode, _ eval.Lookup) (eval.Value, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return eval.Value{}, ctx.Err()
}

func TestEditSupersedesLatestOnlyRequests(t *testing.T) {
	ev := blockingEvaluator{started: make(chan struct{}, 1)}
	e := newEnv(t, ev)
	main := e.open("main.typ", "#(1 + 2)")

	done := make(chan dispatch.Response, 1)
	go func() {
		resp, err := e.d.Handle(context.Background(), dispatch.Hover{At: at(main, 0, 2)})
		assert.NoError(t, err)
		done <- resp
	}()
	<-ev.started
	_, err := e.store.Edit(main, content.Change{Text: "#(1 + 3)"})
	require.NoError(t, err)

	resp := <-done
	assert.Equal(t, dispatch.Cancelled, resp.Outcome)
	assert.Equal(t, dispatch.KindHover, resp.Kind)
}

func TestCancelByID(t *testing.T) {
	ev := blockingEvaluator{started: make(chan struct{}, 1)}
	e := newEnv(t, ev)
	main := e.open("main.typ", "#(1 + 2)")

	done := make(chan dispatch.Response, 1)
	go func() {
		resp, err := e.d.HandleID(context.Background(), "req-1", dispatch.Hover{At: at(main, 0, 2)})
		assert.NoError(t, err)
		done <- resp
	}()
	<-ev.started
	assert.True(t, e.d.Cancel("req-1"))

	resp := <-done
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, dispatch.Cancelled, resp.Outcome)
	assert.False(t, e.d.Cancel("req-1"))
}
