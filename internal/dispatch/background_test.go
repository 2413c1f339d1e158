package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/dispatch"
	"github.com/uros-5/tinymist/internal/scheduler"
)

type recorder struct {
	mu   sync.Mutex
	last map[content.URI][]protocol.Diagnostic
	n    map[content.URI]int
}

func (r *recorder) publish(uri content.URI, _ int, diags []protocol.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[uri] = diags
	r.n[uri]++
}

func (r *recorder) messages(uri content.URI) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	diags, ok := r.last[uri]
	var out []string
	for _, d := range diags {
		out = append(out, d.Message)
	}
	return out, ok
}

func TestBackgroundDiagnosticsFollowImports(t *testing.T) {
	e := newEnv(t, nil)
	s := scheduler.NewScheduler(64, 2)
	s.RunScheduler()
	defer s.StopScheduler()

	rec := &recorder{last: map[content.URI][]protocol.Diagnostic{}, n: map[content.URI]int{}}
	e.d.Start(s, rec.publish, time.Hour)

	lib := e.open("lib.typ", "#let x = 1")
	main := e.open("main.typ", "#import \"lib.typ\": *\n#x")
	require.Eventually(t, func() bool {
		msgs, ok := rec.messages(main)
		return ok && len(msgs) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Renaming the binding in the imported document breaks the importer.
	_, err := e.store.Edit(lib, content.Change{Text: "#let y = 1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs, _ := rec.messages(main)
		return assert.ObjectsAreEqual([]string{"unknown variable: x"}, msgs)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, e.store.Close(main))
	msgs, ok := rec.messages(main)
	assert.True(t, ok)
	assert.Empty(t, msgs)
}

func TestEvictDropsClosedDocuments(t *testing.T) {
	e := newEnv(t, nil)
	main := e.open("main.typ", "#let a = 1")
	e.handle(dispatch.Diagnostics{URI: main})
	require.NotZero(t, e.memo.Len())

	require.NoError(t, e.store.Close(main))
	require.NoError(t, e.d.Evict())
	for k := range e.memo.Entries() {
		assert.NotEqual(t, main, k.Doc, k.String())
	}
}

func TestGraph(t *testing.T) {
	e := newEnv(t, nil)
	lib := e.open("lib.typ", "#let x = 1")
	main := e.open("main.typ", "#import \"lib.typ\": x")

	g, err := e.d.Graph(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []content.URI{lib, main}, g.Nodes)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, main, g.Edges[0].From)
	assert.Equal(t, lib, g.Edges[0].To)
}
