package analysis_test

import (
	"math/rand"
	"sort"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
)

func (e *env) complete(uri content.URI, offset int) []string {
	items := run(e, func(fr *memo.Frame) ([]analysis.Completion, error) {
		return e.a.Complete(fr, uri, offset)
	})
	var out []string
	for _, it := range items {
		out = append(out, it.Label)
	}
	return out
}

func (e *env) hover(uri content.URI, offset int) *analysis.Hover {
	return run(e, func(fr *memo.Frame) (*analysis.Hover, error) {
		return e.a.Hover(fr, uri, offset)
	})
}

func TestCompleteNames(t *testing.T) {
	e := newEnv(t)
	text := "#let alpha = 1\n#let alpine(x, size: 1) = x\n#alp"
	uri := e.open("main.typ", text)

	labels := e.complete(uri, len(text))
	assert.Contains(t, labels, "alpha")
	assert.Contains(t, labels, "alpine")
	assert.True(t, sort.StringsAreSorted(labels))
}

func TestCompleteImportedNames(t *testing.T) {
	e := newEnv(t)
	e.open("lib.typ", "#let helper = 1")
	text := "#import \"lib.typ\": *\n#hel"
	uri := e.open("main.typ", text)

	assert.Contains(t, e.complete(uri, len(text)), "helper")
}

func TestCompleteMembers(t *testing.T) {
	e := newEnv(t)
	text := "#calc."
	uri := e.open("main.typ", text)

	labels := e.complete(uri, len(text))
	assert.Contains(t, labels, "pow")
	assert.NotContains(t, labels, "text")
}

func TestCompleteLabels(t *testing.T) {
	e := newEnv(t)
	text := "= A <intro>\n= B <outro>\n@in"
	uri := e.open("main.typ", text)

	assert.Equal(t, []string{"intro"}, e.complete(uri, len(text)))
}

func TestCompleteImportPaths(t *testing.T) {
	e := newEnv(t)
	e.open("lib.typ", "")
	e.open("sub/util.typ", "")
	text := "#import \"li\""
	uri := e.open("main.typ", text)

	assert.Equal(t, []string{"lib.typ"}, e.complete(uri, len(text)-1))
}

func TestCompleteNamedArgumentValues(t *testing.T) {
	e := newEnv(t)
	text := "#block(breakable: ) #box(width: ) #figure(placement: ) #rect(fill: r)\n#let f(flag: true) = flag\n#f(flag: )"
	uri := e.open("main.typ", text)

	assert.Equal(t, []string{"false", "true"}, e.complete(uri, at(t, text, "breakable: )", 11)))
	assert.Equal(t, []string{"auto", "none"}, e.complete(uri, at(t, text, "placement: )", 11)))

	width := run(e, func(fr *memo.Frame) ([]analysis.Completion, error) {
		return e.a.Complete(fr, uri, at(t, text, "width: )", 7))
	})
	inserts := map[string]string{}
	for _, c := range width {
		inserts[c.Label] = c.Insert
	}
	assert.Contains(t, inserts, "auto")
	assert.NotContains(t, inserts, "none")
	assert.Equal(t, "1pt", inserts["pt"])
	assert.Equal(t, "50%", inserts["%"])

	fill := e.complete(uri, at(t, text, "fill: r)", 7))
	assert.Contains(t, fill, "red")
	assert.Contains(t, fill, "rgb()")
	assert.Contains(t, fill, "rect")
	assert.NotContains(t, fill, "false")

	// Closures declare no parameter types.
	assert.Empty(t, e.complete(uri, at(t, text, "flag: )", 6)))
}

func TestSignatureHelp(t *testing.T) {
	e := newEnv(t)
	text := "#let f(a, b, size: 1) = a\n#f(1, 2) #f(size: 3) #calc.pow(2, 3)"
	uri := e.open("main.typ", text)
	help := func(offset int) *analysis.SignatureHelp {
		return run(e, func(fr *memo.Frame) (*analysis.SignatureHelp, error) {
			return e.a.SignatureHelp(fr, uri, offset)
		})
	}

	h := help(at(t, text, "1, 2", 3))
	require.NotNil(t, h)
	assert.Equal(t, "f(a, b, size: ..)", h.Label)
	assert.Equal(t, 1, h.Active)

	h = help(at(t, text, "size: 3", 6))
	require.NotNil(t, h)
	assert.Equal(t, 2, h.Active)

	h = help(at(t, text, "2, 3)", 3))
	require.NotNil(t, h)
	assert.Equal(t, 1, h.Active)
	assert.NotEmpty(t, h.Doc)

	assert.Nil(t, help(0))
}

func TestHover(t *testing.T) {
	e := newEnv(t)
	e.open("lib.typ", "#let shared = 2pt")
	text := "#import \"lib.typ\": shared\n#let f(x) = x\n#text #shared #f(1) #(1pt + 2pt)"
	uri := e.open("main.typ", text)

	h := e.hover(uri, at(t, text, "text", 1))
	require.NotNil(t, h)
	assert.Contains(t, h.Contents, "text(")

	h = e.hover(uri, at(t, text, "#shared", 2))
	require.NotNil(t, h)
	assert.Contains(t, h.Contents, "let shared: length")
	assert.Contains(t, h.Contents, "lib.typ")

	h = e.hover(uri, at(t, text, "f(1)", 0))
	require.NotNil(t, h)
	assert.Contains(t, h.Contents, "let f(x)")

	h = e.hover(uri, at(t, text, "1pt", 1))
	require.NotNil(t, h)
	assert.Contains(t, h.Contents, "length")
}

func TestOutline(t *testing.T) {
	e := newEnv(t)
	text := "#let a = 1\n= One\n#let f() = 1\n== Sub <sub>\n= Two\n"
	uri := e.open("main.typ", text)

	items := run(e, func(fr *memo.Frame) ([]*analysis.OutlineItem, error) {
		return e.a.Outline(fr, uri)
	})
	require.Len(t, items, 3)
	assert.Equal(t, analysis.OutlineVariable, items[0].Kind)
	one := items[1]
	assert.Equal(t, analysis.OutlineHeading, one.Kind)
	assert.Equal(t, at(t, text, "= Two", 0), one.End)
	require.Len(t, one.Children, 2)
	assert.Equal(t, analysis.OutlineFunction, one.Children[0].Kind)
	sub := one.Children[1]
	require.Len(t, sub.Children, 1)
	assert.Equal(t, analysis.OutlineLabel, sub.Children[0].Kind)
	assert.Equal(t, analysis.OutlineHeading, items[2].Kind)
	assert.Equal(t, len(text), items[2].End)
}

// state collects every per-document query result an editor asks for.
type state struct {
	Diagnostics []analysis.Diagnostic
	Exports     *analysis.ExportTable
	Imports     []analysis.ResolvedImport
	Outline     []*analysis.OutlineItem
	References  []analysis.Resolution
	At          analysis.Resolution
	Found       bool
}

func (e *env) state(uri content.URI, offset int) state {
	return run(e, func(fr *memo.Frame) (state, error) {
		var s state
		var err error
		if s.Diagnostics, err = e.a.LocalDiagnostics(fr, uri); err != nil {
			return s, err
		}
		if s.Exports, err = e.a.Exports(fr, uri); err != nil {
			return s, err
		}
		if s.Imports, err = e.a.Imports(fr, uri); err != nil {
			return s, err
		}
		if s.Outline, err = e.a.Outline(fr, uri); err != nil {
			return s, err
		}
		if s.References, err = e.a.ResolveAll(fr, uri); err != nil {
			return s, err
		}
		s.At, s.Found, err = e.a.Resolve(fr, uri, offset)
		return s, err
	})
}

// fresh opens the current texts of e in a new store and memo.
func (e *env) fresh() *env {
	f := newEnv(e.t)
	snap := e.store.Snapshot()
	for _, uri := range snap.URIs() {
		v, _ := snap.Get(uri)
		_, err := f.store.Open(uri, v.Text)
		require.NoError(e.t, err)
	}
	return f
}

func TestIncrementalMatchesFromScratch(t *testing.T) {
	snippets := []string{
		"-", "+", "=>", "#{", "}", "\n", "\r\n", "é", "x", "#a", "#c", "(", ")",
		"#let d = 4\n", "#import \"lib.typ\": *\n", "= Head <g>\n", "@g", "$", "[", "]",
		"#f(x)\n", "// note\n", "#let b(x) = x\n",
	}
	for seed := int64(1); seed <= 6; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		e := newEnv(t)
		docs := []content.URI{
			e.open("lib.typ", "#let a = 1\n#let b(x) = x\n"),
			e.open("main.typ", "#import \"lib.typ\": *\n#let a = k\n#f(x)\n#a #b(2) #c\n= Head <h>\n@h\n"),
		}
		for step := 0; step < 40; step++ {
			uri := docs[rnd.Intn(len(docs))]
			v, ok := e.store.Snapshot().Get(uri)
			require.True(t, ok)
			start := runeStart(v.Text, rnd.Intn(len(v.Text)+1))
			end := start
			if rnd.Intn(3) == 0 {
				end = runeStart(v.Text, min(len(v.Text), start+rnd.Intn(8)))
			}
			insert := ""
			if end == start || rnd.Intn(2) == 0 {
				insert = snippets[rnd.Intn(len(snippets))]
			}
			rng := v.Lines().Range(start, end)
			_, err := e.store.Edit(uri, content.Change{Range: &rng, Text: insert})
			require.NoError(t, err)

			f := e.fresh()
			for _, doc := range docs {
				cur, _ := e.store.Snapshot().Get(doc)
				offset := rnd.Intn(len(cur.Text) + 1)
				assert.Equal(t, f.state(doc, offset), e.state(doc, offset),
					"seed %d step %d: %s after replacing [%d,%d) of %s with %q", seed, step, doc, start, end, uri, insert)
			}
		}
	}
}

// runeStart moves i back to the start of the rune containing it.
func runeStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
