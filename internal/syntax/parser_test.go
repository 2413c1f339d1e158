package syntax_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/syntax"
)

func collect(t *syntax.Tree, kind syntax.Kind) []*syntax.LinkedNode {
	var out []*syntax.LinkedNode
	var walk func(ln *syntax.LinkedNode)
	walk = func(ln *syntax.LinkedNode) {
		if ln.Kind() == kind {
			out = append(out, ln)
		}
		for _, c := range ln.Children() {
			walk(c)
		}
	}
	walk(t.Linked())
	return out
}

func messages(t *syntax.Tree) []string {
	var out []string
	for _, e := range t.Errors() {
		out = append(out, e.Message)
	}
	return out
}

func TestParseIsLossless(t *testing.T) {
	docs := []string{
		"",
		"hello world",
		"= Intro <intro>\nSee @intro.\n\n- one\n+ two\n1. three",
		"#let x = 1\n#let f(a, b: 2) = a + b\n#f(x)[content]",
		"#{\n  let y = (1, 2, ..rest)\n  if y.len() > 1 { y } else [none]\n}",
		"$ x^2 + alpha #y $ and `raw` and ```go\nfunc(){}\n```",
		"#let s = \"unterminated\n#let ok = 2\n] stray",
		"/* block /* nested */ */ // line\n#import \"a.typ\": a, b as c",
		"#show heading: it => [#it.body]\n#set text(size: 12pt) if true",
		"#for (k, v) in (a: 1) { k }\n#while false { break }",
	}
	for _, doc := range docs {
		tree := syntax.Parse(doc)
		assert.Equal(t, doc, tree.Root().FullText())
		assert.Equal(t, len(doc), tree.Root().Width())
		assert.Equal(t, syntax.Markup, tree.Root().Kind())
	}
}

func TestLetBindings(t *testing.T) {
	tree := syntax.Parse("#let x = 1\n#let f(a, b: 2) = a + b\n")
	require.Empty(t, tree.Errors())

	lets := collect(tree, syntax.LetBinding)
	require.Len(t, lets, 2)
	assert.Equal(t, "x", lets[0].Child(syntax.Ident).Text())
	assert.NotNil(t, lets[0].Child(syntax.Int))

	closure := lets[1].Child(syntax.Closure)
	require.NotNil(t, closure)
	assert.Equal(t, "f", closure.Child(syntax.Ident).Text())
	params := closure.Child(syntax.Params)
	require.NotNil(t, params)
	assert.NotNil(t, params.Child(syntax.Named))
	assert.NotNil(t, closure.Child(syntax.Binary))
}

func TestUnterminatedStringRecovers(t *testing.T) {
	tree := syntax.Parse("#let a = 1\n#let s = \"abc\n#let y = 2\n")
	assert.Contains(t, messages(tree), "unterminated string")

	lets := collect(tree, syntax.LetBinding)
	require.Len(t, lets, 3)
	assert.Equal(t, "y", lets[2].Child(syntax.Ident).Text())
}

func TestUnclosedDelimiter(t *testing.T) {
	tree := syntax.Parse("#{ let x = 1")
	assert.Contains(t, messages(tree), "unclosed delimiter")

	tree = syntax.Parse("#f(1, 2")
	assert.Contains(t, messages(tree), "unclosed delimiter")
}

func TestImports(t *testing.T) {
	tree := syntax.Parse("#import \"a.typ\": x, y as z\n#import \"b.typ\": *\n#include \"c.typ\"")
	require.Empty(t, tree.Errors())

	imports := collect(tree, syntax.ModuleImport)
	require.Len(t, imports, 2)
	assert.Equal(t, `"a.typ"`, imports[0].Child(syntax.Str).Text())

	items := imports[0].Child(syntax.ImportItems)
	require.NotNil(t, items)
	assert.Equal(t, "x", items.Child(syntax.Ident).Text())
	renamed := items.Child(syntax.RenamedImportItem)
	require.NotNil(t, renamed)
	assert.Equal(t, "y as z", renamed.Node().FullText())

	assert.NotNil(t, imports[1].Child(syntax.Star))
	assert.Len(t, collect(tree, syntax.ModuleInclude), 1)
}

func TestMarkupElements(t *testing.T) {
	tree := syntax.Parse("= Intro <intro>\nSee @intro.\n- item\n+ next")

	headings := collect(tree, syntax.Heading)
	require.Len(t, headings, 1)
	assert.Equal(t, "= Intro <intro>", headings[0].Node().FullText())

	labels := collect(tree, syntax.Label)
	require.Len(t, labels, 1)
	assert.Equal(t, "<intro>", labels[0].Text())

	refs := collect(tree, syntax.Ref)
	require.Len(t, refs, 1)
	assert.Equal(t, "@intro", refs[0].Text())

	assert.Len(t, collect(tree, syntax.ListItem), 1)
	assert.Len(t, collect(tree, syntax.EnumItem), 1)
}

func TestEmbeddedFieldAccess(t *testing.T) {
	tree := syntax.Parse("#x.y text")
	assert.Len(t, collect(tree, syntax.FieldAccess), 1)

	tree = syntax.Parse("#x. Next sentence")
	assert.Empty(t, collect(tree, syntax.FieldAccess))
	assert.Empty(t, tree.Errors())
}

func TestElseOnNextLineInCodeBlock(t *testing.T) {
	tree := syntax.Parse("#{\n  if a { 1 }\n  else { 2 }\n}")
	require.Empty(t, tree.Errors())
	conds := collect(tree, syntax.Conditional)
	require.Len(t, conds, 1)
	assert.NotNil(t, conds[0].Child(syntax.Else))
}

func TestCollections(t *testing.T) {
	for _, tc := range []struct {
		src  string
		kind syntax.Kind
	}{
		{"#(1)", syntax.Parenthesized},
		{"#(1,)", syntax.Array},
		{"#()", syntax.Array},
		{"#(a: 1)", syntax.Dict},
		{"#(:)", syntax.Dict},
		{"#(\"k\": 1)", syntax.Dict},
	} {
		t.Run(tc.src, func(t *testing.T) {
			tree := syntax.Parse(tc.src)
			assert.Empty(t, tree.Errors())
			assert.Len(t, collect(tree, tc.kind), 1)
		})
	}
}

func TestTriviaFingerprint(t *testing.T) {
	a := syntax.Parse("#let x = 1 // a")
	b := syntax.Parse("#let x = 1 // b")
	c := syntax.Parse("#let x = 2 // a")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.False(t, syntax.Equal(a.Root(), b.Root()))
}

func TestLeafAt(t *testing.T) {
	tree := syntax.Parse("#let value = 1")
	leaf := tree.LeafAt(len("#let val"))
	require.NotNil(t, leaf)
	assert.Equal(t, "value", leaf.Text())

	// The identifier just typed wins over the space after it.
	leaf = tree.LeafAt(len("#let value"))
	require.NotNil(t, leaf)
	assert.Equal(t, "value", leaf.Text())
}

func TestIsIdent(t *testing.T) {
	assert.True(t, syntax.IsIdent("x"))
	assert.True(t, syntax.IsIdent("my-var_2"))
	assert.False(t, syntax.IsIdent(""))
	assert.False(t, syntax.IsIdent("let"))
	assert.False(t, syntax.IsIdent("1x"))
	assert.False(t, syntax.IsIdent("a b"))
	assert.False(t, syntax.IsIdent("x-"))
}
