package syntax_test

import (
	"math/rand"
	"testing"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/syntax"
)

const corpus = `= Heading <top>
Some text with @top and a #link("x")[label].

#let x = 1
#let f(a, b: 2) = {
  let y = a + b
  if y > 2 { y } else [small #y]
}

#{
  let items = (1, 2, 3)
  for i in items { i }
}

- a list item with *strong*
+ an enum item

$ x^2 + #x $ and ` + "`raw`" + `

#import "other.typ": g, h as k
#show heading: it => [#it.body]
`

func edit(text string, start, end int, insert string) (sitter.EditInput, string) {
	return sitter.EditInput{
		StartIndex:  uint32(start),
		OldEndIndex: uint32(end),
		NewEndIndex: uint32(start + len(insert)),
	}, text[:start] + insert + text[end:]
}

func TestReparseMatchesFullParse(t *testing.T) {
	snippets := []string{
		"x", " ", "\n", "{", "}", "[", "]", "\"", "#", "$", "(", ")", ",",
		"let z = 2", "// c", "/*", "*/", "= ", "- ", "`", "@a", "<b>", "#f(1)[t]",
		"\n\n", "if a {b}", "\\", "12pt",
	}
	rnd := rand.New(rand.NewSource(7))
	text := corpus
	tree := syntax.Parse(text)
	used := map[syntax.Strategy]int{}

	for i := 0; i < 500; i++ {
		start := rnd.Intn(len(text) + 1)
		end := start
		if rnd.Intn(3) == 0 {
			end = min(len(text), start+rnd.Intn(6))
		}
		insert := ""
		if end == start || rnd.Intn(2) == 0 {
			insert = snippets[rnd.Intn(len(snippets))]
		}

		e, next := edit(text, start, end, insert)
		got, strategy := syntax.Reparse(tree, e, next)
		want := syntax.Parse(next)
		require.True(t, syntax.Equal(want.Root(), got.Root()),
			"edit %d (%s) replacing [%d,%d) with %q diverged", i, strategy, start, end, insert)
		require.Equal(t, want.Fingerprint(), got.Fingerprint())

		used[strategy]++
		text, tree = next, got

		// Keep the document from drifting too far from valid syntax.
		if i%100 == 99 {
			text = corpus
			tree = syntax.Parse(text)
		}
	}

	assert.Positive(t, used[syntax.ReparseBlock])
	assert.Positive(t, used[syntax.ReparseSegment])
}

func TestReparseSegmentFollowsExpressionAcrossLines(t *testing.T) {
	text := "#let a = k\n#f(x)\n"
	tree := syntax.Parse(text)

	// A dangling operator pulls the next line into the binding.
	e, next := edit(text, len("#let a = k"), len("#let a = k"), "-")
	got, _ := syntax.Reparse(tree, e, next)
	assert.True(t, syntax.Equal(syntax.Parse(next).Root(), got.Root()))

	// Removing it again splits the lines apart.
	e, back := edit(next, len("#let a = k"), len("#let a = k-"), "")
	again, _ := syntax.Reparse(got, e, back)
	assert.True(t, syntax.Equal(syntax.Parse(back).Root(), again.Root()))
}

// runeStart moves i back to the start of the rune containing it.
func runeStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func TestReparseMatchesFullParseAcrossSeeds(t *testing.T) {
	snippets := []string{
		"x", "\n", "-", "+", "=>", "#{", "}", "```", "é", "\r\n", "#", "(", ")",
		"let z = 2", "= ", "\"", "$", "[", "]", "// c", "#f(1)",
	}
	for seed := int64(1); seed <= 40; seed++ {
		rnd := rand.New(rand.NewSource(seed))
		text := corpus
		tree := syntax.Parse(text)
		for i := 0; i < 150; i++ {
			start := rnd.Intn(len(text) + 1)
			end := start
			if rnd.Intn(3) == 0 {
				end = min(len(text), start+rnd.Intn(6))
			}
			start, end = runeStart(text, start), runeStart(text, end)
			insert := ""
			if end == start || rnd.Intn(2) == 0 {
				insert = snippets[rnd.Intn(len(snippets))]
			}
			e, next := edit(text, start, end, insert)
			got, strategy := syntax.Reparse(tree, e, next)
			require.True(t, syntax.Equal(syntax.Parse(next).Root(), got.Root()),
				"seed %d edit %d (%s) replacing [%d,%d) with %q diverged", seed, i, strategy, start, end, insert)
			text, tree = next, got
		}
	}
}

func TestReparseSharesUntouchedSubtrees(t *testing.T) {
	tree := syntax.Parse(corpus)
	pos := len("= Heading <top>\nSome text with @top and a #link(\"x\")[label].\n\n#let x = 1\n#let f(a, b: 2) = {\n  let y = a")

	e, next := edit(corpus, pos, pos, " ")
	got, strategy := syntax.Reparse(tree, e, next)
	assert.Equal(t, syntax.ReparseBlock, strategy)
	require.True(t, syntax.Equal(syntax.Parse(next).Root(), got.Root()))

	oldKids, newKids := tree.Root().Children(), got.Root().Children()
	require.Equal(t, len(oldKids), len(newKids))
	shared := 0
	for i := range oldKids {
		if oldKids[i] == newKids[i] {
			shared++
		}
	}
	assert.Equal(t, len(oldKids)-1, shared, "only the edited top-level child is rebuilt")
}

func TestReparseRejectsUnclosedRegion(t *testing.T) {
	text := "#{ let a = 1 }\nafter"
	tree := syntax.Parse(text)
	pos := len("#{ let a = ")

	// An opening quote inside the block swallows the closing brace on its
	// line, so the block cannot be reparsed in isolation.
	e, next := edit(text, pos, pos, "\"")
	got, strategy := syntax.Reparse(tree, e, next)
	assert.NotEqual(t, syntax.ReparseBlock, strategy)
	assert.True(t, syntax.Equal(syntax.Parse(next).Root(), got.Root()))
}

func TestMergeEdits(t *testing.T) {
	text0 := "hello world"
	e1, text1 := edit(text0, 5, 5, ",")
	e2, text2 := edit(text1, 0, 1, "J")
	e3, text3 := edit(text2, len(text2), len(text2), "!")

	merged, ok := syntax.MergeEdits([]sitter.EditInput{e1, e2, e3})
	require.True(t, ok)
	assert.Equal(t, text3, text0[:merged.StartIndex]+text3[merged.StartIndex:merged.NewEndIndex]+text0[merged.OldEndIndex:])
	assert.Equal(t, len(text3)-len(text0), int(merged.NewEndIndex)-int(merged.OldEndIndex))

	_, ok = syntax.MergeEdits(nil)
	assert.False(t, ok)
}

func TestDiffEdit(t *testing.T) {
	e := syntax.DiffEdit("abcdef", "abXYef")
	assert.Equal(t, uint32(2), e.StartIndex)
	assert.Equal(t, uint32(4), e.OldEndIndex)
	assert.Equal(t, uint32(4), e.NewEndIndex)

	e = syntax.DiffEdit("aaa", "aaaa")
	assert.Equal(t, uint32(3), e.StartIndex)
	assert.Equal(t, uint32(3), e.OldEndIndex)
	assert.Equal(t, uint32(4), e.NewEndIndex)
}
