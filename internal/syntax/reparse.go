package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Strategy names the region an incremental reparse replaced.
type Strategy int

const (
	ReparseFull Strategy = iota
	ReparseBlock
	ReparseSegment
)

func (s Strategy) String() string {
	switch s {
	case ReparseBlock:
		return "block"
	case ReparseSegment:
		return "segment"
	}
	return "full"
}

// Reparse produces the tree for text, which is old's text with edit
// applied. Unchanged subtrees of old are shared by reference. The result is
// always structurally equal to Parse(text).
func Reparse(old *Tree, edit sitter.EditInput, text string) (*Tree, Strategy) {
	start, oldEnd, newEnd := int(edit.StartIndex), int(edit.OldEndIndex), int(edit.NewEndIndex)
	if old == nil || start > oldEnd || start > newEnd || oldEnd > len(old.text) ||
		newEnd > len(text) || len(text)-len(old.text) != newEnd-oldEnd {
		return Parse(text), ReparseFull
	}
	delta := newEnd - oldEnd

	if root, ok := reparseBlock(old, text, start, oldEnd, delta); ok {
		return NewTree(root, text), ReparseBlock
	}
	if root, ok := reparseSegment(old, text, start, oldEnd, delta); ok {
		return NewTree(root, text), ReparseSegment
	}
	return Parse(text), ReparseFull
}

// reparseBlock reparses the innermost closed block whose interior strictly
// contains the edited range, trying outer blocks when that fails.
func reparseBlock(old *Tree, text string, start, oldEnd, delta int) (*Node, bool) {
	var candidates []*LinkedNode
	ln := old.Linked()
	for {
		var next *LinkedNode
		for _, c := range ln.Children() {
			if c.offset <= start && oldEnd <= c.End() && !c.node.IsLeaf() {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		if next.Kind().IsBlock() && closed(next.node) && next.offset < start && oldEnd < next.End() {
			candidates = append(candidates, next)
		}
		ln = next
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		b := candidates[i]
		limit := b.End() + delta
		p := newParser(text, b.offset, limit, modeCode)
		if b.Kind() == CodeBlock {
			p.codeBlock()
		} else {
			p.contentBlock()
		}
		if p.hitEOF || len(p.nodes) != 1 || p.lastEnd != limit {
			continue
		}
		n := p.nodes[0]
		if n.kind != b.Kind() || n.width != limit-b.offset || !closed(n) {
			continue
		}
		return splice(b, n), true
	}
	return nil, false
}

func closed(block *Node) bool {
	if len(block.children) == 0 {
		return false
	}
	last := block.children[len(block.children)-1].kind
	return last == RightBrace || last == RightBracket
}

// splice replaces ln's node with n and path-copies its ancestors.
func splice(ln *LinkedNode, n *Node) *Node {
	for ln.parent != nil {
		n = ln.parent.node.withChild(ln.index, n)
		ln = ln.parent
	}
	return n
}

// reparseSegment reparses the run of whole top-level children covering the
// edit, widened to line starts. The parse runs on past the edited run until
// it reaches a line start that was also a child boundary of old, from where
// the old children are reused.
func reparseSegment(old *Tree, text string, start, oldEnd, delta int) (*Node, bool) {
	children := old.root.children
	n := len(children)
	if n == 0 {
		return nil, false
	}
	offsets := make([]int, n+1)
	for i, c := range children {
		offsets[i+1] = offsets[i] + c.width
	}
	total := offsets[n]

	childAt := func(pos int) int {
		for i := 0; i < n; i++ {
			if offsets[i] <= pos && pos < offsets[i+1] {
				return i
			}
		}
		return n - 1
	}
	lineStart := func(i int) bool {
		off := offsets[i]
		return off == 0 || off == total || old.text[off-1] == '\n'
	}

	before := start - 1
	if before < 0 {
		before = 0
	}
	first := childAt(before)
	last := childAt(oldEnd)
	for first > 0 && !lineStart(first) {
		first--
	}
	for last < n-1 && !lineStart(last+1) {
		last++
	}

	segStart := offsets[first]
	segEnd := offsets[last+1] + delta
	if segEnd < segStart || segEnd > len(text) {
		return nil, false
	}

	// Positions in the new text where an old child may resume.
	resume := map[int]int{}
	for j := last + 1; j <= n; j++ {
		if lineStart(j) {
			resume[offsets[j]+delta] = j
		}
	}

	p := newParser(text, segStart, len(text), modeMarkup)
	for {
		// Top-level markup skips no trivia, so the current token starts
		// where the parsed items end.
		pos := p.cur.start
		if pos >= segEnd {
			if j, ok := resume[pos]; ok {
				replaced := make([]*Node, 0, first+len(p.nodes)+n-j)
				replaced = append(replaced, children[:first]...)
				replaced = append(replaced, p.nodes...)
				replaced = append(replaced, children[j:]...)
				return NewInner(Markup, replaced), true
			}
		}
		if p.cur.kind == End {
			return nil, false
		}
		p.markupItem(false)
	}
}

// MergeEdits composes sequential byte-level edits into one edit relative to
// the text before the first of them. Point fields are left zero.
func MergeEdits(edits []sitter.EditInput) (sitter.EditInput, bool) {
	if len(edits) == 0 {
		return sitter.EditInput{}, false
	}
	s, oe, ne := int(edits[0].StartIndex), int(edits[0].OldEndIndex), int(edits[0].NewEndIndex)
	for _, e := range edits[1:] {
		s2, oe2, ne2 := int(e.StartIndex), int(e.OldEndIndex), int(e.NewEndIndex)
		end := max(ne, oe2)
		s = min(s, s2)
		oe, ne = end-(ne-oe), end+(ne2-oe2)
	}
	return sitter.EditInput{
		StartIndex:  uint32(s),
		OldEndIndex: uint32(oe),
		NewEndIndex: uint32(ne),
	}, true
}

// DiffEdit returns the smallest single edit turning old into new.
func DiffEdit(old, new string) sitter.EditInput {
	prefix := 0
	for prefix < len(old) && prefix < len(new) && old[prefix] == new[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(old)-prefix && suffix < len(new)-prefix &&
		old[len(old)-1-suffix] == new[len(new)-1-suffix] {
		suffix++
	}
	return sitter.EditInput{
		StartIndex:  uint32(prefix),
		OldEndIndex: uint32(len(old) - suffix),
		NewEndIndex: uint32(len(new) - suffix),
	}
}
