package syntax

// LinkedNode is a positioned view of a green node: it knows its absolute
// offset and its parent. Linked nodes are created on the fly and are cheap.
type LinkedNode struct {
	node   *Node
	parent *LinkedNode
	index  int
	offset int
}

func (ln *LinkedNode) Node() *Node         { return ln.node }
func (ln *LinkedNode) Kind() Kind          { return ln.node.kind }
func (ln *LinkedNode) Parent() *LinkedNode { return ln.parent }
func (ln *LinkedNode) Index() int          { return ln.index }
func (ln *LinkedNode) Offset() int         { return ln.offset }
func (ln *LinkedNode) End() int            { return ln.offset + ln.node.width }
func (ln *LinkedNode) Text() string        { return ln.node.text }

func (ln *LinkedNode) Children() []*LinkedNode {
	out := make([]*LinkedNode, len(ln.node.children))
	offset := ln.offset
	for i, c := range ln.node.children {
		out[i] = &LinkedNode{node: c, parent: ln, index: i, offset: offset}
		offset += c.width
	}
	return out
}

// Child returns the first child of the given kind.
func (ln *LinkedNode) Child(kind Kind) *LinkedNode {
	offset := ln.offset
	for i, c := range ln.node.children {
		if c.kind == kind {
			return &LinkedNode{node: c, parent: ln, index: i, offset: offset}
		}
		offset += c.width
	}
	return nil
}

// Significant returns the children that are not trivia.
func (ln *LinkedNode) Significant() []*LinkedNode {
	var out []*LinkedNode
	for _, c := range ln.Children() {
		if !c.Kind().IsTrivia() {
			out = append(out, c)
		}
	}
	return out
}

// PrevSibling returns the previous non-trivia sibling.
func (ln *LinkedNode) PrevSibling() *LinkedNode {
	if ln.parent == nil {
		return nil
	}
	siblings := ln.parent.Children()
	for i := ln.index - 1; i >= 0; i-- {
		if !siblings[i].Kind().IsTrivia() {
			return siblings[i]
		}
	}
	return nil
}

// NextSibling returns the next non-trivia sibling.
func (ln *LinkedNode) NextSibling() *LinkedNode {
	if ln.parent == nil {
		return nil
	}
	siblings := ln.parent.Children()
	for i := ln.index + 1; i < len(siblings); i++ {
		if !siblings[i].Kind().IsTrivia() {
			return siblings[i]
		}
	}
	return nil
}

// LeafAt returns the leaf whose range contains offset. When offset falls on
// a boundary the leaf ending there is preferred, which is what cursor
// queries want for "word just typed".
func (ln *LinkedNode) LeafAt(offset int) *LinkedNode {
	if ln.node.IsLeaf() {
		if ln.offset <= offset && offset <= ln.End() {
			return ln
		}
		return nil
	}
	for _, c := range ln.Children() {
		if c.node.width == 0 && c.offset != offset {
			continue
		}
		if c.offset <= offset && offset <= c.End() {
			if leaf := c.LeafAt(offset); leaf != nil {
				if offset == c.End() && offset < ln.End() && leaf.Kind().IsTrivia() {
					continue
				}
				return leaf
			}
		}
	}
	return nil
}

// Ancestor walks up to the nearest node of one of the given kinds.
func (ln *LinkedNode) Ancestor(kinds ...Kind) *LinkedNode {
	for n := ln; n != nil; n = n.parent {
		for _, k := range kinds {
			if n.Kind() == k {
				return n
			}
		}
	}
	return nil
}

// Find returns the descendant whose green node is n, if any.
func (ln *LinkedNode) Find(n *Node) *LinkedNode {
	if ln.node == n {
		return ln
	}
	for _, c := range ln.Children() {
		if c.offset <= ln.End() {
			if f := c.Find(n); f != nil {
				return f
			}
		}
	}
	return nil
}

// At returns the innermost node starting exactly at offset with the given kind.
func (ln *LinkedNode) At(offset int, kind Kind) *LinkedNode {
	if ln.offset > offset || ln.End() < offset {
		return nil
	}
	for _, c := range ln.Children() {
		if found := c.At(offset, kind); found != nil {
			return found
		}
	}
	if ln.offset == offset && ln.Kind() == kind {
		return ln
	}
	return nil
}
