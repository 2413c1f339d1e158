package syntax

import (
	"encoding/binary"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Node is an immutable green node. It knows its width but not its position,
// so unchanged subtrees can be shared between revisions by reference.
type Node struct {
	kind      Kind
	width     int
	text      string
	children  []*Node
	err       string
	erroneous bool
	fp        uint64
}

func NewLeaf(kind Kind, text string) *Node {
	n := &Node{kind: kind, width: len(text), text: text}
	n.fp = n.fingerprint()
	return n
}

// NewError creates an error leaf covering text (which may be empty).
func NewError(msg, text string) *Node {
	n := &Node{kind: Error, width: len(text), text: text, err: msg, erroneous: true}
	n.fp = n.fingerprint()
	return n
}

func NewInner(kind Kind, children []*Node) *Node {
	n := &Node{kind: kind, children: children}
	for _, c := range children {
		n.width += c.width
		n.erroneous = n.erroneous || c.erroneous
	}
	n.fp = n.fingerprint()
	return n
}

// fingerprint hashes kind, width and significant text bottom-up. Trivia
// contributes its kind and width only.
func (n *Node) fingerprint() uint64 {
	d := xxhash.New()
	var buf [9]byte
	buf[0] = byte(n.kind)
	binary.LittleEndian.PutUint64(buf[1:], uint64(n.width))
	_, _ = d.Write(buf[:])
	if len(n.children) == 0 {
		if !n.kind.IsTrivia() {
			_, _ = d.WriteString(n.text)
		}
		if n.err != "" {
			_, _ = d.WriteString("\x00")
			_, _ = d.WriteString(n.err)
		}
		return d.Sum64()
	}
	for _, c := range n.children {
		binary.LittleEndian.PutUint64(buf[1:], c.fp)
		_, _ = d.Write(buf[1:])
	}
	return d.Sum64()
}

func (n *Node) Kind() Kind          { return n.kind }
func (n *Node) Width() int          { return n.width }
func (n *Node) Children() []*Node   { return n.children }
func (n *Node) IsLeaf() bool        { return len(n.children) == 0 }
func (n *Node) Fingerprint() uint64 { return n.fp }

// Erroneous reports whether the subtree contains an error node.
func (n *Node) Erroneous() bool { return n.erroneous }

// ErrorMessage is set for error nodes only.
func (n *Node) ErrorMessage() string { return n.err }

// Text returns the text of a leaf, or the empty string for inner nodes.
func (n *Node) Text() string { return n.text }

// FullText reassembles the source text covered by the node.
func (n *Node) FullText() string {
	if n.IsLeaf() {
		return n.text
	}
	var b strings.Builder
	b.Grow(n.width)
	n.writeText(&b)
	return b.String()
}

func (n *Node) writeText(b *strings.Builder) {
	if n.IsLeaf() {
		b.WriteString(n.text)
		return
	}
	for _, c := range n.children {
		c.writeText(b)
	}
}

// Cast returns the first child of the given kind.
func (n *Node) Cast(kind Kind) *Node {
	for _, c := range n.children {
		if c.kind == kind {
			return c
		}
	}
	return nil
}

// withChild returns a copy of n with child i replaced.
func (n *Node) withChild(i int, child *Node) *Node {
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	children[i] = child
	return NewInner(n.kind, children)
}

// Equal compares two subtrees structurally, including trivia text.
func Equal(a, b *Node) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.kind != b.kind || a.width != b.width || a.text != b.text || a.err != b.err ||
		len(a.children) != len(b.children) {
		return false
	}
	for i := range a.children {
		if !Equal(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

// Tree is the parse result for one document revision.
type Tree struct {
	root *Node
	text string
}

func NewTree(root *Node, text string) *Tree { return &Tree{root: root, text: text} }

func (t *Tree) Root() *Node         { return t.root }
func (t *Tree) Text() string        { return t.text }
func (t *Tree) Fingerprint() uint64 { return t.root.fp }

func (t *Tree) Linked() *LinkedNode { return &LinkedNode{node: t.root} }

// LeafAt returns the leaf covering offset; see LinkedNode.LeafAt.
func (t *Tree) LeafAt(offset int) *LinkedNode { return t.Linked().LeafAt(offset) }

// SyntaxError is a recoverable parse problem embedded in the tree.
type SyntaxError struct {
	Start, End int
	Message    string
}

// Errors lists the error nodes of the tree in source order.
func (t *Tree) Errors() []SyntaxError {
	var errs []SyntaxError
	var walk func(ln *LinkedNode)
	walk = func(ln *LinkedNode) {
		if !ln.node.erroneous {
			return
		}
		if ln.node.kind == Error {
			errs = append(errs, SyntaxError{Start: ln.offset, End: ln.End(), Message: ln.node.err})
			return
		}
		for _, c := range ln.Children() {
			walk(c)
		}
	}
	walk(t.Linked())
	return errs
}
