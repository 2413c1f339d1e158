package content

import (
	"sort"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

type URI = protocol.DocumentUri

// Change is a range-based replacement in LSP coordinates. A nil Range
// replaces the whole document.
type Change struct {
	Range *protocol.Range
	Text  string
}

// Step records the byte-level edit that produced revision Rev.
type Step struct {
	Rev  int
	Edit sitter.EditInput
}

// Version is one immutable revision of a document.
type Version struct {
	URI   URI
	Rev   int
	Gen   uint64
	Text  string
	Hash  uint64
	Steps []Step

	linesOnce sync.Once
	lines     *LineIndex
}

func (v *Version) Lines() *LineIndex {
	v.linesOnce.Do(func() { v.lines = NewLineIndex(v.Text) })
	return v.lines
}

// StepsSince returns the edits leading from revision rev to v, oldest first.
// It reports false when the bounded history no longer reaches back to rev.
func (v *Version) StepsSince(rev int) ([]sitter.EditInput, bool) {
	if rev == v.Rev {
		return nil, true
	}
	if rev > v.Rev || len(v.Steps) == 0 || v.Steps[0].Rev > rev+1 {
		return nil, false
	}
	var edits []sitter.EditInput
	for _, s := range v.Steps {
		if s.Rev > rev {
			edits = append(edits, s.Edit)
		}
	}
	return edits, len(edits) == v.Rev-rev
}

// Snapshot is an immutable view of the document set at one generation.
type Snapshot struct {
	gen  uint64
	docs map[URI]*Version
}

func (s *Snapshot) Gen() uint64 { return s.gen }

func (s *Snapshot) Get(uri URI) (*Version, bool) {
	v, ok := s.docs[uri]
	return v, ok
}

func (s *Snapshot) Has(uri URI) bool {
	_, ok := s.docs[uri]
	return ok
}

func (s *Snapshot) Len() int { return len(s.docs) }

// URIs returns the documents of the snapshot in sorted order.
func (s *Snapshot) URIs() []URI {
	uris := make([]URI, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}
