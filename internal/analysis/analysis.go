// Package analysis holds the per-document semantic queries. Every query is
// a memoized computation over a memo.Frame; documents are read through the
// session's inputs, never from the store directly.
package analysis

import (
	"path"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/tliron/commonlog"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/eval"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/syntax"
)

var log = commonlog.GetLogger("tinymist.analysis")

// Query kinds. Keys with these kinds are stable across generations.
const (
	KindSource  = "source"
	KindExists  = "exists"
	KindDocs    = "docs"
	KindParse   = "parse"
	KindScopes  = "scopes"
	KindImports = "imports"
	KindExports = "exports"
	KindResolve = "resolve"
	KindBinding = "binding-type"
	KindTypeOf  = "type-of"
	KindDiag    = "local-diagnostics"
	KindRaw     = "raw-diagnostics"
)

// Analyzer carries the settings shared by all queries of a process.
type Analyzer struct {
	// Root is the workspace root URI that `/`-rooted imports resolve against.
	Root             content.URI
	DefaultExtension string
	Evaluator        eval.Evaluator
}

func New(root content.URI, ext string, ev eval.Evaluator) *Analyzer {
	if ext == "" {
		ext = ".typ"
	}
	if ev == nil {
		ev = eval.NewRisorEvaluator(200 * time.Millisecond)
	}
	return &Analyzer{Root: strings.TrimSuffix(root, "/"), DefaultExtension: ext, Evaluator: ev}
}

// Inputs serves the input keys of a session from a snapshot.
func Inputs(snap *content.Snapshot) memo.InputFunc {
	return func(k memo.Key) (any, memo.Fingerprint) {
		switch k.Kind {
		case KindSource:
			v, ok := snap.Get(k.Doc)
			if !ok {
				return nil, 0
			}
			return v, memo.Fingerprint(v.Hash) | 1
		case KindExists:
			if snap.Has(k.Doc) {
				return true, 1
			}
			return false, 2
		case KindDocs:
			uris := snap.URIs()
			h := memo.NewHasher()
			for _, u := range uris {
				h.String(u)
			}
			return uris, h.Sum()
		}
		log.Warningf("unknown input %s", k)
		return nil, 0
	}
}

// Source returns the snapshot's version of uri, or nil if it is not open.
func Source(fr *memo.Frame, uri content.URI) *content.Version {
	v, _ := fr.Input(memo.Key{Kind: KindSource, Doc: uri}).(*content.Version)
	return v
}

// Exists reports whether uri is part of the snapshot without depending on
// its text.
func Exists(fr *memo.Frame, uri content.URI) bool {
	ok, _ := fr.Input(memo.Key{Kind: KindExists, Doc: uri}).(bool)
	return ok
}

// Documents returns the sorted document set of the snapshot.
func Documents(fr *memo.Frame) []content.URI {
	uris, _ := fr.Input(memo.Key{Kind: KindDocs}).([]content.URI)
	return uris
}

// Parsed is a syntax tree together with the revision it was parsed from.
type Parsed struct {
	Tree     *syntax.Tree
	Rev      int
	Strategy syntax.Strategy
}

var emptyTree = syntax.Parse("")

// Parse returns the syntax tree of uri. A previous tree of the same
// document is reparsed incrementally.
func (a *Analyzer) Parse(fr *memo.Frame, uri content.URI) (*Parsed, error) {
	return memo.Query(fr, memo.Key{Kind: KindParse, Doc: uri}, func(fr *memo.Frame) (*Parsed, memo.Fingerprint, error) {
		v := Source(fr, uri)
		if v == nil {
			return &Parsed{Tree: emptyTree}, memo.Fingerprint(emptyTree.Fingerprint()), nil
		}
		p := reparse(fr, v)
		return p, memo.Fingerprint(p.Tree.Fingerprint()), nil
	})
}

func reparse(fr *memo.Frame, v *content.Version) *Parsed {
	prev, ok := fr.Previous()
	old, _ := prev.(*Parsed)
	if !ok || old == nil || old.Rev == 0 {
		return &Parsed{Tree: syntax.Parse(v.Text), Rev: v.Rev}
	}
	if old.Tree.Text() == v.Text {
		return &Parsed{Tree: old.Tree, Rev: v.Rev, Strategy: old.Strategy}
	}

	var edit sitter.EditInput
	merged := false
	if steps, ok := v.StepsSince(old.Rev); ok {
		edit, merged = syntax.MergeEdits(steps)
	}
	// A document that was closed and reopened restarts its revisions, so
	// the recorded steps are only trusted when they agree with both texts.
	if !merged || !consistent(old.Tree.Text(), v.Text, edit) {
		edit = syntax.DiffEdit(old.Tree.Text(), v.Text)
	}
	tree, strategy := syntax.Reparse(old.Tree, edit, v.Text)
	log.Debugf("reparsed %s rev %d -> %d (%s)", v.URI, old.Rev, v.Rev, strategy)
	return &Parsed{Tree: tree, Rev: v.Rev, Strategy: strategy}
}

func consistent(old, new string, e sitter.EditInput) bool {
	s, oe, ne := int(e.StartIndex), int(e.OldEndIndex), int(e.NewEndIndex)
	if s > oe || s > ne || oe > len(old) || ne > len(new) || len(old)-oe != len(new)-ne {
		return false
	}
	return old[:s] == new[:s] && old[oe:] == new[ne:]
}

// ResolvePath maps an import path written in from to a document URI.
// Package imports (`@ns/name:ver`) are not documents of the workspace.
func (a *Analyzer) ResolvePath(from content.URI, p string) (content.URI, bool) {
	if p == "" || strings.HasPrefix(p, "@") {
		return "", false
	}
	if path.Ext(p) == "" {
		p += a.DefaultExtension
	}
	if strings.HasPrefix(p, "/") {
		if a.Root == "" {
			return "", false
		}
		return a.Root + path.Clean(p), true
	}
	i := strings.LastIndexByte(from, '/')
	if i < 0 {
		return "", false
	}
	scheme, dir := splitScheme(from[:i])
	return scheme + path.Join(dir, p), true
}

func splitScheme(uri string) (string, string) {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i+3], uri[i+3:]
	}
	return "", uri
}

// RelativePath renders target relative to the directory of from, the way
// an import string would spell it.
func RelativePath(from, target content.URI) string {
	_, f := splitScheme(from)
	_, t := splitScheme(target)
	fromParts := strings.Split(path.Dir(f), "/")
	toParts := strings.Split(t, "/")
	i := 0
	for i < len(fromParts) && i < len(toParts)-1 && fromParts[i] == toParts[i] {
		i++
	}
	var b strings.Builder
	for j := i; j < len(fromParts); j++ {
		if fromParts[j] != "" {
			b.WriteString("../")
		}
	}
	b.WriteString(strings.Join(toParts[i:], "/"))
	return b.String()
}

// stem returns the file name of uri without its extension.
func stem(uri content.URI) string {
	base := path.Base(uri)
	return strings.TrimSuffix(base, path.Ext(base))
}

// nodeSpan finds the outermost node covering exactly [start, end).
func nodeSpan(root *syntax.LinkedNode, start, end int) *syntax.LinkedNode {
	n := root
	for {
		if n.Offset() == start && n.End() == end && n != root {
			return n
		}
		var next *syntax.LinkedNode
		for _, c := range n.Children() {
			if c.Offset() <= start && end <= c.End() && c.End() > c.Offset() {
				next = c
				break
			}
		}
		if next == nil {
			if n.Offset() == start && n.End() == end {
				return n
			}
			return nil
		}
		n = next
	}
}
