// Package workspace answers questions that span documents: import
// closures and cycles, definitions across imports and reverse lookups.
package workspace

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
)

var log = commonlog.GetLogger("tinymist.workspace")

const (
	KindClosure     = "import-closure"
	KindCycles      = "import-cycles"
	KindDiagnostics = "diagnostics"
)

const DefaultDepthLimit = 64

type Index struct {
	A *analysis.Analyzer
	// DepthLimit bounds import chains the way the evaluator bounds nested
	// module loading.
	DepthLimit int
	// Workers bounds the parallel scans of ReferencesOf.
	Workers int
}

func New(a *analysis.Analyzer, depthLimit, workers int) *Index {
	if depthLimit <= 0 {
		depthLimit = DefaultDepthLimit
	}
	if workers <= 0 {
		workers = 4
	}
	return &Index{A: a, DepthLimit: depthLimit, Workers: workers}
}

// ResolveImport maps an import path to a document of the snapshot. Cycles
// do not prevent resolution.
func (ix *Index) ResolveImport(fr *memo.Frame, from content.URI, p string) (content.URI, bool) {
	target, ok := ix.A.ResolvePath(from, p)
	if !ok || !analysis.Exists(fr, target) {
		return "", false
	}
	return target, true
}

// targets returns the existing documents uri imports or includes, in
// statement order.
func (ix *Index) targets(fr *memo.Frame, uri content.URI) ([]content.URI, []analysis.ResolvedImport, error) {
	imps, err := ix.A.Imports(fr, uri)
	if err != nil {
		return nil, nil, err
	}
	var out []content.URI
	for _, ri := range imps {
		if ri.Exists {
			out = append(out, ri.Target)
		}
	}
	return out, imps, nil
}

// ImportClosure lists the documents reachable from uri through at least one
// import, sorted. uri itself is part of it only when it is on a cycle.
func (ix *Index) ImportClosure(fr *memo.Frame, uri content.URI) ([]content.URI, error) {
	return memo.Query(fr, memo.Key{Kind: KindClosure, Doc: uri}, func(fr *memo.Frame) ([]content.URI, memo.Fingerprint, error) {
		seen := map[content.URI]bool{}
		frontier := []content.URI{uri}
		for depth := 0; depth < ix.DepthLimit && len(frontier) > 0; depth++ {
			var next []content.URI
			for _, d := range frontier {
				ts, _, err := ix.targets(fr, d)
				if err != nil {
					return nil, 0, err
				}
				for _, t := range ts {
					if !seen[t] {
						seen[t] = true
						next = append(next, t)
					}
				}
			}
			frontier = next
		}
		out := make([]content.URI, 0, len(seen))
		for d := range seen {
			out = append(out, d)
		}
		sort.Strings(out)
		h := memo.NewHasher()
		for _, d := range out {
			h.String(d)
		}
		return out, h.Sum(), nil
	})
}

func contains(sorted []content.URI, uri content.URI) bool {
	i := sort.SearchStrings(sorted, uri)
	return i < len(sorted) && sorted[i] == uri
}

// Cycles reports the import cycle uri takes part in, once, at the first
// import statement of uri that leads back to it.
func (ix *Index) Cycles(fr *memo.Frame, uri content.URI) ([]analysis.Diagnostic, error) {
	return memo.Query(fr, memo.Key{Kind: KindCycles, Doc: uri}, func(fr *memo.Frame) ([]analysis.Diagnostic, memo.Fingerprint, error) {
		m, err := ix.A.Scopes(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		_, imps, err := ix.targets(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		var diags []analysis.Diagnostic
		for _, ri := range imps {
			if !ri.Exists {
				continue
			}
			if ri.Target != uri {
				closure, err := ix.ImportClosure(fr, ri.Target)
				if err != nil {
					return nil, 0, err
				}
				if !contains(closure, uri) {
					continue
				}
			}
			chain, err := ix.chain(fr, ri.Target, uri)
			if err != nil {
				return nil, 0, err
			}
			names := []string{analysis.RelativePath(uri, uri)}
			for _, d := range chain {
				names = append(names, analysis.RelativePath(uri, d))
			}
			im := m.Imports[ri.Import]
			diags = append(diags, analysis.Diagnostic{
				Start:    im.PathStart,
				End:      im.PathEnd,
				Severity: analysis.SeverityError,
				Code:     analysis.CodeImportCycle,
				Message:  "cyclic import: " + strings.Join(names, " -> "),
			})
			break
		}
		h := memo.NewHasher()
		for _, d := range diags {
			h.Int(d.Start).Int(d.End).String(d.Message)
		}
		return diags, h.Sum(), nil
	})
}

// chain finds a shortest import path from one document to another,
// both ends included.
func (ix *Index) chain(fr *memo.Frame, from, to content.URI) ([]content.URI, error) {
	if from == to {
		return []content.URI{from}, nil
	}
	parent := map[content.URI]content.URI{from: ""}
	frontier := []content.URI{from}
	for depth := 0; depth < ix.DepthLimit && len(frontier) > 0; depth++ {
		var next []content.URI
		for _, d := range frontier {
			ts, _, err := ix.targets(fr, d)
			if err != nil {
				return nil, err
			}
			for _, t := range ts {
				if _, ok := parent[t]; ok {
					continue
				}
				parent[t] = d
				if t == to {
					var out []content.URI
					for n := t; n != ""; n = parent[n] {
						out = append(out, n)
					}
					for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
						out[i], out[j] = out[j], out[i]
					}
					return out, nil
				}
				next = append(next, t)
			}
		}
		frontier = next
	}
	return []content.URI{from, to}, nil
}

// Diagnostics is the complete, normalized diagnostic list of uri.
func (ix *Index) Diagnostics(fr *memo.Frame, uri content.URI) ([]analysis.Diagnostic, error) {
	return memo.Query(fr, memo.Key{Kind: KindDiagnostics, Doc: uri}, func(fr *memo.Frame) ([]analysis.Diagnostic, memo.Fingerprint, error) {
		local, err := ix.A.LocalDiagnostics(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		cycles, err := ix.Cycles(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		diags := analysis.Normalize(append(append([]analysis.Diagnostic(nil), local...), cycles...))
		h := memo.NewHasher()
		for _, d := range diags {
			h.Int(d.Start).Int(d.End).Int(int(d.Severity)).String(d.Code).String(d.Message)
		}
		return diags, h.Sum(), nil
	})
}

// DefinitionOf returns the binding the name at offset denotes. Names from
// the library and names that cannot be followed have none.
func (ix *Index) DefinitionOf(fr *memo.Frame, uri content.URI, offset int) (*analysis.Symbol, error) {
	res, ok, err := ix.A.Resolve(fr, uri, offset)
	if err != nil || !ok {
		return nil, err
	}
	switch res.Kind {
	case analysis.Local:
		sym := *res.Symbol
		return &sym, nil
	case analysis.Imported:
		m, err := ix.A.Scopes(fr, res.Doc)
		if err != nil {
			return nil, err
		}
		if sym := exported(m, res.Name); sym != nil {
			cp := *sym
			return &cp, nil
		}
	case analysis.ModuleRef:
		return moduleSymbol(res.Doc), nil
	}
	return nil, nil
}

// moduleSymbol stands for a whole document.
func moduleSymbol(uri content.URI) *analysis.Symbol {
	name := uri[strings.LastIndexByte(uri, '/')+1:]
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return &analysis.Symbol{ID: -1, Name: name, Kind: analysis.Module, URI: uri, Scope: -1, Import: -1}
}

// exported returns the binding behind the export name of m.
func exported(m *analysis.Model, name string) *analysis.Symbol {
	var out *analysis.Symbol
	for _, id := range m.Scopes[0].Symbols {
		sym := &m.Symbols[id]
		if sym.Name == name && (sym.Kind == analysis.Variable || sym.Kind == analysis.Function) {
			out = sym
		}
	}
	return out
}

type Edge struct {
	From, To content.URI
}

// Graph is the import graph of the snapshot.
type Graph struct {
	Nodes []content.URI
	Edges []Edge
}

func (ix *Index) Graph(fr *memo.Frame) (*Graph, error) {
	g := &Graph{Nodes: analysis.Documents(fr)}
	for _, d := range g.Nodes {
		if err := fr.Err(); err != nil {
			return nil, err
		}
		ts, _, err := ix.targets(fr, d)
		if err != nil {
			return nil, err
		}
		seen := map[content.URI]bool{}
		for _, t := range ts {
			if !seen[t] {
				seen[t] = true
				g.Edges = append(g.Edges, Edge{From: d, To: t})
			}
		}
	}
	log.Debugf("graph with %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	return g, nil
}

func (l Location) String() string { return fmt.Sprintf("%s:%d-%d", l.URI, l.Start, l.End) }
