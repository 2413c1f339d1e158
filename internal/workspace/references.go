package workspace

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
)

type Location struct {
	URI        content.URI
	Start, End int
}

// ReferencesOf finds every reference to def in the snapshot, ordered by
// document and offset. Only documents whose import closure reaches the
// defining document are scanned; the scans run in parallel and stop at the
// first cancellation.
func (ix *Index) ReferencesOf(fr *memo.Frame, def *analysis.Symbol, includeDecl bool) ([]Location, error) {
	home, err := ix.A.Scopes(fr, def.URI)
	if err != nil {
		return nil, err
	}
	m := matcher{def: def}
	switch {
	case def.Kind == analysis.Module && def.ID < 0:
		m.module = true
	case def.Scope == 0 && (def.Kind == analysis.Variable || def.Kind == analysis.Function):
		if sym := exported(home, def.Name); sym != nil && sym.Start == def.Start {
			m.exported = true
		}
	}

	docs := []content.URI{def.URI}
	if m.module || m.exported {
		docs = analysis.Documents(fr)
	}
	found := make([][]Location, len(docs))

	g := new(errgroup.Group)
	g.SetLimit(ix.Workers)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			wf := fr.Fork()
			if doc != def.URI {
				closure, err := ix.ImportClosure(wf, doc)
				if err != nil {
					return err
				}
				if !contains(closure, def.URI) {
					return wf.Err()
				}
			}
			res, err := ix.A.ResolveAll(wf, doc)
			if err != nil {
				return err
			}
			for _, r := range res {
				if m.match(doc, r) {
					found[i] = append(found[i], Location{URI: doc, Start: r.Ref.Start, End: r.Ref.End})
				}
			}
			return wf.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Location
	if includeDecl && !m.module {
		out = append(out, Location{URI: def.URI, Start: def.Start, End: def.End})
	}
	for _, locs := range found {
		out = append(out, locs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

type matcher struct {
	def *analysis.Symbol
	// exported definitions are also reachable from importers.
	exported bool
	module   bool
}

func (m matcher) match(doc content.URI, r analysis.Resolution) bool {
	switch {
	case m.module:
		return r.Kind == analysis.ModuleRef && r.Doc == m.def.URI
	case r.Kind == analysis.Local:
		return doc == m.def.URI && r.Symbol.Start == m.def.Start && r.Symbol.Kind == m.def.Kind
	case r.Kind == analysis.Imported:
		return m.exported && r.Doc == m.def.URI && r.Name == m.def.Name
	}
	return false
}
