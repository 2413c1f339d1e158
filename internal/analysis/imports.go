package analysis

import (
	"sort"
	"strings"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
)

// ResolvedImport is an import or include statement with its target.
type ResolvedImport struct {
	Import int
	Path   string
	// Target is empty when the path is computed or names a package.
	Target  content.URI
	Package bool
	Exists  bool
}

// Imports resolves the import and include targets of uri. It depends on
// the existence of the targets, not on their text.
func (a *Analyzer) Imports(fr *memo.Frame, uri content.URI) ([]ResolvedImport, error) {
	return memo.Query(fr, memo.Key{Kind: KindImports, Doc: uri}, func(fr *memo.Frame) ([]ResolvedImport, memo.Fingerprint, error) {
		m, err := a.Scopes(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		out := make([]ResolvedImport, len(m.Imports))
		h := memo.NewHasher()
		for i, im := range m.Imports {
			ri := ResolvedImport{Import: i, Path: im.Path, Package: strings.HasPrefix(im.Path, "@")}
			if target, ok := a.ResolvePath(uri, im.Path); ok {
				ri.Target = target
				ri.Exists = Exists(fr, target)
			}
			out[i] = ri
			h.Int(i).String(ri.Path).String(ri.Target).Bool(ri.Package).Bool(ri.Exists)
		}
		return out, h.Sum(), nil
	})
}

// Export is a name a document makes available to importers.
type Export struct {
	Name   string
	Kind   SymbolKind
	Params []Param
	Ty     Ty
}

// ExportTable holds no positions, so edits that only move bindings around
// keep its fingerprint.
type ExportTable struct {
	URI     content.URI
	Exports []Export
}

func (t *ExportTable) Get(name string) *Export {
	i := sort.Search(len(t.Exports), func(i int) bool { return t.Exports[i].Name >= name })
	if i < len(t.Exports) && t.Exports[i].Name == name {
		return &t.Exports[i]
	}
	return nil
}

// Exports returns the top-level bindings of uri. Imported names are not
// re-exported.
func (a *Analyzer) Exports(fr *memo.Frame, uri content.URI) (*ExportTable, error) {
	return memo.Query(fr, memo.Key{Kind: KindExports, Doc: uri}, func(fr *memo.Frame) (*ExportTable, memo.Fingerprint, error) {
		m, err := a.Scopes(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		latest := map[string]*Symbol{}
		for _, id := range m.Scopes[0].Symbols {
			sym := &m.Symbols[id]
			switch sym.Kind {
			case Variable, Function:
				latest[sym.Name] = sym
			}
		}

		t := &ExportTable{URI: uri}
		for _, sym := range latest {
			ty, err := a.BindingType(fr, uri, sym.Start)
			if err != nil {
				return nil, 0, err
			}
			t.Exports = append(t.Exports, Export{Name: sym.Name, Kind: sym.Kind, Params: sym.Params, Ty: ty})
		}
		sort.Slice(t.Exports, func(i, j int) bool { return t.Exports[i].Name < t.Exports[j].Name })

		h := memo.NewHasher().String(uri)
		for _, e := range t.Exports {
			h.String(e.Name).Int(int(e.Kind))
			for _, p := range e.Params {
				h.String(p.Name).Bool(p.Named).Bool(p.Variadic)
			}
			e.Ty.hash(h)
		}
		return t, h.Sum(), nil
	})
}
