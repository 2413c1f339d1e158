package analysis

import (
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
)

type ResolutionKind int

const (
	// Unresolved references are reported as diagnostics.
	Unresolved ResolutionKind = iota
	// Opaque references cannot be followed statically, such as fields of
	// plain values or names from package imports. They are not reported.
	Opaque
	Local
	Imported
	ModuleRef
	BuiltinRef
)

var resolutionKindNames = [...]string{"unresolved", "opaque", "local", "imported", "module", "builtin"}

func (k ResolutionKind) String() string { return resolutionKindNames[k] }

// Resolution is what a reference denotes.
type Resolution struct {
	Ref  Reference
	Kind ResolutionKind
	// Symbol is the local binding the name passed through: the definition
	// itself, or the import item or module binding.
	Symbol *Symbol
	// Doc and Name identify an imported definition or a module document.
	Doc     content.URI
	Name    string
	Export  *Export
	Builtin *Builtin
}

func (r Resolution) Resolved() bool { return r.Kind != Unresolved && r.Kind != Opaque }

func (r Resolution) hash(h memo.Hasher) {
	h.Int(int(r.Kind)).Int(r.Ref.ID).String(r.Doc).String(r.Name)
	if r.Symbol != nil {
		h.Int(r.Symbol.ID).Int(r.Symbol.Start)
	}
	if r.Export != nil {
		r.Export.Ty.hash(h)
	}
	if r.Builtin != nil {
		h.String(r.Builtin.Name)
	}
}

// ResolveAll resolves every reference of uri, in model order.
func (a *Analyzer) ResolveAll(fr *memo.Frame, uri content.URI) ([]Resolution, error) {
	return memo.Query(fr, memo.Key{Kind: KindResolve, Doc: uri}, func(fr *memo.Frame) ([]Resolution, memo.Fingerprint, error) {
		m, err := a.Scopes(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		imps, err := a.Imports(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		r := &resolver{a: a, fr: fr, m: m, imps: imps, exports: map[content.URI]*ExportTable{}}
		out := make([]Resolution, len(m.Refs))
		h := memo.NewHasher()
		for i := range m.Refs {
			res, err := r.resolve(&m.Refs[i], out)
			if err != nil {
				return nil, 0, err
			}
			out[i] = res
			res.hash(h)
		}
		return out, h.Sum(), nil
	})
}

// Resolve returns what the name at offset denotes. A declaration
// resolves to itself.
func (a *Analyzer) Resolve(fr *memo.Frame, uri content.URI, offset int) (Resolution, bool, error) {
	m, err := a.Scopes(fr, uri)
	if err != nil {
		return Resolution{}, false, err
	}
	all, err := a.ResolveAll(fr, uri)
	if err != nil {
		return Resolution{}, false, err
	}
	if r := m.RefAt(offset); r != nil {
		return all[r.ID], true, nil
	}
	if s := m.SymbolAt(offset); s != nil {
		ref := Reference{ID: -1, Name: s.Name, Start: s.Start, End: s.End, Scope: s.Scope, Base: -1, Import: -1}
		return Resolution{Ref: ref, Kind: Local, Symbol: s}, true, nil
	}
	return Resolution{}, false, nil
}

type resolver struct {
	a       *Analyzer
	fr      *memo.Frame
	m       *Model
	imps    []ResolvedImport
	exports map[content.URI]*ExportTable
}

func (r *resolver) table(uri content.URI) (*ExportTable, error) {
	if t, ok := r.exports[uri]; ok {
		return t, nil
	}
	t, err := r.a.Exports(r.fr, uri)
	if err != nil {
		return nil, err
	}
	r.exports[uri] = t
	return t, nil
}

func (r *resolver) resolve(ref *Reference, done []Resolution) (Resolution, error) {
	res := Resolution{Ref: *ref}
	switch ref.Kind {
	case LabelRef:
		if sym := r.m.Label(ref.Name); sym != nil {
			res.Kind, res.Symbol = Local, sym
		}
		return res, nil

	case ImportRef:
		return r.fromImport(res, r.imps[ref.Import], ref.Name, nil)

	case FieldRef:
		res.Kind = Opaque
		if ref.Base < 0 {
			return res, nil
		}
		switch base := done[ref.Base]; base.Kind {
		case ModuleRef:
			t, err := r.table(base.Doc)
			if err != nil {
				return res, err
			}
			if e := t.Get(ref.Name); e != nil {
				res.Kind, res.Doc, res.Name, res.Export = Imported, base.Doc, ref.Name, e
			} else {
				res.Kind, res.Doc = Unresolved, base.Doc
			}
		case BuiltinRef:
			if base.Builtin.Kind == Module && len(base.Builtin.Members) > 0 {
				if b := base.Builtin.Members[ref.Name]; b != nil {
					res.Kind, res.Builtin = BuiltinRef, b
				} else {
					res.Kind = Unresolved
				}
			}
		}
		return res, nil
	}

	out, err := r.lookup(res, ref.Scope, ref.Name, ref.Start)
	if err != nil {
		return out, err
	}
	if out.Kind == Unresolved && ref.Kind == MathRef {
		out.Kind = Opaque
	}
	return out, nil
}

// lookup searches local scopes, then wildcard imports from the most
// recent one, then the library.
func (r *resolver) lookup(res Resolution, scope int, name string, offset int) (Resolution, error) {
	if sym := r.m.Lookup(scope, name, offset); sym != nil {
		switch sym.Kind {
		case ImportItem:
			return r.fromImport(res, r.imps[sym.Import], sym.Original, sym)
		case Module:
			res.Kind, res.Symbol = Local, sym
			if ri := r.imps[sym.Import]; ri.Exists {
				res.Kind, res.Doc = ModuleRef, ri.Target
			}
			return res, nil
		}
		res.Kind, res.Symbol = Local, sym
		return res, nil
	}

	chain := map[int]bool{}
	for s := scope; s >= 0; s = r.m.Scopes[s].Parent {
		chain[s] = true
	}
	blind := false
	for i := len(r.m.Imports) - 1; i >= 0; i-- {
		im := r.m.Imports[i]
		if !im.Wildcard || im.Visible > offset || !chain[im.Scope] {
			continue
		}
		ri := r.imps[i]
		if !ri.Exists {
			blind = true
			continue
		}
		t, err := r.table(ri.Target)
		if err != nil {
			return res, err
		}
		if e := t.Get(name); e != nil {
			res.Kind, res.Doc, res.Name, res.Export = Imported, ri.Target, name, e
			return res, nil
		}
	}

	if b := LookupBuiltin(name); b != nil {
		res.Kind, res.Builtin = BuiltinRef, b
		return res, nil
	}
	if blind {
		res.Kind = Opaque
	}
	return res, nil
}

func (r *resolver) fromImport(res Resolution, ri ResolvedImport, name string, via *Symbol) (Resolution, error) {
	res.Symbol = via
	if ri.Target == "" || !ri.Exists {
		// Package imports and missing files are reported at the import.
		res.Kind = Opaque
		return res, nil
	}
	t, err := r.table(ri.Target)
	if err != nil {
		return res, err
	}
	res.Doc, res.Name = ri.Target, name
	if e := t.Get(name); e != nil {
		res.Kind, res.Export = Imported, e
	}
	return res, nil
}
