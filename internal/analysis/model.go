package analysis

import (
	"strings"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/syntax"
)

type SymbolKind int

const (
	Variable SymbolKind = iota
	Function
	Parameter
	Module
	ImportItem
	LabelSymbol
)

var symbolKindNames = [...]string{"variable", "function", "parameter", "module", "import", "label"}

func (k SymbolKind) String() string { return symbolKindNames[k] }

type ScopeKind int

const (
	FileScope ScopeKind = iota
	BlockScope
	ContentScope
	FunctionScope
	LoopScope
)

// Param is one parameter of a closure. Ty is Unknown unless the library
// declares it.
type Param struct {
	Name     string
	Named    bool
	Variadic bool
	Ty       Ty
}

// Symbol is a binding introduced by the document.
type Symbol struct {
	ID         int
	Name       string
	Kind       SymbolKind
	URI        content.URI
	Start, End int
	Scope      int
	// Visible is the offset from which the name can be referenced.
	Visible int
	// InitStart and InitEnd delimit the bound expression, if any.
	InitStart, InitEnd int
	Params             []Param
	// Import indexes Model.Imports for modules and import items, else -1.
	Import int
	// Original is the imported name of an import item.
	Original string
}

func (s *Symbol) HasInit() bool { return s.InitEnd > s.InitStart }

type Scope struct {
	ID, Parent int
	Kind       ScopeKind
	Start, End int
	Symbols    []int
}

type RefKind int

const (
	IdentRef RefKind = iota
	MathRef
	FieldRef
	LabelRef
	// ImportRef is the name of an import item as written in the import list.
	ImportRef
)

type Reference struct {
	ID         int
	Name       string
	Kind       RefKind
	Start, End int
	Scope      int
	// Base is the reference of the accessed identifier of a field, or -1.
	Base int
	// Import indexes Model.Imports for import refs, else -1.
	Import int
}

// Import is an import or include statement.
type Import struct {
	ID         int
	Start, End int
	// Path is the statically known path, empty when it is computed.
	Path               string
	PathStart, PathEnd int
	Include            bool
	Wildcard           bool
	// Alias is the symbol the module is bound to, or -1.
	Alias   int
	Items   []int
	Scope   int
	Visible int
}

type Heading struct {
	Level      int
	Title      string
	Start, End int
}

// Model is the scope-level view of one document. It holds offsets and
// names only, so it stays valid for any tree with the same fingerprint.
type Model struct {
	URI      content.URI
	Length   int
	Scopes   []Scope
	Symbols  []Symbol
	Refs     []Reference
	Imports  []Import
	Headings []Heading
	Errors   []syntax.SyntaxError
}

// Scopes returns the semantic model of uri.
func (a *Analyzer) Scopes(fr *memo.Frame, uri content.URI) (*Model, error) {
	return memo.Query(fr, memo.Key{Kind: KindScopes, Doc: uri}, func(fr *memo.Frame) (*Model, memo.Fingerprint, error) {
		p, err := a.Parse(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		m := BuildModel(uri, p.Tree)
		return m, m.Fingerprint(), nil
	})
}

// ScopeAt returns the innermost scope around offset.
func (m *Model) ScopeAt(offset int) int {
	best := 0
	for i := 1; i < len(m.Scopes); i++ {
		s := m.Scopes[i]
		if s.Start < offset && (offset < s.End || (offset == s.End && s.End == m.Length)) {
			best = i
		}
	}
	return best
}

// Lookup finds the binding of name visible at offset from scope. Within a
// scope the latest binding before offset wins.
func (m *Model) Lookup(scope int, name string, offset int) *Symbol {
	for s := scope; s >= 0; s = m.Scopes[s].Parent {
		ids := m.Scopes[s].Symbols
		for i := len(ids) - 1; i >= 0; i-- {
			sym := &m.Symbols[ids[i]]
			if sym.Name == name && sym.Kind != LabelSymbol && sym.Visible <= offset {
				return sym
			}
		}
	}
	return nil
}

// Visible lists the bindings visible at offset, innermost first, one per name.
func (m *Model) Visible(offset int) []*Symbol {
	seen := map[string]bool{}
	var out []*Symbol
	for s := m.ScopeAt(offset); s >= 0; s = m.Scopes[s].Parent {
		ids := m.Scopes[s].Symbols
		for i := len(ids) - 1; i >= 0; i-- {
			sym := &m.Symbols[ids[i]]
			if sym.Kind == LabelSymbol || sym.Visible > offset || seen[sym.Name] {
				continue
			}
			seen[sym.Name] = true
			out = append(out, sym)
		}
	}
	return out
}

// Label returns the label declaration with the given name.
func (m *Model) Label(name string) *Symbol {
	for i := range m.Symbols {
		if m.Symbols[i].Kind == LabelSymbol && m.Symbols[i].Name == name {
			return &m.Symbols[i]
		}
	}
	return nil
}

func (m *Model) Labels() []*Symbol {
	var out []*Symbol
	for i := range m.Symbols {
		if m.Symbols[i].Kind == LabelSymbol {
			out = append(out, &m.Symbols[i])
		}
	}
	return out
}

// RefAt returns the reference covering offset.
func (m *Model) RefAt(offset int) *Reference {
	for i := range m.Refs {
		if r := &m.Refs[i]; r.Start <= offset && offset <= r.End {
			return r
		}
	}
	return nil
}

// SymbolAt returns the declaration whose name covers offset.
func (m *Model) SymbolAt(offset int) *Symbol {
	for i := range m.Symbols {
		if s := &m.Symbols[i]; s.Start <= offset && offset <= s.End {
			return s
		}
	}
	return nil
}

// TopLevel returns the last file-scope binding of name.
func (m *Model) TopLevel(name string) *Symbol {
	return m.Lookup(0, name, m.Length+1)
}

func (m *Model) Fingerprint() memo.Fingerprint {
	h := memo.NewHasher().String(m.URI).Int(m.Length)
	for _, s := range m.Scopes {
		h.Int(s.Parent).Int(int(s.Kind)).Int(s.Start).Int(s.End).Int(len(s.Symbols))
	}
	for _, s := range m.Symbols {
		h.String(s.Name).Int(int(s.Kind)).Int(s.Start).Int(s.End).Int(s.Scope).Int(s.Visible).
			Int(s.InitStart).Int(s.InitEnd).Int(s.Import).String(s.Original).Int(len(s.Params))
		for _, p := range s.Params {
			h.String(p.Name).Bool(p.Named).Bool(p.Variadic)
		}
	}
	for _, r := range m.Refs {
		h.String(r.Name).Int(int(r.Kind)).Int(r.Start).Int(r.End).Int(r.Scope).Int(r.Base).Int(r.Import)
	}
	for _, im := range m.Imports {
		h.Int(im.Start).Int(im.End).String(im.Path).Int(im.PathStart).Int(im.PathEnd).
			Bool(im.Include).Bool(im.Wildcard).Int(im.Alias).Int(len(im.Items)).Int(im.Scope).Int(im.Visible)
	}
	for _, hd := range m.Headings {
		h.Int(hd.Level).String(hd.Title).Int(hd.Start).Int(hd.End)
	}
	for _, e := range m.Errors {
		h.Int(e.Start).Int(e.End).String(e.Message)
	}
	return h.Sum()
}

// BuildModel walks a syntax tree and collects scopes, bindings and
// references.
func BuildModel(uri content.URI, tree *syntax.Tree) *Model {
	root := tree.Linked()
	b := &builder{
		m:     &Model{URI: uri, Length: root.End()},
		scope: -1,
		strs:  map[int]string{},
	}
	b.push(FileScope, 0, root.End())
	b.walk(root)
	b.m.Errors = tree.Errors()
	return b.m
}

type builder struct {
	m     *Model
	scope int
	// strs remembers bindings initialized with a string literal, for
	// imports whose path is a variable.
	strs map[int]string
}

func (b *builder) push(kind ScopeKind, start, end int) {
	id := len(b.m.Scopes)
	b.m.Scopes = append(b.m.Scopes, Scope{ID: id, Parent: b.scope, Kind: kind, Start: start, End: end})
	b.scope = id
}

func (b *builder) pop() { b.scope = b.m.Scopes[b.scope].Parent }

func (b *builder) declare(name string, kind SymbolKind, n *syntax.LinkedNode, visible int) int {
	return b.declareIn(b.scope, name, kind, n, visible)
}

func (b *builder) declareIn(scope int, name string, kind SymbolKind, n *syntax.LinkedNode, visible int) int {
	id := len(b.m.Symbols)
	b.m.Symbols = append(b.m.Symbols, Symbol{
		ID:      id,
		Name:    name,
		Kind:    kind,
		URI:     b.m.URI,
		Start:   n.Offset(),
		End:     n.End(),
		Scope:   scope,
		Visible: visible,
		Import:  -1,
	})
	b.m.Scopes[scope].Symbols = append(b.m.Scopes[scope].Symbols, id)
	return id
}

func (b *builder) ref(kind RefKind, name string, n *syntax.LinkedNode, base int) int {
	id := len(b.m.Refs)
	b.m.Refs = append(b.m.Refs, Reference{
		ID:     id,
		Name:   name,
		Kind:   kind,
		Start:  n.Offset(),
		End:    n.End(),
		Scope:  b.scope,
		Base:   base,
		Import: -1,
	})
	return id
}

func (b *builder) walkChildren(n *syntax.LinkedNode) {
	for _, c := range n.Children() {
		b.walk(c)
	}
}

func (b *builder) walk(n *syntax.LinkedNode) {
	switch n.Kind() {
	case syntax.Ident:
		b.ref(IdentRef, n.Text(), n, -1)
	case syntax.MathIdent:
		b.ref(MathRef, n.Text(), n, -1)
	case syntax.Label:
		name := strings.TrimSuffix(strings.TrimPrefix(n.Text(), "<"), ">")
		if p := n.Parent(); p != nil && isMarkupContainer(p.Kind()) {
			b.declareIn(0, name, LabelSymbol, n, 0)
		} else {
			b.ref(LabelRef, name, n, -1)
		}
	case syntax.Ref:
		b.ref(LabelRef, strings.TrimPrefix(n.Text(), "@"), n, -1)
	case syntax.Heading:
		b.heading(n)
		b.walkChildren(n)
	case syntax.LetBinding:
		b.letBinding(n)
	case syntax.Closure:
		b.closure(n)
	case syntax.CodeBlock:
		b.push(BlockScope, n.Offset(), n.End())
		b.walkChildren(n)
		b.pop()
	case syntax.ContentBlock:
		b.push(ContentScope, n.Offset(), n.End())
		b.walkChildren(n)
		b.pop()
	case syntax.ForLoop:
		b.forLoop(n)
	case syntax.ModuleImport:
		b.moduleImport(n)
	case syntax.ModuleInclude:
		b.include(n)
	case syntax.FieldAccess:
		b.fieldAccess(n)
	case syntax.Named:
		// The key of a named pair is not a reference.
		sig := n.Significant()
		for i, c := range sig {
			if i > 0 || c.Kind() != syntax.Ident {
				b.walk(c)
			}
		}
	default:
		b.walkChildren(n)
	}
}

func isMarkupContainer(k syntax.Kind) bool {
	switch k {
	case syntax.Markup, syntax.Heading, syntax.ListItem, syntax.EnumItem:
		return true
	}
	return false
}

func (b *builder) heading(n *syntax.LinkedNode) {
	var level int
	var title strings.Builder
	for _, c := range n.Children() {
		switch c.Kind() {
		case syntax.HeadingMarker:
			level = len(strings.TrimSpace(c.Text()))
		case syntax.Label:
		default:
			title.WriteString(c.Node().FullText())
		}
	}
	b.m.Headings = append(b.m.Headings, Heading{
		Level: level,
		Title: strings.Join(strings.Fields(title.String()), " "),
		Start: n.Offset(),
		End:   n.End(),
	})
}

func (b *builder) letBinding(n *syntax.LinkedNode) {
	sig := n.Significant()
	if len(sig) < 2 {
		b.walkChildren(n)
		return
	}
	pat := sig[1]
	var init *syntax.LinkedNode
	if len(sig) >= 4 && sig[2].Kind() == syntax.Eq {
		init = sig[3]
	}

	switch pat.Kind() {
	case syntax.Ident:
		if init != nil {
			b.walk(init)
		}
		if pat.Text() == "_" {
			return
		}
		id := b.declare(pat.Text(), Variable, pat, n.End())
		if init == nil {
			return
		}
		sym := &b.m.Symbols[id]
		sym.InitStart, sym.InitEnd = init.Offset(), init.End()
		switch init.Kind() {
		case syntax.Closure:
			sym.Kind = Function
			if params := init.Child(syntax.Params); params != nil {
				sym.Params = paramsOf(params)
			}
		case syntax.Str:
			b.strs[id] = syntax.StrValue(init.Text())
		}
	case syntax.Closure:
		csig := pat.Significant()
		if len(csig) > 0 && csig[0].Kind() == syntax.Ident {
			name := csig[0]
			id := b.declare(name.Text(), Function, name, name.End())
			sym := &b.m.Symbols[id]
			sym.InitStart, sym.InitEnd = pat.Offset(), pat.End()
			if params := pat.Child(syntax.Params); params != nil {
				sym.Params = paramsOf(params)
			}
		}
		b.closure(pat)
	case syntax.Destructuring:
		if init != nil {
			b.walk(init)
		}
		b.pattern(pat, n.End())
	default:
		b.walkChildren(n)
	}
}

// closure opens a function scope over the parameters and the body.
// Parameter defaults are evaluated in the enclosing scope.
func (b *builder) closure(n *syntax.LinkedNode) {
	sig := n.Significant()
	var params, body *syntax.LinkedNode
	for i, c := range sig {
		if c.Kind() == syntax.Params {
			params = c
			if i+2 < len(sig) {
				body = sig[i+2]
			}
			break
		}
	}
	start := n.Offset()
	if params != nil {
		start = params.Offset()
		for _, p := range params.Significant() {
			if p.Kind() == syntax.Named {
				ps := p.Significant()
				for _, c := range ps[1:] {
					if c.Kind() != syntax.Colon {
						b.walk(c)
					}
				}
			}
		}
	}

	b.push(FunctionScope, start, n.End())
	if params != nil {
		for _, p := range params.Significant() {
			if name := paramName(p); name != nil && name.Text() != "_" {
				b.declare(name.Text(), Parameter, name, start)
			}
		}
	}
	if body != nil {
		b.walk(body)
	}
	b.pop()
}

func paramName(p *syntax.LinkedNode) *syntax.LinkedNode {
	switch p.Kind() {
	case syntax.Ident:
		return p
	case syntax.Named, syntax.Spread:
		return p.Child(syntax.Ident)
	}
	return nil
}

func paramsOf(params *syntax.LinkedNode) []Param {
	var out []Param
	for _, p := range params.Significant() {
		name := paramName(p)
		if name == nil {
			continue
		}
		out = append(out, Param{
			Name:     name.Text(),
			Named:    p.Kind() == syntax.Named,
			Variadic: p.Kind() == syntax.Spread,
		})
	}
	return out
}

// pattern declares the names bound by a destructuring pattern.
func (b *builder) pattern(n *syntax.LinkedNode, visible int) {
	for _, c := range n.Significant() {
		switch c.Kind() {
		case syntax.Ident:
			if c.Text() != "_" {
				b.declare(c.Text(), Variable, c, visible)
			}
		case syntax.Named:
			cs := c.Significant()
			if len(cs) == 3 {
				if cs[2].Kind() == syntax.Ident {
					b.declare(cs[2].Text(), Variable, cs[2], visible)
				} else {
					b.pattern(cs[2], visible)
				}
			}
		case syntax.Spread:
			if id := c.Child(syntax.Ident); id != nil {
				b.declare(id.Text(), Variable, id, visible)
			}
		case syntax.Parenthesized, syntax.Array, syntax.Destructuring:
			b.pattern(c, visible)
		}
	}
}

func (b *builder) forLoop(n *syntax.LinkedNode) {
	sig := n.Significant()
	in := -1
	for i, c := range sig {
		if c.Kind() == syntax.In {
			in = i
			break
		}
	}
	if in < 0 || in+1 >= len(sig) {
		b.walkChildren(n)
		return
	}
	b.walk(sig[in+1])

	b.push(LoopScope, n.Offset(), n.End())
	if in >= 2 {
		pat := sig[1]
		switch pat.Kind() {
		case syntax.Ident:
			if pat.Text() != "_" {
				b.declare(pat.Text(), Variable, pat, pat.End())
			}
		case syntax.Destructuring:
			b.pattern(pat, pat.End())
		}
	}
	for _, c := range sig[in+2:] {
		b.walk(c)
	}
	b.pop()
}

func (b *builder) newImport(n *syntax.LinkedNode, include bool) int {
	id := len(b.m.Imports)
	b.m.Imports = append(b.m.Imports, Import{
		ID:      id,
		Start:   n.Offset(),
		End:     n.End(),
		Include: include,
		Alias:   -1,
		Scope:   b.scope,
		Visible: n.End(),
	})
	return id
}

// source records the path of an import or include and walks it.
func (b *builder) source(imp int, src *syntax.LinkedNode) {
	im := &b.m.Imports[imp]
	switch src.Kind() {
	case syntax.Str:
		im.Path = syntax.StrValue(src.Text())
		im.PathStart, im.PathEnd = src.Offset(), src.End()
		return
	case syntax.Ident:
		if sym := b.m.Lookup(b.scope, src.Text(), src.Offset()); sym != nil {
			if s, ok := b.strs[sym.ID]; ok {
				im.Path = s
				im.PathStart, im.PathEnd = src.Offset(), src.End()
			}
		}
	}
	b.walk(src)
}

func (b *builder) moduleImport(n *syntax.LinkedNode) {
	sig := n.Significant()
	imp := b.newImport(n, false)
	if len(sig) < 2 {
		return
	}
	b.source(imp, sig[1])
	visible := n.End()

	bound := false
	for i := 2; i < len(sig); i++ {
		switch sig[i].Kind() {
		case syntax.As:
			if i+1 < len(sig) && sig[i+1].Kind() == syntax.Ident {
				alias := sig[i+1]
				id := b.declare(alias.Text(), Module, alias, visible)
				b.m.Symbols[id].Import = imp
				b.m.Imports[imp].Alias = id
				bound = true
				i++
			}
		case syntax.Star:
			b.m.Imports[imp].Wildcard = true
			bound = true
		case syntax.ImportItems:
			b.importItems(imp, sig[i], visible)
			bound = true
		}
	}

	if !bound {
		im := &b.m.Imports[imp]
		if name := stem(im.Path); im.Path != "" && syntax.IsIdent(name) {
			id := b.declare(name, Module, sig[1], visible)
			b.m.Symbols[id].Import = imp
			im.Alias = id
		}
	}
}

func (b *builder) importItems(imp int, items *syntax.LinkedNode, visible int) {
	for _, it := range items.Significant() {
		var orig, name *syntax.LinkedNode
		switch it.Kind() {
		case syntax.Ident:
			orig, name = it, it
		case syntax.RenamedImportItem:
			is := it.Significant()
			if len(is) == 0 || is[0].Kind() != syntax.Ident {
				continue
			}
			orig, name = is[0], is[0]
			if len(is) == 3 && is[2].Kind() == syntax.Ident {
				name = is[2]
			}
		default:
			continue
		}
		r := b.ref(ImportRef, orig.Text(), orig, -1)
		b.m.Refs[r].Import = imp
		id := b.declare(name.Text(), ImportItem, name, visible)
		b.m.Symbols[id].Import = imp
		b.m.Symbols[id].Original = orig.Text()
		b.m.Imports[imp].Items = append(b.m.Imports[imp].Items, id)
	}
}

func (b *builder) include(n *syntax.LinkedNode) {
	sig := n.Significant()
	imp := b.newImport(n, true)
	if len(sig) >= 2 {
		b.source(imp, sig[1])
	}
}

func (b *builder) fieldAccess(n *syntax.LinkedNode) {
	sig := n.Significant()
	if len(sig) == 0 {
		return
	}
	base := -1
	if sig[0].Kind() == syntax.Ident {
		base = b.ref(IdentRef, sig[0].Text(), sig[0], -1)
	} else {
		b.walk(sig[0])
	}
	if len(sig) == 3 && sig[2].Kind() == syntax.Ident {
		b.ref(FieldRef, sig[2].Text(), sig[2], base)
	}
	for _, c := range sig[1:] {
		if c.Kind() == syntax.Error {
			b.walk(c)
		}
	}
}
