package analysis

import (
	"path"
	"sort"
	"strings"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/syntax"
)

type CompletionKind int

const (
	CompleteVariable CompletionKind = iota
	CompleteFunction
	CompleteModule
	CompleteParam
	CompleteLabel
	CompleteFile
	CompleteConstant
)

type Completion struct {
	Label  string
	Kind   CompletionKind
	Detail string
	// Insert is the text to insert when it differs from Label.
	Insert string
}

func completionKind(k SymbolKind) CompletionKind {
	switch k {
	case Function:
		return CompleteFunction
	case Module:
		return CompleteModule
	case Parameter:
		return CompleteParam
	case LabelSymbol:
		return CompleteLabel
	}
	return CompleteVariable
}

// Complete lists the candidates for the word ending at offset.
func (a *Analyzer) Complete(fr *memo.Frame, uri content.URI, offset int) ([]Completion, error) {
	p, err := a.Parse(fr, uri)
	if err != nil {
		return nil, err
	}
	m, err := a.Scopes(fr, uri)
	if err != nil {
		return nil, err
	}
	text := p.Tree.Text()
	if offset < 0 || offset > len(text) {
		return nil, nil
	}
	leaf := p.Tree.LeafAt(offset)
	if leaf == nil {
		return nil, nil
	}
	typed := text[leaf.Offset():offset]

	var out []Completion
	if colon, name, ok := namedValue(p.Tree, leaf, offset); ok {
		prefix := ""
		if leaf.Kind() == syntax.Ident {
			prefix = typed
		}
		if out, err = a.completeArgValue(fr, uri, m, colon, name, prefix); err != nil {
			return nil, err
		}
		if prefix == "" {
			return dedupe(out), nil
		}
	}
	switch {
	case leaf.Kind() == syntax.Str && isImportSource(leaf):
		out = a.completePaths(fr, uri, strings.TrimPrefix(typed, `"`))
	case leaf.Kind() == syntax.Ref:
		out = completeLabels(m, strings.TrimPrefix(typed, "@"))
	case offset > 0 && text[offset-1] == '.':
		out, err = a.completeMembers(fr, uri, p.Tree, offset-1, "")
	case leaf.Kind() == syntax.Ident && leaf.Offset() > 0 && text[leaf.Offset()-1] == '.':
		out, err = a.completeMembers(fr, uri, p.Tree, leaf.Offset()-1, typed)
	case leaf.Kind() == syntax.Ident || leaf.Kind() == syntax.MathIdent:
		var names []Completion
		names, err = a.completeNames(fr, uri, m, leaf, offset, typed)
		out = append(out, names...)
	case leaf.Kind() == syntax.Hash:
		out, err = a.completeNames(fr, uri, m, leaf, offset, "")
	}
	if err != nil {
		return nil, err
	}
	return dedupe(out), nil
}

func isImportSource(n *syntax.LinkedNode) bool {
	p := n.Parent()
	return p != nil && (p.Kind() == syntax.ModuleImport || p.Kind() == syntax.ModuleInclude)
}

func dedupe(items []Completion) []Completion {
	seen := map[string]bool{}
	out := items[:0]
	for _, it := range items {
		if seen[it.Label] {
			continue
		}
		seen[it.Label] = true
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (a *Analyzer) completePaths(fr *memo.Frame, uri content.URI, prefix string) []Completion {
	var out []Completion
	for _, doc := range Documents(fr) {
		if doc == uri || path.Ext(doc) != a.DefaultExtension {
			continue
		}
		rel := RelativePath(uri, doc)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, Completion{Label: rel, Kind: CompleteFile, Detail: path.Base(doc)})
		}
	}
	return out
}

func completeLabels(m *Model, prefix string) []Completion {
	var out []Completion
	for _, l := range m.Labels() {
		if strings.HasPrefix(l.Name, prefix) {
			out = append(out, Completion{Label: l.Name, Kind: CompleteLabel, Detail: "label"})
		}
	}
	return out
}

// completeMembers lists the members of the module named by the identifier
// ending at dot.
func (a *Analyzer) completeMembers(fr *memo.Frame, uri content.URI, tree *syntax.Tree, dot int, prefix string) ([]Completion, error) {
	base := tree.LeafAt(dot)
	if base == nil || base.Kind() != syntax.Ident || base.End() != dot {
		return nil, nil
	}
	res, ok, err := a.Resolve(fr, uri, base.Offset())
	if err != nil || !ok {
		return nil, err
	}
	var out []Completion
	switch res.Kind {
	case ModuleRef:
		t, err := a.Exports(fr, res.Doc)
		if err != nil {
			return nil, err
		}
		for _, e := range t.Exports {
			if strings.HasPrefix(e.Name, prefix) {
				out = append(out, Completion{Label: e.Name, Kind: completionKind(e.Kind), Detail: e.Ty.String()})
			}
		}
	case BuiltinRef:
		for _, b := range res.Builtin.SortedMembers() {
			if strings.HasPrefix(b.Name, prefix) {
				out = append(out, builtinCompletion(b))
			}
		}
	}
	return out, nil
}

func builtinCompletion(b *Builtin) Completion {
	c := Completion{Label: b.Name, Kind: completionKind(b.Kind), Detail: b.Signature()}
	if b.Kind == Variable {
		c.Kind = CompleteConstant
	}
	return c
}

// completeNames lists locals innermost first, then names of wildcard
// imports, then the library, then named parameters of an enclosing call.
func (a *Analyzer) completeNames(fr *memo.Frame, uri content.URI, m *Model, leaf *syntax.LinkedNode, offset int, prefix string) ([]Completion, error) {
	var out []Completion
	for _, s := range m.Visible(offset) {
		if strings.HasPrefix(s.Name, prefix) && s.Start != leaf.Offset() {
			out = append(out, Completion{Label: s.Name, Kind: completionKind(s.Kind), Detail: s.Kind.String()})
		}
	}

	imps, err := a.Imports(fr, uri)
	if err != nil {
		return nil, err
	}
	for i := len(m.Imports) - 1; i >= 0; i-- {
		im := m.Imports[i]
		ri := imps[i]
		if !im.Wildcard || im.Visible > offset || !ri.Exists {
			continue
		}
		t, err := a.Exports(fr, ri.Target)
		if err != nil {
			return nil, err
		}
		for _, e := range t.Exports {
			if strings.HasPrefix(e.Name, prefix) {
				out = append(out, Completion{Label: e.Name, Kind: completionKind(e.Kind), Detail: e.Ty.String()})
			}
		}
	}

	for _, b := range Builtins() {
		if strings.HasPrefix(b.Name, prefix) {
			out = append(out, builtinCompletion(b))
		}
	}

	params, err := a.paramsAround(fr, uri, leaf)
	if err != nil {
		return nil, err
	}
	for _, p := range params {
		if p.Named && strings.HasPrefix(p.Name, prefix) {
			out = append(out, Completion{Label: p.Name + ":", Kind: CompleteParam, Detail: "named parameter", Insert: p.Name + ": "})
		}
	}
	return out, nil
}

// paramsAround returns the parameters of the call whose arguments contain n.
func (a *Analyzer) paramsAround(fr *memo.Frame, uri content.URI, n *syntax.LinkedNode) ([]Param, error) {
	args := n.Ancestor(syntax.Args)
	if args == nil || args.Parent() == nil {
		return nil, nil
	}
	sig, err := a.signatureOf(fr, uri, args.Parent())
	if err != nil || sig == nil {
		return nil, err
	}
	return sig.params, nil
}

// namedValue reports whether offset is in the value position of a named
// argument, returning the colon and the argument name.
func namedValue(tree *syntax.Tree, leaf *syntax.LinkedNode, offset int) (*syntax.LinkedNode, string, bool) {
	text := tree.Text()
	k := offset
	if leaf.Kind() == syntax.Ident && leaf.End() == offset {
		k = leaf.Offset()
	}
	for k > 0 && (text[k-1] == ' ' || text[k-1] == '\t') {
		k--
	}
	if k == 0 || text[k-1] != ':' {
		return nil, "", false
	}
	colon := tree.LeafAt(k)
	if colon == nil || colon.Kind() != syntax.Colon || colon.End() != k {
		return nil, "", false
	}
	pair := colon.Parent()
	if pair == nil || pair.Kind() != syntax.Named || pair.Parent() == nil || pair.Parent().Kind() != syntax.Args {
		return nil, "", false
	}
	name := pair.Child(syntax.Ident)
	if name == nil || name.Offset() != pair.Offset() {
		return nil, "", false
	}
	return colon, name.Text(), true
}

// completeArgValue suggests values of the declared type of the named
// parameter name of the call around colon.
func (a *Analyzer) completeArgValue(fr *memo.Frame, uri content.URI, m *Model, colon *syntax.LinkedNode, name, prefix string) ([]Completion, error) {
	params, err := a.paramsAround(fr, uri, colon)
	if err != nil {
		return nil, err
	}
	var out []Completion
	for _, p := range params {
		if !p.Named || p.Name != name {
			continue
		}
		for _, c := range typeCompletions(m, p.Ty) {
			if strings.HasPrefix(c.Label, prefix) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

var lengthUnits = []struct{ unit, doc string }{
	{"pt", "Point length unit."},
	{"mm", "Millimeter length unit."},
	{"cm", "Centimeter length unit."},
	{"in", "Inch length unit."},
	{"em", "Em length unit."},
}

// typeCompletions lists literal values and constructors of ty.
func typeCompletions(m *Model, ty Ty) []Completion {
	var out []Completion
	switch ty.Kind {
	case TyUnion:
		for _, u := range ty.Union {
			out = append(out, typeCompletions(m, u)...)
		}
	case TyNone:
		out = append(out, Completion{Label: "none", Kind: CompleteConstant, Detail: "Nothing."})
	case TyAuto:
		out = append(out, Completion{Label: "auto", Kind: CompleteConstant, Detail: "A smart default."})
	case TyBool:
		out = append(out,
			Completion{Label: "false", Kind: CompleteConstant, Detail: "No / Disabled."},
			Completion{Label: "true", Kind: CompleteConstant, Detail: "Yes / Enabled."})
	case TyLength:
		for _, u := range lengthUnits {
			out = append(out, Completion{Label: u.unit, Kind: CompleteConstant, Detail: u.doc, Insert: "1" + u.unit})
		}
	case TyRatio:
		out = append(out, Completion{Label: "%", Kind: CompleteConstant, Detail: "Ratio.", Insert: "50%"})
	case TyFraction:
		out = append(out, Completion{Label: "fr", Kind: CompleteConstant, Detail: "Fraction of the remaining space.", Insert: "1fr"})
	case TyArray:
		out = append(out, Completion{Label: "()", Kind: CompleteConstant, Detail: "An array."})
	case TyDict:
		out = append(out, Completion{Label: "()", Kind: CompleteConstant, Detail: "A dictionary."})
	case TyColor:
		out = append(out,
			Completion{Label: "luma()", Kind: CompleteFunction, Detail: "A custom grayscale color.", Insert: "luma("},
			Completion{Label: "rgb()", Kind: CompleteFunction, Detail: "A custom RGBA color.", Insert: "rgb("})
		for _, b := range Builtins() {
			if b.Kind == Variable && b.Returns == TyColor {
				out = append(out, builtinCompletion(b))
			}
		}
	case TyLabel:
		for _, l := range m.Labels() {
			out = append(out, Completion{Label: l.Name, Kind: CompleteLabel, Detail: "label", Insert: "<" + l.Name + ">"})
		}
	}
	return out
}
