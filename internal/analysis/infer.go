package analysis

import (
	"errors"
	"strconv"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/eval"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/syntax"
)

const maxInferDepth = 32

// BindingType infers the type of the binding declared at start, looking
// only at the document itself.
func (a *Analyzer) BindingType(fr *memo.Frame, uri content.URI, start int) (Ty, error) {
	key := memo.Key{Kind: KindBinding, Doc: uri, Arg: strconv.Itoa(start)}
	return memo.Query(fr, key, func(fr *memo.Frame) (Ty, memo.Fingerprint, error) {
		m, err := a.Scopes(fr, uri)
		if err != nil {
			return Unknown, 0, err
		}
		p, err := a.Parse(fr, uri)
		if err != nil {
			return Unknown, 0, err
		}
		var sym *Symbol
		for i := range m.Symbols {
			if m.Symbols[i].Start == start {
				sym = &m.Symbols[i]
				break
			}
		}
		if sym == nil {
			return Unknown, Unknown.Fingerprint(), nil
		}
		in := &inferer{a: a, fr: fr, uri: uri, root: p.Tree.Linked(), m: m}
		ty := in.symbol(sym)
		return ty, ty.Fingerprint(), nil
	})
}

// TypeOf infers the type of the expression at offset.
func (a *Analyzer) TypeOf(fr *memo.Frame, uri content.URI, offset int) (Ty, error) {
	key := memo.Key{Kind: KindTypeOf, Doc: uri, Arg: strconv.Itoa(offset)}
	return memo.Query(fr, key, func(fr *memo.Frame) (Ty, memo.Fingerprint, error) {
		p, err := a.Parse(fr, uri)
		if err != nil {
			return Unknown, 0, err
		}
		m, err := a.Scopes(fr, uri)
		if err != nil {
			return Unknown, 0, err
		}
		res, err := a.ResolveAll(fr, uri)
		if err != nil {
			return Unknown, 0, err
		}
		leaf := p.Tree.LeafAt(offset)
		if leaf == nil {
			return Unknown, Unknown.Fingerprint(), nil
		}
		in := &inferer{a: a, fr: fr, uri: uri, root: p.Tree.Linked(), m: m, res: res}
		ty := in.infer(expressionAt(leaf), 0)
		return ty, ty.Fingerprint(), nil
	})
}

// expressionAt widens a leaf to the expression a cursor on it means.
func expressionAt(leaf *syntax.LinkedNode) *syntax.LinkedNode {
	parent := leaf.Parent()
	if parent == nil {
		return leaf
	}
	switch leaf.Kind() {
	case syntax.Ident:
		if parent.Kind() == syntax.FieldAccess && leaf.Index() > 0 {
			return parent
		}
		return leaf
	case syntax.Int, syntax.Float, syntax.Numeric, syntax.Str, syntax.Bool,
		syntax.None, syntax.Auto, syntax.Label, syntax.MathIdent:
		return leaf
	}
	return parent
}

type inferer struct {
	a    *Analyzer
	fr   *memo.Frame
	uri  content.URI
	root *syntax.LinkedNode
	m    *Model
	// res is nil when inference is restricted to the document's own
	// bindings.
	res []Resolution
	// calling holds the closures whose bodies are being inferred.
	calling map[int]bool
}

func (in *inferer) symbol(sym *Symbol) Ty {
	switch sym.Kind {
	case Function:
		return Ty{Kind: TyFunc, Params: sym.Params}
	case Module:
		ty := tyOf(TyModule)
		if sym.Import >= 0 {
			if target, ok := in.a.ResolvePath(in.uri, in.m.Imports[sym.Import].Path); ok {
				ty.Module = target
			}
		}
		return ty
	case LabelSymbol:
		return tyOf(TyLabel)
	case Variable:
		if !sym.HasInit() {
			return tyOf(TyNone)
		}
		if n := nodeSpan(in.root, sym.InitStart, sym.InitEnd); n != nil {
			return in.infer(n, 0)
		}
	}
	return Unknown
}

// lookup feeds the evaluator with the initializers of local bindings.
func (in *inferer) lookup(name string, offset int) (*syntax.LinkedNode, bool) {
	ref := in.m.RefAt(offset)
	if ref == nil {
		return nil, false
	}
	sym := in.m.Lookup(ref.Scope, name, offset)
	if sym == nil || sym.Kind != Variable || !sym.HasInit() {
		return nil, false
	}
	n := nodeSpan(in.root, sym.InitStart, sym.InitEnd)
	return n, n != nil
}

func isConstantShape(k syntax.Kind) bool {
	switch k {
	case syntax.Int, syntax.Float, syntax.Numeric, syntax.Str, syntax.Bool, syntax.None, syntax.Auto,
		syntax.Array, syntax.Dict, syntax.Parenthesized, syntax.Unary, syntax.Binary,
		syntax.FuncCall, syntax.FieldAccess, syntax.Ident:
		return true
	}
	return false
}

func (in *inferer) evaluate(n *syntax.LinkedNode) (eval.Value, error) {
	return in.a.Evaluator.Eval(in.fr.Context(), n, in.lookup)
}

func (in *inferer) infer(n *syntax.LinkedNode, depth int) Ty {
	if n == nil || depth > maxInferDepth {
		return Unknown
	}
	if isConstantShape(n.Kind()) {
		v, err := in.evaluate(n)
		if err == nil {
			return tyOfValue(v)
		}
		var evalErr *eval.Error
		if errors.As(err, &evalErr) {
			return Unknown
		}
	}

	switch n.Kind() {
	case syntax.ContentBlock, syntax.Markup, syntax.Heading, syntax.Equation, syntax.Raw,
		syntax.Text, syntax.ListItem, syntax.EnumItem, syntax.Contextual, syntax.Ref:
		return tyOf(TyContent)
	case syntax.Str:
		return tyOf(TyStr)
	case syntax.Int:
		return tyOf(TyInt)
	case syntax.Float:
		return tyOf(TyFloat)
	case syntax.Bool:
		return tyOf(TyBool)
	case syntax.None:
		return tyOf(TyNone)
	case syntax.Auto:
		return tyOf(TyAuto)
	case syntax.Label:
		return tyOf(TyLabel)
	case syntax.Numeric:
		if _, unit, ok := syntax.NumericValue(n.Text()); ok {
			return numericTy(unit)
		}
	case syntax.Array:
		return tyOf(TyArray)
	case syntax.Dict:
		return tyOf(TyDict)
	case syntax.Closure:
		ty := tyOf(TyFunc)
		if params := n.Child(syntax.Params); params != nil {
			ty.Params = paramsOf(params)
		}
		return ty
	case syntax.Parenthesized:
		if inner := operands(n); len(inner) == 1 {
			return in.infer(inner[0], depth+1)
		}
	case syntax.Ident:
		return in.ident(n)
	case syntax.FieldAccess:
		return in.field(n)
	case syntax.FuncCall:
		return in.call(n, depth)
	case syntax.Unary:
		sig := n.Significant()
		if len(sig) == 2 {
			if sig[0].Kind() == syntax.Not {
				return tyOf(TyBool)
			}
			return in.infer(sig[1], depth+1)
		}
	case syntax.Binary:
		return in.binary(n, depth)
	case syntax.Conditional:
		return in.conditional(n, depth)
	case syntax.CodeBlock:
		if code := n.Child(syntax.Code); code != nil {
			if sig := code.Significant(); len(sig) == 1 {
				return in.infer(sig[0], depth+1)
			}
		}
	case syntax.LetBinding, syntax.SetRule, syntax.ShowRule, syntax.ModuleImport:
		return tyOf(TyNone)
	}
	return Unknown
}

func numericTy(unit string) Ty {
	switch unit {
	case "pt", "mm", "cm", "in", "em":
		return tyOf(TyLength)
	case "deg", "rad":
		return tyOf(TyAngle)
	case "%":
		return tyOf(TyRatio)
	case "fr":
		return tyOf(TyFraction)
	}
	return Unknown
}

func operands(n *syntax.LinkedNode) []*syntax.LinkedNode {
	var out []*syntax.LinkedNode
	for _, c := range n.Significant() {
		switch c.Kind() {
		case syntax.LeftParen, syntax.RightParen, syntax.Comma:
			continue
		}
		out = append(out, c)
	}
	return out
}

// resolution finds the resolution of the reference starting at offset.
func (in *inferer) resolution(offset int) (Resolution, bool) {
	ref := in.m.RefAt(offset)
	if ref == nil || ref.Start != offset {
		return Resolution{}, false
	}
	if in.res != nil {
		return in.res[ref.ID], true
	}
	if sym := in.m.Lookup(ref.Scope, ref.Name, ref.Start); sym != nil {
		return Resolution{Ref: *ref, Kind: Local, Symbol: sym}, true
	}
	if b := LookupBuiltin(ref.Name); b != nil {
		return Resolution{Ref: *ref, Kind: BuiltinRef, Builtin: b}, true
	}
	return Resolution{}, false
}

func (in *inferer) resolutionTy(res Resolution) Ty {
	switch res.Kind {
	case Local:
		if res.Symbol.Kind == ImportItem || res.Symbol.Kind == Parameter {
			return Unknown
		}
		if res.Symbol.URI == in.uri && res.Symbol.Kind == Variable {
			ty, err := in.a.BindingType(in.fr, in.uri, res.Symbol.Start)
			if err != nil {
				return Unknown
			}
			return ty
		}
		return in.symbol(res.Symbol)
	case Imported:
		if res.Export != nil {
			return res.Export.Ty
		}
	case ModuleRef:
		return Ty{Kind: TyModule, Module: res.Doc}
	case BuiltinRef:
		return res.Builtin.Ty()
	}
	return Unknown
}

func (in *inferer) ident(n *syntax.LinkedNode) Ty {
	res, ok := in.resolution(n.Offset())
	if !ok {
		return Unknown
	}
	return in.resolutionTy(res)
}

func (in *inferer) field(n *syntax.LinkedNode) Ty {
	sig := n.Significant()
	if len(sig) != 3 {
		return Unknown
	}
	res, ok := in.resolution(sig[2].Offset())
	if !ok {
		return Unknown
	}
	return in.resolutionTy(res)
}

func (in *inferer) call(n *syntax.LinkedNode, depth int) Ty {
	sig := n.Significant()
	if len(sig) == 0 {
		return Unknown
	}
	callee := sig[0]
	at := callee.Offset()
	if callee.Kind() == syntax.FieldAccess {
		cs := callee.Significant()
		if len(cs) != 3 {
			return Unknown
		}
		at = cs[2].Offset()
	} else if callee.Kind() != syntax.Ident {
		return Unknown
	}
	res, ok := in.resolution(at)
	if !ok {
		return Unknown
	}
	switch res.Kind {
	case BuiltinRef:
		if res.Builtin.Kind == Function {
			return tyOf(res.Builtin.Returns)
		}
	case Local:
		// The result of a local closure is the type of its body.
		sym := res.Symbol
		if sym.Kind != Function || !sym.HasInit() {
			return Unknown
		}
		if in.calling[sym.InitStart] {
			return Unknown
		}
		closure := nodeSpan(in.root, sym.InitStart, sym.InitEnd)
		if closure == nil || closure.Kind() != syntax.Closure {
			return Unknown
		}
		if in.calling == nil {
			in.calling = map[int]bool{}
		}
		in.calling[sym.InitStart] = true
		defer delete(in.calling, sym.InitStart)
		cs := closure.Significant()
		return in.infer(cs[len(cs)-1], depth+1)
	}
	return Unknown
}

func (in *inferer) binary(n *syntax.LinkedNode, depth int) Ty {
	sig := n.Significant()
	if len(sig) < 3 {
		return Unknown
	}
	switch sig[1].Kind() {
	case syntax.EqEq, syntax.ExclEq, syntax.Lt, syntax.LtEq, syntax.Gt, syntax.GtEq,
		syntax.And, syntax.Or, syntax.In, syntax.Not:
		return tyOf(TyBool)
	case syntax.Eq, syntax.PlusEq, syntax.HyphEq, syntax.StarEq, syntax.SlashEq:
		return tyOf(TyNone)
	}
	l := in.infer(sig[0], depth+1)
	r := in.infer(sig[len(sig)-1], depth+1)
	switch {
	case l.Kind == TyInt && r.Kind == TyInt && sig[1].Kind() != syntax.Slash:
		return tyOf(TyInt)
	case isNumber(l.Kind) && isNumber(r.Kind):
		return tyOf(TyFloat)
	case l.Kind == r.Kind && (l.Kind == TyStr || l.Kind == TyContent || l.Kind == TyArray || l.Kind == TyLength):
		return tyOf(l.Kind)
	case l.Kind == TyLength && isNumber(r.Kind), isNumber(l.Kind) && r.Kind == TyLength:
		return tyOf(TyLength)
	}
	return Unknown
}

func isNumber(k TyKind) bool { return k == TyInt || k == TyFloat }

func (in *inferer) conditional(n *syntax.LinkedNode, depth int) Ty {
	var branches []*syntax.LinkedNode
	hasElse := false
	for _, c := range n.Significant() {
		switch c.Kind() {
		case syntax.CodeBlock, syntax.ContentBlock, syntax.Conditional:
			branches = append(branches, c)
		case syntax.Else:
			hasElse = true
		}
	}
	if len(branches) == 0 {
		return Unknown
	}
	ty := in.infer(branches[0], depth+1)
	for _, b := range branches[1:] {
		ty = join(ty, in.infer(b, depth+1))
	}
	if !hasElse {
		ty = join(ty, tyOf(TyNone))
	}
	return ty
}
