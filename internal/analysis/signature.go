package analysis

import (
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/syntax"
)

type SignatureHelp struct {
	Label  string
	Params []string
	// Active indexes Params, or is -1 when no parameter matches.
	Active int
	Doc    string
}

type signature struct {
	name   string
	params []Param
	doc    string
}

// SignatureHelp describes the function whose argument list contains offset.
func (a *Analyzer) SignatureHelp(fr *memo.Frame, uri content.URI, offset int) (*SignatureHelp, error) {
	p, err := a.Parse(fr, uri)
	if err != nil {
		return nil, err
	}
	leaf := p.Tree.LeafAt(offset)
	if leaf == nil {
		return nil, nil
	}
	args := leaf.Ancestor(syntax.Args)
	if args == nil || args.Parent() == nil || offset <= args.Offset() {
		return nil, nil
	}
	if rp := args.Child(syntax.RightParen); rp != nil && offset > rp.Offset() {
		return nil, nil
	}
	sig, err := a.signatureOf(fr, uri, args.Parent())
	if err != nil || sig == nil {
		return nil, err
	}

	help := &SignatureHelp{Label: sig.name + "(" + paramList(sig.params) + ")", Active: -1, Doc: sig.doc}
	for _, p := range sig.params {
		help.Params = append(help.Params, paramList([]Param{p}))
	}
	help.Active = activeParam(sig.params, args, offset)
	return help, nil
}

// activeParam maps the argument under the cursor to a parameter: named
// arguments by name, positional ones by position among positional
// parameters.
func activeParam(params []Param, args *syntax.LinkedNode, offset int) int {
	positional := 0
	var current *syntax.LinkedNode
walk:
	for _, c := range args.Significant() {
		switch {
		case c.Kind() == syntax.LeftParen || c.Kind() == syntax.RightParen:
		case c.Offset() >= offset && c.Kind() == syntax.Comma, c.Offset() > offset:
			break walk
		case c.Kind() == syntax.Comma:
			if current != nil && current.Kind() != syntax.Named {
				positional++
			}
			current = nil
		default:
			current = c
		}
	}

	if current != nil && current.Kind() == syntax.Named {
		if key := current.Significant(); len(key) > 0 {
			for i, p := range params {
				if p.Named && p.Name == key[0].Text() {
					return i
				}
			}
		}
		return -1
	}
	k := 0
	for i, p := range params {
		if p.Named {
			continue
		}
		if k == positional || p.Variadic {
			return i
		}
		k++
	}
	return -1
}

// signatureOf finds the parameters of the function called by call.
func (a *Analyzer) signatureOf(fr *memo.Frame, uri content.URI, call *syntax.LinkedNode) (*signature, error) {
	if call.Kind() != syntax.FuncCall {
		return nil, nil
	}
	sig := call.Significant()
	if len(sig) == 0 {
		return nil, nil
	}
	callee := sig[0]
	at := callee.Offset()
	switch callee.Kind() {
	case syntax.Ident:
	case syntax.FieldAccess:
		cs := callee.Significant()
		if len(cs) != 3 {
			return nil, nil
		}
		at = cs[2].Offset()
	default:
		return nil, nil
	}
	res, ok, err := a.Resolve(fr, uri, at)
	if err != nil || !ok {
		return nil, err
	}
	switch res.Kind {
	case Local:
		if res.Symbol.Kind == Function {
			return &signature{name: res.Symbol.Name, params: res.Symbol.Params}, nil
		}
	case Imported:
		if res.Export != nil && res.Export.Kind == Function {
			return &signature{name: res.Name, params: res.Export.Params}, nil
		}
	case BuiltinRef:
		if res.Builtin.Kind == Function {
			return &signature{name: res.Builtin.Name, params: res.Builtin.Ty().Params, doc: res.Builtin.Doc}, nil
		}
	}
	return nil, nil
}
