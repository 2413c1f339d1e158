package analysis

import (
	"fmt"
	"path"
	"strings"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
)

type Hover struct {
	Start, End int
	// Contents is markdown.
	Contents string
}

// Hover describes the name or expression at offset. It returns nil when
// there is nothing to say, which includes positions in broken code.
func (a *Analyzer) Hover(fr *memo.Frame, uri content.URI, offset int) (*Hover, error) {
	res, ok, err := a.Resolve(fr, uri, offset)
	if err != nil {
		return nil, err
	}
	if ok {
		text, err := a.describe(fr, uri, res)
		if err != nil {
			return nil, err
		}
		if text != "" {
			return &Hover{Start: res.Ref.Start, End: res.Ref.End, Contents: text}, nil
		}
	}

	ty, err := a.TypeOf(fr, uri, offset)
	if err != nil || !ty.Known() {
		return nil, err
	}
	p, err := a.Parse(fr, uri)
	if err != nil {
		return nil, err
	}
	leaf := p.Tree.LeafAt(offset)
	if leaf == nil {
		return nil, nil
	}
	n := expressionAt(leaf)
	text := ty.String()
	if ty.Value != nil {
		text += " = " + ty.Value.String()
	}
	return &Hover{Start: n.Offset(), End: n.End(), Contents: codeBlock(text)}, nil
}

func codeBlock(s string) string { return "```typc\n" + s + "\n```" }

func (a *Analyzer) describe(fr *memo.Frame, uri content.URI, res Resolution) (string, error) {
	switch res.Kind {
	case Local:
		return a.describeSymbol(fr, uri, res.Symbol)
	case Imported:
		if res.Export == nil {
			return "", nil
		}
		text := describeBinding(res.Name, res.Export.Kind, res.Export.Params, res.Export.Ty)
		return codeBlock(text) + fmt.Sprintf("\n\nDefined in `%s`.", path.Base(res.Doc)), nil
	case ModuleRef:
		return codeBlock("module " + stem(res.Doc)) + fmt.Sprintf("\n\n`%s`", path.Base(res.Doc)), nil
	case BuiltinRef:
		return codeBlock(res.Builtin.Signature()) + "\n\n" + res.Builtin.Doc, nil
	}
	return "", nil
}

func (a *Analyzer) describeSymbol(fr *memo.Frame, uri content.URI, s *Symbol) (string, error) {
	switch s.Kind {
	case Variable, Function:
		ty, err := a.BindingType(fr, uri, s.Start)
		if err != nil {
			return "", err
		}
		return codeBlock(describeBinding(s.Name, s.Kind, s.Params, ty)), nil
	case Parameter:
		return codeBlock("parameter " + s.Name), nil
	case Module:
		return codeBlock("module " + s.Name), nil
	case ImportItem:
		return codeBlock("import " + s.Original), nil
	case LabelSymbol:
		return codeBlock("label <" + s.Name + ">"), nil
	}
	return "", nil
}

func describeBinding(name string, kind SymbolKind, params []Param, ty Ty) string {
	if kind == Function {
		return "let " + name + "(" + paramList(params) + ")"
	}
	var b strings.Builder
	b.WriteString("let ")
	b.WriteString(name)
	if ty.Known() {
		b.WriteString(": ")
		b.WriteString(ty.String())
	}
	if ty.Value != nil {
		b.WriteString(" = ")
		b.WriteString(ty.Value.String())
	}
	return b.String()
}
