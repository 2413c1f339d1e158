package analysis

import (
	"errors"
	"fmt"
	"sort"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/eval"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/syntax"
)

type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
)

// Diagnostic codes.
const (
	CodeSyntax           = "syntax-error"
	CodeUnresolvedSymbol = "unresolved-symbol"
	CodeUnresolvedImport = "unresolved-import"
	CodeImportCycle      = "import-cycle"
	CodeEval             = "eval-error"
	CodeRawSyntax        = "raw-syntax"
)

type Diagnostic struct {
	Start, End int
	Severity   Severity
	Code       string
	Message    string
}

// Normalize deduplicates diagnostics by range and message and orders them
// by range, then message.
func Normalize(diags []Diagnostic) []Diagnostic {
	out := make([]Diagnostic, 0, len(diags))
	out = append(out, diags...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Message < b.Message
	})
	n := 0
	for i, d := range out {
		if i > 0 && d.Start == out[n-1].Start && d.End == out[n-1].End && d.Message == out[n-1].Message {
			continue
		}
		out[n] = d
		n++
	}
	return out[:n]
}

func hashDiagnostics(diags []Diagnostic) memo.Fingerprint {
	h := memo.NewHasher()
	for _, d := range diags {
		h.Int(d.Start).Int(d.End).Int(int(d.Severity)).String(d.Code).String(d.Message)
	}
	return h.Sum()
}

// LocalDiagnostics reports the problems of uri that can be found without
// looking at the import graph as a whole: syntax errors, unresolved names
// and imports, evaluation errors and errors in tagged raw code.
func (a *Analyzer) LocalDiagnostics(fr *memo.Frame, uri content.URI) ([]Diagnostic, error) {
	return memo.Query(fr, memo.Key{Kind: KindDiag, Doc: uri}, func(fr *memo.Frame) ([]Diagnostic, memo.Fingerprint, error) {
		m, err := a.Scopes(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		var diags []Diagnostic
		for _, e := range m.Errors {
			diags = append(diags, Diagnostic{Start: e.Start, End: e.End, Severity: SeverityError, Code: CodeSyntax, Message: e.Message})
		}

		imps, err := a.Imports(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		for _, ri := range imps {
			im := m.Imports[ri.Import]
			if ri.Target != "" && !ri.Exists {
				diags = append(diags, Diagnostic{
					Start:    im.PathStart,
					End:      im.PathEnd,
					Severity: SeverityError,
					Code:     CodeUnresolvedImport,
					Message:  fmt.Sprintf("file not found: %s", ri.Path),
				})
			}
		}

		res, err := a.ResolveAll(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		for _, r := range res {
			if r.Kind != Unresolved {
				continue
			}
			d := Diagnostic{Start: r.Ref.Start, End: r.Ref.End, Severity: SeverityError, Code: CodeUnresolvedSymbol}
			switch r.Ref.Kind {
			case LabelRef:
				d.Message = fmt.Sprintf("label `<%s>` does not exist in the document", r.Ref.Name)
			case ImportRef:
				d.Code = CodeUnresolvedImport
				d.Message = fmt.Sprintf("cannot import `%s` from %s", r.Ref.Name, m.Imports[r.Ref.Import].Path)
			case FieldRef:
				d.Message = fmt.Sprintf("module does not contain `%s`", r.Ref.Name)
			default:
				d.Message = fmt.Sprintf("unknown variable: %s", r.Ref.Name)
			}
			diags = append(diags, d)
		}

		evalDiags, err := a.evalDiagnostics(fr, uri, m)
		if err != nil {
			return nil, 0, err
		}
		rawDiags, err := a.RawDiagnostics(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		diags = append(diags, evalDiags...)
		diags = Normalize(append(diags, rawDiags...))
		return diags, hashDiagnostics(diags), nil
	})
}

// evalDiagnostics evaluates every outermost operator expression.
func (a *Analyzer) evalDiagnostics(fr *memo.Frame, uri content.URI, m *Model) ([]Diagnostic, error) {
	p, err := a.Parse(fr, uri)
	if err != nil {
		return nil, err
	}
	in := &inferer{a: a, fr: fr, uri: uri, root: p.Tree.Linked(), m: m}

	var diags []Diagnostic
	var walk func(n *syntax.LinkedNode) error
	walk = func(n *syntax.LinkedNode) error {
		if n.Kind() == syntax.Binary || n.Kind() == syntax.Unary {
			if !n.Node().Erroneous() {
				_, err := in.evaluate(n)
				var evalErr *eval.Error
				if errors.As(err, &evalErr) {
					diags = append(diags, Diagnostic{
						Start:    evalErr.Start,
						End:      evalErr.End,
						Severity: SeverityError,
						Code:     CodeEval,
						Message:  evalErr.Message,
					})
				}
			}
			return fr.Err()
		}
		for _, c := range n.Children() {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(in.root); err != nil {
		return nil, err
	}
	return diags, nil
}
