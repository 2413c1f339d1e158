package analysis

import (
	"strings"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/eval"
	"github.com/uros-5/tinymist/internal/memo"
)

type TyKind int

const (
	TyAny TyKind = iota
	TyNone
	TyAuto
	TyBool
	TyInt
	TyFloat
	TyLength
	TyAngle
	TyRatio
	TyFraction
	TyStr
	TyColor
	TyContent
	TyArray
	TyDict
	TyFunc
	TyModule
	TyLabel
	TyUnion
)

var tyNames = [...]string{
	TyAny:      "any",
	TyNone:     "none",
	TyAuto:     "auto",
	TyBool:     "bool",
	TyInt:      "int",
	TyFloat:    "float",
	TyLength:   "length",
	TyAngle:    "angle",
	TyRatio:    "ratio",
	TyFraction: "fraction",
	TyStr:      "str",
	TyColor:    "color",
	TyContent:  "content",
	TyArray:    "array",
	TyDict:     "dictionary",
	TyFunc:     "function",
	TyModule:   "module",
	TyLabel:    "label",
	TyUnion:    "union",
}

func (k TyKind) String() string { return tyNames[k] }

// Ty is the inferred shape of an expression. TyAny is the unknown
// sentinel; inference never fails harder than that.
type Ty struct {
	Kind   TyKind
	Value  *eval.Value
	Params []Param
	Module content.URI
	Union  []Ty
}

var Unknown = Ty{Kind: TyAny}

func tyOf(k TyKind) Ty { return Ty{Kind: k} }

func (t Ty) Known() bool { return t.Kind != TyAny }

func (t Ty) String() string {
	switch t.Kind {
	case TyUnion:
		parts := make([]string, len(t.Union))
		for i, u := range t.Union {
			parts[i] = u.String()
		}
		return strings.Join(parts, " | ")
	case TyFunc:
		if t.Params == nil {
			return "function"
		}
		return "function(" + paramList(t.Params) + ")"
	}
	return t.Kind.String()
}

func paramList(ps []Param) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		switch {
		case p.Variadic:
			parts[i] = ".." + p.Name
		case p.Named:
			parts[i] = p.Name + ": .."
		default:
			parts[i] = p.Name
		}
	}
	return strings.Join(parts, ", ")
}

func (t Ty) hash(h memo.Hasher) {
	h.Int(int(t.Kind)).String(string(t.Module))
	if t.Value != nil {
		h.String(t.Value.String())
	}
	for _, p := range t.Params {
		h.String(p.Name).Bool(p.Named).Bool(p.Variadic)
		p.Ty.hash(h)
	}
	for _, u := range t.Union {
		u.hash(h)
	}
}

func (t Ty) Fingerprint() memo.Fingerprint {
	h := memo.NewHasher()
	t.hash(h)
	return h.Sum()
}

func tyOfValue(v eval.Value) Ty {
	var k TyKind
	switch v.Kind {
	case eval.None:
		k = TyNone
	case eval.Auto:
		k = TyAuto
	case eval.Bool:
		k = TyBool
	case eval.Int:
		k = TyInt
	case eval.Float:
		k = TyFloat
	case eval.Str:
		k = TyStr
	case eval.Length:
		k = TyLength
	case eval.Angle:
		k = TyAngle
	case eval.Ratio:
		k = TyRatio
	case eval.Fraction:
		k = TyFraction
	case eval.Array:
		k = TyArray
	case eval.Dict:
		k = TyDict
	}
	return Ty{Kind: k, Value: &v}
}

// join merges two alternatives; an unknown alternative makes the whole
// result unknown.
func join(a, b Ty) Ty {
	if !a.Known() || !b.Known() {
		return Unknown
	}
	if a.Kind == b.Kind && a.Kind != TyUnion {
		return Ty{Kind: a.Kind}
	}
	var parts []Ty
	add := func(t Ty) {
		for _, p := range parts {
			if p.Kind == t.Kind {
				return
			}
		}
		parts = append(parts, Ty{Kind: t.Kind})
	}
	for _, t := range []Ty{a, b} {
		if t.Kind == TyUnion {
			for _, u := range t.Union {
				add(u)
			}
		} else {
			add(t)
		}
	}
	return Ty{Kind: TyUnion, Union: parts}
}
