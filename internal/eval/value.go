// Package eval computes the values of constant code expressions.
package eval

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrUnsupported means the expression is outside what the evaluator
// handles. It is not a problem with the document.
var ErrUnsupported = errors.New("eval: unsupported expression")

// Error is an evaluation failure of a well-formed expression, such as a
// division by zero. Start and End are byte offsets of the expression.
type Error struct {
	Start, End int
	Message    string
}

func (e *Error) Error() string { return e.Message }

type Kind int

const (
	None Kind = iota
	Auto
	Bool
	Int
	Float
	Str
	Length
	Angle
	Ratio
	Fraction
	Array
	Dict
)

var kindNames = map[Kind]string{
	None:     "none",
	Auto:     "auto",
	Bool:     "bool",
	Int:      "int",
	Float:    "float",
	Str:      "str",
	Length:   "length",
	Angle:    "angle",
	Ratio:    "ratio",
	Fraction: "fraction",
	Array:    "array",
	Dict:     "dictionary",
}

func (k Kind) String() string { return kindNames[k] }

// Value is the result of an evaluation. Lengths are held in pt (or em),
// angles in degrees, ratios in percent.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	// Unit is "pt" or "em" for lengths.
	Unit   string
	Items  []Value
	Fields map[string]Value
}

func (v Value) Equal(o Value) bool { return v.String() == o.String() && v.Kind == o.Kind }

// String renders the value the way it would be written in code.
func (v Value) String() string {
	switch v.Kind {
	case None:
		return "none"
	case Auto:
		return "auto"
	case Bool:
		return strconv.FormatBool(v.Bool)
	case Int:
		return strconv.FormatInt(v.Int, 10)
	case Float:
		return formatFloat(v.Float, true)
	case Str:
		return strconv.Quote(v.Str)
	case Length:
		return formatFloat(v.Float, false) + v.Unit
	case Angle:
		return formatFloat(v.Float, false) + "deg"
	case Ratio:
		return formatFloat(v.Float, false) + "%"
	case Fraction:
		return formatFloat(v.Float, false) + "fr"
	case Array:
		parts := make([]string, len(v.Items))
		for i, it := range v.Items {
			parts[i] = it.String()
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case Dict:
		if len(v.Fields) == 0 {
			return "(:)"
		}
		keys := make([]string, 0, len(v.Fields))
		for k := range v.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.Fields[k].String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return "unknown"
}

func formatFloat(f float64, keepPoint bool) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if keepPoint && !strings.ContainsAny(s, ".eEn") && !math.IsInf(f, 0) {
		s += ".0"
	}
	return s
}

// unitOf maps a literal suffix to the value kind, the canonical unit and
// the factor converting into it.
func unitOf(suffix string) (Kind, string, float64, error) {
	switch suffix {
	case "pt":
		return Length, "pt", 1, nil
	case "mm":
		return Length, "pt", 72 / 25.4, nil
	case "cm":
		return Length, "pt", 72 / 2.54, nil
	case "in":
		return Length, "pt", 72, nil
	case "em":
		return Length, "em", 1, nil
	case "deg":
		return Angle, "deg", 1, nil
	case "rad":
		return Angle, "deg", 180 / math.Pi, nil
	case "%":
		return Ratio, "%", 1, nil
	case "fr":
		return Fraction, "fr", 1, nil
	}
	return 0, "", 0, fmt.Errorf("%w: unit %q", ErrUnsupported, suffix)
}

// goValue converts v for use as a script global.
func (v Value) goValue() (any, bool) {
	switch v.Kind {
	case None:
		return nil, true
	case Bool:
		return v.Bool, true
	case Int:
		return v.Int, true
	case Float, Length, Angle, Ratio, Fraction:
		return v.Float, true
	case Str:
		return v.Str, true
	case Array:
		out := make([]any, len(v.Items))
		for i, it := range v.Items {
			g, ok := it.goValue()
			if !ok {
				return nil, false
			}
			out[i] = g
		}
		return out, true
	case Dict:
		out := make(map[string]any, len(v.Fields))
		for k, f := range v.Fields {
			g, ok := f.goValue()
			if !ok {
				return nil, false
			}
			out[k] = g
		}
		return out, true
	}
	return nil, false
}
