package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/object"
	"github.com/tliron/commonlog"

	"github.com/uros-5/tinymist/internal/syntax"
)

var log = commonlog.GetLogger("tinymist.eval")

// Lookup returns the initializer of the binding that name refers to at
// offset, if the caller can resolve it.
type Lookup func(name string, offset int) (*syntax.LinkedNode, bool)

type Evaluator interface {
	Eval(ctx context.Context, expr *syntax.LinkedNode, lookup Lookup) (Value, error)
}

const maxDepth = 16

// RisorEvaluator translates constant expressions into Risor scripts.
// Literal numbers keep their unit on the Go side; the script only sees
// plain numbers.
type RisorEvaluator struct {
	timeout time.Duration
}

func NewRisorEvaluator(timeout time.Duration) *RisorEvaluator {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &RisorEvaluator{timeout: timeout}
}

func (e *RisorEvaluator) Eval(ctx context.Context, expr *syntax.LinkedNode, lookup Lookup) (Value, error) {
	return e.eval(ctx, expr, lookup, 0)
}

func (e *RisorEvaluator) eval(ctx context.Context, expr *syntax.LinkedNode, lookup Lookup, depth int) (Value, error) {
	if depth > maxDepth || expr == nil {
		return Value{}, ErrUnsupported
	}
	if expr.Kind() == syntax.Auto {
		return Value{Kind: Auto}, nil
	}

	tr := &translator{ev: e, ctx: ctx, lookup: lookup, depth: depth, globals: map[string]any{}}
	src, unit, err := tr.expr(expr)
	if err != nil {
		return Value{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	opts := make([]risor.Option, 0, len(tr.globals))
	for name, g := range tr.globals {
		opts = append(opts, risor.WithGlobal(name, g))
	}
	obj, err := risor.Eval(ctx, src, opts...)
	if err != nil {
		if ctx.Err() != nil {
			log.Debugf("evaluation of %q timed out", src)
			return Value{}, ErrUnsupported
		}
		return Value{}, fail(expr, scriptMessage(err))
	}

	v, err := fromObject(obj)
	if err != nil {
		return Value{}, err
	}
	if v.Kind == Float && (math.IsInf(v.Float, 0) || math.IsNaN(v.Float)) {
		return Value{}, fail(expr, "cannot divide by zero")
	}
	return withUnit(v, unit), nil
}

func fail(n *syntax.LinkedNode, msg string) *Error {
	return &Error{Start: n.Offset(), End: n.End(), Message: msg}
}

func scriptMessage(err error) string {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "zero") && strings.Contains(lower, "divi") {
		return "cannot divide by zero"
	}
	return msg
}

func withUnit(v Value, unit string) Value {
	if unit == "" {
		return v
	}
	f := v.Float
	if v.Kind == Int {
		f = float64(v.Int)
	} else if v.Kind != Float {
		return v
	}
	out := Value{Float: f}
	switch unit {
	case "pt", "em":
		out.Kind, out.Unit = Length, unit
	case "deg":
		out.Kind = Angle
	case "%":
		out.Kind = Ratio
	case "fr":
		out.Kind = Fraction
	}
	return out
}

func unitKind(v Value) string {
	switch v.Kind {
	case Length:
		return v.Unit
	case Angle:
		return "deg"
	case Ratio:
		return "%"
	case Fraction:
		return "fr"
	}
	return ""
}

func unitName(unit string) string {
	switch unit {
	case "pt", "em":
		return "length"
	case "deg":
		return "angle"
	case "%":
		return "ratio"
	case "fr":
		return "fraction"
	}
	return "number"
}

func fromObject(obj object.Object) (Value, error) {
	switch o := obj.(type) {
	case *object.Int:
		return Value{Kind: Int, Int: o.Value()}, nil
	case *object.Float:
		return Value{Kind: Float, Float: o.Value()}, nil
	case *object.String:
		return Value{Kind: Str, Str: o.Value()}, nil
	case *object.Bool:
		return Value{Kind: Bool, Bool: o.Value()}, nil
	case *object.NilType:
		return Value{Kind: None}, nil
	case *object.List:
		items := o.Value()
		v := Value{Kind: Array, Items: make([]Value, len(items))}
		for i, it := range items {
			iv, err := fromObject(it)
			if err != nil {
				return Value{}, err
			}
			v.Items[i] = iv
		}
		return v, nil
	case *object.Map:
		fields := o.Value()
		v := Value{Kind: Dict, Fields: make(map[string]Value, len(fields))}
		for k, f := range fields {
			fv, err := fromObject(f)
			if err != nil {
				return Value{}, err
			}
			v.Fields[k] = fv
		}
		return v, nil
	}
	return Value{}, fmt.Errorf("%w: result of type %s", ErrUnsupported, obj.Type())
}

type translator struct {
	ev      *RisorEvaluator
	ctx     context.Context
	lookup  Lookup
	depth   int
	globals map[string]any
}

func (t *translator) global(v any) string {
	name := "v_" + strconv.Itoa(len(t.globals))
	t.globals[name] = v
	return name
}

func floatLit(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

var calcFuncs = map[string]string{
	"abs":   "math.abs(%s)",
	"sqrt":  "math.sqrt(%s)",
	"pow":   "math.pow(%s)",
	"floor": "int(math.floor(%s))",
	"ceil":  "int(math.ceil(%s))",
	"round": "math.round(%s)",
	"min":   "math.min(%s)",
	"max":   "math.max(%s)",
}

var calcArity = map[string]int{"pow": 2, "min": 2, "max": 2}

var calcConsts = map[string]float64{"pi": math.Pi, "e": math.E, "tau": 2 * math.Pi}

// expr returns the script for n and the unit its numeric result carries.
func (t *translator) expr(n *syntax.LinkedNode) (string, string, error) {
	if err := t.ctx.Err(); err != nil {
		return "", "", ErrUnsupported
	}
	switch n.Kind() {
	case syntax.Int:
		if _, err := strconv.ParseInt(n.Text(), 10, 64); err != nil {
			return "", "", ErrUnsupported
		}
		return n.Text(), "", nil
	case syntax.Float:
		f, err := strconv.ParseFloat(n.Text(), 64)
		if err != nil {
			return "", "", ErrUnsupported
		}
		return floatLit(f), "", nil
	case syntax.Numeric:
		f, suffix, ok := syntax.NumericValue(n.Text())
		if !ok {
			return "", "", ErrUnsupported
		}
		_, unit, factor, err := unitOf(suffix)
		if err != nil {
			return "", "", err
		}
		return floatLit(f * factor), unit, nil
	case syntax.Str:
		return t.global(syntax.StrValue(n.Text())), "", nil
	case syntax.Bool:
		return n.Text(), "", nil
	case syntax.None:
		return "nil", "", nil
	case syntax.Parenthesized:
		inner := operands(n)
		if len(inner) != 1 {
			return "", "", ErrUnsupported
		}
		s, unit, err := t.expr(inner[0])
		return "(" + s + ")", unit, err
	case syntax.Array:
		return t.array(n)
	case syntax.Dict:
		return t.dict(n)
	case syntax.Unary:
		return t.unary(n)
	case syntax.Binary:
		return t.binary(n)
	case syntax.Ident:
		return t.ident(n)
	case syntax.FieldAccess:
		sig := n.Significant()
		if len(sig) == 3 && sig[0].Kind() == syntax.Ident && sig[0].Text() == "calc" {
			if c, ok := calcConsts[sig[2].Text()]; ok {
				return floatLit(c), "", nil
			}
		}
	case syntax.FuncCall:
		return t.call(n)
	}
	return "", "", ErrUnsupported
}

// operands returns the significant children that are not punctuation.
func operands(n *syntax.LinkedNode) []*syntax.LinkedNode {
	var out []*syntax.LinkedNode
	for _, c := range n.Significant() {
		switch c.Kind() {
		case syntax.LeftParen, syntax.RightParen, syntax.Comma, syntax.Colon:
			continue
		}
		out = append(out, c)
	}
	return out
}

func (t *translator) array(n *syntax.LinkedNode) (string, string, error) {
	var parts []string
	for _, it := range operands(n) {
		s, unit, err := t.expr(it)
		if err != nil {
			return "", "", err
		}
		if unit != "" {
			return "", "", ErrUnsupported
		}
		parts = append(parts, s)
	}
	return "[" + strings.Join(parts, ", ") + "]", "", nil
}

func (t *translator) dict(n *syntax.LinkedNode) (string, string, error) {
	var parts []string
	for _, it := range operands(n) {
		if it.Kind() != syntax.Named && it.Kind() != syntax.Keyed {
			return "", "", ErrUnsupported
		}
		sig := it.Significant()
		if len(sig) != 3 {
			return "", "", ErrUnsupported
		}
		key := sig[0].Text()
		if sig[0].Kind() == syntax.Str {
			key = syntax.StrValue(key)
		}
		if strings.ContainsAny(key, "\"\\\n\r") {
			return "", "", ErrUnsupported
		}
		s, unit, err := t.expr(sig[2])
		if err != nil {
			return "", "", err
		}
		if unit != "" {
			return "", "", ErrUnsupported
		}
		parts = append(parts, `"`+key+`": `+s)
	}
	return "{" + strings.Join(parts, ", ") + "}", "", nil
}

func (t *translator) unary(n *syntax.LinkedNode) (string, string, error) {
	sig := n.Significant()
	if len(sig) != 2 {
		return "", "", ErrUnsupported
	}
	s, unit, err := t.expr(sig[1])
	if err != nil {
		return "", "", err
	}
	switch sig[0].Kind() {
	case syntax.Minus:
		return "-(" + s + ")", unit, nil
	case syntax.Plus:
		return s, unit, nil
	case syntax.Not:
		if unit != "" {
			return "", "", fail(n, "cannot apply `not` to "+unitName(unit))
		}
		return "!(" + s + ")", "", nil
	}
	return "", "", ErrUnsupported
}

var binaryOps = map[syntax.Kind]string{
	syntax.Plus:   "+",
	syntax.Minus:  "-",
	syntax.Star:   "*",
	syntax.Slash:  "/",
	syntax.EqEq:   "==",
	syntax.ExclEq: "!=",
	syntax.Lt:     "<",
	syntax.LtEq:   "<=",
	syntax.Gt:     ">",
	syntax.GtEq:   ">=",
	syntax.And:    "&&",
	syntax.Or:     "||",
}

func (t *translator) binary(n *syntax.LinkedNode) (string, string, error) {
	sig := n.Significant()
	if len(sig) != 3 {
		return "", "", ErrUnsupported
	}
	opKind := sig[1].Kind()
	op, ok := binaryOps[opKind]
	if !ok {
		return "", "", ErrUnsupported
	}
	l, lu, err := t.expr(sig[0])
	if err != nil {
		return "", "", err
	}
	r, ru, err := t.expr(sig[2])
	if err != nil {
		return "", "", err
	}

	switch opKind {
	case syntax.Plus, syntax.Minus:
		if lu != ru {
			verb := "add"
			if opKind == syntax.Minus {
				verb = "subtract"
			}
			return "", "", fail(n, fmt.Sprintf("cannot %s %s and %s", verb, unitName(lu), unitName(ru)))
		}
		return l + " " + op + " " + r, lu, nil
	case syntax.Star:
		if lu != "" && ru != "" {
			return "", "", fail(n, fmt.Sprintf("cannot multiply %s with %s", unitName(lu), unitName(ru)))
		}
		return l + " * " + r, lu + ru, nil
	case syntax.Slash:
		div := "float(" + l + ") / float(" + r + ")"
		switch {
		case lu == ru:
			return div, "", nil
		case ru == "":
			return div, lu, nil
		}
		return "", "", fail(n, fmt.Sprintf("cannot divide %s by %s", unitName(lu), unitName(ru)))
	case syntax.And, syntax.Or:
		return "(" + l + ") " + op + " (" + r + ")", "", nil
	}
	if lu != ru {
		return "", "", fail(n, fmt.Sprintf("cannot compare %s and %s", unitName(lu), unitName(ru)))
	}
	return l + " " + op + " " + r, "", nil
}

func (t *translator) ident(n *syntax.LinkedNode) (string, string, error) {
	if t.lookup == nil {
		return "", "", ErrUnsupported
	}
	init, ok := t.lookup(n.Text(), n.Offset())
	if !ok {
		return "", "", ErrUnsupported
	}
	v, err := t.ev.eval(t.ctx, init, t.lookup, t.depth+1)
	if err != nil {
		var evalErr *Error
		if errors.As(err, &evalErr) {
			// The failure belongs to the binding, not to this use.
			return "", "", ErrUnsupported
		}
		return "", "", err
	}
	g, ok := v.goValue()
	if !ok {
		return "", "", ErrUnsupported
	}
	return t.global(g), unitKind(v), nil
}

func (t *translator) call(n *syntax.LinkedNode) (string, string, error) {
	sig := n.Significant()
	if len(sig) != 2 || sig[1].Kind() != syntax.Args {
		return "", "", ErrUnsupported
	}
	callee, args := sig[0], operands(sig[1])

	var parts []string
	for _, a := range args {
		if a.Kind() == syntax.Named || a.Kind() == syntax.Spread || a.Kind() == syntax.ContentBlock {
			return "", "", ErrUnsupported
		}
		s, unit, err := t.expr(a)
		if err != nil {
			return "", "", err
		}
		if unit != "" {
			return "", "", ErrUnsupported
		}
		parts = append(parts, s)
	}
	joined := strings.Join(parts, ", ")

	switch callee.Kind() {
	case syntax.Ident:
		switch callee.Text() {
		case "str":
			if len(parts) == 1 {
				return "string(" + joined + ")", "", nil
			}
		case "int", "float":
			if len(parts) == 1 {
				return callee.Text() + "(" + joined + ")", "", nil
			}
		}
	case syntax.FieldAccess:
		fs := callee.Significant()
		if len(fs) != 3 {
			break
		}
		base, field := fs[0], fs[2].Text()
		if base.Kind() == syntax.Ident && base.Text() == "calc" {
			tmpl, ok := calcFuncs[field]
			want := calcArity[field]
			if want == 0 {
				want = 1
			}
			if ok && len(parts) == want {
				return fmt.Sprintf(tmpl, joined), "", nil
			}
			break
		}
		if field == "len" && len(parts) == 0 {
			s, unit, err := t.expr(base)
			if err != nil || unit != "" {
				return "", "", ErrUnsupported
			}
			return "len(" + s + ")", "", nil
		}
	}
	return "", "", ErrUnsupported
}
