package eval_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/eval"
	"github.com/uros-5/tinymist/internal/syntax"
)

// bindings parses src as a sequence of let statements and returns a lookup
// over their initializers together with the initializer of the last one.
func bindings(t *testing.T, src string) (eval.Lookup, *syntax.LinkedNode) {
	t.Helper()
	tree := syntax.Parse(src)
	require.Empty(t, tree.Errors())

	inits := map[string]*syntax.LinkedNode{}
	var last *syntax.LinkedNode
	var walk func(n *syntax.LinkedNode)
	walk = func(n *syntax.LinkedNode) {
		if n.Kind() == syntax.LetBinding {
			sig := n.Significant()
			require.GreaterOrEqual(t, len(sig), 4)
			init := sig[len(sig)-1]
			inits[sig[1].Text()] = init
			last = init
			return
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(tree.Linked())
	require.NotNil(t, last)

	lookup := func(name string, offset int) (*syntax.LinkedNode, bool) {
		n, ok := inits[name]
		if !ok || n.Offset() >= offset {
			return nil, false
		}
		return n, true
	}
	return lookup, last
}

func evalLast(t *testing.T, src string) (eval.Value, error) {
	t.Helper()
	lookup, expr := bindings(t, src)
	return eval.NewRisorEvaluator(time.Second).Eval(context.Background(), expr, lookup)
}

func TestEvalValues(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
		kind eval.Kind
	}{
		{"int arithmetic", "#let r = 1 + 2 * 3", "7", eval.Int},
		{"float division", "#let r = 7 / 2", "3.5", eval.Float},
		{"negation", "#let r = -(2 - 5)", "3", eval.Int},
		{"comparison", "#let r = 2 < 3 and not false", "true", eval.Bool},
		{"string concat", `#let r = "a" + "b\n"`, `"ab\n"`, eval.Str},
		{"length scale", "#let r = 2 * 3pt", "6pt", eval.Length},
		{"length sum", "#let r = 1in + 0pt", "72pt", eval.Length},
		{"length ratio", "#let r = 6pt / 2pt", "3.0", eval.Float},
		{"angle", "#let r = 90deg / 2", "45deg", eval.Angle},
		{"array", "#let r = (1, 2, 3)", "(1, 2, 3)", eval.Array},
		{"dict", `#let r = (a: 1, "b": true)`, "(a: 1, b: true)", eval.Dict},
		{"none", "#let r = none", "none", eval.None},
		{"auto", "#let r = auto", "auto", eval.Auto},
		{"calc", "#let r = calc.pow(2, 10)", "1024.0", eval.Float},
		{"calc floor", "#let r = calc.floor(2.7)", "2", eval.Int},
		{"len method", "#let r = (1, 2).len()", "2", eval.Int},
		{"str conversion", "#let r = str(12)", `"12"`, eval.Str},
		{"bound names", "#let x = 2\n#let y = x + 1\n#let r = x * y", "6", eval.Int},
		{"bound length", "#let w = 10pt\n#let r = w / 2", "5pt", eval.Length},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := evalLast(t, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"divide by zero", "#let r = 1 / 0", "cannot divide by zero"},
		{"length plus int", "#let r = 1pt + 1", "cannot add length and number"},
		{"length times length", "#let r = 1pt * 1pt", "cannot multiply length with length"},
		{"int by length", "#let r = 1 / 1pt", "cannot divide number by length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src
			_, err := evalLast(t, src)
			var evalErr *eval.Error
			require.True(t, errors.As(err, &evalErr), "got %v", err)
			assert.Equal(t, tt.msg, evalErr.Message)
			assert.Equal(t, len("#let r = "), evalErr.Start)
			assert.Equal(t, len(src), evalErr.End)
		})
	}
}

func TestEvalUnsupported(t *testing.T) {
	for _, src := range []string{
		"#let r = f(1)",
		"#let r = unknown + 1",
		"#let r = 1 in (1, 2)",
		"#let r = (x) => x",
		"#let r = [content]",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := evalLast(t, src)
			assert.ErrorIs(t, err, eval.ErrUnsupported)
		})
	}
}

func TestEvalFailingBindingIsNotReportedAtUse(t *testing.T) {
	_, err := evalLast(t, "#let x = 1 / 0\n#let r = x + 1")
	assert.ErrorIs(t, err, eval.ErrUnsupported)
}
