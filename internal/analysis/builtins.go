package analysis

import (
	"sort"
	"strings"
)

// Builtin is an entry of the standard library visible in every document.
type Builtin struct {
	Name    string
	Kind    SymbolKind
	Params  []BuiltinParam
	Returns TyKind
	Doc     string
	Members map[string]*Builtin
}

type BuiltinParam struct {
	Name     string
	Named    bool
	Variadic bool
	Ty       Ty
}

func (b *Builtin) Ty() Ty {
	switch b.Kind {
	case Function:
		ps := make([]Param, len(b.Params))
		for i, p := range b.Params {
			ps[i] = Param{Name: p.Name, Named: p.Named, Variadic: p.Variadic, Ty: p.Ty}
		}
		return Ty{Kind: TyFunc, Params: ps}
	case Module:
		return tyOf(TyModule)
	}
	return tyOf(b.Returns)
}

// Signature renders the builtin the way hover and signature help show it.
func (b *Builtin) Signature() string {
	if b.Kind != Function {
		return b.Name
	}
	parts := make([]string, len(b.Params))
	for i, p := range b.Params {
		prefix := ""
		if p.Variadic {
			prefix = ".."
		}
		parts[i] = prefix + p.Name + ": " + p.Ty.String()
	}
	return b.Name + "(" + strings.Join(parts, ", ") + ") -> " + b.Returns.String()
}

func positional(name string, kinds ...TyKind) BuiltinParam {
	return BuiltinParam{Name: name, Ty: either(kinds...)}
}
func named(name string, kinds ...TyKind) BuiltinParam {
	return BuiltinParam{Name: name, Named: true, Ty: either(kinds...)}
}
func rest(name string, kinds ...TyKind) BuiltinParam {
	return BuiltinParam{Name: name, Variadic: true, Ty: either(kinds...)}
}

// either is the union of kinds, or the single kind.
func either(kinds ...TyKind) Ty {
	if len(kinds) == 1 {
		return tyOf(kinds[0])
	}
	u := Ty{Kind: TyUnion}
	for _, k := range kinds {
		u.Union = append(u.Union, tyOf(k))
	}
	return u
}

func fn(name string, returns TyKind, doc string, params ...BuiltinParam) *Builtin {
	return &Builtin{Name: name, Kind: Function, Params: params, Returns: returns, Doc: doc}
}

func constant(name string, ty TyKind, doc string) *Builtin {
	return &Builtin{Name: name, Kind: Variable, Returns: ty, Doc: doc}
}

func module(name, doc string, members ...*Builtin) *Builtin {
	m := &Builtin{Name: name, Kind: Module, Returns: TyModule, Doc: doc, Members: map[string]*Builtin{}}
	for _, b := range members {
		m.Members[b.Name] = b
	}
	return m
}

var builtins = func() map[string]*Builtin {
	list := []*Builtin{
		fn("text", TyContent, "Customizes the look and layout of text.",
			named("font", TyStr), named("size", TyLength), named("fill", TyColor),
			named("weight", TyInt), named("lang", TyStr), positional("body", TyContent)),
		fn("heading", TyContent, "A section heading.",
			named("level", TyInt), named("numbering", TyNone, TyStr), named("outlined", TyBool), positional("body", TyContent)),
		fn("emph", TyContent, "Emphasizes content by toggling italics.", positional("body", TyContent)),
		fn("strong", TyContent, "Strongly emphasizes content by increasing the font weight.",
			named("delta", TyInt), positional("body", TyContent)),
		fn("par", TyContent, "A logical subdivison of textual content.",
			named("leading", TyLength), named("justify", TyBool), named("first-line-indent", TyLength), positional("body", TyContent)),
		fn("page", TyContent, "Layouts its child onto one or multiple pages.",
			named("paper", TyStr), named("width", TyAuto, TyLength), named("height", TyAuto, TyLength),
			named("margin", TyAuto, TyLength, TyRatio, TyDict), named("numbering", TyNone, TyStr), positional("body", TyContent)),
		fn("image", TyContent, "A raster or vector graphic.",
			positional("path", TyStr), named("width", TyAuto, TyLength, TyRatio), named("height", TyAuto, TyLength, TyRatio), named("alt", TyNone, TyStr)),
		fn("figure", TyContent, "A figure with an optional caption.",
			positional("body", TyContent), named("caption", TyNone, TyContent), named("kind", TyAuto, TyStr), named("placement", TyNone, TyAuto)),
		fn("table", TyContent, "A table of items.",
			named("columns", TyAuto, TyInt, TyArray), named("rows", TyAuto, TyInt, TyArray), named("gutter", TyAuto, TyLength, TyRatio), named("align", TyAny),
			rest("children", TyContent)),
		fn("grid", TyContent, "Arranges content in a grid.",
			named("columns", TyAuto, TyInt, TyArray), named("rows", TyAuto, TyInt, TyArray), named("gutter", TyAuto, TyLength, TyRatio), rest("children", TyContent)),
		fn("box", TyContent, "An inline-level container that sizes content.",
			named("width", TyAuto, TyLength, TyRatio), named("height", TyAuto, TyLength, TyRatio), named("inset", TyLength, TyDict), named("fill", TyNone, TyColor), positional("body", TyContent)),
		fn("block", TyContent, "A block-level container.",
			named("width", TyAuto, TyLength, TyRatio), named("height", TyAuto, TyLength, TyRatio), named("inset", TyLength, TyDict),
			named("breakable", TyBool), named("fill", TyNone, TyColor), positional("body", TyContent)),
		fn("rect", TyContent, "A rectangle with optional content.",
			named("width", TyAuto, TyLength, TyRatio), named("height", TyAuto, TyLength, TyRatio), named("fill", TyNone, TyColor), named("stroke", TyNone, TyAuto, TyLength, TyColor), positional("body", TyContent)),
		fn("circle", TyContent, "A circle with optional content.",
			named("radius", TyLength), named("fill", TyNone, TyColor), positional("body", TyContent)),
		fn("align", TyContent, "Aligns content horizontally and vertically.", positional("alignment", TyAny), positional("body", TyContent)),
		fn("pad", TyContent, "Adds spacing around content.",
			named("x", TyLength, TyRatio), named("y", TyLength, TyRatio), named("rest", TyLength, TyRatio), positional("body", TyContent)),
		fn("v", TyContent, "Inserts vertical spacing.", positional("amount", TyLength, TyRatio, TyFraction), named("weak", TyBool)),
		fn("h", TyContent, "Inserts horizontal spacing.", positional("amount", TyLength, TyRatio, TyFraction), named("weak", TyBool)),
		fn("link", TyContent, "Links to a URL or a location in the document.", positional("dest", TyStr), positional("body", TyContent)),
		fn("ref", TyContent, "A reference to a label or bibliography.", positional("target", TyLabel), named("supplement", TyNone, TyAuto, TyContent)),
		fn("cite", TyContent, "Cite a work from the bibliography.", positional("key", TyLabel), named("supplement", TyContent)),
		fn("bibliography", TyContent, "A bibliography or reference listing.", positional("path", TyStr), named("title", TyNone, TyAuto, TyContent)),
		fn("outline", TyContent, "A table of contents.", named("title", TyNone, TyAuto, TyContent), named("depth", TyNone, TyInt), named("indent", TyNone, TyAuto, TyBool, TyLength)),
		fn("footnote", TyContent, "A footnote.", positional("body", TyContent), named("numbering", TyStr)),
		fn("lorem", TyStr, "Creates blind text.", positional("words", TyInt)),
		fn("numbering", TyAny, "Applies a numbering to a sequence of numbers.", positional("numbering", TyStr), rest("numbers", TyInt)),
		fn("range", TyArray, "Returns an array of numbers.", positional("start", TyInt), positional("end", TyInt), named("step", TyInt)),
		fn("rgb", TyColor, "Creates an RGB color.", rest("components", TyInt)),
		fn("luma", TyColor, "Creates a grayscale color.", positional("lightness", TyInt)),
		fn("str", TyStr, "Converts a value to a string.", positional("value", TyAny), named("base", TyInt)),
		fn("int", TyInt, "Converts a value to an integer.", positional("value", TyAny)),
		fn("float", TyFloat, "Converts a value to a float.", positional("value", TyAny)),
		fn("type", TyAny, "Returns the type of a value.", positional("value", TyAny)),
		fn("repr", TyStr, "Returns the string representation of a value.", positional("value", TyAny)),
		fn("panic", TyNone, "Fails with an error.", rest("values", TyAny)),
		fn("assert", TyNone, "Ensures that a condition is fulfilled.", positional("condition", TyBool), named("message", TyStr)),
		fn("eval", TyAny, "Evaluates a string as code.", positional("source", TyStr), named("mode", TyStr)),
		fn("read", TyStr, "Reads plain text from a file.", positional("path", TyStr), named("encoding", TyStr)),
		fn("counter", TyAny, "Counts through pages, elements, and more.", positional("key", TyAny)),
		fn("state", TyAny, "Manages stateful parts of the document.", positional("key", TyStr), positional("init", TyAny)),
		fn("measure", TyDict, "Measures the layouted size of content.", positional("content", TyContent)),
		constant("red", TyColor, "The color red."),
		constant("green", TyColor, "The color green."),
		constant("blue", TyColor, "The color blue."),
		constant("black", TyColor, "The color black."),
		constant("white", TyColor, "The color white."),
		constant("gray", TyColor, "The color gray."),
		constant("left", TyAny, "Align at the left edge."),
		constant("right", TyAny, "Align at the right edge."),
		constant("center", TyAny, "Align at the horizontal middle."),
		constant("top", TyAny, "Align at the top edge."),
		constant("bottom", TyAny, "Align at the bottom edge."),
		module("calc", "Module for calculations and processing of numeric values.",
			fn("abs", TyAny, "Calculates the absolute value of a numeric value.", positional("value", TyAny)),
			fn("pow", TyAny, "Raises a value to some exponent.", positional("base", TyAny), positional("exponent", TyInt)),
			fn("sqrt", TyFloat, "Calculates the square root of a number.", positional("value", TyAny)),
			fn("floor", TyInt, "Rounds a number down to the nearest integer.", positional("value", TyAny)),
			fn("ceil", TyInt, "Rounds a number up to the nearest integer.", positional("value", TyAny)),
			fn("round", TyAny, "Rounds a number to the nearest integer.", positional("value", TyAny), named("digits", TyInt)),
			fn("min", TyAny, "Determines the minimum of a sequence of values.", rest("values", TyAny)),
			fn("max", TyAny, "Determines the maximum of a sequence of values.", rest("values", TyAny)),
			constant("pi", TyFloat, "The ratio of a circle's circumference to its diameter."),
			constant("e", TyFloat, "Euler's number."),
			constant("tau", TyFloat, "The ratio of a circle's circumference to its radius."),
		),
		module("sym", "General symbols and codepoints."),
		module("emoji", "Named emoji."),
	}
	out := make(map[string]*Builtin, len(list))
	for _, b := range list {
		out[b.Name] = b
	}
	return out
}()

// LookupBuiltin returns the library entry for name.
func LookupBuiltin(name string) *Builtin { return builtins[name] }

// Builtins lists the library entries sorted by name.
func Builtins() []*Builtin {
	out := make([]*Builtin, 0, len(builtins))
	for _, b := range builtins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SortedMembers lists the members of a builtin module.
func (b *Builtin) SortedMembers() []*Builtin {
	out := make([]*Builtin, 0, len(b.Members))
	for _, m := range b.Members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
