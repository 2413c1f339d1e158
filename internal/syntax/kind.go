package syntax

// Kind tags every node of the syntax tree.
type Kind uint8

const (
	End Kind = iota
	Error

	// Markup
	Markup
	Text
	Space
	Parbreak
	Escape
	Raw
	Label
	Ref
	Heading
	HeadingMarker
	ListItem
	ListMarker
	EnumItem
	EnumMarker
	LineComment
	BlockComment

	// Math
	Equation
	Math
	MathIdent
	MathText

	// Tokens
	Hash
	LeftBrace
	RightBrace
	LeftBracket
	RightBracket
	LeftParen
	RightParen
	Comma
	Semicolon
	Colon
	Dot
	Dots
	Dollar
	Arrow
	Star
	Plus
	Minus
	Slash
	Eq
	EqEq
	ExclEq
	Lt
	LtEq
	Gt
	GtEq
	PlusEq
	HyphEq
	StarEq
	SlashEq

	// Keywords
	Not
	And
	Or
	None
	Auto
	Let
	Set
	Show
	Context
	If
	Else
	For
	In
	While
	Break
	Continue
	Return
	Import
	Include
	As

	// Code
	Code
	Ident
	Bool
	Int
	Float
	Numeric
	Str
	CodeBlock
	ContentBlock
	Parenthesized
	Array
	Dict
	Named
	Keyed
	Unary
	Binary
	FieldAccess
	FuncCall
	Args
	Spread
	Closure
	Params
	LetBinding
	SetRule
	ShowRule
	Contextual
	Conditional
	WhileLoop
	ForLoop
	ModuleImport
	ImportItems
	RenamedImportItem
	ModuleInclude
	LoopBreak
	LoopContinue
	FuncReturn
	Destructuring
)

var kindNames = [...]string{
	End:               "end of input",
	Error:             "syntax error",
	Markup:            "markup",
	Text:              "text",
	Space:             "space",
	Parbreak:          "paragraph break",
	Escape:            "escape sequence",
	Raw:               "raw block",
	Label:             "label",
	Ref:               "reference",
	Heading:           "heading",
	HeadingMarker:     "heading marker",
	ListItem:          "list item",
	ListMarker:        "list marker",
	EnumItem:          "enum item",
	EnumMarker:        "enum marker",
	LineComment:       "line comment",
	BlockComment:      "block comment",
	Equation:          "equation",
	Math:              "math",
	MathIdent:         "math identifier",
	MathText:          "math text",
	Hash:              "hash",
	LeftBrace:         "opening brace",
	RightBrace:        "closing brace",
	LeftBracket:       "opening bracket",
	RightBracket:      "closing bracket",
	LeftParen:         "opening paren",
	RightParen:        "closing paren",
	Comma:             "comma",
	Semicolon:         "semicolon",
	Colon:             "colon",
	Dot:               "dot",
	Dots:              "dots",
	Dollar:            "dollar sign",
	Arrow:             "arrow",
	Star:              "star",
	Plus:              "plus",
	Minus:             "minus",
	Slash:             "slash",
	Eq:                "assignment operator",
	EqEq:              "equality operator",
	ExclEq:            "inequality operator",
	Lt:                "less-than operator",
	LtEq:              "less-than or equal operator",
	Gt:                "greater-than operator",
	GtEq:              "greater-than or equal operator",
	PlusEq:            "add-assign operator",
	HyphEq:            "subtract-assign operator",
	StarEq:            "multiply-assign operator",
	SlashEq:           "divide-assign operator",
	Not:               "keyword `not`",
	And:               "keyword `and`",
	Or:                "keyword `or`",
	None:              "`none`",
	Auto:              "`auto`",
	Let:               "keyword `let`",
	Set:               "keyword `set`",
	Show:              "keyword `show`",
	Context:           "keyword `context`",
	If:                "keyword `if`",
	Else:              "keyword `else`",
	For:               "keyword `for`",
	In:                "keyword `in`",
	While:             "keyword `while`",
	Break:             "keyword `break`",
	Continue:          "keyword `continue`",
	Return:            "keyword `return`",
	Import:            "keyword `import`",
	Include:           "keyword `include`",
	As:                "keyword `as`",
	Code:              "code",
	Ident:             "identifier",
	Bool:              "boolean",
	Int:               "integer",
	Float:             "float",
	Numeric:           "numeric value",
	Str:               "string",
	CodeBlock:         "code block",
	ContentBlock:      "content block",
	Parenthesized:     "group",
	Array:             "array",
	Dict:              "dictionary",
	Named:             "named pair",
	Keyed:             "keyed pair",
	Unary:             "unary expression",
	Binary:            "binary expression",
	FieldAccess:       "field access",
	FuncCall:          "function call",
	Args:              "call arguments",
	Spread:            "spread",
	Closure:           "closure",
	Params:            "closure parameters",
	LetBinding:        "`let` expression",
	SetRule:           "`set` expression",
	ShowRule:          "`show` expression",
	Contextual:        "`context` expression",
	Conditional:       "`if` expression",
	WhileLoop:         "while-loop expression",
	ForLoop:           "for-loop expression",
	ModuleImport:      "`import` expression",
	ImportItems:       "import items",
	RenamedImportItem: "renamed import item",
	ModuleInclude:     "`include` expression",
	LoopBreak:         "`break` expression",
	LoopContinue:      "`continue` expression",
	FuncReturn:        "`return` expression",
	Destructuring:     "destructuring pattern",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// IsTrivia reports kinds that carry no meaning beyond their width in code.
func (k Kind) IsTrivia() bool {
	switch k {
	case Space, Parbreak, LineComment, BlockComment:
		return true
	}
	return false
}

// IsKeyword reports whether k is a reserved word.
func (k Kind) IsKeyword() bool {
	return k >= Not && k <= As
}

// IsBlock reports the delimited kinds that incremental reparsing can isolate.
func (k Kind) IsBlock() bool {
	return k == CodeBlock || k == ContentBlock
}

var keywords = map[string]Kind{
	"not":      Not,
	"and":      And,
	"or":       Or,
	"none":     None,
	"auto":     Auto,
	"let":      Let,
	"set":      Set,
	"show":     Show,
	"context":  Context,
	"if":       If,
	"else":     Else,
	"for":      For,
	"in":       In,
	"while":    While,
	"break":    Break,
	"continue": Continue,
	"return":   Return,
	"import":   Import,
	"include":  Include,
	"as":       As,
	"true":     Bool,
	"false":    Bool,
}
