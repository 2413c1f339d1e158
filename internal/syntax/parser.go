package syntax

import "strings"

type stopMode uint8

const (
	stopNone stopMode = iota
	// stopNewline ends an expression at a line break (code blocks, embedded statements).
	stopNewline
	// stopSpace ends an expression at any trivia (embedded atomic expressions).
	stopSpace
)

type token struct {
	kind       Kind
	start, end int
	err        string
	eof        bool
}

type parser struct {
	src   string
	lx    lexer
	cur   token
	nodes []*Node

	// lastEnd and lastIndex mark the end of the last eaten token, before
	// any trivia that was skipped after it.
	lastEnd   int
	lastIndex int

	trivia  bool
	newline bool

	stop      stopMode
	codeDepth int

	// hitEOF records that an unterminated construct ran into the limit, so
	// the result depends on text beyond the parsed region.
	hitEOF bool
}

// Parse parses a whole document. It never fails: problems become error
// nodes inside the tree.
func Parse(text string) *Tree {
	p := newParser(text, 0, len(text), modeMarkup)
	p.markup(false)
	return NewTree(NewInner(Markup, p.nodes), text)
}

func newParser(src string, pos, limit int, m mode) *parser {
	p := &parser{
		src:     src,
		lx:      lexer{src: src, pos: pos, limit: limit, mode: m},
		lastEnd: pos,
	}
	p.lex()
	p.skip()
	return p
}

func (p *parser) lex() {
	start := p.lx.pos
	k := p.lx.next()
	p.cur = token{kind: k, start: start, end: p.lx.pos, err: p.lx.err, eof: p.lx.eof}
}

func (p *parser) text() string { return p.src[p.cur.start:p.cur.end] }

func (p *parser) leaf() *Node {
	if p.cur.kind == Error {
		return NewError(p.cur.err, p.text())
	}
	return NewLeaf(p.cur.kind, p.text())
}

func (p *parser) eat() {
	if p.cur.eof {
		p.hitEOF = true
	}
	p.nodes = append(p.nodes, p.leaf())
	p.lastEnd = p.cur.end
	p.lastIndex = len(p.nodes)
	p.lex()
	p.trivia, p.newline = false, false
	p.skip()
}

// skip pushes trivia in code mode. Markup and math treat spaces as items.
func (p *parser) skip() {
	if p.lx.mode != modeCode {
		return
	}
	for p.cur.kind.IsTrivia() {
		if p.cur.eof {
			p.hitEOF = true
		}
		p.trivia = true
		if strings.IndexByte(p.text(), '\n') >= 0 {
			p.newline = true
		}
		p.nodes = append(p.nodes, p.leaf())
		p.lex()
	}
}

// switchMode drops skipped trivia and relexes from the last eaten token.
func (p *parser) switchMode(m mode) {
	if len(p.nodes) > p.lastIndex {
		p.nodes = p.nodes[:p.lastIndex]
	}
	p.lx.mode = m
	p.lx.pos = p.lastEnd
	p.lex()
	p.trivia, p.newline = false, false
	p.skip()
}

// eatIn eats the current token and continues lexing in mode m.
func (p *parser) eatIn(m mode) {
	if p.cur.eof {
		p.hitEOF = true
	}
	p.nodes = append(p.nodes, p.leaf())
	p.lastEnd = p.cur.end
	p.lastIndex = len(p.nodes)
	p.switchMode(m)
}

func (p *parser) end() bool {
	if p.cur.kind == End {
		return true
	}
	switch p.stop {
	case stopNewline:
		return p.newline
	case stopSpace:
		return p.trivia
	}
	return false
}

func (p *parser) at(k Kind) bool { return p.cur.kind == k && !p.end() }

func (p *parser) expect(k Kind) bool {
	if p.at(k) {
		p.eat()
		return true
	}
	p.errorAt("expected " + k.String())
	return false
}

// wrap replaces nodes[from:] up to the last eaten token with one inner
// node. Trailing trivia stays outside.
func (p *parser) wrap(from int, kind Kind) {
	if p.lastIndex < from {
		p.commit(from)
	}
	to := p.lastIndex
	children := append([]*Node(nil), p.nodes[from:to]...)
	trailing := append([]*Node(nil), p.nodes[to:]...)
	p.nodes = append(p.nodes[:from], NewInner(kind, children))
	p.nodes = append(p.nodes, trailing...)
	p.lastIndex = from + 1
}

// commit treats the trivia in nodes[lastIndex:upto] as eaten.
func (p *parser) commit(upto int) {
	for _, n := range p.nodes[p.lastIndex:upto] {
		p.lastEnd += n.width
	}
	p.lastIndex = upto
}

// errorAt appends a zero-width error after any skipped trivia.
func (p *parser) errorAt(msg string) {
	p.commit(len(p.nodes))
	p.nodes = append(p.nodes, NewError(msg, ""))
	p.lastIndex = len(p.nodes)
}

// unexpected consumes the current token as an error.
func (p *parser) unexpected() {
	if p.cur.kind != Error {
		p.cur.err = "unexpected " + p.cur.kind.String()
		p.cur.kind = Error
	}
	p.eat()
}

func (p *parser) unclosed() {
	p.errorAt("unclosed delimiter")
	if p.cur.kind == End {
		p.hitEOF = true
	}
}

func isCloser(k Kind) bool {
	switch k {
	case End, RightBrace, RightBracket, RightParen:
		return true
	}
	return false
}

// ---------------------------------------------------------------- markup

func (p *parser) markup(nested bool) {
	for p.cur.kind != End {
		if nested && p.cur.kind == RightBracket {
			break
		}
		p.markupItem(nested)
	}
}

func (p *parser) markupItem(nested bool) {
	switch p.cur.kind {
	case Hash:
		p.embeddedCode(modeMarkup)
	case Dollar:
		p.equation()
	case HeadingMarker:
		p.lineItem(Heading, nested)
	case ListMarker:
		p.lineItem(ListItem, nested)
	case EnumMarker:
		p.lineItem(EnumItem, nested)
	case RightBracket:
		p.cur.kind = Error
		p.cur.err = "unexpected closing bracket"
		p.eat()
	default:
		p.eat()
	}
}

// lineItem parses a heading or list item whose body runs to the end of the line.
func (p *parser) lineItem(kind Kind, nested bool) {
	m := len(p.nodes)
	p.eat()
	for !p.atLineEnd(nested) {
		p.markupItem(nested)
	}
	p.wrap(m, kind)
}

func (p *parser) atLineEnd(nested bool) bool {
	switch p.cur.kind {
	case End, Parbreak:
		return true
	case RightBracket:
		return nested
	case Space:
		return strings.IndexByte(p.text(), '\n') >= 0
	}
	return false
}

func isStatement(k Kind) bool {
	switch k {
	case Let, Set, Show, Import, Include, If, For, While, Context, Return, Break, Continue:
		return true
	}
	return false
}

// embeddedCode parses `#expr` and resumes lexing in mode back.
func (p *parser) embeddedCode(back mode) {
	outerStop, outerDepth := p.stop, p.codeDepth
	p.eatIn(modeCode)
	if p.trivia || p.cur.kind == End {
		p.errorAt("expected expression")
	} else {
		stmt := isStatement(p.cur.kind)
		if stmt {
			p.stop = stopNewline
		} else {
			p.stop = stopSpace
		}
		p.codeDepth = 0
		p.expr(!stmt, 0)
		if p.cur.kind == Semicolon && !p.trivia {
			p.eat()
		}
	}
	p.stop, p.codeDepth = outerStop, outerDepth
	p.switchMode(back)
}

func (p *parser) equation() {
	m := len(p.nodes)
	back := p.lx.mode
	p.eatIn(modeMath)
	mm := len(p.nodes)
	for p.cur.kind != Dollar && p.cur.kind != End {
		if p.cur.kind == Hash {
			p.embeddedCode(modeMath)
			continue
		}
		p.eat()
	}
	p.wrap(mm, Math)
	if p.cur.kind == Dollar {
		p.eatIn(back)
	} else {
		p.unclosed()
		p.switchMode(back)
	}
	p.wrap(m, Equation)
}

// ---------------------------------------------------------------- code

func (p *parser) codeBlock() {
	m := len(p.nodes)
	outerStop := p.stop
	p.stop = stopNewline
	p.codeDepth++
	p.eat()
	cm := len(p.nodes)
	p.code(RightBrace)
	p.wrap(cm, Code)
	p.codeDepth--
	p.stop = outerStop
	if p.cur.kind == RightBrace {
		p.eat()
	} else {
		p.unclosed()
	}
	p.wrap(m, CodeBlock)
}

func (p *parser) code(closer Kind) {
	for p.cur.kind != End && p.cur.kind != closer {
		switch p.cur.kind {
		case Semicolon:
			p.eat()
			continue
		case RightParen, RightBracket, RightBrace:
			p.unexpected()
			continue
		}
		p.trivia, p.newline = false, false
		start := p.cur.start
		p.expr(false, 0)
		if p.cur.start == start && p.cur.kind != End {
			p.unexpected()
			continue
		}
		if p.cur.kind != End && p.cur.kind != closer && p.cur.kind != Semicolon && !p.newline {
			p.errorAt("expected semicolon or line break")
		}
	}
}

func (p *parser) contentBlock() {
	m := len(p.nodes)
	outerStop, outerDepth := p.stop, p.codeDepth
	p.eatIn(modeMarkup)
	p.codeDepth = 0
	mm := len(p.nodes)
	p.markup(true)
	p.wrap(mm, Markup)
	p.stop, p.codeDepth = outerStop, outerDepth
	if p.cur.kind == RightBracket {
		p.eatIn(modeCode)
	} else {
		p.unclosed()
		p.switchMode(modeCode)
	}
	p.wrap(m, ContentBlock)
}

func prefixPrec(k Kind) int {
	switch k {
	case Minus, Plus:
		return 7
	case Not:
		return 4
	}
	return 0
}

func binaryPrec(k Kind) (prec int, right bool) {
	switch k {
	case Eq, PlusEq, HyphEq, StarEq, SlashEq:
		return 1, true
	case Or:
		return 2, false
	case And:
		return 3, false
	case EqEq, ExclEq, Lt, LtEq, Gt, GtEq, In, Not:
		return 4, false
	case Plus, Minus:
		return 5, false
	case Star, Slash:
		return 6, false
	}
	return 0, false
}

// expr parses a code expression with precedence climbing. Atomic
// expressions (embedded in markup) allow only postfix calls and field
// accesses that are directly attached.
func (p *parser) expr(atomic bool, minPrec int) {
	m := len(p.nodes)
	if prec := prefixPrec(p.cur.kind); !atomic && prec > 0 && !p.end() {
		p.eat()
		p.expr(false, prec)
		p.wrap(m, Unary)
	} else {
		p.primary(atomic)
	}

	for {
		if !p.trivia && (p.cur.kind == LeftParen || p.cur.kind == LeftBracket) {
			p.args()
			p.wrap(m, FuncCall)
			continue
		}
		if !p.trivia && p.cur.kind == Dot {
			if atomic && p.peek(false) != Ident {
				break
			}
			p.eat()
			if p.cur.kind == Ident && !p.trivia {
				p.eat()
			} else {
				p.errorAt("expected identifier")
			}
			p.wrap(m, FieldAccess)
			continue
		}
		if atomic || p.end() {
			break
		}

		op := p.cur.kind
		prec, right := binaryPrec(op)
		if prec == 0 || prec < minPrec {
			break
		}
		if op == Not {
			if p.peek(true) != In {
				break
			}
			p.eat()
		}
		p.eat()
		next := prec + 1
		if right {
			next = prec
		}
		p.expr(false, next)
		p.wrap(m, Binary)
	}
}

// peek lexes the token after the current one without consuming anything.
func (p *parser) peek(skipTrivia bool) Kind {
	saved := p.lx
	defer func() { p.lx = saved }()
	p.lx.pos = p.cur.end
	k := p.lx.next()
	for skipTrivia && k.IsTrivia() {
		k = p.lx.next()
	}
	return k
}

func (p *parser) primary(atomic bool) {
	m := len(p.nodes)
	switch p.cur.kind {
	case Ident:
		p.eat()
		if !atomic && p.at(Arrow) {
			p.wrap(m, Params)
			p.eat()
			p.expr(false, 0)
			p.wrap(m, Closure)
		}
	case LeftBrace:
		p.codeBlock()
	case LeftBracket:
		p.contentBlock()
	case LeftParen:
		kind := p.collection()
		if !atomic && p.at(Arrow) {
			p.wrap(m, Params)
			p.eat()
			p.expr(false, 0)
			p.wrap(m, Closure)
			return
		}
		p.wrap(m, kind)
	case Dollar:
		p.equation()
	case Let:
		p.letBinding()
	case Set:
		p.setRule()
	case Show:
		p.showRule()
	case Context:
		p.eat()
		p.expr(false, 0)
		p.wrap(m, Contextual)
	case If:
		p.conditional()
	case While:
		p.eat()
		p.expr(false, 0)
		p.block()
		p.wrap(m, WhileLoop)
	case For:
		p.forLoop()
	case Import:
		p.moduleImport()
	case Include:
		p.eat()
		p.expr(false, 0)
		p.wrap(m, ModuleInclude)
	case Break:
		p.eat()
		p.wrap(m, LoopBreak)
	case Continue:
		p.eat()
		p.wrap(m, LoopContinue)
	case Return:
		p.eat()
		if !p.end() && !isCloser(p.cur.kind) && p.cur.kind != Semicolon && p.cur.kind != Comma {
			p.expr(false, 0)
		}
		p.wrap(m, FuncReturn)
	case Int, Float, Numeric, Str, Bool, None, Auto, Label, Error:
		p.eat()
	default:
		if p.end() || isCloser(p.cur.kind) || p.cur.kind == Comma || p.cur.kind == Semicolon || p.cur.kind == Colon {
			p.errorAt("expected expression")
			return
		}
		p.unexpected()
	}
}

func (p *parser) block() {
	switch {
	case p.at(LeftBrace):
		p.codeBlock()
	case p.at(LeftBracket):
		p.contentBlock()
	default:
		p.errorAt("expected block")
	}
}

// collection parses a parenthesized list and classifies it. The caller wraps.
func (p *parser) collection() Kind {
	outerStop := p.stop
	p.stop = stopNone
	p.eat()

	count, pairs := 0, 0
	spread, trailingComma := false, false
	if p.cur.kind == Colon {
		p.eat()
		pairs++
	}
	for p.cur.kind != RightParen && !isCloser(p.cur.kind) {
		start := p.cur.start
		switch p.item() {
		case Named, Keyed:
			pairs++
		case Spread:
			spread = true
		}
		count++
		if p.cur.start == start {
			p.unexpected()
			continue
		}
		trailingComma = false
		if p.cur.kind == Comma {
			p.eat()
			trailingComma = true
			continue
		}
		if p.cur.kind != RightParen && !isCloser(p.cur.kind) {
			p.errorAt("expected comma")
		}
	}

	p.stop = outerStop
	if p.cur.kind == RightParen {
		p.eat()
	} else {
		p.unclosed()
	}

	switch {
	case pairs > 0:
		return Dict
	case count == 1 && !trailingComma && !spread:
		return Parenthesized
	}
	return Array
}

func (p *parser) item() Kind {
	m := len(p.nodes)
	if p.at(Dots) {
		p.eat()
		if p.cur.kind != Comma && !isCloser(p.cur.kind) {
			p.expr(false, 0)
		}
		p.wrap(m, Spread)
		return Spread
	}
	p.expr(false, 0)
	if !p.at(Colon) {
		return 0
	}
	kind := Named
	if m < len(p.nodes) {
		switch p.nodes[m].kind {
		case Ident:
		case Str:
			kind = Keyed
		default:
			p.errorAt("expected identifier or string")
		}
	}
	p.eat()
	p.expr(false, 0)
	p.wrap(m, kind)
	return kind
}

func (p *parser) args() {
	m := len(p.nodes)
	if p.cur.kind == LeftParen {
		p.collection()
	}
	for p.cur.kind == LeftBracket && !p.trivia {
		p.contentBlock()
	}
	p.wrap(m, Args)
}

func (p *parser) letBinding() {
	m := len(p.nodes)
	p.eat()
	closure := false
	switch {
	case p.at(Ident):
		cm := len(p.nodes)
		p.eat()
		if p.cur.kind == LeftParen && !p.trivia {
			pm := len(p.nodes)
			p.collection()
			p.wrap(pm, Params)
			if p.expect(Eq) {
				p.expr(false, 0)
			}
			p.wrap(cm, Closure)
			closure = true
		}
	case p.at(LeftParen):
		pm := len(p.nodes)
		p.collection()
		p.wrap(pm, Destructuring)
	default:
		p.errorAt("expected pattern")
	}
	if !closure && p.at(Eq) {
		p.eat()
		p.expr(false, 0)
	}
	p.wrap(m, LetBinding)
}

func (p *parser) setRule() {
	m := len(p.nodes)
	p.eat()
	p.expr(true, 0)
	if p.at(If) {
		p.eat()
		p.expr(false, 0)
	}
	p.wrap(m, SetRule)
}

func (p *parser) showRule() {
	m := len(p.nodes)
	p.eat()
	if !p.at(Colon) {
		p.expr(false, 0)
	}
	if p.expect(Colon) {
		p.expr(false, 0)
	}
	p.wrap(m, ShowRule)
}

// atElse accepts `else` on the next line only inside code blocks.
func (p *parser) atElse() bool {
	if p.cur.kind != Else {
		return false
	}
	return !p.end() || (p.codeDepth > 0 && p.stop == stopNewline)
}

func (p *parser) conditional() {
	m := len(p.nodes)
	p.eat()
	p.expr(false, 0)
	p.block()
	if p.atElse() {
		p.eat()
		if p.at(If) {
			p.conditional()
		} else {
			p.block()
		}
	}
	p.wrap(m, Conditional)
}

func (p *parser) forLoop() {
	m := len(p.nodes)
	p.eat()
	switch {
	case p.at(Ident):
		p.eat()
	case p.at(LeftParen):
		pm := len(p.nodes)
		p.collection()
		p.wrap(pm, Destructuring)
	default:
		p.errorAt("expected pattern")
	}
	if p.expect(In) {
		p.expr(false, 0)
	}
	p.block()
	p.wrap(m, ForLoop)
}

func (p *parser) moduleImport() {
	m := len(p.nodes)
	p.eat()
	p.expr(false, 0)
	if p.at(As) {
		p.eat()
		if p.at(Ident) {
			p.eat()
		} else {
			p.errorAt("expected identifier")
		}
	}
	if p.at(Colon) {
		p.eat()
		if p.at(Star) {
			p.eat()
		} else {
			p.importItems()
		}
	}
	p.wrap(m, ModuleImport)
}

func (p *parser) importItems() {
	m := len(p.nodes)
	outerStop := p.stop
	paren := p.at(LeftParen)
	if paren {
		p.stop = stopNone
		p.eat()
	}
	for {
		if !p.at(Ident) {
			if !paren || p.cur.kind != RightParen {
				p.errorAt("expected identifier")
			}
			break
		}
		im := len(p.nodes)
		p.eat()
		if p.at(As) {
			p.eat()
			if p.at(Ident) {
				p.eat()
			} else {
				p.errorAt("expected identifier")
			}
			p.wrap(im, RenamedImportItem)
		}
		if !p.at(Comma) {
			break
		}
		p.eat()
		if paren && p.cur.kind == RightParen {
			break
		}
		if !paren && p.end() {
			break
		}
	}
	if paren {
		p.stop = outerStop
		if p.cur.kind == RightParen {
			p.eat()
		} else {
			p.unclosed()
		}
	}
	p.wrap(m, ImportItems)
}
