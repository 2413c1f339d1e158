package analysis

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/smacker/go-tree-sitter/yaml"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/syntax"
)

// maxRawErrors caps the warnings of one raw block.
const maxRawErrors = 5

// rawGrammar maps raw block language tags to tree-sitter grammars.
func rawGrammar(lang string) *sitter.Language {
	switch strings.ToLower(lang) {
	case "go", "golang":
		return golang.GetLanguage()
	case "py", "python":
		return python.GetLanguage()
	case "js", "javascript":
		return javascript.GetLanguage()
	case "ts", "typescript":
		return typescript.GetLanguage()
	case "rs", "rust":
		return rust.GetLanguage()
	case "sh", "bash":
		return bash.GetLanguage()
	case "yaml", "yml":
		return yaml.GetLanguage()
	}
	return nil
}

// RawBlock is the code of a fenced raw block.
type RawBlock struct {
	Lang string
	// Start is the offset of Code in the document.
	Start int
	Code  string
}

// splitRaw takes a raw leaf apart into its language tag and code. Inline
// raw text and blocks without a tag report false.
func splitRaw(text string, offset int) (RawBlock, bool) {
	n := 0
	for n < len(text) && text[n] == '`' {
		n++
	}
	if n < 3 || len(text) < 2*n || text[len(text)-n:] != text[:n] {
		return RawBlock{}, false
	}
	i := n
	for i < len(text)-n && isLangChar(text[i]) {
		i++
	}
	if i == n {
		return RawBlock{}, false
	}
	return RawBlock{Lang: text[n:i], Start: offset + i, Code: text[i : len(text)-n]}, true
}

func isLangChar(c byte) bool {
	return c == '-' || c == '+' || c == '_' || c == '#' ||
		'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

// RawBlocks lists the tagged fenced raw blocks of tree in document order.
func RawBlocks(tree *syntax.Tree) []RawBlock {
	var out []RawBlock
	var walk func(ln *syntax.LinkedNode)
	walk = func(ln *syntax.LinkedNode) {
		if ln.Kind() == syntax.Raw {
			if b, ok := splitRaw(ln.Text(), ln.Offset()); ok {
				out = append(out, b)
			}
			return
		}
		for _, c := range ln.Children() {
			walk(c)
		}
	}
	walk(tree.Linked())
	return out
}

// RawDiagnostics warns about syntax errors in the code of raw blocks whose
// language has a grammar.
func (a *Analyzer) RawDiagnostics(fr *memo.Frame, uri content.URI) ([]Diagnostic, error) {
	return memo.Query(fr, memo.Key{Kind: KindRaw, Doc: uri}, func(fr *memo.Frame) ([]Diagnostic, memo.Fingerprint, error) {
		p, err := a.Parse(fr, uri)
		if err != nil {
			return nil, 0, err
		}
		var diags []Diagnostic
		for _, b := range RawBlocks(p.Tree) {
			lang := rawGrammar(b.Lang)
			if lang == nil {
				continue
			}
			found, err := checkRaw(fr, lang, b)
			if err != nil {
				return nil, 0, err
			}
			diags = append(diags, found...)
		}
		diags = Normalize(diags)
		return diags, hashDiagnostics(diags), nil
	})
}

func checkRaw(fr *memo.Frame, lang *sitter.Language, b RawBlock) ([]Diagnostic, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	code := []byte(b.Code)
	tree, err := parser.ParseCtx(fr.Context(), nil, code)
	if err != nil {
		if ferr := fr.Err(); ferr != nil {
			return nil, ferr
		}
		log.Warningf("raw %s block at %d: %s", b.Lang, b.Start, err)
		return nil, nil
	}
	defer tree.Close()

	var out []Diagnostic
	var walk func(n *sitter.Node, depth int)
	walk = func(n *sitter.Node, depth int) {
		if depth > 1000 || len(out) >= maxRawErrors {
			return
		}
		if n.IsError() || n.IsMissing() {
			d := Diagnostic{
				Start:    b.Start + int(n.StartByte()),
				End:      b.Start + min(int(n.EndByte()), len(code)),
				Severity: SeverityWarning,
				Code:     CodeRawSyntax,
				Message:  fmt.Sprintf("syntax error in %s code", b.Lang),
			}
			if n.IsMissing() {
				d.Message = fmt.Sprintf("missing %s in %s code", n.Type(), b.Lang)
			}
			out = append(out, d)
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), depth+1)
		}
	}
	if root := tree.RootNode(); root.HasError() {
		walk(root, 0)
	}
	return out, nil
}
