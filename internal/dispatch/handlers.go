package dispatch

import (
	"fmt"
	"sort"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/symstore"
	"github.com/uros-5/tinymist/internal/syntax"
	"github.com/uros-5/tinymist/internal/workspace"
)

func document(snap *content.Snapshot, uri content.URI) (*content.Version, error) {
	v, ok := snap.Get(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	return v, nil
}

func offset(snap *content.Snapshot, at At) (*content.Version, int, error) {
	v, err := document(snap, at.URI)
	if err != nil {
		return nil, 0, err
	}
	off, ok := v.Lines().Offset(at.Position)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %d:%d in %s", ErrInvalidPosition, at.Position.Line, at.Position.Character, at.URI)
	}
	return v, off, nil
}

func (d *Dispatcher) hover(fr *memo.Frame, snap *content.Snapshot, r Hover) (*protocol.Hover, error) {
	v, off, err := offset(snap, r.At)
	if err != nil {
		return nil, err
	}
	h, err := d.a.Hover(fr, r.URI, off)
	if err != nil || h == nil {
		return nil, err
	}
	rng := v.Lines().Range(h.Start, h.End)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: h.Contents},
		Range:    &rng,
	}, nil
}

func (d *Dispatcher) completion(fr *memo.Frame, snap *content.Snapshot, r Completion) ([]protocol.CompletionItem, error) {
	_, off, err := offset(snap, r.At)
	if err != nil {
		return nil, err
	}
	items, err := d.a.Complete(fr, r.URI, off)
	if err != nil {
		return nil, err
	}
	return completionItems(items), nil
}

func (d *Dispatcher) protocolLocation(fr *memo.Frame, uri content.URI, start, end int) (protocol.Location, bool) {
	v := analysis.Source(fr, uri)
	if v == nil {
		return protocol.Location{}, false
	}
	return protocol.Location{URI: uri, Range: v.Lines().Range(start, end)}, true
}

func (d *Dispatcher) definition(fr *memo.Frame, snap *content.Snapshot, r Definition) ([]protocol.Location, error) {
	_, off, err := offset(snap, r.At)
	if err != nil {
		return nil, err
	}
	def, err := d.ix.DefinitionOf(fr, r.URI, off)
	if err != nil || def == nil {
		return nil, err
	}
	loc, ok := d.protocolLocation(fr, def.URI, def.Start, def.End)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{loc}, nil
}

func (d *Dispatcher) referenceLocations(fr *memo.Frame, snap *content.Snapshot, at At, includeDecl bool) (*analysis.Symbol, []workspace.Location, error) {
	_, off, err := offset(snap, at)
	if err != nil {
		return nil, nil, err
	}
	def, err := d.ix.DefinitionOf(fr, at.URI, off)
	if err != nil || def == nil {
		return nil, nil, err
	}
	locs, err := d.ix.ReferencesOf(fr, def, includeDecl)
	return def, locs, err
}

func (d *Dispatcher) references(fr *memo.Frame, snap *content.Snapshot, r References) ([]protocol.Location, error) {
	_, locs, err := d.referenceLocations(fr, snap, r.At, r.IncludeDeclaration)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Location, 0, len(locs))
	for _, l := range locs {
		if loc, ok := d.protocolLocation(fr, l.URI, l.Start, l.End); ok {
			out = append(out, loc)
		}
	}
	return out, nil
}

func isLabelName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}

// rename edits the name inside every reference and the declaration.
// Modules and library names cannot be renamed and give no edit.
func (d *Dispatcher) rename(fr *memo.Frame, snap *content.Snapshot, r Rename) (*protocol.WorkspaceEdit, error) {
	def, locs, err := d.referenceLocations(fr, snap, r.At, true)
	if err != nil || def == nil || def.ID < 0 {
		return nil, err
	}
	valid := syntax.IsIdent(r.NewName)
	if def.Kind == analysis.LabelSymbol {
		valid = isLabelName(r.NewName)
	}
	if !valid {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, r.NewName)
	}

	edit := &protocol.WorkspaceEdit{Changes: map[protocol.DocumentUri][]protocol.TextEdit{}}
	for _, l := range locs {
		v := analysis.Source(fr, l.URI)
		if v == nil || l.End > len(v.Text) {
			continue
		}
		i := strings.Index(v.Text[l.Start:l.End], def.Name)
		if i < 0 {
			continue
		}
		start := l.Start + i
		edit.Changes[l.URI] = append(edit.Changes[l.URI], protocol.TextEdit{
			Range:   v.Lines().Range(start, start+len(def.Name)),
			NewText: r.NewName,
		})
	}
	return edit, nil
}

func (d *Dispatcher) documentSymbols(fr *memo.Frame, snap *content.Snapshot, r DocumentSymbols) ([]protocol.DocumentSymbol, error) {
	v, err := document(snap, r.URI)
	if err != nil {
		return nil, err
	}
	items, err := d.a.Outline(fr, r.URI)
	if err != nil {
		return nil, err
	}
	return documentSymbols(v.Lines(), items), nil
}

func (d *Dispatcher) diagnostics(fr *memo.Frame, snap *content.Snapshot, r Diagnostics) ([]protocol.Diagnostic, error) {
	v, err := document(snap, r.URI)
	if err != nil {
		return nil, err
	}
	diags, err := d.ix.Diagnostics(fr, r.URI)
	if err != nil {
		return nil, err
	}
	return ProtocolDiagnostics(v.Lines(), diags), nil
}

func (d *Dispatcher) signatureHelp(fr *memo.Frame, snap *content.Snapshot, r SignatureHelp) (*protocol.SignatureHelp, error) {
	_, off, err := offset(snap, r.At)
	if err != nil {
		return nil, err
	}
	h, err := d.a.SignatureHelp(fr, r.URI, off)
	if err != nil || h == nil {
		return nil, err
	}
	return signatureHelp(h), nil
}

// topLevel lists the file-level bindings and labels of m.
func topLevel(m *analysis.Model) []symstore.Symbol {
	var out []symstore.Symbol
	for _, id := range m.Scopes[0].Symbols {
		s := &m.Symbols[id]
		switch s.Kind {
		case analysis.Variable, analysis.Function, analysis.LabelSymbol:
			out = append(out, symstore.Symbol{URI: m.URI, Name: s.Name, Kind: int(s.Kind), Start: s.Start, End: s.End})
		}
	}
	return out
}

func (d *Dispatcher) workspaceSymbols(fr *memo.Frame, snap *content.Snapshot, r WorkspaceSymbols) ([]protocol.SymbolInformation, error) {
	var all []symstore.Symbol
	for _, doc := range analysis.Documents(fr) {
		if err := fr.Err(); err != nil {
			return nil, err
		}
		m, err := d.a.Scopes(fr, doc)
		if err != nil {
			return nil, err
		}
		if d.symbols == nil {
			all = append(all, topLevel(m)...)
			continue
		}
		if _, err := d.symbols.Refresh(doc, uint64(m.Fingerprint()), func() []symstore.Symbol { return topLevel(m) }); err != nil {
			return nil, err
		}
	}

	var found []symstore.Symbol
	if d.symbols != nil {
		if err := d.symbols.Retain(snap.Has); err != nil {
			return nil, err
		}
		var err error
		if found, err = d.symbols.Search(r.Query, r.Limit); err != nil {
			return nil, err
		}
	} else {
		found = search(all, r.Query, r.Limit)
	}

	out := make([]protocol.SymbolInformation, 0, len(found))
	for _, s := range found {
		if loc, ok := d.protocolLocation(fr, s.URI, s.Start, s.End); ok {
			out = append(out, protocol.SymbolInformation{Name: s.Name, Kind: symbolKind(analysis.SymbolKind(s.Kind)), Location: loc})
		}
	}
	return out, nil
}

// search filters symbols in memory with the ordering of symstore.Search.
func search(all []symstore.Symbol, query string, limit int) []symstore.Symbol {
	if limit <= 0 {
		limit = 100
	}
	q := strings.ToLower(query)
	var out []symstore.Symbol
	for _, s := range all {
		if strings.Contains(strings.ToLower(s.Name), q) {
			out = append(out, s)
		}
	}
	prefix := func(s symstore.Symbol) bool { return strings.HasPrefix(strings.ToLower(s.Name), q) }
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := prefix(a), prefix(b); pa != pb {
			return pa
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.URI != b.URI {
			return a.URI < b.URI
		}
		return a.Start < b.Start
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
