package dispatch

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/content"
)

const diagnosticSource = "tinymist"

// ProtocolDiagnostics converts diagnostics of the document with line index
// li.
func ProtocolDiagnostics(li *content.LineIndex, diags []analysis.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		severity := protocol.DiagnosticSeverityError
		if d.Severity == analysis.SeverityWarning {
			severity = protocol.DiagnosticSeverityWarning
		}
		source := diagnosticSource
		out = append(out, protocol.Diagnostic{
			Range:    li.Range(d.Start, d.End),
			Severity: &severity,
			Code:     &protocol.IntegerOrString{Value: d.Code},
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

func completionItemKind(k analysis.CompletionKind) protocol.CompletionItemKind {
	switch k {
	case analysis.CompleteFunction:
		return protocol.CompletionItemKindFunction
	case analysis.CompleteModule:
		return protocol.CompletionItemKindModule
	case analysis.CompleteParam:
		return protocol.CompletionItemKindProperty
	case analysis.CompleteLabel:
		return protocol.CompletionItemKindReference
	case analysis.CompleteFile:
		return protocol.CompletionItemKindFile
	case analysis.CompleteConstant:
		return protocol.CompletionItemKindConstant
	}
	return protocol.CompletionItemKindVariable
}

func completionItems(items []analysis.Completion) []protocol.CompletionItem {
	out := make([]protocol.CompletionItem, 0, len(items))
	for _, c := range items {
		kind := completionItemKind(c.Kind)
		item := protocol.CompletionItem{Label: c.Label, Kind: &kind}
		if c.Detail != "" {
			detail := c.Detail
			item.Detail = &detail
		}
		if c.Insert != "" {
			insert := c.Insert
			item.InsertText = &insert
		}
		out = append(out, item)
	}
	return out
}

func symbolKind(k analysis.SymbolKind) protocol.SymbolKind {
	switch k {
	case analysis.Function:
		return protocol.SymbolKindFunction
	case analysis.Module:
		return protocol.SymbolKindModule
	case analysis.LabelSymbol:
		return protocol.SymbolKindKey
	}
	return protocol.SymbolKindVariable
}

func outlineKind(k analysis.OutlineKind) protocol.SymbolKind {
	switch k {
	case analysis.OutlineHeading:
		return protocol.SymbolKindNamespace
	case analysis.OutlineFunction:
		return protocol.SymbolKindFunction
	case analysis.OutlineModule:
		return protocol.SymbolKindModule
	case analysis.OutlineLabel:
		return protocol.SymbolKindKey
	}
	return protocol.SymbolKindVariable
}

func documentSymbols(li *content.LineIndex, items []*analysis.OutlineItem) []protocol.DocumentSymbol {
	out := make([]protocol.DocumentSymbol, 0, len(items))
	for _, it := range items {
		out = append(out, protocol.DocumentSymbol{
			Name:           it.Name,
			Kind:           outlineKind(it.Kind),
			Range:          li.Range(it.Start, it.End),
			SelectionRange: li.Range(it.NameStart, it.NameEnd),
			Children:       documentSymbols(li, it.Children),
		})
	}
	return out
}

func signatureHelp(h *analysis.SignatureHelp) *protocol.SignatureHelp {
	info := protocol.SignatureInformation{Label: h.Label}
	if h.Doc != "" {
		info.Documentation = protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: h.Doc}
	}
	for _, p := range h.Params {
		info.Parameters = append(info.Parameters, protocol.ParameterInformation{Label: p})
	}
	var active protocol.UInteger
	out := &protocol.SignatureHelp{Signatures: []protocol.SignatureInformation{info}, ActiveSignature: &active}
	if h.Active >= 0 {
		param := protocol.UInteger(h.Active)
		out.ActiveParameter = &param
	}
	return out
}
