package dispatch

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/content"
)

// Kind names a request type. The names double as metric labels and as the
// values of the latest_only setting.
type Kind string

const (
	KindHover            Kind = "hover"
	KindCompletion       Kind = "completion"
	KindDefinition       Kind = "definition"
	KindReferences       Kind = "references"
	KindRename           Kind = "rename"
	KindDocumentSymbols  Kind = "documentSymbols"
	KindDiagnostics      Kind = "diagnostics"
	KindSignatureHelp    Kind = "signatureHelp"
	KindWorkspaceSymbols Kind = "workspaceSymbols"
)

// Request is one of the request types of this package.
type Request interface {
	Kind() Kind
	// Document is the document the request targets, or "" for
	// workspace-wide requests.
	Document() content.URI
	isRequest()
}

// At addresses a position in a document.
type At struct {
	URI      content.URI
	Position protocol.Position
}

func (a At) Document() content.URI { return a.URI }

type Hover struct{ At }

type Completion struct{ At }

type Definition struct{ At }

type References struct {
	At
	IncludeDeclaration bool
}

// Rename computes the edits of a rename without applying them.
type Rename struct {
	At
	NewName string
}

type DocumentSymbols struct{ URI content.URI }

type Diagnostics struct{ URI content.URI }

type SignatureHelp struct{ At }

type WorkspaceSymbols struct {
	Query string
	// Limit caps the number of results; zero means the store default.
	Limit int
}

func (Hover) Kind() Kind            { return KindHover }
func (Completion) Kind() Kind       { return KindCompletion }
func (Definition) Kind() Kind       { return KindDefinition }
func (References) Kind() Kind       { return KindReferences }
func (Rename) Kind() Kind           { return KindRename }
func (DocumentSymbols) Kind() Kind  { return KindDocumentSymbols }
func (Diagnostics) Kind() Kind      { return KindDiagnostics }
func (SignatureHelp) Kind() Kind    { return KindSignatureHelp }
func (WorkspaceSymbols) Kind() Kind { return KindWorkspaceSymbols }

func (r DocumentSymbols) Document() content.URI { return r.URI }
func (r Diagnostics) Document() content.URI     { return r.URI }
func (WorkspaceSymbols) Document() content.URI  { return "" }

func (Hover) isRequest()            {}
func (Completion) isRequest()       {}
func (Definition) isRequest()       {}
func (References) isRequest()       {}
func (Rename) isRequest()           {}
func (DocumentSymbols) isRequest()  {}
func (Diagnostics) isRequest()      {}
func (SignatureHelp) isRequest()    {}
func (WorkspaceSymbols) isRequest() {}

type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return "failed"
}

// Response carries the result of a completed request. Result holds the
// protocol value of the request kind:
//
//	Hover            *protocol.Hover
//	Completion       []protocol.CompletionItem
//	Definition       []protocol.Location
//	References       []protocol.Location
//	Rename           *protocol.WorkspaceEdit
//	DocumentSymbols  []protocol.DocumentSymbol
//	Diagnostics      []protocol.Diagnostic
//	SignatureHelp    *protocol.SignatureHelp
//	WorkspaceSymbols []protocol.SymbolInformation
//
// Result is nil when the request was cancelled.
type Response struct {
	ID      string
	Kind    Kind
	Outcome Outcome
	Result  any
}
