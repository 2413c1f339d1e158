package server

import (
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/dispatch"
)

func at(p protocol.TextDocumentPositionParams) dispatch.At {
	return dispatch.At{URI: p.TextDocument.URI, Position: p.Position}
}

func (s *Server) textDocumentHover(
	context *glsp.Context,
	params *protocol.HoverParams,
) (*protocol.Hover, error) {
	res, err := s.request(dispatch.Hover{At: at(params.TextDocumentPositionParams)})
	h, _ := res.(*protocol.Hover)
	return h, err
}

func (s *Server) textDocumentCompletion(
	context *glsp.Context,
	params *protocol.CompletionParams,
) (any, error) {
	res, err := s.request(dispatch.Completion{At: at(params.TextDocumentPositionParams)})
	items, _ := res.([]protocol.CompletionItem)
	if err != nil || items == nil {
		return nil, err
	}
	return items, nil
}

func (s *Server) textDocumentSignatureHelp(
	context *glsp.Context,
	params *protocol.SignatureHelpParams,
) (*protocol.SignatureHelp, error) {
	res, err := s.request(dispatch.SignatureHelp{At: at(params.TextDocumentPositionParams)})
	h, _ := res.(*protocol.SignatureHelp)
	return h, err
}

func (s *Server) textDocumentDefinition(
	context *glsp.Context,
	params *protocol.DefinitionParams,
) (any, error) {
	res, err := s.request(dispatch.Definition{At: at(params.TextDocumentPositionParams)})
	locs, _ := res.([]protocol.Location)
	if err != nil || len(locs) == 0 {
		return nil, err
	}
	return locs, nil
}

func (s *Server) textDocumentReferences(
	context *glsp.Context,
	params *protocol.ReferenceParams,
) ([]protocol.Location, error) {
	res, err := s.request(dispatch.References{
		At:                 at(params.TextDocumentPositionParams),
		IncludeDeclaration: params.Context.IncludeDeclaration,
	})
	locs, _ := res.([]protocol.Location)
	return locs, err
}

func (s *Server) textDocumentRename(
	context *glsp.Context,
	params *protocol.RenameParams,
) (*protocol.WorkspaceEdit, error) {
	res, err := s.request(dispatch.Rename{
		At:      at(params.TextDocumentPositionParams),
		NewName: params.NewName,
	})
	edit, _ := res.(*protocol.WorkspaceEdit)
	return edit, err
}

func (s *Server) textDocumentDocumentSymbol(
	context *glsp.Context,
	params *protocol.DocumentSymbolParams,
) (any, error) {
	res, err := s.request(dispatch.DocumentSymbols{URI: params.TextDocument.URI})
	syms, _ := res.([]protocol.DocumentSymbol)
	if err != nil {
		return nil, err
	}
	if syms == nil {
		syms = []protocol.DocumentSymbol{}
	}
	return syms, nil
}

func (s *Server) workspaceSymbol(
	context *glsp.Context,
	params *protocol.WorkspaceSymbolParams,
) ([]protocol.SymbolInformation, error) {
	res, err := s.request(dispatch.WorkspaceSymbols{Query: params.Query})
	syms, _ := res.([]protocol.SymbolInformation)
	return syms, err
}

// cancelRequest only logs: handlers do not learn the ID of the request they
// serve, so there is nothing to match the ID against. Edits still cancel
// stale requests on the edited document.
func (s *Server) cancelRequest(context *glsp.Context, params *protocol.CancelParams) error {
	log.Debugf("cancel request %v", params.ID.Value)
	return nil
}
