package server

import (
	"fmt"
	"os"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/discover"
)

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	if s.store == nil {
		return errNotInitialized
	}
	uri := params.TextDocument.URI
	s.setOwned(uri, true)
	_, err := s.store.Open(uri, params.TextDocument.Text)
	return err
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	if s.store == nil {
		return errNotInitialized
	}
	uri := params.TextDocument.URI
	for _, change := range params.ContentChanges {
		var c content.Change
		switch change := change.(type) {
		case protocol.TextDocumentContentChangeEvent:
			c = content.Change{Range: change.Range, Text: change.Text}
		case protocol.TextDocumentContentChangeEventWhole:
			c = content.Change{Text: change.Text}
		default:
			return fmt.Errorf("unexpected content change %T", change)
		}
		if _, err := s.store.Edit(uri, c); err != nil {
			return err
		}
	}
	return nil
}

// textDocumentDidClose hands the document back to the disk: a file that
// still exists stays in the workspace with its saved text.
func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	if s.store == nil {
		return errNotInitialized
	}
	uri := params.TextDocument.URI
	s.setOwned(uri, false)

	if path, ok := discover.PathFromURI(uri); ok && discover.HasExtension(path, s.cfg.FileExtensions) {
		if data, err := os.ReadFile(path); err == nil {
			v, open := s.store.Snapshot().Get(uri)
			if open && v.Text == string(data) {
				return nil
			}
			_, err := s.store.Open(uri, string(data))
			return err
		}
	}
	return s.store.Close(uri)
}
