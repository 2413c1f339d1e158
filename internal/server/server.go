// Package server speaks the language server protocol over stdio. Document
// sync goes to the content store, requests go through the dispatcher and
// diagnostics are pushed as the background checks finish.
package server

import (
	"context"
	"errors"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"github.com/uros-5/tinymist/internal/config"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/discover"
	"github.com/uros-5/tinymist/internal/dispatch"
	"github.com/uros-5/tinymist/internal/graphview"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/scheduler"
	"github.com/uros-5/tinymist/internal/symstore"
)

var log = commonlog.GetLogger("tinymist.server")

var errNotInitialized = errors.New("server: not initialized")

type Server struct {
	handler *protocol.Handler
	version string

	cfg      config.Config
	root     content.URI
	store    *content.Store
	memo     *memo.Memo
	dispatch *dispatch.Dispatcher
	sched    *scheduler.Scheduler
	symbols  *symstore.Store
	watcher  *discover.Watcher
	cancel   context.CancelFunc

	graphOnce sync.Once
	graph     *graphview.Server
	graphURL  string
	graphErr  error

	mu     sync.Mutex
	owned  map[content.URI]bool
	notify glsp.NotifyFunc
}

// NewServer returns a stdio language server.
func NewServer(version string, debug bool) *server.Server {
	return server.NewServer(newServer(version).handler, "tinymist", debug)
}

func newServer(version string) *Server {
	s := &Server{version: version, owned: map[content.URI]bool{}}
	s.handler = &protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover:          s.textDocumentHover,
		TextDocumentCompletion:     s.textDocumentCompletion,
		TextDocumentSignatureHelp:  s.textDocumentSignatureHelp,
		TextDocumentDefinition:     s.textDocumentDefinition,
		TextDocumentReferences:     s.textDocumentReferences,
		TextDocumentRename:         s.textDocumentRename,
		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
		WorkspaceSymbol:            s.workspaceSymbol,
		WorkspaceExecuteCommand:    s.workspaceExecuteCommand,
		CancelRequest:              s.cancelRequest,
	}
	return s
}

func (s *Server) isOwned(uri content.URI) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned[uri]
}

func (s *Server) setOwned(uri content.URI, owned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owned {
		s.owned[uri] = true
	} else {
		delete(s.owned, uri)
	}
}

func (s *Server) publish(uri content.URI, _ int, diags []protocol.Diagnostic) {
	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify == nil {
		return
	}
	notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

// request runs req and returns its result. Cancelled requests answer with
// no result.
func (s *Server) request(req dispatch.Request) (any, error) {
	if s.dispatch == nil {
		return nil, errNotInitialized
	}
	resp, err := s.dispatch.Handle(context.Background(), req)
	if err != nil {
		return nil, err
	}
	if resp.Outcome != dispatch.Completed {
		log.Debugf("%s %s", resp.Kind, resp.Outcome)
		return nil, nil
	}
	return resp.Result, nil
}
