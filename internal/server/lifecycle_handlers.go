package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/config"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/discover"
	"github.com/uros-5/tinymist/internal/dispatch"
	"github.com/uros-5/tinymist/internal/eval"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/scheduler"
	"github.com/uros-5/tinymist/internal/symstore"
	"github.com/uros-5/tinymist/internal/workspace"
)

const queueSize = 256

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	cfg, err := config.Load(params.InitializationOptions)
	if err != nil {
		return nil, err
	}
	log.Infof("config: %+v", cfg)

	root, err := rootURI(params, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.start(cfg, root, context.Notify); err != nil {
		return nil, err
	}

	capabilities := s.handler.CreateServerCapabilities()
	syncKind := protocol.TextDocumentSyncKindIncremental
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"#", ".", "@", "\"", "/"},
	}
	capabilities.SignatureHelpProvider = &protocol.SignatureHelpOptions{
		TriggerCharacters: []string{"(", ","},
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: commands,
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    "tinymist",
			Version: &s.version,
		},
	}, nil
}

// rootURI picks the workspace root: the client's root URI, its root path,
// or the configured root relative to the working directory.
func rootURI(params *protocol.InitializeParams, cfg config.Config) (content.URI, error) {
	if params.RootURI != nil && *params.RootURI != "" {
		return *params.RootURI, nil
	}
	path := cfg.Root
	if params.RootPath != nil && *params.RootPath != "" {
		path = *params.RootPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %q: %w", path, err)
	}
	return discover.URIFromPath(abs), nil
}

// start builds the engine for root, loads the documents found on disk and
// begins watching them.
func (s *Server) start(cfg config.Config, root content.URI, notify glsp.NotifyFunc) error {
	symbols, err := openSymbolStore(cfg, root)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.notify = notify
	s.mu.Unlock()

	s.cfg = cfg
	s.root = root
	s.symbols = symbols
	s.store = content.NewStore(content.WithHistory(cfg.EditHistory))
	s.memo = memo.New(memo.WithRetention(cfg.RetentionGenerations))

	ev := eval.NewRisorEvaluator(time.Duration(cfg.EvalTimeoutMillis) * time.Millisecond)
	ix := workspace.New(analysis.New(root, cfg.DefaultExtension, ev), cfg.ImportDepthLimit, cfg.Workers)
	s.dispatch = dispatch.New(s.store, s.memo, ix,
		dispatch.WithLatestOnly(cfg.LatestOnly...),
		dispatch.WithSymbolStore(symbols),
	)

	s.sched = scheduler.NewScheduler(queueSize, cfg.Workers)
	s.sched.RunScheduler()
	s.dispatch.Start(s.sched, s.publish, time.Duration(cfg.EvictIntervalSeconds)*time.Second)

	dir, ok := discover.PathFromURI(root)
	if !ok {
		log.Warningf("root %s is not a file URI, skipping discovery", root)
		return nil
	}
	n, err := discover.Load(s.store, dir, cfg.FileExtensions)
	if err != nil {
		log.Warningf("scan %s: %s", dir, err)
	}
	log.Infof("loaded %d documents from %s", n, dir)

	w, err := discover.NewWatcher(s.store, dir, cfg.FileExtensions, 0)
	if err != nil {
		log.Warningf("watcher: %s", err)
		return nil
	}
	w.Owned = s.isOwned
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		w.Stop()
		log.Warningf("watch %s: %s", dir, err)
		return nil
	}
	s.watcher = w
	s.cancel = cancel
	return nil
}

func openSymbolStore(cfg config.Config, root content.URI) (*symstore.Store, error) {
	dsn := cfg.SymbolStore
	if dsn == "" {
		dir, err := stateDir(root)
		if err != nil {
			return nil, err
		}
		dsn = filepath.Join(dir, "symbols.db")
	}
	log.Infof("symbol store: %s", dsn)
	return symstore.Open(dsn)
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.sched != nil {
		s.sched.StopScheduler()
	}
	if s.symbols != nil {
		if err := s.symbols.Close(); err != nil {
			return err
		}
	}
	protocol.SetTraceValue(protocol.TraceValueOff)
	return nil
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}
