package server

import (
	"context"
	"fmt"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/graphview"
	"github.com/uros-5/tinymist/internal/scheduler"
)

const (
	commandShowGraph  = "tinymist.showGraph"
	commandCacheStats = "tinymist.cacheStats"
)

var commands = []string{commandShowGraph, commandCacheStats}

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	if s.dispatch == nil {
		return nil, errNotInitialized
	}
	switch params.Command {
	case commandShowGraph:
		url, err := s.showGraph()
		if err != nil {
			return nil, err
		}
		context.Notify(
			protocol.ServerWindowShowDocument,
			protocol.ShowDocumentParams{
				URI:      url,
				External: &protocol.True,
			},
		)
		return url, nil
	case commandCacheStats:
		return s.memo.Stats(), nil
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}

// showGraph starts the graph viewer on first use and keeps it in step with
// the workspace. It returns the viewer's URL.
func (s *Server) showGraph() (string, error) {
	s.graphOnce.Do(func() {
		log.Info("starting graph viewer")
		s.graph = graphview.New()
		s.graph.Label = s.label
		s.graphURL, s.graphErr = s.graph.Listen("localhost:0")
		if s.graphErr != nil {
			return
		}
		if err := s.updateGraph(context.Background()); err != nil {
			log.Warningf("graph: %s", err)
		}
		s.store.OnChange(func(content.Event) {
			go func() {
				err := s.sched.ScheduleHighPriorityTask(scheduler.Task{
					Name:    "graph",
					Key:     "graph",
					Execute: s.updateGraph,
				})
				if err != nil {
					log.Debugf("graph: %s", err)
				}
			}()
		})
	})
	return s.graphURL, s.graphErr
}

func (s *Server) updateGraph(ctx context.Context) error {
	g, err := s.dispatch.Graph(ctx)
	if err != nil {
		return err
	}
	s.graph.Update(g)
	return nil
}
