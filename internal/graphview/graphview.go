// Package graphview serves a live view of the import graph. Browsers
// connect over a WebSocket, receive the whole graph once and then the
// nodes and links that appear or disappear.
package graphview

import (
	"embed"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/workspace"
)

var log = commonlog.GetLogger("tinymist.graphview")

// GraphData holds the nodes and links of the graph.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Node is one document. IDs are stable for the lifetime of the server.
type Node struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Link is an import from Source to Target.
type Link struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// Message is sent over the WebSocket to update clients.
type Message struct {
	Op    string     `json:"op"` // "init", "add", "deleteNode", "deleteLink"
	Graph *GraphData `json:"graph,omitempty"`
	Node  *Node      `json:"node,omitempty"`
	Link  *Link      `json:"link,omitempty"`
}

//go:embed static/*
var staticFiles embed.FS

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type Server struct {
	// Label names a document in the view.
	Label func(uri content.URI) string

	graphMu sync.Mutex
	graph   GraphData
	ids     map[content.URI]int
	nextID  int

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
}

func New() *Server {
	return &Server{
		Label:   func(uri content.URI) string { return uri },
		graph:   GraphData{Nodes: []Node{}, Links: []Link{}},
		ids:     map[content.URI]int{},
		clients: map[*websocket.Conn]bool{},
	}
}

// Handler serves the viewer under /static/ and the updates under /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFiles)))
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Listen starts serving on addr (":0" picks a free port) and returns the
// URL of the viewer.
func (s *Server) Listen(addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	go func() {
		if err := http.Serve(l, s.Handler()); err != nil {
			log.Errorf("graph server: %s", err)
		}
	}()
	return "http://" + l.Addr().String() + "/static/", nil
}

func (s *Server) id(uri content.URI) int {
	if id, ok := s.ids[uri]; ok {
		return id
	}
	s.nextID++
	s.ids[uri] = s.nextID
	return s.nextID
}

// Update replaces the shown graph with g and broadcasts the difference.
func (s *Server) Update(g *workspace.Graph) {
	s.graphMu.Lock()
	var msgs []Message

	nodes := map[int]Node{}
	for _, uri := range g.Nodes {
		n := Node{ID: s.id(uri), Label: s.Label(uri)}
		nodes[n.ID] = n
	}
	links := map[Link]bool{}
	for _, e := range g.Edges {
		links[Link{Source: s.id(e.From), Target: s.id(e.To)}] = true
	}

	old := map[int]bool{}
	for _, n := range s.graph.Nodes {
		old[n.ID] = true
		if _, ok := nodes[n.ID]; !ok {
			msgs = append(msgs, Message{Op: "deleteNode", Node: &Node{ID: n.ID}})
		}
	}
	for _, l := range s.graph.Links {
		if !links[l] {
			l := l
			msgs = append(msgs, Message{Op: "deleteLink", Link: &l})
		}
	}
	next := GraphData{Nodes: make([]Node, 0, len(nodes)), Links: make([]Link, 0, len(links))}
	for _, n := range nodes {
		next.Nodes = append(next.Nodes, n)
	}
	sort.Slice(next.Nodes, func(i, j int) bool { return next.Nodes[i].ID < next.Nodes[j].ID })
	for _, n := range next.Nodes {
		if !old[n.ID] {
			n := n
			msgs = append(msgs, Message{Op: "add", Node: &n})
		}
	}
	oldLinks := map[Link]bool{}
	for _, l := range s.graph.Links {
		oldLinks[l] = true
	}
	for l := range links {
		next.Links = append(next.Links, l)
	}
	sort.Slice(next.Links, func(i, j int) bool {
		a, b := next.Links[i], next.Links[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Target < b.Target
	})
	for _, l := range next.Links {
		if !oldLinks[l] {
			l := l
			msgs = append(msgs, Message{Op: "add", Link: &l})
		}
	}
	s.graph = next
	s.graphMu.Unlock()

	for _, m := range msgs {
		if err := s.broadcast(m); err != nil {
			log.Warningf("broadcast: %s", err)
		}
	}
}

// Graph returns a copy of the current graph.
func (s *Server) Graph() GraphData {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	return GraphData{
		Nodes: append([]Node{}, s.graph.Nodes...),
		Links: append([]Link{}, s.graph.Links...),
	}
}

func (s *Server) broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debugf("dropping client: %s", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
	return nil
}

// handleWS upgrades the connection and sends the current graph.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("upgrade: %s", err)
		return
	}

	// The client is registered under the lock so no update slips between
	// the initial state and the first broadcast.
	s.clientsMu.Lock()
	state := s.Graph()
	data, err := json.Marshal(Message{Op: "init", Graph: &state})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, data)
	}
	if err != nil {
		s.clientsMu.Unlock()
		conn.Close()
		return
	}
	s.clients[conn] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
}
