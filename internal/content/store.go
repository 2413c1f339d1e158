// Package content owns the versioned text of every document in the workspace.
package content

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/tliron/commonlog"
)

var (
	// ErrUnknownDocument is returned for edits or closes of a document that is not open.
	ErrUnknownDocument = errors.New("content: unknown document")

	// ErrInvalidRange is returned when a change addresses text outside the document.
	ErrInvalidRange = errors.New("content: invalid range")
)

var log = commonlog.GetLogger("tinymist.content")

type EventKind int

const (
	Opened EventKind = iota
	Edited
	Closed
)

func (k EventKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Edited:
		return "edited"
	case Closed:
		return "closed"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
	URI  URI
	Rev  int
	Gen  uint64
}

type document struct {
	mu     sync.Mutex
	v      *Version
	closed bool
}

// Store holds the current revision of each document. Edits to one document
// are serialized by that document's lock; publishing a new snapshot swaps a
// copy-on-write map, so Snapshot never blocks.
type Store struct {
	mu   sync.Mutex
	docs map[URI]*document

	publishMu sync.Mutex
	gen       uint64
	current   atomic.Pointer[Snapshot]

	listenersMu sync.RWMutex
	listeners   []func(Event)

	history int
}

type Option func(*Store)

// WithHistory bounds the number of edit steps retained per version.
func WithHistory(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.history = n
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		docs:    make(map[URI]*document),
		history: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&Snapshot{docs: map[URI]*Version{}})
	return s
}

// OnChange registers a listener called synchronously after every published
// change, in per-document submission order.
func (s *Store) OnChange(fn func(Event)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Open creates the document at revision 1. Re-opening an open document
// replaces its text as a whole-document edit.
func (s *Store) Open(uri URI, text string) (int, error) {
	for {
		s.mu.Lock()
		d := s.docs[uri]
		if d == nil {
			d = &document{}
			s.docs[uri] = d
		}
		s.mu.Unlock()

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			continue
		}
		if d.v != nil {
			rev, err := s.apply(d, Change{Text: text})
			d.mu.Unlock()
			return rev, err
		}

		v, _ := s.publish(uri, func(gen uint64) *Version {
			return &Version{URI: uri, Rev: 1, Gen: gen, Text: text, Hash: xxhash.Sum64String(text)}
		})
		d.v = v
		s.notify(Event{Kind: Opened, URI: uri, Rev: v.Rev, Gen: v.Gen})
		d.mu.Unlock()
		log.Debugf("opened %s", uri)
		return v.Rev, nil
	}
}

// Edit applies one range replacement and returns the new revision.
func (s *Store) Edit(uri URI, c Change) (int, error) {
	s.mu.Lock()
	d := s.docs[uri]
	s.mu.Unlock()
	if d == nil {
		return 0, ErrUnknownDocument
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.v == nil {
		return 0, ErrUnknownDocument
	}
	return s.apply(d, c)
}

// apply must be called with d.mu held.
func (s *Store) apply(d *document, c Change) (int, error) {
	old := d.v
	edit, err := old.Lines().EditFor(c)
	if err != nil {
		return 0, err
	}
	text := Splice(old.Text, edit, c.Text)

	steps := append(append([]Step(nil), old.Steps...), Step{Rev: old.Rev + 1, Edit: edit})
	if len(steps) > s.history {
		steps = steps[len(steps)-s.history:]
	}

	v, _ := s.publish(old.URI, func(gen uint64) *Version {
		return &Version{
			URI:   old.URI,
			Rev:   old.Rev + 1,
			Gen:   gen,
			Text:  text,
			Hash:  xxhash.Sum64String(text),
			Steps: steps,
		}
	})
	d.v = v
	s.notify(Event{Kind: Edited, URI: v.URI, Rev: v.Rev, Gen: v.Gen})
	return v.Rev, nil
}

// Close removes the document from subsequent snapshots.
func (s *Store) Close(uri URI) error {
	s.mu.Lock()
	d := s.docs[uri]
	delete(s.docs, uri)
	s.mu.Unlock()
	if d == nil {
		return ErrUnknownDocument
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	rev := 0
	if d.v != nil {
		rev = d.v.Rev
	}
	_, gen := s.publish(uri, nil)
	s.notify(Event{Kind: Closed, URI: uri, Rev: rev, Gen: gen})
	log.Debugf("closed %s", uri)
	return nil
}

// publish installs the version built by mk (or removes uri when mk is nil)
// in a fresh snapshot at the next generation.
func (s *Store) publish(uri URI, mk func(gen uint64) *Version) (*Version, uint64) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.gen++
	prev := s.current.Load()
	docs := make(map[URI]*Version, len(prev.docs)+1)
	for k, v := range prev.docs {
		docs[k] = v
	}

	var v *Version
	if mk != nil {
		v = mk(s.gen)
		docs[uri] = v
	} else {
		delete(docs, uri)
	}
	s.current.Store(&Snapshot{gen: s.gen, docs: docs})
	return v, s.gen
}

func (s *Store) notify(ev Event) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
