// Package memo is a demand-driven, dependency-tracked query cache. Every
// query records the inputs and queries it read; a cached value is reused as
// long as those dependencies still have their recorded fingerprints.
package memo

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/tliron/commonlog"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrDependencyCycle is returned when a query (transitively) depends on itself.
	ErrDependencyCycle = errors.New("memo: dependency cycle")

	// ErrCancelled is returned when the session's context ends before the query completes.
	ErrCancelled = errors.New("memo: cancelled")

	// ErrTypeMismatch is returned when a key is read as a different type
	// than the one its computation produced.
	ErrTypeMismatch = errors.New("memo: type mismatch")

	errNoCompute = errors.New("memo: no compute function")
	errRetry     = errors.New("memo: retry")
)

var log = commonlog.GetLogger("tinymist.memo")

// Key identifies a query instance. Doc names the document the query is
// about (empty for workspace-wide queries); Arg distinguishes instances of
// the same kind, such as an offset or symbol id.
type Key struct {
	Kind string
	Doc  string
	Arg  string
}

func (k Key) String() string {
	if k.Arg == "" {
		return fmt.Sprintf("%s(%s)", k.Kind, k.Doc)
	}
	return fmt.Sprintf("%s(%s, %s)", k.Kind, k.Doc, k.Arg)
}

func (k Key) Less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	if k.Doc != o.Doc {
		return k.Doc < o.Doc
	}
	return k.Arg < o.Arg
}

// Fingerprint summarizes a value; equal fingerprints mean dependents need
// not recompute.
type Fingerprint uint64

// Hasher builds fingerprints from parts.
type Hasher struct{ d *xxhash.Digest }

func NewHasher() Hasher { return Hasher{d: xxhash.New()} }

func (h Hasher) String(s string) Hasher {
	_, _ = h.d.WriteString(s)
	_, _ = h.d.Write([]byte{0})
	return h
}

func (h Hasher) Uint(v uint64) Hasher {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
	_, _ = h.d.Write(buf[:])
	return h
}

func (h Hasher) Int(v int) Hasher { return h.Uint(uint64(v)) }

func (h Hasher) Bool(b bool) Hasher {
	if b {
		return h.Uint(1)
	}
	return h.Uint(0)
}

func (h Hasher) Sum() Fingerprint { return Fingerprint(h.d.Sum64()) }

// Dep is one recorded read of a computation.
type Dep struct {
	Key   Key
	FP    Fingerprint
	Input bool
}

type computeFunc func(*Frame) (any, Fingerprint, error)

// Entry is a memoized result. Entries are immutable once published except
// for the generation at which they were last validated.
type Entry struct {
	Key        Key
	Value      any
	FP         Fingerprint
	Deps       []Dep
	ComputedAt uint64

	verifiedAt atomic.Uint64
	compute    computeFunc
}

func (e *Entry) VerifiedAt() uint64 { return e.verifiedAt.Load() }

func (e *Entry) raiseVerified(gen uint64) {
	for {
		cur := e.verifiedAt.Load()
		if cur >= gen || e.verifiedAt.CompareAndSwap(cur, gen) {
			return
		}
	}
}

const shardCount = 16

type shard struct {
	mu sync.RWMutex
	m  map[Key]*Entry
}

type callKey struct {
	key Key
	gen uint64
}

type call struct {
	key   Key
	owner *task
	done  chan struct{}

	entry     *Entry
	validated bool
	cyclic    bool
	err       error
}

// task is one thread of execution inside a session. Forked frames get their
// own task.
type task struct {
	parent  *task
	waiting *call // guarded by Memo.waitMu
}

// Memo holds the shared entry table.
type Memo struct {
	shards [shardCount]shard

	inflightMu sync.Mutex
	inflight   map[callKey]*call

	waitMu sync.Mutex

	retention uint64
	meter     metric.Meter
	metrics   *instruments
	stats     counters
}

type Option func(*Memo)

// WithRetention keeps entries that were validated within the last gens generations.
func WithRetention(gens uint64) Option {
	return func(m *Memo) { m.retention = gens }
}

// WithMeter reports cache metrics to meter instead of the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(m *Memo) { m.meter = meter }
}

func New(opts ...Option) *Memo {
	m := &Memo{
		inflight:  make(map[callKey]*call),
		retention: 256,
	}
	for i := range m.shards {
		m.shards[i].m = make(map[Key]*Entry)
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = newInstruments(m.meter)
	return m
}

func (m *Memo) shard(k Key) *shard {
	h := xxhash.New()
	_, _ = h.WriteString(k.Kind)
	_, _ = h.WriteString(k.Doc)
	_, _ = h.WriteString(k.Arg)
	return &m.shards[h.Sum64()%shardCount]
}

func (m *Memo) get(k Key) *Entry {
	s := m.shard(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[k]
}

// publish installs e unless the table already holds a newer computation.
func (m *Memo) publish(e *Entry) {
	s := m.shard(e.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.m[e.Key]; old != nil && old.ComputedAt > e.ComputedAt {
		return
	}
	s.m[e.Key] = e
}

// acquire returns the in-flight call for key at gen, creating it (and
// reporting ownership) when none exists.
func (m *Memo) acquire(key Key, gen uint64, t *task) (*call, bool) {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	ck := callKey{key, gen}
	if c, ok := m.inflight[ck]; ok {
		return c, false
	}
	c := &call{key: key, owner: t, done: make(chan struct{})}
	m.inflight[ck] = c
	return c, true
}

func (m *Memo) release(c *call, gen uint64) {
	m.inflightMu.Lock()
	delete(m.inflight, callKey{c.key, gen})
	m.inflightMu.Unlock()
	close(c.done)
}

// beginWait registers t as waiting on c unless that would close a
// waits-for loop.
func (m *Memo) beginWait(t *task, c *call) bool {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()
	for cur := c; cur != nil; cur = cur.owner.waiting {
		for a := t; a != nil; a = a.parent {
			if cur.owner == a {
				return false
			}
		}
	}
	t.waiting = c
	return true
}

func (m *Memo) endWait(t *task) {
	m.waitMu.Lock()
	t.waiting = nil
	m.waitMu.Unlock()
}

// Evict drops entries whose document is no longer alive or that were not
// validated within the retention window ending at gen.
func (m *Memo) Evict(gen uint64, alive func(doc string) bool) int {
	evicted := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, e := range s.m {
			stale := gen > m.retention && e.VerifiedAt() < gen-m.retention
			gone := k.Doc != "" && alive != nil && !alive(k.Doc)
			if stale || gone {
				delete(s.m, k)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	if evicted > 0 {
		m.stats.evictions.Add(int64(evicted))
		m.metrics.evicted(int64(evicted))
		log.Debugf("evicted %d entries at generation %d", evicted, gen)
	}
	return evicted
}

// EntryInfo is a point-in-time view of one table entry.
type EntryInfo struct {
	Entry      *Entry
	VerifiedAt uint64
}

// Entries copies the current table for inspection.
func (m *Memo) Entries() map[Key]EntryInfo {
	out := make(map[Key]EntryInfo)
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k, e := range s.m {
			out[k] = EntryInfo{Entry: e, VerifiedAt: e.VerifiedAt()}
		}
		s.mu.RUnlock()
	}
	return out
}

// Len is the number of published entries.
func (m *Memo) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

type counters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	validations  atomic.Int64
	evictions    atomic.Int64
	cycles       atomic.Int64
	waiters      atomic.Int64
}

// Stats are cumulative counters, except Waiters which is the number of
// callers currently blocked on another caller's computation.
type Stats struct {
	Hits         int64
	Misses       int64
	Computations int64
	Validations  int64
	Evictions    int64
	Cycles       int64
	Waiters      int64
}

func (m *Memo) Stats() Stats {
	return Stats{
		Hits:         m.stats.hits.Load(),
		Misses:       m.stats.misses.Load(),
		Computations: m.stats.computations.Load(),
		Validations:  m.stats.validations.Load(),
		Evictions:    m.stats.evictions.Load(),
		Cycles:       m.stats.cycles.Load(),
		Waiters:      m.stats.waiters.Load(),
	}
}
