package memo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// InputFunc reads an input at the session's generation. Absent inputs
// report a zero fingerprint.
type InputFunc func(Key) (any, Fingerprint)

type inputRead struct {
	value any
	fp    Fingerprint
}

// Session runs queries against one generation. Entries it computes or
// re-validates are staged and become visible to other sessions only on
// Commit, so a discarded session leaves the table untouched.
type Session struct {
	memo  *Memo
	ctx   context.Context
	gen   uint64
	input InputFunc

	mu        sync.Mutex
	inputs    map[Key]inputRead
	computed  map[Key]*Entry
	validated map[Key]*Entry
	done      bool
}

// Begin starts a session at generation gen.
func (m *Memo) Begin(ctx context.Context, gen uint64, input InputFunc) *Session {
	return &Session{
		memo:      m,
		ctx:       ctx,
		gen:       gen,
		input:     input,
		inputs:    make(map[Key]inputRead),
		computed:  make(map[Key]*Entry),
		validated: make(map[Key]*Entry),
	}
}

func (s *Session) Gen() uint64 { return s.gen }

// Frame returns the root frame of a new task in the session.
func (s *Session) Frame() *Frame {
	return &Frame{sess: s, task: &task{}, noStore: new(atomic.Bool)}
}

// Commit publishes the staged entries.
func (s *Session) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	for _, e := range s.validated {
		e.raiseVerified(s.gen)
	}
	for _, e := range s.computed {
		s.memo.publish(e)
	}
	log.Debugf("session %d committed %d computed, %d validated", s.gen, len(s.computed), len(s.validated))
}

// Discard drops the staged entries.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.computed = nil
	s.validated = nil
}

func (s *Session) readInput(k Key) (any, Fingerprint) {
	s.mu.Lock()
	r, ok := s.inputs[k]
	s.mu.Unlock()
	if ok {
		return r.value, r.fp
	}
	v, fp := s.input(k)
	s.mu.Lock()
	if prev, ok := s.inputs[k]; ok {
		v, fp = prev.value, prev.fp
	} else {
		s.inputs[k] = inputRead{v, fp}
	}
	s.mu.Unlock()
	return v, fp
}

func (s *Session) staged(k Key) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.computed[k]; e != nil {
		return e
	}
	return s.validated[k]
}

func (s *Session) stage(e *Entry, validated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if validated {
		s.validated[e.Key] = e
	} else {
		s.computed[e.Key] = e
	}
}

// Frame is the context of one computation: it records what the
// computation reads and knows which keys are being computed above it.
type Frame struct {
	sess   *Session
	task   *task
	parent *Frame
	key    *Key
	rec    *recorder
	prev   *Entry

	// noStore is shared with forks of the frame.
	noStore *atomic.Bool
}

type recorder struct {
	mu   sync.Mutex
	deps []Dep
	seen map[Key]bool
}

func (r *recorder) add(d Dep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[Key]bool)
	}
	if r.seen[d.Key] {
		return
	}
	r.seen[d.Key] = true
	r.deps = append(r.deps, d)
}

func (r *recorder) list() []Dep {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Dep(nil), r.deps...)
}

func (fr *Frame) child(key Key, rec *recorder) *Frame {
	return &Frame{sess: fr.sess, task: fr.task, parent: fr, key: &key, rec: rec, noStore: new(atomic.Bool)}
}

// Fork returns a frame for running part of this computation on another
// goroutine. Reads through the fork are recorded on this frame.
func (fr *Frame) Fork() *Frame {
	return &Frame{
		sess:    fr.sess,
		task:    &task{parent: fr.task},
		parent:  fr.parent,
		key:     fr.key,
		rec:     fr.rec,
		prev:    fr.prev,
		noStore: fr.noStore,
	}
}

func (fr *Frame) Context() context.Context { return fr.sess.ctx }

func (fr *Frame) Gen() uint64 { return fr.sess.gen }

// Err reports ErrCancelled once the session's context is done.
func (fr *Frame) Err() error {
	if fr.sess.ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// Previous returns the last published value of the key this frame
// computes, if any. It is only a hint for incremental computation.
func (fr *Frame) Previous() (any, bool) {
	if fr.prev == nil {
		return nil, false
	}
	return fr.prev.Value, true
}

func (fr *Frame) record(d Dep) {
	if fr.rec != nil {
		fr.rec.add(d)
	}
}

// Input reads an input and records it as a dependency.
func (fr *Frame) Input(k Key) any {
	v, fp := fr.sess.readInput(k)
	fr.record(Dep{Key: k, FP: fp, Input: true})
	return v
}

func (fr *Frame) onStack(k Key) *Frame {
	for f := fr; f != nil; f = f.parent {
		if f.key != nil && *f.key == k {
			return f
		}
	}
	return nil
}

// markCycle excludes every frame from fr up to and including top from caching.
func (fr *Frame) markCycle(top *Frame) {
	for f := fr; f != nil; f = f.parent {
		f.noStore.Store(true)
		if f == top {
			return
		}
	}
}

// Query returns the value of key, computing it with compute when no valid
// entry exists. The read is recorded on fr.
func Query[T any](fr *Frame, key Key, compute func(*Frame) (T, Fingerprint, error)) (T, error) {
	var zero T
	e, err := fr.sess.fetch(fr, key, func(f *Frame) (any, Fingerprint, error) {
		return compute(f)
	})
	if err != nil {
		return zero, err
	}
	fr.record(Dep{Key: key, FP: e.FP})
	if e.Value == nil {
		return zero, nil
	}
	v, ok := e.Value.(T)
	if !ok {
		log.Warningf("%s holds %T, not %T", key, e.Value, zero)
		return zero, fmt.Errorf("%w: %s holds %T", ErrTypeMismatch, key, e.Value)
	}
	return v, nil
}

func (s *Session) cycle(fr *Frame, top *Frame, k Key) error {
	fr.markCycle(top)
	s.memo.stats.cycles.Add(1)
	log.Warningf("dependency cycle on %s", k)
	return ErrDependencyCycle
}

func (s *Session) fetch(fr *Frame, key Key, compute computeFunc) (*Entry, error) {
	for {
		if s.ctx.Err() != nil {
			return nil, ErrCancelled
		}
		if top := fr.onStack(key); top != nil {
			return nil, s.cycle(fr, top, key)
		}
		if e := s.fresh(key); e != nil {
			s.memo.stats.hits.Add(1)
			s.memo.metrics.hit(s.ctx, key.Kind)
			return e, nil
		}

		c, owner := s.memo.acquire(key, s.gen, fr.task)
		if !owner {
			e, err := s.wait(fr, c)
			if errors.Is(err, errRetry) {
				continue
			}
			return e, err
		}

		// Another task of this session may have finished the key between
		// the check above and acquiring the call.
		if e := s.fresh(key); e != nil {
			c.entry = e
			s.memo.release(c, s.gen)
			s.memo.stats.hits.Add(1)
			return e, nil
		}

		s.memo.stats.misses.Add(1)
		s.memo.metrics.miss(s.ctx, key.Kind)
		e, validated, cyclic, err := s.resolve(fr, key, compute)
		c.entry, c.validated, c.cyclic, c.err = e, validated, cyclic, err
		s.memo.release(c, s.gen)
		return e, err
	}
}

// fresh returns an entry already known to be valid at the session's generation.
func (s *Session) fresh(key Key) *Entry {
	if e := s.staged(key); e != nil {
		return e
	}
	if e := s.memo.get(key); e != nil && e.VerifiedAt() == s.gen {
		return e
	}
	return nil
}

func (s *Session) wait(fr *Frame, c *call) (*Entry, error) {
	if !s.memo.beginWait(fr.task, c) {
		fr.markCycle(nil)
		s.memo.stats.cycles.Add(1)
		log.Warningf("dependency cycle across tasks on %s", c.key)
		return nil, ErrDependencyCycle
	}
	s.memo.stats.waiters.Add(1)
	defer func() {
		s.memo.stats.waiters.Add(-1)
		s.memo.endWait(fr.task)
	}()

	select {
	case <-c.done:
	case <-s.ctx.Done():
		return nil, ErrCancelled
	}

	switch {
	case errors.Is(c.err, ErrCancelled):
		if s.ctx.Err() == nil {
			return nil, errRetry
		}
		return nil, ErrCancelled
	case c.err != nil:
		return nil, c.err
	}
	if c.cyclic {
		fr.markCycle(nil)
		return c.entry, nil
	}
	s.stage(c.entry, c.validated)
	return c.entry, nil
}

// resolve validates the published entry for key or recomputes it.
func (s *Session) resolve(fr *Frame, key Key, compute computeFunc) (e *Entry, validated, cyclic bool, err error) {
	prev := s.memo.get(key)
	if prev != nil {
		ok, err := s.verify(fr, prev)
		if err != nil {
			return nil, false, false, err
		}
		if ok {
			s.memo.stats.validations.Add(1)
			s.stage(prev, true)
			return prev, true, false, nil
		}
		if compute == nil {
			compute = prev.compute
		}
	}
	if compute == nil {
		return nil, false, false, errNoCompute
	}

	cf := fr.child(key, &recorder{})
	cf.prev = prev
	v, fp, err := compute(cf)
	if err != nil {
		return nil, false, cf.noStore.Load(), err
	}
	if s.ctx.Err() != nil {
		return nil, false, false, ErrCancelled
	}

	e = &Entry{
		Key:        key,
		Value:      v,
		FP:         fp,
		Deps:       cf.rec.list(),
		ComputedAt: s.gen,
		compute:    compute,
	}
	e.verifiedAt.Store(s.gen)
	s.memo.stats.computations.Add(1)
	s.memo.metrics.computed(s.ctx, key.Kind)

	if cf.noStore.Load() {
		return e, false, true, nil
	}
	s.stage(e, false)
	return e, false, false, nil
}

// verify checks the recorded dependencies of e in order, bringing derived
// dependencies up to date first. Only cancellation is reported as an error.
func (s *Session) verify(fr *Frame, e *Entry) (bool, error) {
	vf := fr.child(e.Key, nil)
	for _, d := range e.Deps {
		if d.Input {
			if _, fp := s.readInput(d.Key); fp != d.FP {
				return false, nil
			}
			continue
		}
		de, err := s.fetch(vf, d.Key, nil)
		if errors.Is(err, ErrCancelled) {
			return false, err
		}
		if err != nil || de.FP != d.FP {
			return false, nil
		}
	}
	return true, nil
}
