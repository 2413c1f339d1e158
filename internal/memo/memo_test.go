package memo_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/memo"
)

// world is a tiny versioned input store.
type world struct {
	mu   sync.Mutex
	gen  uint64
	vals map[string]string
}

func newWorld() *world { return &world{gen: 1, vals: map[string]string{}} }

func (w *world) set(k, v string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.vals[k] = v
}

func (w *world) session(m *memo.Memo, ctx context.Context) *memo.Session {
	w.mu.Lock()
	gen := w.gen
	vals := make(map[string]string, len(w.vals))
	for k, v := range w.vals {
		vals[k] = v
	}
	w.mu.Unlock()
	return m.Begin(ctx, gen, func(k memo.Key) (any, memo.Fingerprint) {
		v, ok := vals[k.Doc]
		if !ok {
			return nil, 0
		}
		return v, memo.NewHasher().String(v).Sum()
	})
}

func srcKey(doc string) memo.Key { return memo.Key{Kind: "src", Doc: doc} }

func length(fr *memo.Frame, doc string, calls *atomic.Int64) (int, error) {
	return memo.Query(fr, memo.Key{Kind: "len", Doc: doc}, func(fr *memo.Frame) (int, memo.Fingerprint, error) {
		calls.Add(1)
		s, _ := fr.Input(srcKey(doc)).(string)
		return len(s), memo.NewHasher().Int(len(s)).Sum(), nil
	})
}

func total(fr *memo.Frame, docs []string, lenCalls, totalCalls *atomic.Int64) (int, error) {
	return memo.Query(fr, memo.Key{Kind: "total"}, func(fr *memo.Frame) (int, memo.Fingerprint, error) {
		totalCalls.Add(1)
		sum := 0
		for _, d := range docs {
			n, err := length(fr, d, lenCalls)
			if err != nil {
				return 0, 0, err
			}
			sum += n
		}
		return sum, memo.NewHasher().Int(sum).Sum(), nil
	})
}

func TestQueryCachesAndInvalidates(t *testing.T) {
	m := memo.New()
	w := newWorld()
	w.set("a", "xx")
	w.set("b", "yyy")
	docs := []string{"a", "b"}
	var lenCalls, totalCalls atomic.Int64

	run := func() int {
		s := w.session(m, context.Background())
		v, err := total(s.Frame(), docs, &lenCalls, &totalCalls)
		require.NoError(t, err)
		s.Commit()
		return v
	}

	assert.Equal(t, 5, run())
	assert.Equal(t, int64(2), lenCalls.Load())
	assert.Equal(t, int64(1), totalCalls.Load())

	// Same generation: served from the table.
	assert.Equal(t, 5, run())
	assert.Equal(t, int64(2), lenCalls.Load())

	// New generation, unchanged inputs: validated without recomputing.
	w.set("c", "unrelated")
	assert.Equal(t, 5, run())
	assert.Equal(t, int64(2), lenCalls.Load())
	assert.Equal(t, int64(1), totalCalls.Load())

	// Same length: only len(a) recomputes, total is cut off early.
	w.set("a", "zz")
	assert.Equal(t, 5, run())
	assert.Equal(t, int64(3), lenCalls.Load())
	assert.Equal(t, int64(1), totalCalls.Load())

	w.set("b", "y")
	assert.Equal(t, 3, run())
	assert.Equal(t, int64(4), lenCalls.Load())
	assert.Equal(t, int64(2), totalCalls.Load())
}

func TestAtMostOnceAcrossSessions(t *testing.T) {
	m := memo.New()
	w := newWorld()
	release := make(chan struct{})
	var calls atomic.Int64

	slow := func(fr *memo.Frame) (string, error) {
		return memo.Query(fr, memo.Key{Kind: "slow"}, func(fr *memo.Frame) (string, memo.Fingerprint, error) {
			calls.Add(1)
			<-release
			return "done", 1, nil
		})
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := w.session(m, context.Background())
			v, err := slow(s.Frame())
			assert.NoError(t, err)
			results[i] = v
			s.Commit()
		}(i)
	}

	require.Eventually(t, func() bool { return m.Stats().Waiters == 1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, []string{"done", "done"}, results)
	assert.Equal(t, int64(0), m.Stats().Waiters)
}

func TestDependencyCycle(t *testing.T) {
	m := memo.New()
	w := newWorld()
	s := w.session(m, context.Background())

	var a, b func(fr *memo.Frame) (int, error)
	a = func(fr *memo.Frame) (int, error) {
		return memo.Query(fr, memo.Key{Kind: "a"}, func(fr *memo.Frame) (int, memo.Fingerprint, error) {
			v, err := b(fr)
			if err != nil {
				return -1, 0, nil
			}
			return v + 1, 1, nil
		})
	}
	b = func(fr *memo.Frame) (int, error) {
		return memo.Query(fr, memo.Key{Kind: "b"}, func(fr *memo.Frame) (int, memo.Fingerprint, error) {
			v, err := a(fr)
			if err != nil {
				return 0, 0, err
			}
			return v + 1, 2, nil
		})
	}

	v, err := a(s.Frame())
	require.NoError(t, err)
	assert.Equal(t, -1, v)
	s.Commit()

	assert.Equal(t, int64(1), m.Stats().Cycles)
	assert.Empty(t, m.Entries(), "frames in a cycle are not cached")
}

func TestCancelledSessionLeavesTableUntouched(t *testing.T) {
	m := memo.New()
	w := newWorld()
	docs := []string{"a", "b", "c", "d"}
	for _, d := range docs {
		w.set(d, d+d)
	}
	var lenCalls, totalCalls atomic.Int64

	s := w.session(m, context.Background())
	_, err := length(s.Frame(), "a", &lenCalls)
	require.NoError(t, err)
	s.Commit()
	before := m.Entries()

	w.set("a", "changed")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner := w.session(m, ctx)
	reads := 0
	cancelling := m.Begin(ctx, inner.Gen(), func(k memo.Key) (any, memo.Fingerprint) {
		reads++
		if reads == 2 {
			cancel()
		}
		return "v" + k.Doc, memo.NewHasher().String(k.Doc).Sum()
	})
	_, err = total(cancelling.Frame(), docs, &lenCalls, &totalCalls)
	assert.ErrorIs(t, err, memo.ErrCancelled)
	cancelling.Discard()

	after := m.Entries()
	require.Equal(t, len(before), len(after))
	for k, info := range before {
		assert.Same(t, info.Entry, after[k].Entry)
		assert.Equal(t, info.VerifiedAt, after[k].VerifiedAt)
	}
}

func TestQueryTypeMismatch(t *testing.T) {
	m := memo.New()
	w := newWorld()
	w.set("a", "abc")
	var calls atomic.Int64

	s := w.session(m, context.Background())
	n, err := length(s.Frame(), "a", &calls)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The cached int is not handed out as a string.
	_, err = memo.Query(s.Frame(), memo.Key{Kind: "len", Doc: "a"}, func(fr *memo.Frame) (string, memo.Fingerprint, error) {
		return "abc", 1, nil
	})
	assert.ErrorIs(t, err, memo.ErrTypeMismatch)

	// A nil interface value reads back as the zero value.
	v, err := memo.Query(s.Frame(), memo.Key{Kind: "err", Doc: "a"}, func(fr *memo.Frame) (error, memo.Fingerprint, error) {
		return nil, 0, nil
	})
	require.NoError(t, err)
	assert.Nil(t, v)
	s.Commit()
	assert.Equal(t, int64(1), calls.Load())
}

func TestPreviousValue(t *testing.T) {
	m := memo.New()
	w := newWorld()
	w.set("a", "one")

	var seen []any
	query := func() {
		s := w.session(m, context.Background())
		_, err := memo.Query(s.Frame(), memo.Key{Kind: "echo", Doc: "a"}, func(fr *memo.Frame) (string, memo.Fingerprint, error) {
			prev, _ := fr.Previous()
			seen = append(seen, prev)
			v, _ := fr.Input(srcKey("a")).(string)
			return v, memo.NewHasher().String(v).Sum(), nil
		})
		require.NoError(t, err)
		s.Commit()
	}

	query()
	w.set("a", "two")
	query()
	assert.Equal(t, []any{nil, "one"}, seen)
}

func TestEvict(t *testing.T) {
	m := memo.New(memo.WithRetention(2))
	w := newWorld()
	w.set("a", "1")
	w.set("b", "2")
	var calls atomic.Int64

	s := w.session(m, context.Background())
	_, err := length(s.Frame(), "a", &calls)
	require.NoError(t, err)
	_, err = length(s.Frame(), "b", &calls)
	require.NoError(t, err)
	s.Commit()
	require.Equal(t, 2, m.Len())

	// b is closed.
	n := m.Evict(s.Gen(), func(doc string) bool { return doc == "a" })
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Len())

	// a is no longer validated within the window.
	n = m.Evict(s.Gen()+10, func(string) bool { return true })
	assert.Equal(t, 1, n)
	assert.Zero(t, m.Len())
	assert.Equal(t, int64(2), m.Stats().Evictions)
}

func TestForkRecordsOnParent(t *testing.T) {
	m := memo.New()
	w := newWorld()
	w.set("a", "aa")
	w.set("b", "bbb")
	var calls atomic.Int64

	sum := func(fr *memo.Frame) (int, error) {
		return memo.Query(fr, memo.Key{Kind: "sum"}, func(fr *memo.Frame) (int, memo.Fingerprint, error) {
			var wg sync.WaitGroup
			out := make([]int, 2)
			for i, d := range []string{"a", "b"} {
				wg.Add(1)
				go func(i int, d string, f *memo.Frame) {
					defer wg.Done()
					out[i], _ = length(f, d, &calls)
				}(i, d, fr.Fork())
			}
			wg.Wait()
			return out[0] + out[1], memo.Fingerprint(out[0] + out[1]), nil
		})
	}

	s := w.session(m, context.Background())
	v, err := sum(s.Frame())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	s.Commit()

	entry := m.Entries()[memo.Key{Kind: "sum"}].Entry
	require.NotNil(t, entry)
	assert.Len(t, entry.Deps, 2)

	w.set("b", "b")
	s = w.session(m, context.Background())
	v, err = sum(s.Frame())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
