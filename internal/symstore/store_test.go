package symstore_test

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/symstore"
)

func syms(uri string, names ...string) func() []symstore.Symbol {
	return func() []symstore.Symbol {
		out := make([]symstore.Symbol, len(names))
		for i, n := range names {
			out[i] = symstore.Symbol{URI: uri, Name: n, Start: i * 10, End: i*10 + len(n)}
		}
		return out
	}
}

func names(list []symstore.Symbol) []string {
	var out []string
	for _, s := range list {
		out = append(out, s.Name)
	}
	return out
}

func TestRefreshSkipsUnchangedFingerprint(t *testing.T) {
	s, err := symstore.Open("")
	require.NoError(t, err)
	defer s.Close()

	wrote, err := s.Refresh("file:///a.typ", 1, syms("file:///a.typ", "alpha", "beta"))
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = s.Refresh("file:///a.typ", 1, func() []symstore.Symbol {
		t.Fatal("symbols requested for an unchanged document")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, wrote)

	wrote, err = s.Refresh("file:///a.typ", 2, syms("file:///a.typ", "gamma"))
	require.NoError(t, err)
	assert.True(t, wrote)

	found, err := s.Search("", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, names(found))
}

func TestSearchOrdersPrefixMatchesFirst(t *testing.T) {
	s, err := symstore.Open("")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Refresh("file:///a.typ", 1, syms("file:///a.typ", "heading_size", "size", "Sizes", "other"))
	require.NoError(t, err)
	_, err = s.Refresh("file:///b.typ", 1, syms("file:///b.typ", "resize"))
	require.NoError(t, err)

	found, err := s.Search("size", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sizes", "size", "heading_size", "resize"}, names(found))

	found, err = s.Search("_", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"heading_size"}, names(found))
}

func TestRemoveAndRetain(t *testing.T) {
	s, err := symstore.Open("")
	require.NoError(t, err)
	defer s.Close()

	for _, uri := range []string{"file:///a.typ", "file:///b.typ", "file:///c.typ"} {
		_, err := s.Refresh(uri, 1, syms(uri, "x"))
		require.NoError(t, err)
	}
	require.NoError(t, s.Remove("file:///a.typ"))
	require.NoError(t, s.Retain(func(uri string) bool { return uri != "file:///b.typ" }))

	found, err := s.Search("x", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "file:///c.typ", found[0].URI)
	assert.False(t, s.Fresh("file:///a.typ", 1))
}

func TestConcurrentRefreshWritesOnce(t *testing.T) {
	s, err := symstore.Open("")
	require.NoError(t, err)
	defer s.Close()

	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Refresh("file:///a.typ", 7, func() []symstore.Symbol {
				calls.Add(1)
				return syms("file:///a.typ", "x")()
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), calls.Load())
}

func TestReopenKeepsFingerprints(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "symbols.db")
	s, err := symstore.Open(dsn)
	require.NoError(t, err)
	_, err = s.Refresh("file:///a.typ", 3, syms("file:///a.typ", "x"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = symstore.Open(dsn)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.Fresh("file:///a.typ", 3))
	found, err := s.Search("x", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
