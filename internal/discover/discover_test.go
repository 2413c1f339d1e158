package discover_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/discover"
)

func write(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
}

func TestScanSkipsHiddenDirectoriesAndOtherExtensions(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "main.typ"), "= Main")
	write(t, filepath.Join(root, "chapters", "one.typ"), "= One")
	write(t, filepath.Join(root, "notes.md"), "# Notes")
	write(t, filepath.Join(root, ".git", "x.typ"), "")

	var found []string
	err := discover.Scan(root, []string{".typ"}, func(path string, _ []byte) {
		rel, _ := filepath.Rel(root, path)
		found = append(found, filepath.ToSlash(rel))
	})
	require.NoError(t, err)
	sort.Strings(found)
	assert.Equal(t, []string{"chapters/one.typ", "main.typ"}, found)
}

func TestURIRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a b.typ")
	uri := discover.URIFromPath(path)
	assert.Contains(t, uri, "file://")
	back, ok := discover.PathFromURI(uri)
	require.True(t, ok)
	assert.Equal(t, path, back)

	_, ok = discover.PathFromURI("untitled:1")
	assert.False(t, ok)
}

func TestWatcherMirrorsDisk(t *testing.T) {
	root := t.TempDir()
	main := filepath.Join(root, "main.typ")
	write(t, main, "= Main")

	store := content.NewStore()
	n, err := discover.Load(store, root, []string{".typ"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w, err := discover.NewWatcher(store, root, []string{".typ"}, 10*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	text := func(path string) string {
		v, ok := store.Snapshot().Get(discover.URIFromPath(path))
		if !ok {
			return "<closed>"
		}
		return v.Text
	}

	write(t, main, "= Changed")
	require.Eventually(t, func() bool { return text(main) == "= Changed" }, 5*time.Second, 10*time.Millisecond)

	lib := filepath.Join(root, "lib.typ")
	write(t, lib, "#let x = 1")
	require.Eventually(t, func() bool { return text(lib) == "#let x = 1" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(lib))
	require.Eventually(t, func() bool { return text(lib) == "<closed>" }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherLeavesOwnedDocumentsAlone(t *testing.T) {
	root := t.TempDir()
	main := filepath.Join(root, "main.typ")
	write(t, main, "= Main")
	other := filepath.Join(root, "other.typ")
	write(t, other, "= Other")

	store := content.NewStore()
	_, err := discover.Load(store, root, []string{".typ"})
	require.NoError(t, err)

	w, err := discover.NewWatcher(store, root, []string{".typ"}, 10*time.Millisecond)
	require.NoError(t, err)
	w.Owned = func(uri content.URI) bool { return uri == discover.URIFromPath(main) }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	write(t, main, "= From disk")
	write(t, other, "= Other changed")
	require.Eventually(t, func() bool {
		v, _ := store.Snapshot().Get(discover.URIFromPath(other))
		return v.Text == "= Other changed"
	}, 5*time.Second, 10*time.Millisecond)

	v, _ := store.Snapshot().Get(discover.URIFromPath(main))
	assert.Equal(t, "= Main", v.Text)
}
