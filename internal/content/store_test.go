package content_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/uros-5/tinymist/internal/content"
)

func rng(sl, sc, el, ec uint32) *protocol.Range {
	return &protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

func TestOpenEditClose(t *testing.T) {
	s := content.NewStore()

	rev, err := s.Open("file:///a.typ", "hello\nworld")
	require.NoError(t, err)
	assert.Equal(t, 1, rev)

	rev, err = s.Edit("file:///a.typ", content.Change{Range: rng(1, 0, 1, 5), Text: "there"})
	require.NoError(t, err)
	assert.Equal(t, 2, rev)

	v, ok := s.Snapshot().Get("file:///a.typ")
	require.True(t, ok)
	assert.Equal(t, "hello\nthere", v.Text)
	assert.Equal(t, 2, v.Rev)

	require.NoError(t, s.Close("file:///a.typ"))
	assert.False(t, s.Snapshot().Has("file:///a.typ"))
}

func TestUnknownDocument(t *testing.T) {
	s := content.NewStore()

	_, err := s.Edit("file:///missing.typ", content.Change{Text: "x"})
	assert.ErrorIs(t, err, content.ErrUnknownDocument)
	assert.ErrorIs(t, s.Close("file:///missing.typ"), content.ErrUnknownDocument)

	_, err = s.Open("file:///a.typ", "x")
	require.NoError(t, err)
	require.NoError(t, s.Close("file:///a.typ"))
	_, err = s.Edit("file:///a.typ", content.Change{Text: "y"})
	assert.ErrorIs(t, err, content.ErrUnknownDocument)
}

func TestInvalidRange(t *testing.T) {
	s := content.NewStore()
	_, err := s.Open("file:///a.typ", "one line")
	require.NoError(t, err)

	_, err = s.Edit("file:///a.typ", content.Change{Range: rng(4, 0, 4, 1), Text: "x"})
	assert.ErrorIs(t, err, content.ErrInvalidRange)
}

func TestReopenReplacesText(t *testing.T) {
	s := content.NewStore()
	_, err := s.Open("file:///a.typ", "first")
	require.NoError(t, err)

	rev, err := s.Open("file:///a.typ", "second")
	require.NoError(t, err)
	assert.Equal(t, 2, rev)

	v, _ := s.Snapshot().Get("file:///a.typ")
	assert.Equal(t, "second", v.Text)
}

func TestSnapshotIsolation(t *testing.T) {
	s := content.NewStore()
	_, err := s.Open("file:///a.typ", "abc")
	require.NoError(t, err)

	snap := s.Snapshot()
	_, err = s.Edit("file:///a.typ", content.Change{Range: rng(0, 3, 0, 3), Text: "def"})
	require.NoError(t, err)
	_, err = s.Open("file:///b.typ", "b")
	require.NoError(t, err)

	old, _ := snap.Get("file:///a.typ")
	assert.Equal(t, "abc", old.Text)
	assert.False(t, snap.Has("file:///b.typ"))
	assert.Less(t, snap.Gen(), s.Snapshot().Gen())
	assert.Equal(t, []string{"file:///a.typ", "file:///b.typ"}, s.Snapshot().URIs())
}

func TestUTF16Positions(t *testing.T) {
	s := content.NewStore()
	// "😀" is two UTF-16 code units and four bytes.
	_, err := s.Open("file:///a.typ", "😀x\nü")
	require.NoError(t, err)

	_, err = s.Edit("file:///a.typ", content.Change{Range: rng(0, 2, 0, 3), Text: "y"})
	require.NoError(t, err)
	v, _ := s.Snapshot().Get("file:///a.typ")
	assert.Equal(t, "😀y\nü", v.Text)

	li := v.Lines()
	assert.Equal(t, protocol.Position{Line: 0, Character: 2}, li.Position(4))
	assert.Equal(t, protocol.Position{Line: 1, Character: 1}, li.Position(len(v.Text)))

	off, ok := li.Offset(protocol.Position{Line: 1, Character: 99})
	require.True(t, ok)
	assert.Equal(t, len(v.Text), off)
}

func TestStepsRecorded(t *testing.T) {
	s := content.NewStore(content.WithHistory(2))
	_, err := s.Open("file:///a.typ", "abc")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Edit("file:///a.typ", content.Change{Range: rng(0, 0, 0, 0), Text: "x"})
		require.NoError(t, err)
	}

	v, _ := s.Snapshot().Get("file:///a.typ")
	assert.Len(t, v.Steps, 2)

	edits, ok := v.StepsSince(2)
	require.True(t, ok)
	require.Len(t, edits, 2)
	assert.Equal(t, uint32(0), edits[0].StartIndex)
	assert.Equal(t, uint32(1), edits[0].NewEndIndex)

	_, ok = v.StepsSince(1)
	assert.False(t, ok, "history no longer reaches revision 1")
}

func TestPerDocumentOrdering(t *testing.T) {
	s := content.NewStore()
	docs := []string{"file:///a.typ", "file:///b.typ", "file:///c.typ"}
	for _, d := range docs {
		_, err := s.Open(d, "")
		require.NoError(t, err)
	}

	var events sync.Map
	s.OnChange(func(ev content.Event) {
		prev, _ := events.LoadOrStore(ev.URI, 0)
		assert.Equal(t, prev.(int)+1, ev.Rev-1, "events for %s out of order", ev.URI)
		events.Store(ev.URI, ev.Rev-1)
	})

	var wg sync.WaitGroup
	for _, d := range docs {
		wg.Add(1)
		go func(uri string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := s.Edit(uri, content.Change{Range: rng(0, uint32(i), 0, uint32(i)), Text: fmt.Sprint(i % 10)})
				assert.NoError(t, err)
			}
		}(d)
	}
	wg.Wait()

	for _, d := range docs {
		v, _ := s.Snapshot().Get(d)
		assert.Equal(t, 51, v.Rev)
		assert.Equal(t, "01234567890123456789012345678901234567890123456789", v.Text)
	}
}
