package discover

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/uros-5/tinymist/internal/content"
)

// Watcher mirrors changes of documents on disk into a content store.
// Changes are batched per path and applied after a quiet period.
type Watcher struct {
	root     string
	exts     []string
	store    *content.Store
	watcher  *fsnotify.Watcher
	debounce time.Duration

	// Owned reports documents the editor has open; their disk state is
	// ignored until the editor closes them.
	Owned func(uri content.URI) bool

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
}

func NewWatcher(store *content.Store, root string, exts []string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		root:     root,
		exts:     exts,
		store:    store,
		watcher:  fw,
		debounce: debounce,
		changes:  make(chan string, 1000),
		done:     make(chan struct{}),
	}, nil
}

// Start watches root and its subdirectories until ctx ends or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						log.Warningf("watch %s: %s", ev.Name, err)
					}
					// Files created together with the directory have no
					// events of their own.
					_ = Scan(ev.Name, w.exts, func(path string, _ []byte) { w.queue(path) })
					continue
				}
			}
			if HasExtension(ev.Name, w.exts) {
				w.queue(ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warningf("watcher: %s", err)
		}
	}
}

func (w *Watcher) queue(path string) {
	select {
	case w.changes <- path:
	default:
		log.Warningf("dropped change of %s, queue is full", path)
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	batch := map[string]bool{}
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		for path := range batch {
			w.apply(path)
		}
		clear(batch)
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			batch[path] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// apply brings the store's copy of path in line with the disk.
func (w *Watcher) apply(path string) {
	uri := URIFromPath(path)
	if w.Owned != nil && w.Owned(uri) {
		return
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if w.store.Snapshot().Has(uri) {
			log.Debugf("%s removed", uri)
			if err := w.store.Close(uri); err != nil {
				log.Warningf("close %s: %s", uri, err)
			}
		}
		return
	}
	if err != nil {
		log.Warningf("read %s: %s", path, err)
		return
	}
	if v, ok := w.store.Snapshot().Get(uri); ok {
		if v.Text == string(data) {
			return
		}
		_, err = w.store.Edit(uri, content.Change{Text: string(data)})
	} else {
		_, err = w.store.Open(uri, string(data))
	}
	if err != nil {
		log.Warningf("update %s: %s", uri, err)
	}
}
