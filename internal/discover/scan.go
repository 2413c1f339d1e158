// Package discover finds the documents of a workspace on disk and keeps the
// content store in step with changes made outside the editor.
package discover

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/uros-5/tinymist/internal/content"
)

var log = commonlog.GetLogger("tinymist.discover")

// URIFromPath returns the file URI of an absolute path.
func URIFromPath(path string) content.URI {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// PathFromURI returns the local path of a file URI.
func PathFromURI(uri content.URI) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}

func ignoredDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}

// HasExtension reports whether path ends in one of exts.
func HasExtension(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// Scan walks the subtree under root and calls callback with every document
// whose extension is in exts. Directories whose name begins with "." are
// skipped. Files are read on a separate goroutine; Scan returns once all
// callbacks have completed.
func Scan(root string, exts []string, callback func(path string, text []byte)) error {
	fileCh := make(chan string, 100)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for path := range fileCh {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Warningf("read %s: %s", path, err)
				continue
			}
			callback(path, data)
		}
	}()

	log.Debugf("scanning %s", root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warningf("walk %s: %s", path, err)
			return nil
		}
		if d.IsDir() {
			if path != root && ignoredDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if HasExtension(path, exts) {
			fileCh <- path
		}
		return nil
	})

	close(fileCh)
	wg.Wait()
	return err
}

// Load opens every document under root in store. It returns the number of
// documents opened.
func Load(store *content.Store, root string, exts []string) (int, error) {
	n := 0
	err := Scan(root, exts, func(path string, text []byte) {
		if _, err := store.Open(URIFromPath(path), string(text)); err != nil {
			log.Warningf("open %s: %s", path, err)
			return
		}
		n++
	})
	log.Infof("loaded %d documents from %s", n, root)
	return n, err
}
