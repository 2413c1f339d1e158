// Package symstore keeps a SQLite table of the top-level symbols of every
// document for workspace symbol search. A document is rewritten only when
// the fingerprint of its model changed.
package symstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"
)

var log = commonlog.GetLogger("tinymist.symstore")

// ErrClosed is returned when using a closed store.
var ErrClosed = errors.New("symstore: closed")

type Symbol struct {
	URI        string
	Name       string
	Kind       int
	Start, End int
}

type Store struct {
	db *sql.DB

	mu     sync.Mutex
	known  map[string]uint64
	closed bool
	group  singleflight.Group
}

// Open opens or creates the database at dsn. ":memory:" gives a private
// in-memory store.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite3", dsn+dsnOptions(dsn))
	if err != nil {
		return nil, err
	}
	// A single connection keeps an in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, known: map[string]uint64{}}
	rows, err := db.Query(`SELECT uri, fingerprint FROM documents`)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uri string
		var fp int64
		if err := rows.Scan(&uri, &fp); err != nil {
			db.Close()
			return nil, err
		}
		s.known[uri] = uint64(fp)
	}
	return s, rows.Err()
}

func dsnOptions(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&_foreign_keys=on"
	}
	return "?_foreign_keys=on"
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Fresh reports whether uri is stored with fingerprint fp.
func (s *Store) Fresh(uri string, fp uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	known, ok := s.known[uri]
	return ok && known == fp
}

// Refresh replaces the symbols of uri unless they were stored under the
// same fingerprint. symbols is only called when a write is needed, and
// concurrent refreshes of one document share a single write. It reports
// whether the table was written.
func (s *Store) Refresh(uri string, fp uint64, symbols func() []Symbol) (bool, error) {
	if s.Fresh(uri, fp) {
		return false, nil
	}
	v, err, _ := s.group.Do(fmt.Sprintf("%s@%d", uri, fp), func() (any, error) {
		if s.Fresh(uri, fp) {
			return false, nil
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return false, ErrClosed
		}
		syms := symbols()
		err := s.withTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
                INSERT INTO documents (uri, fingerprint) VALUES (?, ?)
                ON CONFLICT(uri) DO UPDATE SET fingerprint = excluded.fingerprint
            `, uri, int64(fp)); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM symbols WHERE uri = ?`, uri); err != nil {
				return err
			}
			stmt, err := tx.Prepare(`INSERT INTO symbols (uri, name, kind, start_offset, end_offset) VALUES (?, ?, ?, ?, ?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, sym := range syms {
				if _, err := stmt.Exec(uri, sym.Name, sym.Kind, sym.Start, sym.End); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("refresh %s: %w", uri, err)
		}
		s.mu.Lock()
		s.known[uri] = fp
		s.mu.Unlock()
		log.Debugf("stored %d symbols of %s", len(syms), uri)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Remove drops uri and its symbols.
func (s *Store) Remove(uri string) error {
	s.mu.Lock()
	delete(s.known, uri)
	s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM documents WHERE uri = ?`, uri)
	return err
}

// Retain removes every document for which keep returns false.
func (s *Store) Retain(keep func(uri string) bool) error {
	s.mu.Lock()
	var gone []string
	for uri := range s.known {
		if !keep(uri) {
			gone = append(gone, uri)
		}
	}
	s.mu.Unlock()
	for _, uri := range gone {
		if err := s.Remove(uri); err != nil {
			return err
		}
	}
	return nil
}

// Search returns symbols whose name contains query, case-insensitively,
// prefix matches first.
func (s *Store) Search(query string, limit int) ([]Symbol, error) {
	if limit <= 0 {
		limit = 100
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.Query(`
        SELECT uri, name, kind, start_offset, end_offset FROM symbols
        WHERE name LIKE ? ESCAPE '\'
        ORDER BY (CASE WHEN name LIKE ? ESCAPE '\' THEN 0 ELSE 1 END), name, uri, start_offset
        LIMIT ?
    `, pattern, escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.URI, &sym.Name, &sym.Kind, &sym.Start, &sym.End); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
