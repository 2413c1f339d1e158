package symstore

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Tables of an older version are rebuilt; their content is derived
	// from the documents anyway.
	if version != 0 {
		for _, q := range []string{`DROP TABLE IF EXISTS symbols`, `DROP TABLE IF EXISTS documents`} {
			if _, err := tx.Exec(q); err != nil {
				return fmt.Errorf("failed to drop old tables: %w", err)
			}
		}
	}
	if err := createTables(tx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

func createTables(tx *sql.Tx) error {
	queries := []string{
		// One row per indexed document; fingerprint identifies the model
		// the symbols were taken from.
		`CREATE TABLE IF NOT EXISTS documents (
            uri TEXT PRIMARY KEY,
            fingerprint INTEGER NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS symbols (
            uri TEXT NOT NULL,
            name TEXT NOT NULL,
            kind INTEGER NOT NULL,
            start_offset INTEGER NOT NULL,
            end_offset INTEGER NOT NULL,
            FOREIGN KEY (uri) REFERENCES documents(uri) ON DELETE CASCADE
        )`,

		`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_uri ON symbols(uri)`,
	}
	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", q, err)
		}
	}
	return nil
}
