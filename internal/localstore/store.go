// Package localstore is the device-resident SQLite copy of every workspace
// collection. It is the authority for reads and the first stop for writes;
// remote sync runs behind it.
package localstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tallerlabs/craftsync/internal/craftsync"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and prepares the schema.
// Pass ":memory:" for an ephemeral store. A single connection is enforced so
// SQLite never sees concurrent writers.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, craftsync.ErrInvalidInput
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	for _, c := range craftsync.Collections() {
		spec, ok := tableSpecs[c]
		if !ok {
			return fmt.Errorf("no table spec for collection %s", c)
		}
		cols := make([]string, 0, len(spec.columns)+1)
		cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT")
		for _, col := range spec.columns {
			switch col.kind {
			case columnReal:
				cols = append(cols, fmt.Sprintf("%s REAL NOT NULL DEFAULT 0", col.name))
			default:
				cols = append(cols, fmt.Sprintf("%s TEXT NOT NULL DEFAULT ''", col.name))
			}
		}
		query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", spec.table, strings.Join(cols, ", "))
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	for _, index := range []string{
		"CREATE INDEX IF NOT EXISTS sales_producto_idx ON sales (producto)",
		"CREATE INDEX IF NOT EXISTS production_records_producto_idx ON production_records (producto)",
	} {
		if _, err := s.db.Exec(index); err != nil {
			return err
		}
	}
	return nil
}
