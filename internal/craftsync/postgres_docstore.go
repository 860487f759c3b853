package craftsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresDocumentsTableName = "craftsync_documents"
	postgresOperationTimeout   = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresDocumentStore keeps every document in a single (path, doc_id,
// payload) table. Batch writes and transactions use one SQL transaction;
// read-modify-write transactions additionally take an advisory lock so that
// concurrent joins against the same store serialize.
type PostgresDocumentStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresDocumentStore(dsn string) (*PostgresDocumentStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresDocumentStore{
		dsn:       dsn,
		tableName: postgresDocumentsTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresDocumentStore) GetDoc(ctx context.Context, path, id string) (Document, error) {
	if err := validateRef(path, id); err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE path = $1 AND doc_id = $2", postgresQuoteIdentifier(s.tableName))
	var payload string
	err := s.db.QueryRowContext(ctx, query, path, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

func (s *PostgresDocumentStore) ListDocs(ctx context.Context, path string) (map[string]Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT doc_id, payload FROM %s WHERE path = $1 ORDER BY doc_id", postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := map[string]Document{}
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		doc, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		docs[id] = doc
	}
	return docs, rows.Err()
}

func (s *PostgresDocumentStore) SetDoc(ctx context.Context, path, id string, doc Document) error {
	return s.BatchSet(ctx, []DocumentWrite{{Path: path, ID: id, Doc: doc}})
}

func (s *PostgresDocumentStore) DeleteDoc(ctx context.Context, path, id string) error {
	if err := validateRef(path, id); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE path = $1 AND doc_id = $2", postgresQuoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, path, id)
	return err
}

func (s *PostgresDocumentStore) BatchSet(ctx context.Context, writes []DocumentWrite) error {
	if len(writes) == 0 {
		return nil
	}
	for _, write := range writes {
		if err := validateRef(write.Path, write.ID); err != nil {
			return err
		}
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, write := range writes {
		if err := upsertDocument(ctx, tx, s.tableName, write); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresDocumentStore) RunTransaction(ctx context.Context, fn func(tx DocumentTx) error) error {
	if fn == nil {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	lockKey := postgresDocLockKey(s.tableName)
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey); err != nil {
		return err
	}
	docTx := &postgresTx{ctx: ctx, tx: tx, tableName: s.tableName}
	if err := fn(docTx); err != nil {
		return err
	}
	for _, write := range docTx.writes {
		if err := upsertDocument(ctx, tx, s.tableName, write); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresDocumentStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresDocumentStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				path TEXT NOT NULL,
				doc_id TEXT NOT NULL,
				payload TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (path, doc_id)
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

type postgresTx struct {
	ctx       context.Context
	tx        *sql.Tx
	tableName string
	writes    []DocumentWrite
}

func (t *postgresTx) Get(path, id string) (Document, error) {
	if err := validateRef(path, id); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT payload FROM %s WHERE path = $1 AND doc_id = $2", postgresQuoteIdentifier(t.tableName))
	var payload string
	err := t.tx.QueryRowContext(t.ctx, query, path, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

func (t *postgresTx) Set(path, id string, doc Document) {
	if validateRef(path, id) != nil {
		return
	}
	t.writes = append(t.writes, DocumentWrite{Path: path, ID: id, Doc: doc.Clone()})
}

func upsertDocument(ctx context.Context, tx *sql.Tx, tableName string, write DocumentWrite) error {
	payload, err := json.Marshal(write.Doc)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (path, doc_id, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (path, doc_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, postgresQuoteIdentifier(tableName))
	_, err = tx.ExecContext(ctx, query, write.Path, write.ID, string(payload))
	return err
}

func decodePayload(payload string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func postgresDocLockKey(tableName string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(strings.TrimSpace(tableName)))
	return int64(hasher.Sum64())
}
