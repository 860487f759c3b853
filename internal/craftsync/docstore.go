package craftsync

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// DocumentStore is the shared remote document store. Documents are addressed
// by a collection path ("workspaces/{id}/{collection}", "users", ...) and a
// document id. Batch writes are atomic as a unit; RunTransaction provides the
// read-modify-write primitive used by workspace joins.
type DocumentStore interface {
	GetDoc(ctx context.Context, path, id string) (Document, error)
	ListDocs(ctx context.Context, path string) (map[string]Document, error)
	SetDoc(ctx context.Context, path, id string, doc Document) error
	DeleteDoc(ctx context.Context, path, id string) error
	BatchSet(ctx context.Context, writes []DocumentWrite) error
	RunTransaction(ctx context.Context, fn func(tx DocumentTx) error) error
	Close() error
}

type DocumentWrite struct {
	Path string   `json:"path"`
	ID   string   `json:"id"`
	Doc  Document `json:"doc"`
}

// DocumentTx is the view inside RunTransaction. Reads see committed state,
// writes are buffered and applied atomically when fn returns nil.
type DocumentTx interface {
	Get(path, id string) (Document, error)
	Set(path, id string, doc Document)
}

type MemoryDocumentStore struct {
	mu    sync.Mutex
	paths map[string]map[string]Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{paths: map[string]map[string]Document{}}
}

func (s *MemoryDocumentStore) GetDoc(ctx context.Context, path, id string) (Document, error) {
	if err := validateRef(path, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.paths[path]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryDocumentStore) ListDocs(ctx context.Context, path string) (map[string]Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.paths[path]
	out := make(map[string]Document, len(docs))
	for id, doc := range docs {
		out[id] = doc.Clone()
	}
	return out, nil
}

func (s *MemoryDocumentStore) SetDoc(ctx context.Context, path, id string, doc Document) error {
	if err := validateRef(path, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(path, id, doc)
	return nil
}

func (s *MemoryDocumentStore) DeleteDoc(ctx context.Context, path, id string) error {
	if err := validateRef(path, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.paths[path]
	if !ok {
		return nil
	}
	delete(docs, id)
	return nil
}

func (s *MemoryDocumentStore) BatchSet(ctx context.Context, writes []DocumentWrite) error {
	for _, write := range writes {
		if err := validateRef(write.Path, write.ID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, write := range writes {
		s.setLocked(write.Path, write.ID, write.Doc)
	}
	return nil
}

func (s *MemoryDocumentStore) RunTransaction(ctx context.Context, fn func(tx DocumentTx) error) error {
	if fn == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	for _, write := range tx.writes {
		s.setLocked(write.Path, write.ID, write.Doc)
	}
	return nil
}

func (s *MemoryDocumentStore) Close() error {
	return nil
}

// Paths returns all collection paths currently holding documents, sorted.
// Used by tests and the migration idempotence checks.
func (s *MemoryDocumentStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.paths))
	for path, docs := range s.paths {
		if len(docs) == 0 {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (s *MemoryDocumentStore) setLocked(path, id string, doc Document) {
	docs, ok := s.paths[path]
	if !ok {
		docs = map[string]Document{}
		s.paths[path] = docs
	}
	docs[id] = doc.Clone()
}

type memoryTx struct {
	store  *MemoryDocumentStore
	writes []DocumentWrite
}

func (tx *memoryTx) Get(path, id string) (Document, error) {
	if err := validateRef(path, id); err != nil {
		return nil, err
	}
	docs, ok := tx.store.paths[path]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (tx *memoryTx) Set(path, id string, doc Document) {
	if validateRef(path, id) != nil {
		return
	}
	tx.writes = append(tx.writes, DocumentWrite{Path: path, ID: id, Doc: doc.Clone()})
}

func validateRef(path, id string) error {
	if strings.TrimSpace(path) == "" || strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	return nil
}
