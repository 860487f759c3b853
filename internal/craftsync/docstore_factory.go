package craftsync

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type DocumentStoreFactory func(dsn string) (DocumentStore, error)

var docStoreFactories = struct {
	mu        sync.RWMutex
	factories map[string]DocumentStoreFactory
}{factories: map[string]DocumentStoreFactory{}}

// RegisterDocumentStoreFactory lets embedders plug in additional remote
// backends by DSN scheme. Built-in schemes cannot be overridden.
func RegisterDocumentStoreFactory(scheme string, factory DocumentStoreFactory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil {
		return
	}
	docStoreFactories.mu.Lock()
	defer docStoreFactories.mu.Unlock()
	docStoreFactories.factories[scheme] = factory
}

func lookupDocumentStoreFactory(scheme string) (DocumentStoreFactory, bool) {
	docStoreFactories.mu.RLock()
	defer docStoreFactories.mu.RUnlock()
	factory, ok := docStoreFactories.factories[strings.ToLower(strings.TrimSpace(scheme))]
	return factory, ok
}

// BuildDocumentStoreFromDSN selects the remote backend:
// memory:, postgres://..., or http(s)://... for the hosted document service.
func BuildDocumentStoreFromDSN(dsn string) (DocumentStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryDocumentStore(), nil
	case "postgres", "postgresql":
		return NewPostgresDocumentStore(dsn)
	case "http", "https":
		return NewHTTPDocumentStore(HTTPDocumentStoreOptions{BaseURL: dsn}), nil
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: document store backend %s", ErrNotImplemented, scheme)
	}
	if factory, ok := lookupDocumentStoreFactory(scheme); ok {
		return factory(dsn)
	}
	return nil, fmt.Errorf("unsupported document store scheme: %s", scheme)
}
