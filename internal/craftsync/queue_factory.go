package craftsync

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type OutboxQueueFactory func(dsn string, capacity int) (OutboxQueue, error)

var (
	outboxQueueFactoriesMu sync.RWMutex
	outboxQueueFactories   = map[string]OutboxQueueFactory{}
)

// RegisterOutboxQueueFactory installs a custom queue backend for a DSN
// scheme. Registered factories take precedence over the built-in schemes.
func RegisterOutboxQueueFactory(scheme string, factory OutboxQueueFactory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil {
		return
	}
	outboxQueueFactoriesMu.Lock()
	defer outboxQueueFactoriesMu.Unlock()
	outboxQueueFactories[scheme] = factory
}

func lookupOutboxQueueFactory(scheme string) (OutboxQueueFactory, bool) {
	outboxQueueFactoriesMu.RLock()
	defer outboxQueueFactoriesMu.RUnlock()
	factory, ok := outboxQueueFactories[scheme]
	return factory, ok
}

// BuildOutboxQueueFromDSN resolves an outbox queue backend from a DSN. An
// empty DSN means "in-memory with default capacity" so the daemon always has
// a queue.
func BuildOutboxQueueFromDSN(dsn string, capacity int) (OutboxQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryOutboxQueue(capacity), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupOutboxQueueFactory(scheme); ok {
		return factory(dsn, capacity)
	}
	switch scheme {
	case "", "file":
		path, pathErr := queueDSNPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileOutboxQueue(path, capacity)
	case "memory", "mem", "inmem":
		return NewInMemoryOutboxQueue(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresOutboxQueue(dsn, capacity)
	case "redis", "rediss", "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: outbox queue backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported outbox queue scheme: %s", scheme)
	}
}

func queueDSNPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
