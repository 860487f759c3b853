package craftsync

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildOutboxQueueFromDSNDefaultsToMemory(t *testing.T) {
	queue, err := BuildOutboxQueueFromDSN("", 4)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer queue.Close()
	if queue.Capacity() != 4 {
		t.Fatalf("expected capacity 4, got %d", queue.Capacity())
	}
}

func TestBuildOutboxQueueFromDSNMemorySchemes(t *testing.T) {
	for _, dsn := range []string{"memory://", "mem://", "inmem://"} {
		queue, err := BuildOutboxQueueFromDSN(dsn, 0)
		if err != nil {
			t.Fatalf("build %s failed: %v", dsn, err)
		}
		queue.Close()
	}
}

func TestBuildOutboxQueueFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	queue, err := BuildOutboxQueueFromDSN("file://"+path, 8)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer queue.Close()
	if !queue.TryEnqueue(fileQueueTask("a")) {
		t.Fatalf("enqueue on file queue failed")
	}
}

func TestBuildOutboxQueueFromDSNBarePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	queue, err := BuildOutboxQueueFromDSN(path, 8)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer queue.Close()
}

func TestBuildOutboxQueueFromDSNUnimplementedBackends(t *testing.T) {
	for _, dsn := range []string{"redis://localhost:6379", "nats://localhost:4222", "sqs://queue", "kafka://broker"} {
		if _, err := BuildOutboxQueueFromDSN(dsn, 8); !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("expected ErrNotImplemented for %s, got %v", dsn, err)
		}
	}
}

func TestBuildOutboxQueueFromDSNUnknownScheme(t *testing.T) {
	_, err := BuildOutboxQueueFromDSN("carrier-pigeon://coop", 8)
	if err == nil || !strings.Contains(err.Error(), "unsupported outbox queue scheme") {
		t.Fatalf("expected unsupported scheme error, got %v", err)
	}
}

func TestRegisterOutboxQueueFactory(t *testing.T) {
	called := false
	RegisterOutboxQueueFactory("testqueue", func(dsn string, capacity int) (OutboxQueue, error) {
		called = true
		return NewInMemoryOutboxQueue(capacity), nil
	})
	queue, err := BuildOutboxQueueFromDSN("testqueue://anything", 2)
	if err != nil {
		t.Fatalf("build via factory failed: %v", err)
	}
	defer queue.Close()
	if !called {
		t.Fatalf("registered factory was not invoked")
	}
}
