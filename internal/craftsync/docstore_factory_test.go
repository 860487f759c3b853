package craftsync

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildDocumentStoreFromDSN(t *testing.T) {
	store, err := BuildDocumentStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory build failed: %v", err)
	}
	if _, ok := store.(*MemoryDocumentStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	store, err = BuildDocumentStoreFromDSN("https://docs.example.test")
	if err != nil {
		t.Fatalf("http build failed: %v", err)
	}
	if _, ok := store.(*HTTPDocumentStore); !ok {
		t.Fatalf("expected http store, got %T", store)
	}
}

func TestBuildDocumentStoreFromDSNRejectsBadInput(t *testing.T) {
	if _, err := BuildDocumentStoreFromDSN(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty dsn, got %v", err)
	}
	for _, dsn := range []string{"mysql://db", "sqlite://db"} {
		if _, err := BuildDocumentStoreFromDSN(dsn); !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("expected ErrNotImplemented for %s, got %v", dsn, err)
		}
	}
	if _, err := BuildDocumentStoreFromDSN("gopher://hole"); err == nil || !strings.Contains(err.Error(), "unsupported document store scheme") {
		t.Fatalf("expected unsupported scheme error, got %v", err)
	}
}

func TestRegisterDocumentStoreFactory(t *testing.T) {
	RegisterDocumentStoreFactory("teststore", func(dsn string) (DocumentStore, error) {
		return NewMemoryDocumentStore(), nil
	})
	store, err := BuildDocumentStoreFromDSN("teststore://anything")
	if err != nil {
		t.Fatalf("build via factory failed: %v", err)
	}
	if _, ok := store.(*MemoryDocumentStore); !ok {
		t.Fatalf("expected factory-built store, got %T", store)
	}
}
