package craftsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testHTTPStore(baseURL string) *HTTPDocumentStore {
	return NewHTTPDocumentStore(HTTPDocumentStoreOptions{
		BaseURL:       baseURL,
		TokenProvider: func(ctx context.Context) (string, error) { return "tok-123", nil },
		MaxRetries:    2,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	})
}

func TestHTTPDocumentStoreGetDoc(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodGet || r.URL.Path != "/v1/docs/workspaces/ws_1/ingredients/7" {
			http.Error(w, "unexpected route "+r.URL.Path, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(revisionedDoc{
			Doc:      Document{"nombre": "Cera"},
			Revision: "3",
		})
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	doc, err := store.GetDoc(context.Background(), WorkspacePath("ws_1", CollectionIngredients), "7")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got := asString(doc, "nombre"); got != "Cera" {
		t.Fatalf("unexpected doc %v", doc)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
}

func TestHTTPDocumentStoreGetDocNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such doc", http.StatusNotFound)
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	if _, err := store.GetDoc(context.Background(), "workspaces/ws_1/notes", "9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPDocumentStoreListDocs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/collections/workspaces/ws_1/sales" {
			http.Error(w, "unexpected route "+r.URL.Path, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(listResponse{Docs: map[string]Document{
			"1": {"producto": "Jabón"},
			"2": {"producto": "Vela"},
		}})
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	docs, err := store.ListDocs(context.Background(), WorkspacePath("ws_1", CollectionSales))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(docs) != 2 || asString(docs["1"], "producto") != "Jabón" {
		t.Fatalf("unexpected docs %v", docs)
	}
}

func TestHTTPDocumentStoreListDocsTreatsMissingAsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such collection", http.StatusNotFound)
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	docs, err := store.ListDocs(context.Background(), "workspaces/ws_1/notes")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected empty map, got %v", docs)
	}
}

func TestHTTPDocumentStoreBatchSet(t *testing.T) {
	var got commitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/docs:batchSet" {
			http.Error(w, "unexpected route", http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	writes := []DocumentWrite{
		{Path: "workspaces/ws_1/notes", ID: "1", Doc: Document{"titulo": "hola"}},
		{Path: "workspaces/ws_1/notes", ID: "2", Doc: Document{"titulo": "adiós"}},
	}
	if err := store.BatchSet(context.Background(), writes); err != nil {
		t.Fatalf("batch set failed: %v", err)
	}
	if len(got.Writes) != 2 || got.Writes[1].ID != "2" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestHTTPDocumentStoreRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(revisionedDoc{Doc: Document{"titulo": "hola"}, Revision: "1"})
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	doc, err := store.GetDoc(context.Background(), "workspaces/ws_1/notes", "1")
	if err != nil {
		t.Fatalf("get after retry failed: %v", err)
	}
	if asString(doc, "titulo") != "hola" {
		t.Fatalf("unexpected doc %v", doc)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestHTTPDocumentStoreGivesUpAfterMaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	_, err := store.GetDoc(context.Background(), "workspaces/ws_1/notes", "1")
	if err == nil || !strings.Contains(err.Error(), "status=500") {
		t.Fatalf("expected status 500 error, got %v", err)
	}
}

func TestHTTPDocumentStoreTransactionRetriesOnConflict(t *testing.T) {
	var commits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/docs/"):
			_ = json.NewEncoder(w).Encode(revisionedDoc{Doc: Document{"miembros": []any{"u_1"}}, Revision: "5"})
		case r.URL.Path == "/v1/docs:commit":
			var req commitRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if len(req.Reads) != 1 || req.Reads[0].Revision != "5" {
				http.Error(w, "missing read revision", http.StatusBadRequest)
				return
			}
			if commits.Add(1) == 1 {
				http.Error(w, "revision moved", http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "unexpected route", http.StatusBadRequest)
		}
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	err := store.RunTransaction(context.Background(), func(tx DocumentTx) error {
		doc, err := tx.Get("workspaces", "ws_1")
		if err != nil {
			return err
		}
		tx.Set("workspaces", "ws_1", doc)
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if commits.Load() != 2 {
		t.Fatalf("expected 2 commit attempts, got %d", commits.Load())
	}
}

func TestHTTPDocumentStoreTransactionReadsMissingDocAsRevisionZero(t *testing.T) {
	var got commitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/docs/"):
			http.Error(w, "no such doc", http.StatusNotFound)
		case r.URL.Path == "/v1/docs:commit":
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "unexpected route", http.StatusBadRequest)
		}
	}))
	defer server.Close()

	store := testHTTPStore(server.URL)
	err := store.RunTransaction(context.Background(), func(tx DocumentTx) error {
		if _, err := tx.Get("users", "u_1"); !errors.Is(err, ErrNotFound) {
			return err
		}
		tx.Set("users", "u_1", Document{"currentWorkspaceId": "ws_1"})
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if len(got.Reads) != 1 || got.Reads[0].Revision != "0" {
		t.Fatalf("expected revision 0 read, got %+v", got.Reads)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if got := parseRetryAfterSeconds("2"); got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
	if got := parseRetryAfterSeconds("soon"); got != 0 {
		t.Fatalf("expected 0 for unparseable header, got %v", got)
	}
	if got := parseRetryAfterSeconds(""); got != 0 {
		t.Fatalf("expected 0 for empty header, got %v", got)
	}
}
