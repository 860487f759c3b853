package craftsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type AccessTokenProvider func(ctx context.Context) (string, error)

type HTTPDocumentStoreOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// HTTPDocumentStore talks to the hosted craftsync document service. Reads
// return document revisions; RunTransaction is a compare-and-swap loop: the
// commit request names the revisions it read, the service answers 409 when
// any of them moved, and the whole transaction is retried.
type HTTPDocumentStore struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewHTTPDocumentStore(opts HTTPDocumentStoreOptions) *HTTPDocumentStore {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPDocumentStore{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

type revisionedDoc struct {
	Doc      Document `json:"doc"`
	Revision string   `json:"revision"`
}

type listResponse struct {
	Docs map[string]Document `json:"docs"`
}

type commitRead struct {
	Path     string `json:"path"`
	ID       string `json:"id"`
	Revision string `json:"revision"`
}

type commitRequest struct {
	Reads  []commitRead    `json:"reads,omitempty"`
	Writes []DocumentWrite `json:"writes"`
}

func (s *HTTPDocumentStore) GetDoc(ctx context.Context, path, id string) (Document, error) {
	doc, _, err := s.getWithRevision(ctx, path, id)
	return doc, err
}

func (s *HTTPDocumentStore) getWithRevision(ctx context.Context, path, id string) (Document, string, error) {
	if err := validateRef(path, id); err != nil {
		return nil, "", err
	}
	body, status, err := s.do(ctx, http.MethodGet, "/v1/docs/"+escapePath(path)+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, "", err
	}
	if status == http.StatusNotFound {
		return nil, "", ErrNotFound
	}
	var resp revisionedDoc
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", err
	}
	return resp.Doc, resp.Revision, nil
}

func (s *HTTPDocumentStore) ListDocs(ctx context.Context, path string) (map[string]Document, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrInvalidInput
	}
	body, status, err := s.do(ctx, http.MethodGet, "/v1/collections/"+escapePath(path), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return map[string]Document{}, nil
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Docs == nil {
		resp.Docs = map[string]Document{}
	}
	return resp.Docs, nil
}

func (s *HTTPDocumentStore) SetDoc(ctx context.Context, path, id string, doc Document) error {
	return s.BatchSet(ctx, []DocumentWrite{{Path: path, ID: id, Doc: doc}})
}

func (s *HTTPDocumentStore) DeleteDoc(ctx context.Context, path, id string) error {
	if err := validateRef(path, id); err != nil {
		return err
	}
	_, _, err := s.do(ctx, http.MethodDelete, "/v1/docs/"+escapePath(path)+"/"+url.PathEscape(id), nil)
	return err
}

func (s *HTTPDocumentStore) BatchSet(ctx context.Context, writes []DocumentWrite) error {
	if len(writes) == 0 {
		return nil
	}
	for _, write := range writes {
		if err := validateRef(write.Path, write.ID); err != nil {
			return err
		}
	}
	_, _, err := s.doJSON(ctx, http.MethodPost, "/v1/docs:batchSet", commitRequest{Writes: writes})
	return err
}

func (s *HTTPDocumentStore) RunTransaction(ctx context.Context, fn func(tx DocumentTx) error) error {
	if fn == nil {
		return ErrInvalidInput
	}
	for attempt := 0; ; attempt++ {
		tx := &httpTx{ctx: ctx, store: s}
		if err := fn(tx); err != nil {
			return err
		}
		_, status, err := s.doJSON(ctx, http.MethodPost, "/v1/docs:commit", commitRequest{
			Reads:  tx.reads,
			Writes: tx.writes,
		})
		if err == nil && status != http.StatusConflict {
			return nil
		}
		if status == http.StatusConflict && attempt < s.maxRetries {
			if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, "")); waitErr != nil {
				return waitErr
			}
			continue
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("document transaction failed: revision conflict after %d attempts", attempt+1)
	}
}

func (s *HTTPDocumentStore) Close() error {
	return nil
}

type httpTx struct {
	ctx    context.Context
	store  *HTTPDocumentStore
	reads  []commitRead
	writes []DocumentWrite
}

func (tx *httpTx) Get(path, id string) (Document, error) {
	doc, revision, err := tx.store.getWithRevision(tx.ctx, path, id)
	if err == ErrNotFound {
		tx.reads = append(tx.reads, commitRead{Path: path, ID: id, Revision: "0"})
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.reads = append(tx.reads, commitRead{Path: path, ID: id, Revision: revision})
	return doc, nil
}

func (tx *httpTx) Set(path, id string, doc Document) {
	if validateRef(path, id) != nil {
		return
	}
	tx.writes = append(tx.writes, DocumentWrite{Path: path, ID: id, Doc: doc.Clone()})
}

func (s *HTTPDocumentStore) doJSON(ctx context.Context, method, route string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	return s.do(ctx, method, route, body)
}

// do performs one request with bearer auth and retry/backoff on 429 and 5xx,
// honoring Retry-After. 404 and 409 are returned to the caller, everything
// else non-2xx becomes an error.
func (s *HTTPDocumentStore) do(ctx context.Context, method, route string, body []byte) ([]byte, int, error) {
	if s == nil || s.baseURL == "" {
		return nil, 0, fmt.Errorf("http document store is not configured")
	}
	var token string
	if s.tokenProvider != nil {
		var err error
		token, err = s.tokenProvider(ctx)
		if err != nil {
			return nil, 0, err
		}
		token = strings.TrimSpace(token)
	}
	requestURL := s.baseURL + route

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
		if err != nil {
			return nil, 0, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if s.userAgent != "" {
			req.Header.Set("User-Agent", s.userAgent)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if attempt < s.maxRetries {
				if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, 0, waitErr
				}
				continue
			}
			return nil, 0, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, resp.StatusCode, nil
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict {
			return respBody, resp.StatusCode, nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < s.maxRetries {
			if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, resp.StatusCode, waitErr
			}
			continue
		}

		errMessage := strings.TrimSpace(string(respBody))
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
				errMessage = message
			}
		}
		return nil, resp.StatusCode, fmt.Errorf("document store request failed: status=%d message=%s", resp.StatusCode, errMessage)
	}
}

func (s *HTTPDocumentStore) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > s.maxDelay {
			return s.maxDelay
		}
		return retryAfter
	}
	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
