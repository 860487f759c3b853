// Package httpapi exposes the daemon's local control surface: record reads
// and writes, stock queries, sync control, and workspace membership.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tallerlabs/craftsync/internal/craftsync"
	"github.com/tallerlabs/craftsync/internal/localstore"
)

type ServerConfig struct {
	APIToken     string
	MaxBodyBytes int64
}

type Server struct {
	local      *localstore.Store
	stock      *craftsync.StockService
	syncer     *craftsync.Syncer
	outbox     *craftsync.Outbox
	workspaces *craftsync.WorkspaceManager
	cfg        ServerConfig
	log        zerolog.Logger

	mu   sync.Mutex
	wctx craftsync.WorkspaceContext
}

type ServerOptions struct {
	Local      *localstore.Store
	Stock      *craftsync.StockService
	Syncer     *craftsync.Syncer
	Outbox     *craftsync.Outbox
	Workspaces *craftsync.WorkspaceManager
	Context    craftsync.WorkspaceContext
	Config     ServerConfig
	Logger     zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		local:      opts.Local,
		stock:      opts.Stock,
		syncer:     opts.Syncer,
		outbox:     opts.Outbox,
		workspaces: opts.Workspaces,
		cfg:        cfg,
		log:        opts.Logger,
		wctx:       opts.Context,
	}
}

// Context returns the workspace the server currently operates in.
func (s *Server) Context() craftsync.WorkspaceContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wctx
}

func (s *Server) setContext(wctx craftsync.WorkspaceContext) {
	s.mu.Lock()
	s.wctx = wctx
	s.mu.Unlock()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}

	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	switch {
	case parts[1] == "stock" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleStockList(w, r)
	case parts[1] == "stock" && len(parts) == 3 && r.Method == http.MethodGet:
		s.handleStockProduct(w, r, parts[2])
	case parts[1] == "sales" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleCollectionList(w, r, craftsync.CollectionSales)
	case parts[1] == "sales" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleRecordSale(w, r)
	case parts[1] == "sales" && len(parts) == 3 && r.Method == http.MethodDelete:
		s.handleDeleteSale(w, r, parts[2])
	case parts[1] == "production" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleCollectionList(w, r, craftsync.CollectionProductionHistory)
	case parts[1] == "production" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleInsert(w, r, craftsync.CollectionProductionHistory)
	case parts[1] == "formulas" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleCollectionList(w, r, craftsync.CollectionFormulas)
	case parts[1] == "formulas" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleInsert(w, r, craftsync.CollectionFormulas)
	case parts[1] == "notes" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleCollectionList(w, r, craftsync.CollectionNotes)
	case parts[1] == "notes" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleInsert(w, r, craftsync.CollectionNotes)
	case parts[1] == "balance" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleCollectionList(w, r, craftsync.CollectionBalance)
	case parts[1] == "balance" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleInsert(w, r, craftsync.CollectionBalance)
	case parts[1] == "sync" && len(parts) == 3 && parts[2] == "status" && r.Method == http.MethodGet:
		s.handleSyncStatus(w, r)
	case parts[1] == "sync" && len(parts) == 3 && parts[2] == "run" && r.Method == http.MethodPost:
		s.handleSyncRun(w, r)
	case parts[1] == "sync" && len(parts) == 3 && parts[2] == "deadletters" && r.Method == http.MethodGet:
		s.handleDeadLetters(w, r)
	case parts[1] == "sync" && len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodGet:
		s.handleSyncEvents(w, r)
	case parts[1] == "workspace" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleWorkspace(w, r)
	case parts[1] == "workspace" && len(parts) == 3 && parts[2] == "join" && r.Method == http.MethodPost:
		s.handleWorkspaceJoin(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.APIToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.cfg.APIToken)) == 1
}

func (s *Server) handleStockList(w http.ResponseWriter, _ *http.Request) {
	snapshots, err := s.stock.StockProducts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": snapshots})
}

func (s *Server) handleStockProduct(w http.ResponseWriter, _ *http.Request, product string) {
	stock, err := s.stock.Stock(product)
	if err != nil {
		if errors.Is(err, craftsync.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, craftsync.StockSnapshot{ProductName: product, Stock: stock})
}

func (s *Server) handleCollectionList(w http.ResponseWriter, _ *http.Request, c craftsync.Collection) {
	docs, err := s.local.ListDocuments(c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": docs})
}

func (s *Server) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var sale craftsync.Sale
	if !s.decodeJSONBody(w, r, &sale) {
		return
	}
	inserted, entry, err := s.stock.RecordSale(sale)
	if err != nil {
		var insufficient *craftsync.InsufficientStockError
		if errors.As(err, &insufficient) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"code":      "insufficient_stock",
				"message":   insufficient.Error(),
				"product":   insufficient.Product,
				"requested": insufficient.Requested,
				"available": insufficient.Available,
			})
			return
		}
		if errors.Is(err, craftsync.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": inserted, "balanceEntry": entry})
}

func (s *Server) handleDeleteSale(w http.ResponseWriter, _ *http.Request, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid sale id")
		return
	}
	deleted, reversal, err := s.stock.DeleteSale(id)
	if err != nil {
		if errors.Is(err, craftsync.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		if errors.Is(err, craftsync.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": deleted, "reversal": reversal})
}

// handleInsert is the generic write path for plain collections: decode the
// document, store it, queue the upload.
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request, c craftsync.Collection) {
	var doc craftsync.Document
	if !s.decodeJSONBody(w, r, &doc) {
		return
	}
	id, err := s.local.InsertDocument(c, doc)
	if err != nil {
		if errors.Is(err, craftsync.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if s.outbox != nil {
		_ = s.outbox.PublishEntity(c, id)
	}
	stored, err := s.local.GetDocument(c, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"workspaceId": s.Context().WorkspaceID,
		"queueDepth":  0,
		"capacity":    0,
		"deadLetters": 0,
	}
	if s.outbox != nil {
		status["queueDepth"] = s.outbox.Depth()
		status["capacity"] = s.outbox.Capacity()
		status["deadLetters"] = len(s.outbox.DeadLetters())
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	wctx := s.Context()
	if !wctx.Valid() {
		writeError(w, http.StatusConflict, "no_workspace", "no workspace resolved")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	report := s.syncer.SyncAll(ctx, wctx)
	status := http.StatusOK
	if report.Err() != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, report)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, _ *http.Request) {
	letters := []craftsync.OutboxDeadLetter{}
	if s.outbox != nil {
		letters = s.outbox.DeadLetters()
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": letters})
}

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	wctx := s.Context()
	if !wctx.Valid() {
		writeError(w, http.StatusNotFound, "no_workspace", "no workspace resolved")
		return
	}
	workspace, err := s.workspaces.GetWorkspace(r.Context(), wctx.WorkspaceID)
	if err != nil {
		if errors.Is(err, craftsync.ErrWorkspaceNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "remote_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workspace)
}

func (s *Server) handleWorkspaceJoin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceID string `json:"workspaceId"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	wctx, err := s.workspaces.Join(r.Context(), body.WorkspaceID)
	if err != nil {
		switch {
		case errors.Is(err, craftsync.ErrWorkspaceNotFound):
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, craftsync.ErrAuthRequired):
			writeError(w, http.StatusUnauthorized, "auth_required", err.Error())
		case errors.Is(err, craftsync.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			writeError(w, http.StatusBadGateway, "remote_unavailable", err.Error())
		}
		return
	}
	s.setContext(wctx)
	if s.outbox != nil {
		// Queued and future mutations must drain into the joined workspace,
		// and a daemon that failed bootstrap gets its workers now.
		s.outbox.Rebind(wctx)
		s.outbox.Start(wctx)
	}
	s.log.Info().Str("workspace", wctx.WorkspaceID).Msg("joined workspace")
	writeJSON(w, http.StatusOK, wctx)
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
