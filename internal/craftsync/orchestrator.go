package craftsync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// LocalStore is the per-device transactional store, the authoritative copy of
// every collection. The document bridge feeds the orchestrator; the aggregate
// queries feed the stock derivation engine.
type LocalStore interface {
	ListDocuments(c Collection) ([]Document, error)
	GetDocument(c Collection, id int64) (Document, error)
	ReplaceCollection(c Collection, docs []Document) error

	ProducedProducts() ([]string, error)
	SumProduced(product string) (float64, error)
	SumSold(product string) (float64, error)

	InsertSaleGuarded(sale Sale) (Sale, BalanceEntry, error)
	DeleteSaleWithReversal(saleID int64) (Sale, BalanceEntry, error)
}

type SyncerOptions struct {
	Local  LocalStore
	Docs   DocumentStore
	Logger zerolog.Logger
	Now    func() time.Time
}

// Syncer moves collections between the local store and the remote document
// store. Uploads are one atomic batch per call; downloads replace the local
// collection wholesale. Local writes win locally, the latest lastModified
// wins remotely.
type Syncer struct {
	local LocalStore
	docs  DocumentStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewSyncer(opts SyncerOptions) *Syncer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Syncer{
		local: opts.Local,
		docs:  opts.Docs,
		log:   opts.Logger,
		now:   now,
	}
}

// SyncUp uploads the given documents of one collection as a single atomic
// batch, stamping lastModified and createdBy. The local entity id becomes the
// remote document id, so repeated uploads overwrite instead of duplicating.
func (s *Syncer) SyncUp(ctx context.Context, wctx WorkspaceContext, c Collection, docs []Document) error {
	if wctx.UserID == "" {
		return ErrAuthRequired
	}
	if !wctx.Valid() {
		return ErrInvalidInput
	}
	if len(docs) == 0 {
		return nil
	}
	stamp := s.now().UTC().Format(time.RFC3339Nano)
	path := WorkspacePath(wctx.WorkspaceID, c)
	writes := make([]DocumentWrite, 0, len(docs))
	for _, doc := range docs {
		id := doc.ID()
		if id == 0 {
			return fmt.Errorf("%w: document in %s has no id", ErrInvalidInput, c)
		}
		upload := doc.Clone()
		upload[FieldLastModified] = stamp
		upload[FieldCreatedBy] = wctx.UserEmail
		writes = append(writes, DocumentWrite{Path: path, ID: strconv.FormatInt(id, 10), Doc: upload})
	}
	if err := s.docs.BatchSet(ctx, writes); err != nil {
		return remoteErr(err)
	}
	return nil
}

// DeleteRemote removes one document of a collection from the remote store.
func (s *Syncer) DeleteRemote(ctx context.Context, wctx WorkspaceContext, c Collection, docID string) error {
	if wctx.UserID == "" {
		return ErrAuthRequired
	}
	if !wctx.Valid() || docID == "" {
		return ErrInvalidInput
	}
	if err := s.docs.DeleteDoc(ctx, WorkspacePath(wctx.WorkspaceID, c), docID); err != nil {
		return remoteErr(err)
	}
	return nil
}

// SyncDown scans one remote collection and returns its documents with
// per-field defaults applied downstream. Documents that fail schema
// validation, or whose id is not numeric, are skipped and logged; a malformed
// sibling never aborts the scan.
func (s *Syncer) SyncDown(ctx context.Context, wctx WorkspaceContext, c Collection) ([]Document, error) {
	if wctx.UserID == "" {
		return nil, ErrAuthRequired
	}
	if !wctx.Valid() {
		return nil, ErrInvalidInput
	}
	remote, err := s.docs.ListDocs(ctx, WorkspacePath(wctx.WorkspaceID, c))
	if err != nil {
		return nil, remoteErr(err)
	}
	ids := make([]string, 0, len(remote))
	for id := range remote {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := make([]Document, 0, len(remote))
	for _, docID := range ids {
		doc := remote[docID]
		id, err := strconv.ParseInt(docID, 10, 64)
		if err != nil {
			s.log.Warn().Str("collection", string(c)).Str("doc", docID).Msg("skipping document with non-numeric id")
			continue
		}
		if err := ValidateDocument(c, doc); err != nil {
			s.log.Warn().Err(err).Str("collection", string(c)).Str("doc", docID).Msg("skipping undecodable document")
			continue
		}
		decoded := doc.Clone()
		decoded[FieldID] = id
		docs = append(docs, decoded)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
	return docs, nil
}

// CollectionOutcome is one collection's result inside a full bidirectional
// sync.
type CollectionOutcome struct {
	Collection  Collection `json:"collection"`
	Uploaded    int        `json:"uploaded"`
	Downloaded  int        `json:"downloaded"`
	UploadErr   string     `json:"uploadError,omitempty"`
	DownloadErr string     `json:"downloadError,omitempty"`
}

// SyncReport aggregates per-collection outcomes of a full sync. Collections
// fail independently; the report is the caller's best-effort summary.
type SyncReport struct {
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  time.Time           `json:"finishedAt"`
	Collections []CollectionOutcome `json:"collections"`
}

// Err returns the first per-collection error, or nil when every collection
// synced cleanly.
func (r SyncReport) Err() error {
	for _, outcome := range r.Collections {
		if outcome.UploadErr != "" {
			return fmt.Errorf("sync up %s: %s", outcome.Collection, outcome.UploadErr)
		}
		if outcome.DownloadErr != "" {
			return fmt.Errorf("sync down %s: %s", outcome.Collection, outcome.DownloadErr)
		}
	}
	return nil
}

// SyncAll runs a full bidirectional sync: every collection is uploaded from
// local rows, then downloaded and replaced locally. Each collection's outcome
// is recorded independently so one unreachable collection does not block its
// siblings.
//
// The download replaces the whole local collection: local rows written while
// a download is in flight for the same collection can be lost.
func (s *Syncer) SyncAll(ctx context.Context, wctx WorkspaceContext) SyncReport {
	report := SyncReport{StartedAt: s.now().UTC()}
	for _, c := range Collections() {
		outcome := CollectionOutcome{Collection: c}

		local, err := s.local.ListDocuments(c)
		if err != nil {
			outcome.UploadErr = err.Error()
		} else if err := s.SyncUp(ctx, wctx, c, local); err != nil {
			outcome.UploadErr = err.Error()
		} else {
			outcome.Uploaded = len(local)
		}

		downloaded, err := s.SyncDown(ctx, wctx, c)
		if err != nil {
			outcome.DownloadErr = err.Error()
		} else if err := s.local.ReplaceCollection(c, downloaded); err != nil {
			outcome.DownloadErr = err.Error()
		} else {
			outcome.Downloaded = len(downloaded)
		}

		event := s.log.Info()
		if outcome.UploadErr != "" || outcome.DownloadErr != "" {
			event = s.log.Warn()
		}
		event.Str("collection", string(c)).
			Int("uploaded", outcome.Uploaded).
			Int("downloaded", outcome.Downloaded).
			Str("upload_error", outcome.UploadErr).
			Str("download_error", outcome.DownloadErr).
			Msg("collection synced")
		report.Collections = append(report.Collections, outcome)
	}
	report.FinishedAt = s.now().UTC()
	return report
}
