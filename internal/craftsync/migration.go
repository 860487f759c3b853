package craftsync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LegacyMigrator copies a user's pre-workspace remote collections into their
// workspace. Unlike collection sync this is strict: any failure aborts the
// whole run, so a half-migrated workspace is always retried from scratch.
// Re-running is safe because document ids are preserved and writes are
// upserts.
type LegacyMigrator struct {
	docs DocumentStore
	log  zerolog.Logger
	now  func() time.Time
}

func NewLegacyMigrator(docs DocumentStore, logger zerolog.Logger) *LegacyMigrator {
	return &LegacyMigrator{
		docs: docs,
		log:  logger,
		now:  time.Now,
	}
}

// CheckIfMigrationNeeded reports whether the workspace still needs a legacy
// import. The probe is the formulas collection: formulas are the one
// collection every pre-workspace account accumulated, so an empty workspace
// copy means nothing was migrated yet. A probe error also reports true; a
// spurious re-migration is harmless while a skipped one loses data.
func (m *LegacyMigrator) CheckIfMigrationNeeded(ctx context.Context, wctx WorkspaceContext) bool {
	if m == nil || !wctx.Valid() {
		return false
	}
	docs, err := m.docs.ListDocs(ctx, WorkspacePath(wctx.WorkspaceID, CollectionFormulas))
	if err != nil {
		m.log.Warn().Err(err).Str("workspace", wctx.WorkspaceID).Msg("migration probe failed, assuming migration needed")
		return true
	}
	return len(docs) == 0
}

// Migrate copies every legacy collection from users/{uid} into the workspace.
// Each migrated document keeps its original id and gains migratedAt and
// originalId fields.
func (m *LegacyMigrator) Migrate(ctx context.Context, wctx WorkspaceContext) (MigrationReport, error) {
	report := MigrationReport{Counts: map[Collection]int{}}
	if m == nil {
		return report, ErrInvalidInput
	}
	if wctx.UserID == "" {
		return report, ErrAuthRequired
	}
	if !wctx.Valid() {
		return report, ErrInvalidInput
	}
	stamp := m.now().UTC().Format(time.RFC3339Nano)
	for _, c := range LegacyCollections() {
		count, err := m.migrateCollection(ctx, wctx, c, stamp)
		if err != nil {
			m.log.Error().Err(err).Str("collection", string(c)).Str("workspace", wctx.WorkspaceID).
				Msg("legacy migration aborted")
			return report, fmt.Errorf("migrate %s: %w", c, err)
		}
		report.Counts[c] = count
		report.Total += count
	}
	m.log.Info().Str("workspace", wctx.WorkspaceID).Int("documents", report.Total).Msg("legacy migration complete")
	return report, nil
}

func (m *LegacyMigrator) migrateCollection(ctx context.Context, wctx WorkspaceContext, c Collection, stamp string) (int, error) {
	source, err := m.docs.ListDocs(ctx, LegacyPath(wctx.UserID, c))
	if err != nil {
		return 0, remoteErr(err)
	}
	if len(source) == 0 {
		return 0, nil
	}
	target := WorkspacePath(wctx.WorkspaceID, c)
	writes := make([]DocumentWrite, 0, len(source))
	for id, doc := range source {
		migrated := doc.Clone()
		migrated[FieldMigratedAt] = stamp
		migrated[FieldOriginalID] = id
		writes = append(writes, DocumentWrite{Path: target, ID: id, Doc: migrated})
	}
	if err := m.docs.BatchSet(ctx, writes); err != nil {
		return 0, remoteErr(err)
	}
	return len(writes), nil
}

type MigrationReport struct {
	Counts map[Collection]int `json:"counts"`
	Total  int                `json:"total"`
}
