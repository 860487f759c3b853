package craftsync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testMigrator(docs DocumentStore) *LegacyMigrator {
	migrator := NewLegacyMigrator(docs, zerolog.Nop())
	migrator.now = func() time.Time { return time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC) }
	return migrator
}

func seedLegacy(t *testing.T, docs DocumentStore, userID string) {
	t.Helper()
	ctx := context.Background()
	writes := []DocumentWrite{
		{Path: LegacyPath(userID, CollectionFormulas), ID: "1", Doc: Formula{ID: 1, Name: "Jabón de miel"}.Document()},
		{Path: LegacyPath(userID, CollectionFormulas), ID: "2", Doc: Formula{ID: 2, Name: "Crema base"}.Document()},
		{Path: LegacyPath(userID, CollectionSales), ID: "5", Doc: Sale{ID: 5, Product: "Jabón de miel", Quantity: 3, Amount: 21}.Document()},
		{Path: LegacyPath(userID, CollectionNotes), ID: "9", Doc: Note{ID: 9, Title: "Proveedor nuevo"}.Document()},
	}
	if err := docs.BatchSet(ctx, writes); err != nil {
		t.Fatalf("seed legacy data failed: %v", err)
	}
}

func TestCheckIfMigrationNeeded(t *testing.T) {
	docs := NewMemoryDocumentStore()
	migrator := testMigrator(docs)
	ctx := context.Background()
	wctx := testContext()

	if !migrator.CheckIfMigrationNeeded(ctx, wctx) {
		t.Fatalf("empty workspace should need migration")
	}

	err := docs.SetDoc(ctx, WorkspacePath(wctx.WorkspaceID, CollectionFormulas), "1", Formula{ID: 1, Name: "Jabón"}.Document())
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if migrator.CheckIfMigrationNeeded(ctx, wctx) {
		t.Fatalf("populated workspace should not need migration")
	}
}

func TestCheckIfMigrationNeededOnProbeError(t *testing.T) {
	docs := &failingDocStore{DocumentStore: NewMemoryDocumentStore(), fragment: string(CollectionFormulas)}
	migrator := testMigrator(docs)
	if !migrator.CheckIfMigrationNeeded(context.Background(), testContext()) {
		t.Fatalf("probe failure should report migration needed")
	}
}

func TestMigrateCopiesLegacyCollections(t *testing.T) {
	docs := NewMemoryDocumentStore()
	migrator := testMigrator(docs)
	ctx := context.Background()
	wctx := testContext()
	seedLegacy(t, docs, wctx.UserID)

	report, err := migrator.Migrate(ctx, wctx)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if report.Total != 4 {
		t.Fatalf("expected 4 migrated documents, got %d", report.Total)
	}
	if report.Counts[CollectionFormulas] != 2 || report.Counts[CollectionSales] != 1 {
		t.Fatalf("unexpected per-collection counts %+v", report.Counts)
	}

	migrated, err := docs.GetDoc(ctx, WorkspacePath(wctx.WorkspaceID, CollectionFormulas), "2")
	if err != nil {
		t.Fatalf("expected migrated formula: %v", err)
	}
	if asString(migrated, "nombre") != "Crema base" {
		t.Fatalf("migrated payload mutated: %+v", migrated)
	}
	if asString(migrated, FieldMigratedAt) == "" {
		t.Fatalf("expected migratedAt stamp")
	}
	if asString(migrated, FieldOriginalID) != "2" {
		t.Fatalf("expected originalId to keep the legacy key, got %q", asString(migrated, FieldOriginalID))
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	docs := NewMemoryDocumentStore()
	migrator := testMigrator(docs)
	ctx := context.Background()
	wctx := testContext()
	seedLegacy(t, docs, wctx.UserID)

	if _, err := migrator.Migrate(ctx, wctx); err != nil {
		t.Fatalf("first migrate failed: %v", err)
	}
	if _, err := migrator.Migrate(ctx, wctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	formulas, err := docs.ListDocs(ctx, WorkspacePath(wctx.WorkspaceID, CollectionFormulas))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(formulas) != 2 {
		t.Fatalf("re-migration duplicated documents: %d formulas", len(formulas))
	}
}

func TestMigrateAbortsOnCollectionFailure(t *testing.T) {
	docs := &failingDocStore{DocumentStore: NewMemoryDocumentStore(), fragment: string(CollectionSales)}
	seedLegacy(t, docs.DocumentStore, "u_1")
	migrator := testMigrator(docs)
	wctx := testContext()

	if _, err := migrator.Migrate(context.Background(), wctx); err == nil {
		t.Fatalf("expected migrate to abort on sales failure")
	}

	notes, err := docs.DocumentStore.ListDocs(context.Background(), WorkspacePath(wctx.WorkspaceID, CollectionNotes))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(notes) != 0 {
		t.Fatalf("collections after the failure must not be written, got %d notes", len(notes))
	}
}

func TestMigrateRequiresAuthAndWorkspace(t *testing.T) {
	migrator := testMigrator(NewMemoryDocumentStore())
	if _, err := migrator.Migrate(context.Background(), WorkspaceContext{WorkspaceID: "ws_1"}); err != ErrAuthRequired {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if _, err := migrator.Migrate(context.Background(), WorkspaceContext{UserID: "u_1"}); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
