package craftsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testWorkspaceManager(docs DocumentStore, userID, email string) *WorkspaceManager {
	counter := 0
	return NewWorkspaceManager(WorkspaceManagerOptions{
		Docs:   docs,
		Auth:   StaticAuth{UserID: userID, Email: email},
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC) },
		NewID: func() string {
			counter++
			return fmt.Sprintf("ws_test_%d", counter)
		},
	})
}

func TestBootstrapRequiresSignedInUser(t *testing.T) {
	manager := testWorkspaceManager(NewMemoryDocumentStore(), "", "")
	if _, err := manager.Bootstrap(context.Background()); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestBootstrapCreatesWorkspaceOnce(t *testing.T) {
	docs := NewMemoryDocumentStore()
	manager := testWorkspaceManager(docs, "u_1", "maria@taller.test")
	ctx := context.Background()

	first, err := manager.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if first.WorkspaceID == "" || first.UserID != "u_1" {
		t.Fatalf("unexpected context %+v", first)
	}

	second, err := manager.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	if second.WorkspaceID != first.WorkspaceID {
		t.Fatalf("bootstrap not idempotent: %q then %q", first.WorkspaceID, second.WorkspaceID)
	}

	workspaces, err := docs.ListDocs(ctx, "workspaces")
	if err != nil {
		t.Fatalf("list workspaces failed: %v", err)
	}
	if len(workspaces) != 1 {
		t.Fatalf("expected exactly one workspace document, got %d", len(workspaces))
	}
	workspace := WorkspaceFromDocument(workspaces[first.WorkspaceID])
	if workspace.OwnerID != "u_1" || workspace.Roles["u_1"] != RoleOwner {
		t.Fatalf("unexpected workspace %+v", workspace)
	}

	binding, err := docs.GetDoc(ctx, "users", "u_1")
	if err != nil {
		t.Fatalf("expected binding document: %v", err)
	}
	if got := asString(binding, "currentWorkspaceId"); got != first.WorkspaceID {
		t.Fatalf("binding points at %q, want %q", got, first.WorkspaceID)
	}
}

func TestJoinAddsMemberAndRebindsUser(t *testing.T) {
	docs := NewMemoryDocumentStore()
	ctx := context.Background()

	owner := testWorkspaceManager(docs, "u_1", "maria@taller.test")
	created, err := owner.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("owner bootstrap failed: %v", err)
	}

	joiner := testWorkspaceManager(docs, "u_2", "pedro@taller.test")
	joined, err := joiner.Join(ctx, created.WorkspaceID)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if joined.WorkspaceID != created.WorkspaceID || joined.UserID != "u_2" {
		t.Fatalf("unexpected join context %+v", joined)
	}

	workspace, err := joiner.GetWorkspace(ctx, created.WorkspaceID)
	if err != nil {
		t.Fatalf("get workspace failed: %v", err)
	}
	if !workspace.HasMember("u_1") || !workspace.HasMember("u_2") {
		t.Fatalf("expected both members, got %v", workspace.Members)
	}
	if workspace.Roles["u_2"] != RoleEditor {
		t.Fatalf("expected joiner role editor, got %q", workspace.Roles["u_2"])
	}
	if workspace.Roles["u_1"] != RoleOwner {
		t.Fatalf("join must not touch the owner role, got %q", workspace.Roles["u_1"])
	}

	binding, err := docs.GetDoc(ctx, "users", "u_2")
	if err != nil {
		t.Fatalf("expected joiner binding: %v", err)
	}
	if got := asString(binding, "currentWorkspaceId"); got != created.WorkspaceID {
		t.Fatalf("joiner binding points at %q, want %q", got, created.WorkspaceID)
	}
}

func TestJoinIsIdempotentForExistingMember(t *testing.T) {
	docs := NewMemoryDocumentStore()
	ctx := context.Background()

	owner := testWorkspaceManager(docs, "u_1", "maria@taller.test")
	created, err := owner.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if _, err := owner.Join(ctx, created.WorkspaceID); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}

	workspace, err := owner.GetWorkspace(ctx, created.WorkspaceID)
	if err != nil {
		t.Fatalf("get workspace failed: %v", err)
	}
	if len(workspace.Members) != 1 {
		t.Fatalf("expected single member after rejoin, got %v", workspace.Members)
	}
	if workspace.Roles["u_1"] != RoleOwner {
		t.Fatalf("rejoin demoted the owner to %q", workspace.Roles["u_1"])
	}
}

func TestJoinUnknownWorkspace(t *testing.T) {
	manager := testWorkspaceManager(NewMemoryDocumentStore(), "u_1", "")
	if _, err := manager.Join(context.Background(), "ws_missing"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestResolveIsBestEffort(t *testing.T) {
	docs := NewMemoryDocumentStore()
	ctx := context.Background()

	if got := testWorkspaceManager(docs, "", "").Resolve(ctx); got != nil {
		t.Fatalf("expected nil for signed-out user, got %+v", got)
	}
	if got := testWorkspaceManager(docs, "u_9", "").Resolve(ctx); got != nil {
		t.Fatalf("expected nil for unbound user, got %+v", got)
	}

	manager := testWorkspaceManager(docs, "u_1", "maria@taller.test")
	created, err := manager.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	resolved := manager.Resolve(ctx)
	if resolved == nil || resolved.WorkspaceID != created.WorkspaceID {
		t.Fatalf("expected resolved context %q, got %+v", created.WorkspaceID, resolved)
	}
}
