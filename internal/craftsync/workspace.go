package craftsync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
)

// Workspace is the shared namespace several users/devices sync into.
// Invariants: the owner is always a member, and every member has exactly one
// role.
type Workspace struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	OwnerID   string          `json:"ownerId"`
	Members   []string        `json:"members"`
	Roles     map[string]Role `json:"roles"`
	CreatedAt string          `json:"createdAt"`
}

func (w Workspace) Document() Document {
	members := make([]any, 0, len(w.Members))
	for _, member := range w.Members {
		members = append(members, member)
	}
	roles := make(map[string]any, len(w.Roles))
	for userID, role := range w.Roles {
		roles[userID] = string(role)
	}
	return Document{
		"id":        w.ID,
		"name":      w.Name,
		"ownerId":   w.OwnerID,
		"members":   members,
		"roles":     roles,
		"createdAt": w.CreatedAt,
	}
}

func WorkspaceFromDocument(d Document) Workspace {
	roles := map[string]Role{}
	if raw, ok := d["roles"].(map[string]any); ok {
		for userID, role := range raw {
			if name, ok := role.(string); ok {
				roles[userID] = Role(name)
			}
		}
	}
	return Workspace{
		ID:        asString(d, "id"),
		Name:      asString(d, "name"),
		OwnerID:   asString(d, "ownerId"),
		Members:   asStringSlice(d, "members"),
		Roles:     roles,
		CreatedAt: asString(d, "createdAt"),
	}
}

func (w Workspace) HasMember(userID string) bool {
	for _, member := range w.Members {
		if member == userID {
			return true
		}
	}
	return false
}

// WorkspaceContext carries the resolved workspace identity into every sync
// call. It replaces the ambient mutable workspace-id cell of the original
// design: resolve once after bootstrap/join, then thread explicitly.
type WorkspaceContext struct {
	WorkspaceID string
	UserID      string
	UserEmail   string
}

func (c WorkspaceContext) Valid() bool {
	return strings.TrimSpace(c.WorkspaceID) != "" && strings.TrimSpace(c.UserID) != ""
}

// AuthProvider exposes the signed-in user. Empty user id means signed out.
type AuthProvider interface {
	CurrentUserID() string
	CurrentUserEmail() string
}

type StaticAuth struct {
	UserID string
	Email  string
}

func (a StaticAuth) CurrentUserID() string    { return a.UserID }
func (a StaticAuth) CurrentUserEmail() string { return a.Email }

const bindingWorkspaceField = "currentWorkspaceId"

type WorkspaceManagerOptions struct {
	Docs   DocumentStore
	Auth   AuthProvider
	Logger zerolog.Logger
	Now    func() time.Time
	NewID  func() string
}

type WorkspaceManager struct {
	docs  DocumentStore
	auth  AuthProvider
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

func NewWorkspaceManager(opts WorkspaceManagerOptions) *WorkspaceManager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &WorkspaceManager{
		docs:  opts.Docs,
		auth:  opts.Auth,
		log:   opts.Logger,
		now:   now,
		newID: newID,
	}
}

// Bootstrap returns the current user's workspace, creating one when the user
// has none. A failed binding lookup is treated as "no workspace yet" and
// falls through to creation; repeated calls return the same workspace id.
func (m *WorkspaceManager) Bootstrap(ctx context.Context) (WorkspaceContext, error) {
	userID := strings.TrimSpace(m.auth.CurrentUserID())
	if userID == "" {
		return WorkspaceContext{}, ErrAuthRequired
	}
	email := strings.TrimSpace(m.auth.CurrentUserEmail())

	binding, err := m.docs.GetDoc(ctx, usersRoot, userID)
	if err == nil {
		if workspaceID := asString(binding, bindingWorkspaceField); workspaceID != "" {
			return WorkspaceContext{WorkspaceID: workspaceID, UserID: userID, UserEmail: email}, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		m.log.Warn().Err(err).Str("user", userID).Msg("binding lookup failed, creating workspace")
	}

	name := email
	if name == "" {
		name = userID
	}
	workspace := Workspace{
		ID:        m.newID(),
		Name:      name,
		OwnerID:   userID,
		Members:   []string{userID},
		Roles:     map[string]Role{userID: RoleOwner},
		CreatedAt: m.now().UTC().Format(time.RFC3339Nano),
	}
	writes := []DocumentWrite{
		{Path: workspacesRoot, ID: workspace.ID, Doc: workspace.Document()},
		{Path: usersRoot, ID: userID, Doc: Document{bindingWorkspaceField: workspace.ID}},
	}
	if err := m.docs.BatchSet(ctx, writes); err != nil {
		return WorkspaceContext{}, remoteErr(err)
	}
	m.log.Info().Str("workspace", workspace.ID).Str("user", userID).Msg("workspace created")
	return WorkspaceContext{WorkspaceID: workspace.ID, UserID: userID, UserEmail: email}, nil
}

// Join adds the current user to an existing workspace and repoints their
// binding at it, atomically via the store's transaction primitive.
func (m *WorkspaceManager) Join(ctx context.Context, workspaceID string) (WorkspaceContext, error) {
	userID := strings.TrimSpace(m.auth.CurrentUserID())
	if userID == "" {
		return WorkspaceContext{}, ErrAuthRequired
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return WorkspaceContext{}, ErrInvalidInput
	}

	err := m.docs.RunTransaction(ctx, func(tx DocumentTx) error {
		doc, err := tx.Get(workspacesRoot, workspaceID)
		if errors.Is(err, ErrNotFound) {
			return ErrWorkspaceNotFound
		}
		if err != nil {
			return err
		}
		workspace := WorkspaceFromDocument(doc)
		if !workspace.HasMember(userID) {
			workspace.Members = append(workspace.Members, userID)
			sort.Strings(workspace.Members)
		}
		if workspace.Roles == nil {
			workspace.Roles = map[string]Role{}
		}
		if _, ok := workspace.Roles[userID]; !ok {
			workspace.Roles[userID] = RoleEditor
		}
		tx.Set(workspacesRoot, workspaceID, workspace.Document())
		tx.Set(usersRoot, userID, Document{bindingWorkspaceField: workspaceID})
		return nil
	})
	if errors.Is(err, ErrWorkspaceNotFound) {
		return WorkspaceContext{}, ErrWorkspaceNotFound
	}
	if err != nil {
		return WorkspaceContext{}, remoteErr(err)
	}
	m.log.Info().Str("workspace", workspaceID).Str("user", userID).Msg("joined workspace")
	return WorkspaceContext{WorkspaceID: workspaceID, UserID: userID, UserEmail: strings.TrimSpace(m.auth.CurrentUserEmail())}, nil
}

// Resolve is the best-effort lookup: nil when signed out, unbound, or the
// remote store cannot be reached.
func (m *WorkspaceManager) Resolve(ctx context.Context) *WorkspaceContext {
	userID := strings.TrimSpace(m.auth.CurrentUserID())
	if userID == "" {
		return nil
	}
	binding, err := m.docs.GetDoc(ctx, usersRoot, userID)
	if err != nil {
		return nil
	}
	workspaceID := asString(binding, bindingWorkspaceField)
	if workspaceID == "" {
		return nil
	}
	return &WorkspaceContext{
		WorkspaceID: workspaceID,
		UserID:      userID,
		UserEmail:   strings.TrimSpace(m.auth.CurrentUserEmail()),
	}
}

// GetWorkspace fetches the workspace document for display purposes.
func (m *WorkspaceManager) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	doc, err := m.docs.GetDoc(ctx, workspacesRoot, strings.TrimSpace(workspaceID))
	if errors.Is(err, ErrNotFound) {
		return Workspace{}, ErrWorkspaceNotFound
	}
	if err != nil {
		return Workspace{}, remoteErr(err)
	}
	return WorkspaceFromDocument(doc), nil
}
