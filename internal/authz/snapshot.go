// Package authz decides who may see and change what.
//
// All decisions are pure functions over a Snapshot of the caller's identity.
// The Snapshot is loaded once per request with elevated reads against
// identity tables (profiles, memberships, project_members); the predicates
// themselves never touch the database, so authorization can never recurse
// into the tables it protects.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tessera-ai/tessera/internal/store"
)

// ErrUnknownCaller indicates the caller id has no profile row.
var ErrUnknownCaller = errors.New("authz: unknown caller")

// Snapshot is everything the predicates need to know about a caller.
type Snapshot struct {
	UserID      uuid.UUID
	AppRole     string      // store.RoleSuperAdmin, RoleOrgAdmin, or RoleUser
	OrgID       *uuid.UUID  // caller's organization, nil when unaffiliated
	ProjectIDs  []uuid.UUID // projects the caller is a member of
	LeaderOf    []uuid.UUID // subset of ProjectIDs where role is leader
	CoworkerIDs []uuid.UUID // users sharing at least one project with the caller
}

// IdentityReader is the slice of the store the loader needs.
type IdentityReader interface {
	GetProfile(ctx context.Context, id uuid.UUID) (store.Profile, error)
	ListProjectMemberships(ctx context.Context, userID uuid.UUID) ([]store.ProjectMembership, error)
	ListCoworkerIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Loader builds Snapshots from identity tables.
type Loader struct {
	reader IdentityReader
}

// NewLoader returns a Loader backed by the given identity reader.
func NewLoader(reader IdentityReader) *Loader {
	return &Loader{reader: reader}
}

// Load assembles the caller's identity snapshot.
func (l *Loader) Load(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	profile, err := l.reader.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCaller, userID)
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}

	snap := &Snapshot{
		UserID:  profile.ID,
		AppRole: store.RoleUser,
		OrgID:   profile.OrgID,
	}
	if profile.AppRole != nil {
		snap.AppRole = *profile.AppRole
	}

	memberships, err := l.reader.ListProjectMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load project memberships: %w", err)
	}
	for _, m := range memberships {
		snap.ProjectIDs = append(snap.ProjectIDs, m.ProjectID)
		if m.Role == store.ProjectRoleLeader {
			snap.LeaderOf = append(snap.LeaderOf, m.ProjectID)
		}
	}

	coworkers, err := l.reader.ListCoworkerIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load coworkers: %w", err)
	}
	snap.CoworkerIDs = coworkers

	return snap, nil
}

// IsSuperAdmin reports whether the caller holds the application-wide role.
func (s *Snapshot) IsSuperAdmin() bool {
	return s.AppRole == store.RoleSuperAdmin
}

// IsOrgAdmin reports whether the caller administers the given organization.
// Org admin authority never crosses organization boundaries.
func (s *Snapshot) IsOrgAdmin(orgID uuid.UUID) bool {
	return s.AppRole == store.RoleOrgAdmin && s.OrgID != nil && *s.OrgID == orgID
}

// MemberOfProject reports whether the caller belongs to the project.
func (s *Snapshot) MemberOfProject(projectID uuid.UUID) bool {
	for _, id := range s.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}

// LeaderOfProject reports whether the caller leads the project.
func (s *Snapshot) LeaderOfProject(projectID uuid.UUID) bool {
	for _, id := range s.LeaderOf {
		if id == projectID {
			return true
		}
	}
	return false
}

// SameOrg reports whether the caller belongs to the given organization.
func (s *Snapshot) SameOrg(orgID *uuid.UUID) bool {
	return s.OrgID != nil && orgID != nil && *s.OrgID == *orgID
}

func (s *Snapshot) coworkerWith(userID uuid.UUID) bool {
	for _, id := range s.CoworkerIDs {
		if id == userID {
			return true
		}
	}
	return false
}
