package store

import (
	"context"

	"github.com/google/uuid"
)

// Identity reads. These back the authorization engine's snapshot: they are
// plain reads over membership/role data and are never themselves gated by
// document visibility, avoiding recursive authorization.

const getProfile = `SELECT id, org_id, app_role, full_name FROM profiles WHERE id = $1`

// GetProfile retrieves a caller profile by id.
func (q *Queries) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	var p Profile
	err := q.db.QueryRow(ctx, getProfile, id).Scan(&p.ID, &p.OrgID, &p.AppRole, &p.FullName)
	return p, err
}

const listProjectMemberships = `
SELECT project_id, role FROM project_members WHERE user_id = $1`

// ListProjectMemberships returns all (project, role) pairs for a user.
func (q *Queries) ListProjectMemberships(ctx context.Context, userID uuid.UUID) ([]ProjectMembership, error) {
	rows, err := q.db.Query(ctx, listProjectMemberships, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []ProjectMembership
	for rows.Next() {
		var m ProjectMembership
		if err := rows.Scan(&m.ProjectID, &m.Role); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

const listCoworkerIDs = `
SELECT DISTINCT other.user_id
FROM project_members own
JOIN project_members other ON other.project_id = own.project_id
WHERE own.user_id = $1 AND other.user_id <> $1`

// ListCoworkerIDs returns all users sharing at least one project with userID.
func (q *Queries) ListCoworkerIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listCoworkerIDs, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const hasActiveMembership = `
SELECT EXISTS (
	SELECT 1 FROM memberships
	WHERE org_id = $1 AND user_id = $2 AND status = 'active'
)`

// HasActiveMembership reports whether the user is an active member of the organization.
func (q *Queries) HasActiveMembership(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, hasActiveMembership, orgID, userID).Scan(&ok)
	return ok, err
}

const getProjectIdentity = `
SELECT market_type, project_type, description FROM projects WHERE id = $1`

// GetProjectIdentity returns the stored identity of a project.
func (q *Queries) GetProjectIdentity(ctx context.Context, projectID uuid.UUID) (ProjectIdentity, error) {
	var p ProjectIdentity
	err := q.db.QueryRow(ctx, getProjectIdentity, projectID).Scan(&p.MarketType, &p.ProjectType, &p.Description)
	return p, err
}

const countProjectsInOrg = `
SELECT count(*) FROM projects WHERE org_id = $1 AND id = ANY($2)`

// CountProjectsInOrg counts how many of the given project ids belong to the
// organization. Used to validate project-layer submissions.
func (q *Queries) CountProjectsInOrg(ctx context.Context, orgID uuid.UUID, projectIDs []uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countProjectsInOrg, orgID, projectIDs).Scan(&n)
	return n, err
}
