package authz

import (
	"github.com/google/uuid"

	"github.com/tessera-ai/tessera/internal/store"
)

// CanViewDocument decides document visibility. Clauses are evaluated in
// order: administrative overrides first, then the layer's own audience rule.
// Any single true clause grants access.
func CanViewDocument(s *Snapshot, doc *store.Document) bool {
	if s.IsSuperAdmin() {
		return true
	}
	if doc.OrgID != nil && s.IsOrgAdmin(*doc.OrgID) {
		return true
	}

	switch doc.Layer {
	case store.LayerApp:
		return true
	case store.LayerOrg:
		return s.SameOrg(doc.OrgID)
	case store.LayerProject:
		for _, target := range doc.TargetProjects {
			if s.MemberOfProject(target) {
				return true
			}
		}
		return false
	case store.LayerUser:
		return doc.CreatedBy != nil && *doc.CreatedBy == s.UserID
	default:
		return false
	}
}

// CanSubmitDocument decides whether the caller may ingest into the given
// layer. App-wide content is reserved for super admins; org content for that
// org's members; project content for members of every targeted project
// (org admins may target any project in their org); user content is open.
func CanSubmitDocument(s *Snapshot, layer string, orgID *uuid.UUID, targetProjects []uuid.UUID) bool {
	if s.IsSuperAdmin() {
		return true
	}
	switch layer {
	case store.LayerApp:
		return false
	case store.LayerOrg:
		return s.SameOrg(orgID)
	case store.LayerProject:
		if !s.SameOrg(orgID) {
			return false
		}
		if orgID != nil && s.IsOrgAdmin(*orgID) {
			return true
		}
		for _, target := range targetProjects {
			if !s.MemberOfProject(target) {
				return false
			}
		}
		return len(targetProjects) > 0
	case store.LayerUser:
		return true
	default:
		return false
	}
}

// CanRetagDocument decides whether the caller may change a document's layer
// or audience tags: its creator, a super admin, or an admin of its org.
func CanRetagDocument(s *Snapshot, doc *store.Document) bool {
	if s.IsSuperAdmin() {
		return true
	}
	if doc.OrgID != nil && s.IsOrgAdmin(*doc.OrgID) {
		return true
	}
	return doc.CreatedBy != nil && *doc.CreatedBy == s.UserID
}

// CanViewProfile decides profile visibility: self, admins within
// jurisdiction, and coworkers who share at least one project.
func CanViewProfile(s *Snapshot, subject *store.Profile) bool {
	if subject.ID == s.UserID {
		return true
	}
	if s.IsSuperAdmin() {
		return true
	}
	if subject.OrgID != nil && s.IsOrgAdmin(*subject.OrgID) {
		return true
	}
	return s.coworkerWith(subject.ID)
}

// CanUpdateProfile decides profile mutation: self and admins only.
// Sharing a project grants visibility, never write access.
func CanUpdateProfile(s *Snapshot, subject *store.Profile) bool {
	if subject.ID == s.UserID {
		return true
	}
	if s.IsSuperAdmin() {
		return true
	}
	return subject.OrgID != nil && s.IsOrgAdmin(*subject.OrgID)
}

// Scope converts the snapshot into the SQL visibility filter consumed by
// retrieval queries. It encodes exactly the same clauses as CanViewDocument,
// so a row the filter admits is a row the predicate would admit.
func (s *Snapshot) Scope() store.VisibilityFilter {
	f := store.VisibilityFilter{
		CallerID:   s.UserID,
		All:        s.IsSuperAdmin(),
		OrgID:      s.OrgID,
		ProjectIDs: s.ProjectIDs,
	}
	if s.AppRole == store.RoleOrgAdmin && s.OrgID != nil {
		f.AdminOrgID = s.OrgID
	}
	return f
}
