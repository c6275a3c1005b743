package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tessera-ai/tessera/internal/store"
)

func strPtr(s string) *string { return &s }

func TestCanViewDocument(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	projectX := uuid.New()
	projectY := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	member := &Snapshot{
		UserID:     alice,
		AppRole:    store.RoleUser,
		OrgID:      &orgA,
		ProjectIDs: []uuid.UUID{projectX},
	}

	t.Run("app layer visible to everyone", func(t *testing.T) {
		doc := &store.Document{Layer: store.LayerApp}
		if !CanViewDocument(member, doc) {
			t.Error("expected app-layer document to be visible")
		}
		stranger := &Snapshot{UserID: bob, AppRole: store.RoleUser}
		if !CanViewDocument(stranger, doc) {
			t.Error("expected app-layer document visible to unaffiliated user")
		}
	})

	t.Run("org layer requires same org", func(t *testing.T) {
		doc := &store.Document{Layer: store.LayerOrg, OrgID: &orgA}
		if !CanViewDocument(member, doc) {
			t.Error("expected org member to see org document")
		}
		outsider := &Snapshot{UserID: bob, AppRole: store.RoleUser, OrgID: &orgB}
		if CanViewDocument(outsider, doc) {
			t.Error("expected user from another org to be denied")
		}
		unaffiliated := &Snapshot{UserID: bob, AppRole: store.RoleUser}
		if CanViewDocument(unaffiliated, doc) {
			t.Error("expected user without an org to be denied")
		}
	})

	t.Run("project layer requires membership intersection", func(t *testing.T) {
		doc := &store.Document{Layer: store.LayerProject, OrgID: &orgA, TargetProjects: []uuid.UUID{projectX, projectY}}
		if !CanViewDocument(member, doc) {
			t.Error("expected member of a targeted project to see document")
		}
		other := &Snapshot{UserID: bob, AppRole: store.RoleUser, OrgID: &orgA, ProjectIDs: []uuid.UUID{uuid.New()}}
		if CanViewDocument(other, doc) {
			t.Error("expected same-org user outside the target projects to be denied")
		}
	})

	t.Run("user layer requires creator", func(t *testing.T) {
		doc := &store.Document{Layer: store.LayerUser, CreatedBy: &alice}
		if !CanViewDocument(member, doc) {
			t.Error("expected creator to see own document")
		}
		other := &Snapshot{UserID: bob, AppRole: store.RoleUser, OrgID: &orgA}
		if CanViewDocument(other, doc) {
			t.Error("expected non-creator to be denied")
		}
	})

	t.Run("super admin sees every layer", func(t *testing.T) {
		super := &Snapshot{UserID: bob, AppRole: store.RoleSuperAdmin}
		docs := []*store.Document{
			{Layer: store.LayerApp},
			{Layer: store.LayerOrg, OrgID: &orgA},
			{Layer: store.LayerProject, OrgID: &orgA, TargetProjects: []uuid.UUID{projectX}},
			{Layer: store.LayerUser, CreatedBy: &alice},
		}
		for _, doc := range docs {
			if !CanViewDocument(super, doc) {
				t.Errorf("expected super admin to see %s-layer document", doc.Layer)
			}
		}
	})

	t.Run("org admin sees everything inside own org only", func(t *testing.T) {
		admin := &Snapshot{UserID: bob, AppRole: store.RoleOrgAdmin, OrgID: &orgA}

		inside := &store.Document{Layer: store.LayerUser, OrgID: &orgA, CreatedBy: &alice}
		if !CanViewDocument(admin, inside) {
			t.Error("expected org admin to see user-layer document in own org")
		}

		outside := &store.Document{Layer: store.LayerOrg, OrgID: &orgB}
		if CanViewDocument(admin, outside) {
			t.Error("expected org admin denied outside own org")
		}
	})

	t.Run("admin grant is monotone over member grant", func(t *testing.T) {
		docs := []*store.Document{
			{Layer: store.LayerApp},
			{Layer: store.LayerOrg, OrgID: &orgA},
			{Layer: store.LayerProject, OrgID: &orgA, TargetProjects: []uuid.UUID{projectX}},
			{Layer: store.LayerUser, OrgID: &orgA, CreatedBy: &alice},
		}
		admin := &Snapshot{
			UserID:     alice,
			AppRole:    store.RoleOrgAdmin,
			OrgID:      member.OrgID,
			ProjectIDs: member.ProjectIDs,
		}
		for _, doc := range docs {
			if CanViewDocument(member, doc) && !CanViewDocument(admin, doc) {
				t.Errorf("promoting to org admin revoked access to %s-layer document", doc.Layer)
			}
		}
	})

	t.Run("unknown layer denied", func(t *testing.T) {
		doc := &store.Document{Layer: "banner"}
		if CanViewDocument(member, doc) {
			t.Error("expected unknown layer to be denied")
		}
	})
}

func TestCanSubmitDocument(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	projectX := uuid.New()
	projectY := uuid.New()
	alice := uuid.New()

	member := &Snapshot{UserID: alice, AppRole: store.RoleUser, OrgID: &orgA, ProjectIDs: []uuid.UUID{projectX}}

	t.Run("app layer reserved for super admin", func(t *testing.T) {
		if CanSubmitDocument(member, store.LayerApp, nil, nil) {
			t.Error("expected regular user denied app-layer submission")
		}
		super := &Snapshot{UserID: alice, AppRole: store.RoleSuperAdmin}
		if !CanSubmitDocument(super, store.LayerApp, nil, nil) {
			t.Error("expected super admin allowed app-layer submission")
		}
	})

	t.Run("org layer requires same org", func(t *testing.T) {
		if !CanSubmitDocument(member, store.LayerOrg, &orgA, nil) {
			t.Error("expected member allowed org-layer submission in own org")
		}
		if CanSubmitDocument(member, store.LayerOrg, &orgB, nil) {
			t.Error("expected member denied org-layer submission elsewhere")
		}
	})

	t.Run("project layer requires membership in every target", func(t *testing.T) {
		if !CanSubmitDocument(member, store.LayerProject, &orgA, []uuid.UUID{projectX}) {
			t.Error("expected member allowed targeting own project")
		}
		if CanSubmitDocument(member, store.LayerProject, &orgA, []uuid.UUID{projectX, projectY}) {
			t.Error("expected member denied targeting a project they are not in")
		}
		admin := &Snapshot{UserID: alice, AppRole: store.RoleOrgAdmin, OrgID: &orgA}
		if !CanSubmitDocument(admin, store.LayerProject, &orgA, []uuid.UUID{projectY}) {
			t.Error("expected org admin allowed targeting any project in own org")
		}
	})

	t.Run("user layer open to anyone", func(t *testing.T) {
		if !CanSubmitDocument(member, store.LayerUser, nil, nil) {
			t.Error("expected user-layer submission allowed")
		}
	})
}

func TestCanRetagDocument(t *testing.T) {
	orgA := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	doc := &store.Document{Layer: store.LayerOrg, OrgID: &orgA, CreatedBy: &alice}

	creator := &Snapshot{UserID: alice, AppRole: store.RoleUser, OrgID: &orgA}
	if !CanRetagDocument(creator, doc) {
		t.Error("expected creator to retag own document")
	}

	peer := &Snapshot{UserID: bob, AppRole: store.RoleUser, OrgID: &orgA}
	if CanRetagDocument(peer, doc) {
		t.Error("expected same-org peer to be denied retag")
	}

	admin := &Snapshot{UserID: bob, AppRole: store.RoleOrgAdmin, OrgID: &orgA}
	if !CanRetagDocument(admin, doc) {
		t.Error("expected org admin to retag documents in own org")
	}
}

func TestProfileRules(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	subject := &store.Profile{ID: bob, OrgID: &orgA}

	t.Run("self can view and update", func(t *testing.T) {
		self := &Snapshot{UserID: bob, AppRole: store.RoleUser, OrgID: &orgA}
		if !CanViewProfile(self, subject) || !CanUpdateProfile(self, subject) {
			t.Error("expected self access to own profile")
		}
	})

	t.Run("coworker can view but not update", func(t *testing.T) {
		coworker := &Snapshot{UserID: alice, AppRole: store.RoleUser, OrgID: &orgA, CoworkerIDs: []uuid.UUID{bob}}
		if !CanViewProfile(coworker, subject) {
			t.Error("expected coworker to view profile")
		}
		if CanUpdateProfile(coworker, subject) {
			t.Error("expected coworker denied profile update")
		}
	})

	t.Run("stranger in same org denied view", func(t *testing.T) {
		stranger := &Snapshot{UserID: alice, AppRole: store.RoleUser, OrgID: &orgA}
		if CanViewProfile(stranger, subject) {
			t.Error("expected non-coworker denied profile view")
		}
	})

	t.Run("org admin bounded by jurisdiction", func(t *testing.T) {
		admin := &Snapshot{UserID: alice, AppRole: store.RoleOrgAdmin, OrgID: &orgA}
		if !CanViewProfile(admin, subject) || !CanUpdateProfile(admin, subject) {
			t.Error("expected org admin full access inside own org")
		}
		foreignAdmin := &Snapshot{UserID: alice, AppRole: store.RoleOrgAdmin, OrgID: &orgB}
		if CanViewProfile(foreignAdmin, subject) || CanUpdateProfile(foreignAdmin, subject) {
			t.Error("expected org admin denied outside own org")
		}
	})
}

func TestScope(t *testing.T) {
	orgA := uuid.New()
	projectX := uuid.New()
	alice := uuid.New()

	t.Run("regular member", func(t *testing.T) {
		s := &Snapshot{UserID: alice, AppRole: store.RoleUser, OrgID: &orgA, ProjectIDs: []uuid.UUID{projectX}}
		f := s.Scope()
		if f.All {
			t.Error("expected regular member not to get the all flag")
		}
		if f.AdminOrgID != nil {
			t.Error("expected regular member not to get admin org")
		}
		if f.OrgID == nil || *f.OrgID != orgA {
			t.Error("expected member org to flow into filter")
		}
		if f.CallerID != alice {
			t.Error("expected caller id to flow into filter")
		}
	})

	t.Run("super admin", func(t *testing.T) {
		s := &Snapshot{UserID: alice, AppRole: store.RoleSuperAdmin}
		if f := s.Scope(); !f.All {
			t.Error("expected super admin filter to admit everything")
		}
	})

	t.Run("org admin", func(t *testing.T) {
		s := &Snapshot{UserID: alice, AppRole: store.RoleOrgAdmin, OrgID: &orgA}
		f := s.Scope()
		if f.All {
			t.Error("expected org admin not to get the all flag")
		}
		if f.AdminOrgID == nil || *f.AdminOrgID != orgA {
			t.Error("expected org admin jurisdiction to flow into filter")
		}
	})
}

type fakeIdentityReader struct {
	profiles    map[uuid.UUID]store.Profile
	memberships map[uuid.UUID][]store.ProjectMembership
	coworkers   map[uuid.UUID][]uuid.UUID
}

func (f *fakeIdentityReader) GetProfile(_ context.Context, id uuid.UUID) (store.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return store.Profile{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeIdentityReader) ListProjectMemberships(_ context.Context, userID uuid.UUID) ([]store.ProjectMembership, error) {
	return f.memberships[userID], nil
}

func (f *fakeIdentityReader) ListCoworkerIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return f.coworkers[userID], nil
}

func TestLoader(t *testing.T) {
	orgA := uuid.New()
	projectX := uuid.New()
	projectY := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	reader := &fakeIdentityReader{
		profiles: map[uuid.UUID]store.Profile{
			alice: {ID: alice, OrgID: &orgA, AppRole: strPtr(store.RoleUser)},
			bob:   {ID: bob},
		},
		memberships: map[uuid.UUID][]store.ProjectMembership{
			alice: {
				{ProjectID: projectX, Role: store.ProjectRoleLeader},
				{ProjectID: projectY, Role: store.ProjectRoleMember},
			},
		},
		coworkers: map[uuid.UUID][]uuid.UUID{
			alice: {bob},
		},
	}
	loader := NewLoader(reader)

	t.Run("assembles snapshot", func(t *testing.T) {
		snap, err := loader.Load(context.Background(), alice)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if snap.UserID != alice {
			t.Errorf("UserID = %v, want %v", snap.UserID, alice)
		}
		if len(snap.ProjectIDs) != 2 {
			t.Errorf("ProjectIDs = %v, want 2 entries", snap.ProjectIDs)
		}
		if len(snap.LeaderOf) != 1 || snap.LeaderOf[0] != projectX {
			t.Errorf("LeaderOf = %v, want [%v]", snap.LeaderOf, projectX)
		}
		if !snap.coworkerWith(bob) {
			t.Error("expected bob to be a coworker")
		}
	})

	t.Run("missing app role defaults to user", func(t *testing.T) {
		snap, err := loader.Load(context.Background(), bob)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if snap.AppRole != store.RoleUser {
			t.Errorf("AppRole = %q, want %q", snap.AppRole, store.RoleUser)
		}
	})

	t.Run("unknown caller", func(t *testing.T) {
		_, err := loader.Load(context.Background(), uuid.New())
		if !errors.Is(err, ErrUnknownCaller) {
			t.Errorf("Load() error = %v, want ErrUnknownCaller", err)
		}
	})
}
