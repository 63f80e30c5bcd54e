package access

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/trellishq/trellis/pkg/orgs"
	"github.com/trellishq/trellis/pkg/policy"
	"github.com/trellishq/trellis/pkg/timeline"
)

type testStores struct {
	db       *sql.DB
	nodes    *timeline.Store
	policies *policy.Store
	orgs     *orgs.Store
}

func setupStores(t *testing.T) *testStores {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE timeline_nodes (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			parent_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE node_closure (
			ancestor_id TEXT NOT NULL,
			descendant_id TEXT NOT NULL,
			depth INTEGER NOT NULL,
			PRIMARY KEY (ancestor_id, descendant_id)
		);
		CREATE TABLE node_policies (
			id TEXT PRIMARY KEY,
			node_id TEXT NOT NULL,
			subject_type TEXT NOT NULL,
			subject_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT 'view',
			effect TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMP,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (name, type)
		);
		CREATE TABLE org_members (
			org_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at TIMESTAMP NOT NULL,
			PRIMARY KEY (org_id, user_id)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	return &testStores{
		db:       db,
		nodes:    timeline.NewStore(db),
		policies: policy.NewStore(db),
		orgs:     orgs.NewStore(db),
	}
}

func (s *testStores) createNode(t *testing.T, id, owner string, parentID *string) {
	t.Helper()
	node := &timeline.Node{ID: id, OwnerID: owner, Kind: timeline.KindJob, ParentID: parentID}
	if err := s.nodes.CreateNode(context.Background(), node); err != nil {
		t.Fatalf("CreateNode(%s) failed: %v", id, err)
	}
}

func (s *testStores) setPolicies(t *testing.T, nodeID string, policies []policy.NodePolicy) {
	t.Helper()
	if _, err := s.policies.SetPolicies(context.Background(), nodeID, policies); err != nil {
		t.Fatalf("SetPolicies(%s) failed: %v", nodeID, err)
	}
}

func (s *testStores) addMember(t *testing.T, orgName, userID string) string {
	t.Helper()
	org, err := s.orgs.CreateOrganization(context.Background(), orgName, orgs.OrgTypeCompany, nil)
	if err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}
	if err := s.orgs.AddMember(context.Background(), org.ID, userID, orgs.RoleMember); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	return org.ID
}

func TestResolver_Check(t *testing.T) {
	stores := setupStores(t)
	ctx := context.Background()
	resolver := NewResolver(stores.nodes, stores.policies, stores.orgs)

	stores.createNode(t, "node-1", "owner", nil)

	// Owner is always Allow/Full, even with a direct deny present.
	stores.setPolicies(t, "node-1", []policy.NodePolicy{
		{SubjectType: policy.SubjectUser, SubjectID: "owner", Effect: policy.EffectDeny},
		{SubjectType: policy.SubjectUser, SubjectID: "user-2", Effect: policy.EffectAllow, Level: policy.LevelOverview},
	})

	d, err := resolver.Check(ctx, "node-1", "owner", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Allowed || d.Level != policy.LevelFull || d.Source != SourceOwner {
		t.Errorf("Expected owner Allow/Full, got %+v", d)
	}

	d, err = resolver.Check(ctx, "node-1", "user-2", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Allowed || d.Level != policy.LevelOverview {
		t.Errorf("Expected user-2 Allow/Overview, got %+v", d)
	}

	d, err = resolver.Check(ctx, "node-1", "user-3", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Errorf("Expected default deny for user-3, got %+v", d)
	}

	_, err = resolver.Check(ctx, "missing", "owner", policy.ActionView)
	if !timeline.IsNotFound(err) {
		t.Errorf("Expected not found for missing node, got %v", err)
	}
}

func TestResolver_OrgMembershipGating(t *testing.T) {
	stores := setupStores(t)
	ctx := context.Background()
	resolver := NewResolver(stores.nodes, stores.policies, stores.orgs)

	stores.createNode(t, "node-1", "owner", nil)
	orgID := stores.addMember(t, "Acme Corp", "member-1")
	stores.setPolicies(t, "node-1", []policy.NodePolicy{
		{SubjectType: policy.SubjectOrg, SubjectID: orgID, Effect: policy.EffectAllow, Level: policy.LevelOverview},
	})

	d, err := resolver.Check(ctx, "node-1", "member-1", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Allowed || d.Source != SourceOrg {
		t.Errorf("Expected org allow for member, got %+v", d)
	}

	d, err = resolver.Check(ctx, "node-1", "outsider", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Errorf("Expected deny for non-member, got %+v", d)
	}
}

func TestResolver_DenyPrecedenceAcrossTiers(t *testing.T) {
	// Direct user allow loses to an org-level deny the subject is
	// caught by.
	stores := setupStores(t)
	ctx := context.Background()
	resolver := NewResolver(stores.nodes, stores.policies, stores.orgs)

	stores.createNode(t, "p1", "owner", nil)
	orgID := stores.addMember(t, "Org1", "user-2")
	stores.setPolicies(t, "p1", []policy.NodePolicy{
		{SubjectType: policy.SubjectUser, SubjectID: "user-2", Effect: policy.EffectAllow, Level: policy.LevelFull},
		{SubjectType: policy.SubjectOrg, SubjectID: orgID, Effect: policy.EffectDeny},
	})

	d, err := resolver.Check(ctx, "p1", "user-2", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Errorf("Expected deny precedence over direct allow, got %+v", d)
	}
}

func TestResolver_NoInheritance(t *testing.T) {
	stores := setupStores(t)
	ctx := context.Background()
	resolver := NewResolver(stores.nodes, stores.policies, stores.orgs)

	parent := "j1"
	stores.createNode(t, "j1", "owner", nil)
	stores.createNode(t, "p1", "owner", &parent)
	stores.setPolicies(t, "j1", []policy.NodePolicy{
		{SubjectType: policy.SubjectUser, SubjectID: "user-2", Effect: policy.EffectAllow, Level: policy.LevelFull},
	})

	d, err := resolver.Check(ctx, "p1", "user-2", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Errorf("Expected no policy inheritance from parent, got %+v", d)
	}
}

func TestResolver_StoreErrorPropagation(t *testing.T) {
	// A failing policy read must surface as an error, never as a
	// silent deny, so callers can fail closed knowingly.
	stores := setupStores(t)
	ctx := context.Background()

	stores.createNode(t, "node-1", "owner", nil)

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	storeErr := errors.New("connection refused")
	mock.ExpectQuery("SELECT id, node_id").WillReturnError(storeErr)

	resolver := NewResolver(stores.nodes, policy.NewStore(mockDB), stores.orgs)
	_, err = resolver.Check(ctx, "node-1", "user-2", policy.ActionView)
	if err == nil {
		t.Fatal("Expected store error to propagate")
	}
	if !errors.Is(err, storeErr) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
}

func TestResolver_InvalidAction(t *testing.T) {
	stores := setupStores(t)
	resolver := NewResolver(stores.nodes, stores.policies, stores.orgs)

	_, err := resolver.Check(context.Background(), "node-1", "owner", policy.Action("share"))
	if !policy.IsValidation(err) {
		t.Errorf("Expected validation error for unknown action, got %v", err)
	}
}

func TestResolver_CachedDecisions(t *testing.T) {
	stores := setupStores(t)
	ctx := context.Background()
	cache := NewMemoryDecisionCache(128, time.Minute)
	resolver := NewResolver(stores.nodes, stores.policies, stores.orgs).WithCache(cache)

	stores.createNode(t, "node-1", "owner", nil)
	stores.setPolicies(t, "node-1", []policy.NodePolicy{
		{SubjectType: policy.SubjectUser, SubjectID: "user-2", Effect: policy.EffectAllow, Level: policy.LevelFull},
	})

	d, err := resolver.Check(ctx, "node-1", "user-2", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("Expected allow, got %+v", d)
	}

	// Without invalidation the stale grant is served from cache.
	stores.setPolicies(t, "node-1", nil)
	d, err = resolver.Check(ctx, "node-1", "user-2", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Allowed {
		t.Errorf("Expected cached allow before invalidation, got %+v", d)
	}

	// Synchronous invalidation makes the revocation visible.
	if err := cache.InvalidateNode(ctx, "node-1"); err != nil {
		t.Fatalf("InvalidateNode failed: %v", err)
	}
	d, err = resolver.Check(ctx, "node-1", "user-2", policy.ActionView)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Errorf("Expected deny after invalidation, got %+v", d)
	}
}
