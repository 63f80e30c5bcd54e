package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	_, err = db.Exec(`
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

	return db
}

func TestStore_CreateOrganization(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	org, err := store.CreateOrganization(ctx, "Acme Corp", OrgTypeCompany, nil)
	if err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}
	if org.ID == "" {
		t.Error("Expected org ID to be generated")
	}

	// Same (name, type) returns the existing record.
	again, err := store.CreateOrganization(ctx, "Acme Corp", OrgTypeCompany, nil)
	if err != nil {
		t.Fatalf("Repeated CreateOrganization failed: %v", err)
	}
	if again.ID != org.ID {
		t.Errorf("Expected same org ID %s, got %s", org.ID, again.ID)
	}

	// Same name with a different type is a separate org.
	school, err := store.CreateOrganization(ctx, "Acme Corp", OrgTypeSchool, nil)
	if err != nil {
		t.Fatalf("CreateOrganization with other type failed: %v", err)
	}
	if school.ID == org.ID {
		t.Error("Expected distinct org for distinct type")
	}

	retrieved, err := store.GetOrganization(ctx, org.ID)
	if err != nil {
		t.Fatalf("GetOrganization failed: %v", err)
	}
	if retrieved.Name != "Acme Corp" || retrieved.Type != OrgTypeCompany {
		t.Errorf("Unexpected org: %+v", retrieved)
	}
}

func TestStore_CreateOrganization_Metadata(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	meta := json.RawMessage(`{"industry":"software","size":250}`)
	org, err := store.CreateOrganization(ctx, "Hooli", OrgTypeCompany, meta)
	if err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}
	if string(org.Metadata) != string(meta) {
		t.Errorf("Expected metadata %s, got %s", meta, org.Metadata)
	}

	retrieved, err := store.GetOrganization(ctx, org.ID)
	if err != nil {
		t.Fatalf("GetOrganization failed: %v", err)
	}
	if string(retrieved.Metadata) != string(meta) {
		t.Errorf("Expected metadata %s after read, got %s", meta, retrieved.Metadata)
	}

	// Recreating the same (name, type) keeps the stored metadata.
	again, err := store.CreateOrganization(ctx, "Hooli", OrgTypeCompany, json.RawMessage(`{"industry":"media"}`))
	if err != nil {
		t.Fatalf("Repeated CreateOrganization failed: %v", err)
	}
	if again.ID != org.ID {
		t.Fatalf("Expected same org ID %s, got %s", org.ID, again.ID)
	}
	if string(again.Metadata) != string(meta) {
		t.Errorf("Expected original metadata %s, got %s", meta, again.Metadata)
	}

	// Metadata stays optional.
	bare, err := store.CreateOrganization(ctx, "Pied Piper", OrgTypeCompany, nil)
	if err != nil {
		t.Fatalf("CreateOrganization without metadata failed: %v", err)
	}
	if bare.Metadata != nil {
		t.Errorf("Expected nil metadata, got %s", bare.Metadata)
	}

	if _, err := store.CreateOrganization(ctx, "Raviga", OrgTypeCompany, json.RawMessage(`{broken`)); !IsValidation(err) {
		t.Errorf("Expected validation error for malformed metadata, got %v", err)
	}
}

func TestStore_CreateOrganization_Validation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	if _, err := store.CreateOrganization(ctx, "  ", OrgTypeCompany, nil); !IsValidation(err) {
		t.Errorf("Expected validation error for blank name, got %v", err)
	}
	if _, err := store.CreateOrganization(ctx, "Acme", OrgType("guild"), nil); !IsValidation(err) {
		t.Errorf("Expected validation error for unknown type, got %v", err)
	}
}

func TestStore_Membership(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	org, err := store.CreateOrganization(ctx, "Acme Corp", OrgTypeCompany, nil)
	if err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}

	if err := store.AddMember(ctx, org.ID, "user-1", RoleMember); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	isMember, err := store.IsMember(ctx, org.ID, "user-1")
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if !isMember {
		t.Error("Expected user-1 to be a member")
	}

	isMember, err = store.IsMember(ctx, org.ID, "user-2")
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if isMember {
		t.Error("Expected user-2 not to be a member")
	}

	// Re-adding updates the role.
	if err := store.AddMember(ctx, org.ID, "user-1", RoleAdmin); err != nil {
		t.Fatalf("Re-adding member failed: %v", err)
	}
	members, err := store.ListMembers(ctx, org.ID)
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members) != 1 || members[0].Role != RoleAdmin {
		t.Errorf("Expected single admin member, got %+v", members)
	}

	if err := store.UpdateMemberRole(ctx, org.ID, "user-1", RoleMember); err != nil {
		t.Fatalf("UpdateMemberRole failed: %v", err)
	}
	if err := store.UpdateMemberRole(ctx, org.ID, "user-2", RoleMember); !IsNotFound(err) {
		t.Errorf("Expected not found for non-member role update, got %v", err)
	}

	if err := store.RemoveMember(ctx, org.ID, "user-1"); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	if err := store.RemoveMember(ctx, org.ID, "user-1"); !IsNotFound(err) {
		t.Errorf("Expected not found removing twice, got %v", err)
	}

	if err := store.AddMember(ctx, "missing-org", "user-1", RoleMember); !IsNotFound(err) {
		t.Errorf("Expected not found adding to missing org, got %v", err)
	}
}

func TestStore_ListForUser(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db)

	acme, _ := store.CreateOrganization(ctx, "Acme Corp", OrgTypeCompany, nil)
	mit, _ := store.CreateOrganization(ctx, "MIT", OrgTypeSchool, nil)
	_, _ = store.CreateOrganization(ctx, "Globex", OrgTypeCompany, nil)

	if err := store.AddMember(ctx, acme.ID, "user-1", RoleMember); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if err := store.AddMember(ctx, mit.ID, "user-1", RoleMember); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	userOrgs, err := store.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListForUser failed: %v", err)
	}
	if len(userOrgs) != 2 {
		t.Errorf("Expected 2 orgs, got %d", len(userOrgs))
	}

	ids, err := store.OrgIDsForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("OrgIDsForUser failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("Expected 2 org ids, got %v", ids)
	}

	empty, err := store.OrgIDsForUser(ctx, "user-9")
	if err != nil {
		t.Fatalf("OrgIDsForUser for unknown user failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no orgs for unknown user, got %v", empty)
	}
}
