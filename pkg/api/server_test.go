package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/trellishq/trellis/pkg/access"
	"github.com/trellishq/trellis/pkg/observability"
	"github.com/trellishq/trellis/pkg/orgs"
	"github.com/trellishq/trellis/pkg/policy"
	"github.com/trellishq/trellis/pkg/timeline"
	"github.com/trellishq/trellis/pkg/users"
)

type testServer struct {
	server *Server
	nodes  *timeline.Store
	orgs   *orgs.Store
}

func setupServer(t *testing.T) *testServer {
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
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	nodeStore := timeline.NewStore(db)
	orgStore := orgs.NewStore(db)
	policyStore := policy.NewStore(db)
	userStore := users.NewStore(db)

	cache := access.NewMemoryDecisionCache(1024, time.Minute)
	resolver := access.NewResolver(nodeStore, policyStore, orgStore).WithCache(cache)
	filter := access.NewBatchFilter(policyStore, orgStore)

	logger := observability.NewLogger(observability.LevelError, io.Discard)

	server := NewServer(Deps{
		Nodes:    nodeStore,
		Orgs:     orgStore,
		Policies: policyStore,
		Users:    userStore,
		Resolver: resolver,
		Filter:   filter,
		Cache:    cache,
		Logger:   logger,
	})

	return &testServer{server: server, nodes: nodeStore, orgs: orgStore}
}

// do issues a request as the given subject; empty subject is anonymous.
func (ts *testServer) do(t *testing.T, method, path, subject string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if subject != "" {
		req.Header.Set(SubjectHeader, subject)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) mustCreateNode(t *testing.T, id, owner string, parentID *string) {
	t.Helper()
	node := &timeline.Node{ID: id, OwnerID: owner, Kind: timeline.KindJob, ParentID: parentID}
	if err := ts.nodes.CreateNode(context.Background(), node); err != nil {
		t.Fatalf("CreateNode(%s) failed: %v", id, err)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func strPtr(s string) *string { return &s }

func TestServer_SubjectRequired(t *testing.T) {
	ts := setupServer(t)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/nodes"},
		{http.MethodDelete, "/api/v1/nodes/n1"},
		{http.MethodPost, "/api/v1/nodes/n1/move"},
		{http.MethodPut, "/api/v1/nodes/n1/policies"},
		{http.MethodPost, "/api/v1/orgs"},
		{http.MethodPost, "/api/v1/users"},
	}
	for _, tc := range cases {
		rec := ts.do(t, tc.method, tc.path, "", map[string]string{})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 for anonymous caller, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestServer_AnonymousReadsAllowed(t *testing.T) {
	ts := setupServer(t)
	ts.mustCreateNode(t, "n1", "alice", nil)

	// No policies: anonymous check resolves but denies.
	rec := ts.do(t, http.MethodGet, "/api/v1/nodes/n1/access", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var decision access.Decision
	decodeBody(t, rec, &decision)
	if decision.Allowed {
		t.Error("anonymous subject should be denied without a public policy")
	}
	if decision.Source != access.SourceNone {
		t.Errorf("expected source none, got %s", decision.Source)
	}
}
