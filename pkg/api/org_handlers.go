package api

import (
	"net/http"

	"github.com/trellishq/trellis/pkg/httputil"
	"github.com/trellishq/trellis/pkg/orgs"
)

// createOrg handles POST /api/v1/orgs. Creation is idempotent on the
// (name, type) pair so repeated employer intake converges on one org.
func (s *Server) createOrg(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSubject(w, r); !ok {
		return
	}

	var req createOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	org, err := s.orgs.CreateOrganization(r.Context(), req.Name, req.Type, req.Metadata)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// getOrg handles GET /api/v1/orgs/{id}
func (s *Server) getOrg(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	org, err := s.orgs.GetOrganization(r.Context(), orgID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// requireOrgAdmin gates membership mutations. An org with no members
// yet accepts its first member from any caller; after that only org
// admins may change the roster.
func (s *Server) requireOrgAdmin(w http.ResponseWriter, r *http.Request, orgID, subject string) bool {
	members, err := s.orgs.ListMembers(r.Context(), orgID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return false
	}
	if len(members) == 0 {
		return true
	}
	for _, m := range members {
		if m.UserID == subject && m.Role == orgs.RoleAdmin {
			return true
		}
	}
	httputil.WriteForbidden(w, "org admin role required")
	return false
}

// addMember handles POST /api/v1/orgs/{id}/members
func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	if !s.requireOrgAdmin(w, r, orgID, subject) {
		return
	}

	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	if err := s.orgs.AddMember(r.Context(), orgID, req.UserID, req.Role); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.invalidateAllDecisions(r)
	httputil.WriteCreated(w, map[string]string{"org_id": orgID, "user_id": req.UserID})
}

// updateMemberRole handles PUT /api/v1/orgs/{id}/members/{userId}
func (s *Server) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	if !s.requireOrgAdmin(w, r, orgID, subject) {
		return
	}

	var req updateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := s.orgs.UpdateMemberRole(r.Context(), orgID, userID, req.Role); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.invalidateAllDecisions(r)
	httputil.WriteNoContent(w)
}

// removeMember handles DELETE /api/v1/orgs/{id}/members/{userId}.
// Members may always remove themselves.
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userId")
	if !ok {
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	if subject != userID && !s.requireOrgAdmin(w, r, orgID, subject) {
		return
	}

	if err := s.orgs.RemoveMember(r.Context(), orgID, userID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	// Revocation must beat any cached org-sourced allow.
	s.invalidateAllDecisions(r)
	httputil.WriteNoContent(w)
}

// listMembers handles GET /api/v1/orgs/{id}/members. The roster is
// only visible to members of the org.
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	isMember, err := s.orgs.IsMember(r.Context(), orgID, subject)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !isMember {
		httputil.WriteForbidden(w, "org membership required")
		return
	}

	members, err := s.orgs.ListMembers(r.Context(), orgID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}
