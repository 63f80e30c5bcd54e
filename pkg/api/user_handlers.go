package api

import (
	"net/http"

	"github.com/trellishq/trellis/pkg/httputil"
)

// upsertUser handles POST /api/v1/users. Keyed on external_id so the
// identity provider can replay profile updates safely.
func (s *Server) upsertUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSubject(w, r); !ok {
		return
	}

	var req upsertUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ExternalID, "external_id") {
		return
	}

	user, err := s.users.Upsert(r.Context(), req.ExternalID, req.Name, req.Email)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// getUser handles GET /api/v1/users/{id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := s.users.Get(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// listUserOrgs handles GET /api/v1/users/{id}/orgs. Memberships are
// only visible to the user themselves.
func (s *Server) listUserOrgs(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	if subject != userID {
		httputil.WriteForbidden(w, "memberships are private to the user")
		return
	}

	memberships, err := s.orgs.ListForUser(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, memberships)
}
