package api

import (
	"net/http"

	"github.com/trellishq/trellis/pkg/access"
	"github.com/trellishq/trellis/pkg/httputil"
	"github.com/trellishq/trellis/pkg/observability"
	"github.com/trellishq/trellis/pkg/policy"
)

// SubjectHeader identifies the caller. Requests without it run as the
// anonymous subject, which only sees public allows.
const SubjectHeader = "X-Trellis-Subject"

// subjectMiddleware stores the caller's subject id in the context.
func (s *Server) subjectMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := r.Header.Get(SubjectHeader)
		ctx := observability.WithSubject(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSubject rejects anonymous callers on mutating endpoints.
func requireSubject(w http.ResponseWriter, r *http.Request) (string, bool) {
	subject := observability.GetSubject(r.Context())
	if subject == access.Anonymous {
		httputil.WriteUnauthorized(w, "subject header is required")
		return "", false
	}
	return subject, true
}

// requireEdit gates a node mutation on the caller holding edit access,
// which in practice means owning the node.
func (s *Server) requireEdit(w http.ResponseWriter, r *http.Request, nodeID, subject string) bool {
	decision, err := s.resolver.Check(r.Context(), nodeID, subject, policy.ActionEdit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return false
	}
	if !decision.Allowed {
		httputil.WriteForbidden(w, "edit access required")
		return false
	}
	return true
}
