package api

import (
	"net/http"
	"time"

	"github.com/trellishq/trellis/pkg/httputil"
	"github.com/trellishq/trellis/pkg/observability"
	"github.com/trellishq/trellis/pkg/policy"
)

// checkAccess handles GET /api/v1/nodes/{id}/access. It answers for
// the calling subject, anonymous included, and returns the decision
// rather than hiding denials behind a 404.
func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject := observability.GetSubject(r.Context())
	action := policy.Action(httputil.ParseQueryString(r, "action", string(policy.ActionView)))

	start := time.Now()
	decision, err := s.resolver.Check(r.Context(), nodeID, subject, action)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveAccessCheck(string(action), decision.Allowed, string(decision.Source), time.Since(start))
	}

	httputil.WriteSuccess(w, decision)
}

// maxBatchNodeIDs bounds a single batch access request.
const maxBatchNodeIDs = 1000

// batchAccess handles POST /api/v1/access/batch. It resolves the
// caller's access over a set of nodes in one pass and returns only the
// visible ones, each annotated with the granted level. Unknown node
// ids are skipped rather than rejected so callers can send stale lists.
func (s *Server) batchAccess(w http.ResponseWriter, r *http.Request) {
	var req batchAccessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.NodeIDs) == 0 {
		httputil.WriteValidationError(w, "node_ids is required")
		return
	}
	if len(req.NodeIDs) > maxBatchNodeIDs {
		httputil.WriteValidationError(w, "too many node_ids in one request")
		return
	}
	action := req.Action
	if action == "" {
		action = policy.ActionView
	}
	subject := observability.GetSubject(r.Context())

	nodes, err := s.nodes.GetNodes(r.Context(), req.NodeIDs)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	start := time.Now()
	visible, err := s.filter.Filter(r.Context(), nodes, subject, action)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveBatchFilter(len(nodes), time.Since(start))
	}

	httputil.WriteSuccess(w, visibleNodesResponse{Nodes: visible})
}

// getVisibleTimeline handles GET /api/v1/users/{id}/timeline: every
// node owned by the given user that the caller may view, annotated
// with the granted level. Owners see their full timeline without a
// single policy read.
func (s *Server) getVisibleTimeline(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject := observability.GetSubject(r.Context())

	nodes, err := s.nodes.ListByOwner(r.Context(), ownerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	start := time.Now()
	visible, err := s.filter.Filter(r.Context(), nodes, subject, policy.ActionView)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveBatchFilter(len(nodes), time.Since(start))
	}

	httputil.WriteSuccess(w, visibleNodesResponse{Nodes: visible})
}
