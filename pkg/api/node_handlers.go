package api

import (
	"context"
	"net/http"
	"time"

	"github.com/trellishq/trellis/pkg/httputil"
	"github.com/trellishq/trellis/pkg/observability"
	"github.com/trellishq/trellis/pkg/policy"
	"github.com/trellishq/trellis/pkg/timeline"
)

func (s *Server) recordHierarchyOp(op string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.HierarchyOpsTotal.WithLabelValues(op, status).Inc()
	s.metrics.HierarchyOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// createNode handles POST /api/v1/nodes
func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}

	var node timeline.Node
	if !httputil.ParseJSONOrError(w, r, &node) {
		return
	}
	if node.OwnerID == "" {
		node.OwnerID = subject
	}
	if node.OwnerID != subject {
		httputil.WriteForbidden(w, "nodes can only be created for the calling subject")
		return
	}

	start := time.Now()
	err := s.nodes.CreateNode(r.Context(), &node)
	s.recordHierarchyOp("create", err, start)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	// CreateNode doubles as an idempotent update, so cached decisions
	// keyed by this node may describe the old payload.
	s.invalidateNodes(r, node.ID)
	httputil.WriteCreated(w, node)
}

// getNode handles GET /api/v1/nodes/{id}
func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject := observability.GetSubject(r.Context())

	start := time.Now()
	decision, err := s.resolver.Check(r.Context(), nodeID, subject, policy.ActionView)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveAccessCheck(string(policy.ActionView), decision.Allowed, string(decision.Source), time.Since(start))
	}
	// Denied reads 404 instead of 403 so callers cannot probe for
	// node existence.
	if !decision.Allowed {
		httputil.WriteNotFoundError(w, timeline.ErrNotFound.Error())
		return
	}

	node, err := s.nodes.GetNode(r.Context(), nodeID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, nodeView{Node: *node, Level: decision.Level})
}

// moveNode handles POST /api/v1/nodes/{id}/move
func (s *Server) moveNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	if !s.requireEdit(w, r, nodeID, subject) {
		return
	}

	var req moveNodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	start := time.Now()
	err := s.nodes.MoveNode(r.Context(), nodeID, req.ParentID)
	s.recordHierarchyOp("move", err, start)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	node, err := s.nodes.GetNode(r.Context(), nodeID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// deleteNode handles DELETE /api/v1/nodes/{id}. The whole subtree goes
// with it, along with every policy attached to a removed node.
func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject, ok := requireSubject(w, r)
	if !ok {
		return
	}
	if !s.requireEdit(w, r, nodeID, subject) {
		return
	}

	start := time.Now()
	deleted, err := s.nodes.DeleteNode(r.Context(), nodeID)
	s.recordHierarchyOp("delete", err, start)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if err := s.policies.DeleteForNodes(r.Context(), deleted); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.invalidateNodes(r, deleted...)

	httputil.WriteSuccess(w, deleteNodeResponse{Deleted: deleted})
}

// getAncestors handles GET /api/v1/nodes/{id}/ancestors
func (s *Server) getAncestors(w http.ResponseWriter, r *http.Request) {
	s.listRelated(w, r, s.nodes.GetAncestors)
}

// getChildren handles GET /api/v1/nodes/{id}/children
func (s *Server) getChildren(w http.ResponseWriter, r *http.Request) {
	s.listRelated(w, r, s.nodes.GetChildren)
}

// getDescendants handles GET /api/v1/nodes/{id}/descendants
func (s *Server) getDescendants(w http.ResponseWriter, r *http.Request) {
	s.listRelated(w, r, func(ctx context.Context, nodeID string) ([]timeline.Node, error) {
		return s.nodes.GetDescendants(ctx, nodeID, false)
	})
}

// listRelated checks view access on the anchor node, fetches its
// relatives, then filters them to the ones the caller may see. Related
// nodes carry their own policies, so visibility of the anchor does not
// imply visibility of its relatives.
func (s *Server) listRelated(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, nodeID string) ([]timeline.Node, error)) {
	nodeID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	subject := observability.GetSubject(r.Context())

	decision, err := s.resolver.Check(r.Context(), nodeID, subject, policy.ActionView)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !decision.Allowed {
		httputil.WriteNotFoundError(w, timeline.ErrNotFound.Error())
		return
	}

	related, err := fetch(r.Context(), nodeID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	start := time.Now()
	visible, err := s.filter.Filter(r.Context(), related, subject, policy.ActionView)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveBatchFilter(len(related), time.Since(start))
	}
	httputil.WriteSuccess(w, visibleNodesResponse{Nodes: visible})
}
