package api

import (
	"net/http"
	"time"

	"github.com/trellishq/trellis/pkg/httputil"
	"github.com/trellishq/trellis/pkg/policy"
)

func (s *Server) recordPolicyWrite(op string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.PolicyWritesTotal.WithLabelValues(op, status).Inc()
}

// setPolicies handles PUT /api/v1/nodes/{id}/policies. The body
// replaces the node's policy set wholesale; an empty list clears it.
// With ?recursive=true the same set is written to every descendant as
// well, since policies never inherit on their own.
func (s *Server) setPolicies(w http.ResponseWriter, r *http.Request) {
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

	recursive, err := httputil.ParseQueryBool(r, "recursive", false)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	var req setPoliciesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	for i := range req.Policies {
		req.Policies[i].CreatedBy = subject
	}

	targets := []string{nodeID}
	if recursive {
		descendants, err := s.nodes.GetDescendants(r.Context(), nodeID, false)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		for _, d := range descendants {
			targets = append(targets, d.ID)
		}
	}

	var stored []policy.NodePolicy
	for _, target := range targets {
		stored, err = s.policies.SetPolicies(r.Context(), target, req.Policies)
		s.recordPolicyWrite("set", err)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	s.invalidateNodes(r, targets...)

	httputil.WriteSuccess(w, setPoliciesResponse{NodeIDs: targets, Policies: stored})
}

// getPolicies handles GET /api/v1/nodes/{id}/policies. Only the node
// owner may read the policy set.
func (s *Server) getPolicies(w http.ResponseWriter, r *http.Request) {
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

	policies, err := s.policies.GetPolicies(r.Context(), nodeID, time.Now())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, policiesResponse{Policies: policies})
}

// deletePolicy handles DELETE /api/v1/nodes/{id}/policies/{policyId}
func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	policyID, ok := httputil.ParsePathStringOrError(w, r, "policyId")
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

	err := s.policies.DeletePolicy(r.Context(), nodeID, policyID)
	s.recordPolicyWrite("delete", err)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.invalidateNodes(r, nodeID)

	httputil.WriteNoContent(w)
}
