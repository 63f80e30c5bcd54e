package api

import (
	"encoding/json"

	"github.com/trellishq/trellis/pkg/access"
	"github.com/trellishq/trellis/pkg/orgs"
	"github.com/trellishq/trellis/pkg/policy"
	"github.com/trellishq/trellis/pkg/timeline"
)

// nodeView is a node annotated with the level the caller holds on it.
type nodeView struct {
	timeline.Node
	Level policy.Level `json:"level"`
}

type moveNodeRequest struct {
	// ParentID nil promotes the node to a root.
	ParentID *string `json:"parent_id"`
}

type deleteNodeResponse struct {
	Deleted []string `json:"deleted"`
}

type visibleNodesResponse struct {
	Nodes []access.VisibleNode `json:"nodes"`
}

type batchAccessRequest struct {
	NodeIDs []string      `json:"node_ids"`
	Action  policy.Action `json:"action,omitempty"`
}

type setPoliciesRequest struct {
	Policies []policy.NodePolicy `json:"policies"`
}

type setPoliciesResponse struct {
	// NodeIDs lists every node the policy set was written to; more
	// than one when the write was recursive.
	NodeIDs  []string            `json:"node_ids"`
	Policies []policy.NodePolicy `json:"policies"`
}

type policiesResponse struct {
	Policies []policy.NodePolicy `json:"policies"`
}

type createOrgRequest struct {
	Name     string          `json:"name"`
	Type     orgs.OrgType    `json:"type"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type addMemberRequest struct {
	UserID string    `json:"user_id"`
	Role   orgs.Role `json:"role"`
}

type updateRoleRequest struct {
	Role orgs.Role `json:"role"`
}

type upsertUserRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}
