package access

import (
	"context"
	"fmt"
	"time"

	"github.com/trellishq/trellis/pkg/policy"
	"github.com/trellishq/trellis/pkg/timeline"
)

// NodeStore is the slice of the hierarchy store the resolver needs.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID string) (*timeline.Node, error)
}

// PolicyStore is the slice of the policy store the resolver needs.
type PolicyStore interface {
	GetPolicies(ctx context.Context, nodeID string, now time.Time) ([]policy.NodePolicy, error)
	GetForNodes(ctx context.Context, nodeIDs []string, now time.Time) (map[string][]policy.NodePolicy, error)
}

// MembershipStore is the slice of the org store the resolver needs.
type MembershipStore interface {
	OrgIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Resolver answers permission checks for single nodes. Store errors
// are propagated unchanged so callers can tell "denied" apart from
// "could not determine", and fail closed on the latter.
type Resolver struct {
	nodes       NodeStore
	policies    PolicyStore
	memberships MembershipStore
	cache       DecisionCache
	now         func() time.Time
}

// NewResolver creates a resolver over the given stores.
func NewResolver(nodes NodeStore, policies PolicyStore, memberships MembershipStore) *Resolver {
	return &Resolver{
		nodes:       nodes,
		policies:    policies,
		memberships: memberships,
		now:         time.Now,
	}
}

// WithCache attaches a decision cache. The cache is a disposable
// derived index: writers must invalidate it synchronously (see
// DecisionCache), and a cache failure only costs a recomputation.
func (r *Resolver) WithCache(cache DecisionCache) *Resolver {
	r.cache = cache
	return r
}

// Check resolves whether subjectID may perform action on the node.
// subjectID may be Anonymous. Returns the node's not-found error when
// the node does not exist; a Deny outcome is a normal result, never an
// error.
func (r *Resolver) Check(ctx context.Context, nodeID, subjectID string, action policy.Action) (Decision, error) {
	if !action.Valid() {
		return Decision{}, fmt.Errorf("%w: unknown action %q", policy.ErrValidation, action)
	}

	key := CacheKey{NodeID: nodeID, SubjectID: subjectID, Action: action}
	if r.cache != nil {
		if d, ok := r.cache.Get(ctx, key); ok {
			return d, nil
		}
	}

	node, err := r.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return Decision{}, err
	}

	// Edit is owner-only today: policies carrying the edit action are
	// accepted but the owner check is the common fast path.
	if subjectID != Anonymous && subjectID == node.OwnerID {
		d := Decision{Allowed: true, Level: policy.LevelFull, Source: SourceOwner}
		r.cacheSet(ctx, key, d)
		return d, nil
	}

	now := r.now().UTC()
	policies, err := r.policies.GetPolicies(ctx, nodeID, now)
	if err != nil {
		return Decision{}, err
	}

	memberOrgs, err := r.memberOrgs(ctx, subjectID, policies)
	if err != nil {
		return Decision{}, err
	}

	d := Evaluate(Input{
		OwnerID:    node.OwnerID,
		SubjectID:  subjectID,
		Action:     action,
		Policies:   policies,
		MemberOrgs: memberOrgs,
		Now:        now,
	})
	r.cacheSet(ctx, key, d)
	return d, nil
}

// memberOrgs fetches the subject's org ids, but only when an org
// policy is present, so most checks cost a single policy read.
func (r *Resolver) memberOrgs(ctx context.Context, subjectID string, policies []policy.NodePolicy) (map[string]struct{}, error) {
	if subjectID == Anonymous {
		return nil, nil
	}
	needed := false
	for _, p := range policies {
		if p.SubjectType == policy.SubjectOrg {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	ids, err := r.memberships.OrgIDsForUser(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	orgs := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		orgs[id] = struct{}{}
	}
	return orgs, nil
}

func (r *Resolver) cacheSet(ctx context.Context, key CacheKey, d Decision) {
	if r.cache != nil {
		r.cache.Set(ctx, key, d)
	}
}
