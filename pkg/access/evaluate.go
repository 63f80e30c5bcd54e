// Package access resolves whether a subject may perform an action on a
// timeline node, and at what visibility level. The decision logic is a
// pure function over ownership, applicable policies and the subject's
// org memberships; the stores are injected as data sources only.
package access

import (
	"time"

	"github.com/trellishq/trellis/pkg/policy"
)

// Anonymous is the subject id used for unauthenticated callers. Only
// public policies can apply to it.
const Anonymous = ""

// Source records which rule produced a decision.
type Source string

const (
	SourceOwner  Source = "owner"
	SourceUser   Source = "user"
	SourceOrg    Source = "org"
	SourcePublic Source = "public"
	SourceDeny   Source = "deny"
	SourceNone   Source = "none"
)

// Decision is the outcome of a permission check. Level is only
// meaningful when Allowed is true.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Level   policy.Level `json:"level,omitempty"`
	Source  Source       `json:"source"`
}

// Input carries everything Evaluate needs, pre-fetched by the caller.
type Input struct {
	OwnerID    string
	SubjectID  string
	Action     policy.Action
	Policies   []policy.NodePolicy
	MemberOrgs map[string]struct{}
	Now        time.Time
}

// Evaluate resolves one (node, subject, action) decision. Precedence,
// strictly in order: owner always wins at Full; any applicable deny
// beats every allow; among allows, user-specific beats org beats
// public, and the highest level wins within a tier; no applicable
// policy means deny.
func Evaluate(in Input) Decision {
	if in.SubjectID != Anonymous && in.SubjectID == in.OwnerID {
		return Decision{Allowed: true, Level: policy.LevelFull, Source: SourceOwner}
	}

	var (
		userLevel   policy.Level
		orgLevel    policy.Level
		publicLevel policy.Level
		haveUser    bool
		haveOrg     bool
		havePublic  bool
	)

	for _, p := range in.Policies {
		if p.Expired(in.Now) || p.Action != in.Action || !applies(&p, in) {
			continue
		}
		if p.Effect == policy.EffectDeny {
			return Decision{Allowed: false, Source: SourceDeny}
		}
		switch p.SubjectType {
		case policy.SubjectUser:
			userLevel = policy.MaxLevel(userLevel, p.Level)
			haveUser = true
		case policy.SubjectOrg:
			orgLevel = policy.MaxLevel(orgLevel, p.Level)
			haveOrg = true
		case policy.SubjectPublic:
			publicLevel = policy.MaxLevel(publicLevel, p.Level)
			havePublic = true
		}
	}

	switch {
	case haveUser:
		return Decision{Allowed: true, Level: userLevel, Source: SourceUser}
	case haveOrg:
		return Decision{Allowed: true, Level: orgLevel, Source: SourceOrg}
	case havePublic:
		return Decision{Allowed: true, Level: publicLevel, Source: SourcePublic}
	}
	return Decision{Allowed: false, Source: SourceNone}
}

func applies(p *policy.NodePolicy, in Input) bool {
	switch p.SubjectType {
	case policy.SubjectPublic:
		return true
	case policy.SubjectUser:
		return in.SubjectID != Anonymous && p.SubjectID == in.SubjectID
	case policy.SubjectOrg:
		_, ok := in.MemberOrgs[p.SubjectID]
		return ok
	}
	return false
}
