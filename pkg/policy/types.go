// Package policy stores per-node access policies. Policies attach to a
// single node and never inherit down the hierarchy; sharing a subtree
// means writing a policy for each node in it.
package policy

import (
	"errors"
	"fmt"
	"time"
)

// SubjectType identifies who a policy applies to.
type SubjectType string

const (
	SubjectUser   SubjectType = "user"
	SubjectOrg    SubjectType = "org"
	SubjectPublic SubjectType = "public"
)

// Valid reports whether the subject type is one of the known values.
func (s SubjectType) Valid() bool {
	switch s {
	case SubjectUser, SubjectOrg, SubjectPublic:
		return true
	}
	return false
}

// Action is what the subject wants to do with a node. Policies only
// grant view today; edit always resolves to the owner alone.
type Action string

const (
	ActionView Action = "view"
	ActionEdit Action = "edit"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	return a == ActionView || a == ActionEdit
}

// Effect is the outcome a policy grants or forces.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether the effect is one of the known values.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Level is the visibility tier an allow policy grants. Levels are
// ordered: a subject holding Full also satisfies Overview checks.
type Level string

const (
	LevelOverview Level = "overview"
	LevelFull     Level = "full"
)

var levelRank = map[Level]int{
	LevelOverview: 1,
	LevelFull:     2,
}

// Valid reports whether the level is one of the known values.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Rank returns the level's position in the ordering, 0 for unknown.
func (l Level) Rank() int {
	return levelRank[l]
}

// Covers reports whether a grant at this level satisfies a check for
// the required level.
func (l Level) Covers(required Level) bool {
	return levelRank[l] >= levelRank[required]
}

// MaxLevel returns the higher of two levels.
func MaxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// NodePolicy grants or denies a subject access to one node. Deny
// policies carry no level: a deny blocks every level. ExpiresAt nil
// means the policy never expires; an expired policy is skipped at
// evaluation time and physically removed by the sweeper.
type NodePolicy struct {
	ID          string      `json:"id"`
	NodeID      string      `json:"node_id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id,omitempty"`
	Action      Action      `json:"action"`
	Effect      Effect      `json:"effect"`
	Level       Level       `json:"level,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	CreatedBy   string      `json:"created_by,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Expired reports whether the policy is past its expiry at the given
// instant.
func (p *NodePolicy) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// Validate checks the policy's shape before it is persisted.
func (p *NodePolicy) Validate() error {
	if !p.SubjectType.Valid() {
		return fmt.Errorf("%w: unknown subject type %q", ErrValidation, p.SubjectType)
	}
	if p.SubjectType == SubjectPublic {
		if p.SubjectID != "" {
			return fmt.Errorf("%w: public policies take no subject id", ErrValidation)
		}
	} else if p.SubjectID == "" {
		return fmt.Errorf("%w: subject id is required for %s policies", ErrValidation, p.SubjectType)
	}
	if p.Action == "" {
		p.Action = ActionView
	}
	if !p.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, p.Action)
	}
	if !p.Effect.Valid() {
		return fmt.Errorf("%w: unknown effect %q", ErrValidation, p.Effect)
	}
	switch p.Effect {
	case EffectAllow:
		if !p.Level.Valid() {
			return fmt.Errorf("%w: allow policies require a level", ErrValidation)
		}
	case EffectDeny:
		// A level on a deny is accepted but carries no meaning:
		// evaluation never reads it, a deny blocks the whole action.
		if p.Level != "" && !p.Level.Valid() {
			return fmt.Errorf("%w: unknown level %q", ErrValidation, p.Level)
		}
	}
	return nil
}

var (
	// ErrNotFound is returned when a referenced policy does not exist
	ErrNotFound = errors.New("policy not found")

	// ErrValidation is returned when policy input is malformed
	ErrValidation = errors.New("invalid policy")
)

// IsNotFound checks if the error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is or wraps ErrValidation
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
