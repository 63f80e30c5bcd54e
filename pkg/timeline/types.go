package timeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeKind identifies what kind of career item a node represents.
type NodeKind string

const (
	KindJob        NodeKind = "job"
	KindEducation  NodeKind = "education"
	KindProject    NodeKind = "project"
	KindEvent      NodeKind = "event"
	KindAction     NodeKind = "action"
	KindTransition NodeKind = "transition"
)

// Valid reports whether the kind is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindJob, KindEducation, KindProject, KindEvent, KindAction, KindTransition:
		return true
	}
	return false
}

// Node is a single item on a user's career timeline. Children are
// derived from the closure table, never stored on the node itself.
type Node struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Kind      NodeKind        `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ParentID  *string         `json:"parent_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Payload is the kind-specific metadata attached to a node. Each kind
// has its own concrete type so callers get compile-time field checks
// instead of an open map.
type Payload interface {
	Kind() NodeKind
}

// JobPayload describes an employment entry.
type JobPayload struct {
	Title       string `json:"title"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Description string `json:"description,omitempty"`
}

func (JobPayload) Kind() NodeKind { return KindJob }

// EducationPayload describes a degree or course of study.
type EducationPayload struct {
	Degree      string `json:"degree,omitempty"`
	Institution string `json:"institution"`
	Field       string `json:"field,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

func (EducationPayload) Kind() NodeKind { return KindEducation }

// ProjectPayload describes a project, typically nested under a job or
// education node.
type ProjectPayload struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
}

func (ProjectPayload) Kind() NodeKind { return KindProject }

// EventPayload describes a one-off event such as a talk or conference.
type EventPayload struct {
	Title       string `json:"title"`
	Venue       string `json:"venue,omitempty"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
}

func (EventPayload) Kind() NodeKind { return KindEvent }

// ActionPayload describes a discrete accomplishment or task.
type ActionPayload struct {
	Title       string `json:"title"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
}

func (ActionPayload) Kind() NodeKind { return KindAction }

// TransitionPayload describes a move between roles or employers.
type TransitionPayload struct {
	Title       string `json:"title,omitempty"`
	FromRole    string `json:"from_role,omitempty"`
	ToRole      string `json:"to_role,omitempty"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
}

func (TransitionPayload) Kind() NodeKind { return KindTransition }

// DecodePayload parses a raw JSON payload into the concrete type for
// the given kind.
func DecodePayload(kind NodeKind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var (
		p   Payload
		err error
	)
	switch kind {
	case KindJob:
		var v JobPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindEducation:
		var v EducationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindProject:
		var v ProjectPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindEvent:
		var v EventPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindAction:
		var v ActionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindTransition:
		var v TransitionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown node kind %q", ErrValidation, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s payload: %v", ErrValidation, kind, err)
	}
	return p, nil
}

// EncodePayload serializes a typed payload for storage.
func EncodePayload(p Payload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}
	return data, nil
}
