package audit

import (
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

// DeleteMarker tags the update entry that records a logical delete.
const DeleteMarker = "DELETE"

type commentTag uint8

const (
	tagPlain commentTag = iota
	tagUpdate
	tagDelete
)

// Comment is the structured payload of an audit entry. Values are built only
// through Created, Updated, Deleted and Destroyed; delegation is added by Trail.AttachDelegation.
type Comment struct {
	tag     commentTag
	action  string
	agentID uuid.UUID
}

// Created is the comment of a creation entry.
func Created() Comment { return Comment{tag: tagPlain} }

// Destroyed is the comment of a physical delete.
func Destroyed() Comment { return Comment{tag: tagPlain} }

// Updated is the comment of an update entry carrying an optional semantic tag
// such as "move" or "rename".
func Updated(action string) Comment {
	switch action {
	case "":
		return Comment{tag: tagPlain}
	case DeleteMarker:
		return Deleted()
	}
	return Comment{tag: tagUpdate, action: action}
}

// Deleted marks the update entry of a logical delete.
func Deleted() Comment { return Comment{tag: tagDelete, action: DeleteMarker} }

// IsDelete reports whether the comment carries the delete marker.
func (c Comment) IsDelete() bool { return c.tag == tagDelete }

// Action returns the semantic tag, empty when none.
func (c Comment) Action() string { return c.action }

// AgentID returns the delegating agent, if one was attached.
func (c Comment) AgentID() (uuid.UUID, bool) { return c.agentID, c.agentID != uuid.Nil }

func (c Comment) withAgent(id uuid.UUID) Comment {
	c.agentID = id
	return c
}

type commentJSON struct {
	Action          string `json:"action,omitempty"`
	SoftwareAgentID string `json:"software_agent_id,omitempty"`
}

// MarshalJSON encodes the comment in its stored form.
func (c Comment) MarshalJSON() ([]byte, error) {
	w := commentJSON{Action: c.action}
	if c.agentID != uuid.Nil {
		w.SoftwareAgentID = c.agentID.String()
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a stored comment. Unknown keys are ignored.
func (c *Comment) UnmarshalJSON(b []byte) error {
	var w commentJSON
	if len(b) > 0 && string(b) != "null" {
		if err := json.Unmarshal(b, &w); err != nil {
			return fmt.Errorf("decode audit comment: %w", err)
		}
	}
	out := Updated(w.Action)
	if w.SoftwareAgentID != "" {
		id, err := uuid.FromString(w.SoftwareAgentID)
		if err != nil {
			return fmt.Errorf("decode audit comment agent: %w", err)
		}
		out.agentID = id
	}
	*c = out
	return nil
}
