package model

import (
	"fmt"

	"github.com/gofrs/uuid/v5"
)

// Kind tags a governed resource type.
type Kind string

const (
	KindProject           Kind = "project"
	KindFolder            Kind = "folder"
	KindDataFile          Kind = "data_file"
	KindFileVersion       Kind = "file_version"
	KindUpload            Kind = "upload"
	KindChunk             Kind = "chunk"
	KindProjectPermission Kind = "project_permission"
	KindAffiliation       Kind = "affiliation"
	KindSoftwareAgent     Kind = "software_agent"
	KindApiKey            Kind = "api_key"
	KindUser              Kind = "user"
	KindStorageProvider   Kind = "storage_provider"
	KindSystemPermission  Kind = "system_permission"
)

// Kinds lists every governed kind.
var Kinds = []Kind{
	KindProject, KindFolder, KindDataFile, KindFileVersion, KindUpload, KindChunk,
	KindProjectPermission, KindAffiliation, KindSoftwareAgent, KindApiKey, KindUser,
	KindStorageProvider, KindSystemPermission,
}

// ParseKind validates a kind tag.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// SoftDeletes reports whether resources of this kind are deleted logically
// (row retained, is_deleted set) rather than physically.
func (k Kind) SoftDeletes() bool {
	switch k {
	case KindProject, KindFolder, KindDataFile, KindFileVersion, KindSoftwareAgent:
		return true
	}
	return false
}

// Action is an operation checked by the policy engine.
type Action string

const (
	ActionShow     Action = "show"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDestroy  Action = "destroy"
	ActionDownload Action = "download"
	ActionMove     Action = "move"
	ActionRename   Action = "rename"
)

// Actions lists every action.
var Actions = []Action{
	ActionShow, ActionCreate, ActionUpdate, ActionDestroy, ActionDownload, ActionMove, ActionRename,
}

// ParseAction validates an action name; a trailing "?" is accepted.
func ParseAction(s string) (Action, error) {
	if n := len(s); n > 0 && s[n-1] == '?' {
		s = s[:n-1]
	}
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Ref is what the policy engine needs to know about a resource: its identity,
// effective project (uuid.Nil for system-level kinds), deletion flag and the
// user whose ownership matters for the kind (creator, uploader or agent owner).
type Ref struct {
	Kind      Kind
	ID        uuid.UUID
	ProjectID uuid.UUID
	OwnerID   uuid.UUID
	Deleted   bool
}

func (r Ref) String() string { return string(r.Kind) + "/" + r.ID.String() }
