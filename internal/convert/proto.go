// Package convert maps domain values to and from the structpb messages carried
// by the gRPC API.
package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/policy"
)

// --- readers (client -> server) ---

// String returns a string field, empty when absent or of another type.
func String(s *structpb.Struct, field string) string {
	v, ok := s.GetFields()[field]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// UUID parses an optional uuid field; an absent or empty field yields uuid.Nil.
func UUID(s *structpb.Struct, field string) (uuid.UUID, error) {
	raw := String(s, field)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, errs.Invalid(field, "must be a uuid")
	}
	return id, nil
}

// RequireUUID is UUID for fields that must be present.
func RequireUUID(s *structpb.Struct, field string) (uuid.UUID, error) {
	id, err := UUID(s, field)
	if err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		return uuid.Nil, errs.Invalid(field, "is required")
	}
	return id, nil
}

// Int reads a non-negative integer field; absent means zero.
func Int(s *structpb.Struct, field string) (int, error) {
	v, ok := s.GetFields()[field]
	if !ok {
		return 0, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || n.NumberValue < 0 || n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue > math.MaxInt32 {
		return 0, errs.Invalid(field, "must be a non-negative integer")
	}
	return int(n.NumberValue), nil
}

// Kind reads and validates a resource kind field.
func Kind(s *structpb.Struct, field string) (model.Kind, error) {
	k, err := model.ParseKind(String(s, field))
	if err != nil {
		return "", errs.Invalid(field, err.Error())
	}
	return k, nil
}

// Action reads and validates an action field.
func Action(s *structpb.Struct, field string) (model.Action, error) {
	a, err := model.ParseAction(String(s, field))
	if err != nil {
		return "", errs.Invalid(field, err.Error())
	}
	return a, nil
}

// --- writers (server -> client) ---

func ts(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return timestamppb.New(t).AsTime().Format(time.RFC3339Nano)
}

func idOrNil(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

// Project renders a project.
func Project(p model.Project) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":          p.ID.String(),
		"name":        p.Name,
		"description": p.Description,
		"creator_id":  p.CreatorID.String(),
		"etag":        p.Etag,
		"is_deleted":  p.IsDeleted,
		"created_at":  ts(p.CreatedAt),
		"updated_at":  ts(p.UpdatedAt),
	})
}

// Folder renders a folder; a root folder has a null parent_id.
func Folder(f model.Folder) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":         f.ID.String(),
		"name":       f.Name,
		"project_id": f.ProjectID.String(),
		"parent_id":  idOrNil(f.ParentID),
		"creator_id": f.CreatorID.String(),
		"is_deleted": f.IsDeleted,
		"created_at": ts(f.CreatedAt),
		"updated_at": ts(f.UpdatedAt),
	})
}

// SoftwareAgent renders a software agent.
func SoftwareAgent(a model.SoftwareAgent) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":          a.ID.String(),
		"name":        a.Name,
		"description": a.Description,
		"repo_url":    a.RepoURL,
		"creator_id":  a.CreatorID.String(),
		"is_deleted":  a.IsDeleted,
		"created_at":  ts(a.CreatedAt),
	})
}

// ProjectPermission renders a project grant.
func ProjectPermission(p model.ProjectPermission) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":           p.ID.String(),
		"project_id":   p.ProjectID.String(),
		"user_id":      p.UserID.String(),
		"auth_role_id": p.Role.ID,
	})
}

// Affiliation renders a project affiliation.
func Affiliation(a model.Affiliation) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":              a.ID.String(),
		"project_id":      a.ProjectID.String(),
		"user_id":         a.UserID.String(),
		"project_role_id": a.ProjectRoleID,
		"created_at":      ts(a.CreatedAt),
	})
}

// SystemPermission renders a system grant.
func SystemPermission(p model.SystemPermission) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":           p.ID.String(),
		"user_id":      p.UserID.String(),
		"auth_role_id": p.Role.ID,
	})
}

// User renders a user account. Credentials are never rendered.
func User(u model.User) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":           u.ID.String(),
		"username":     u.Username,
		"display_name": u.DisplayName,
		"email":        u.Email,
		"created_at":   ts(u.CreatedAt),
	})
}

// Tokens renders an issued access token.
func Tokens(t model.Tokens) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"access_token": t.AccessToken,
		"expires_at":   ts(t.ExpiresAt),
	})
}

// Predicate renders a listing scope.
func Predicate(p policy.Predicate) (*structpb.Struct, error) {
	ids := make([]any, 0, len(p.ProjectIDs))
	for _, id := range p.ProjectIDs {
		ids = append(ids, id.String())
	}
	return structpb.NewStruct(map[string]any{
		"unrestricted": p.Unrestricted,
		"project_ids":  ids,
		"creator_id":   idOrNil(p.CreatorID),
		"owner_id":     idOrNil(p.OwnerID),
		"empty":        p.Empty(),
	})
}

type entryView struct {
	ID            string         `json:"id"`
	AuditableType string         `json:"auditable_type"`
	AuditableID   string         `json:"auditable_id"`
	Action        string         `json:"action"`
	Changes       map[string]any `json:"audited_changes"`
	Version       int            `json:"version"`
	Comment       audit.Comment  `json:"comment"`
	UserID        any            `json:"user_id"`
	Username      string         `json:"username"`
	RemoteAddress string         `json:"remote_address,omitempty"`
	RequestID     string         `json:"request_uuid,omitempty"`
	CreatedAt     any            `json:"created_at"`
}

// History renders audit entries under an "entries" list.
func History(entries []audit.Entry) (*structpb.Struct, error) {
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			ID:            e.ID.String(),
			AuditableType: string(e.Kind),
			AuditableID:   e.AuditableID.String(),
			Action:        string(e.Action),
			Changes:       e.Changes,
			Version:       e.Version,
			Comment:       e.Comment,
			UserID:        idOrNil(e.UserID),
			Username:      e.Username,
			RemoteAddress: e.RemoteAddress,
			RequestID:     e.RequestID,
			CreatedAt:     ts(e.CreatedAt),
		})
	}
	return jsonStruct(map[string]any{"entries": views})
}

// Summary renders an attribution summary.
func Summary(s audit.Summary) (*structpb.Struct, error) {
	return jsonStruct(s)
}

// jsonStruct normalizes v through encoding/json so nested values are plain
// maps, slices, strings, numbers and booleans.
func jsonStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return structpb.NewStruct(m)
}
