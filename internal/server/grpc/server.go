// Package grpcserver exposes the data service gRPC API. Messages are
// google.protobuf.Struct values, so the service is described by hand instead
// of generated stubs.
package grpcserver

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/convert"
	"github.com/and161185/dataservice/internal/errs"
	"github.com/and161185/dataservice/internal/model"
	"github.com/and161185/dataservice/internal/repository"
	"github.com/and161185/dataservice/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dds.v1.DataService"

// FullMethod returns the path of a DataService method.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// PublicMethods need no bearer token.
var PublicMethods = []string{FullMethod("IssueAgentToken"), FullMethod("Login")}

// DataServiceServer is the server API for DataService.
type DataServiceServer interface {
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Scope(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Attribution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueAgentToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateProject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProjects(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateProject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteProject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateFolder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFolder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFolders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MoveFolder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RenameFolder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteFolder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GrantProjectPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeProjectPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Affiliate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unaffiliate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GrantSystemPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateSoftwareAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSoftwareAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteSoftwareAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateAgentKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeAgentKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateUserKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeUserKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(DataServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DataServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			h := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DataServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, h)
		},
	}
}

// ServiceDesc describes DataService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("Authorize", DataServiceServer.Authorize),
		handler("Scope", DataServiceServer.Scope),
		handler("History", DataServiceServer.History),
		handler("Attribution", DataServiceServer.Attribution),
		handler("IssueAgentToken", DataServiceServer.IssueAgentToken),
		handler("Login", DataServiceServer.Login),
		handler("CreateUser", DataServiceServer.CreateUser),
		handler("CreateProject", DataServiceServer.CreateProject),
		handler("GetProject", DataServiceServer.GetProject),
		handler("ListProjects", DataServiceServer.ListProjects),
		handler("UpdateProject", DataServiceServer.UpdateProject),
		handler("DeleteProject", DataServiceServer.DeleteProject),
		handler("CreateFolder", DataServiceServer.CreateFolder),
		handler("GetFolder", DataServiceServer.GetFolder),
		handler("ListFolders", DataServiceServer.ListFolders),
		handler("MoveFolder", DataServiceServer.MoveFolder),
		handler("RenameFolder", DataServiceServer.RenameFolder),
		handler("DeleteFolder", DataServiceServer.DeleteFolder),
		handler("GrantProjectPermission", DataServiceServer.GrantProjectPermission),
		handler("RevokeProjectPermission", DataServiceServer.RevokeProjectPermission),
		handler("Affiliate", DataServiceServer.Affiliate),
		handler("Unaffiliate", DataServiceServer.Unaffiliate),
		handler("GrantSystemPermission", DataServiceServer.GrantSystemPermission),
		handler("CreateSoftwareAgent", DataServiceServer.CreateSoftwareAgent),
		handler("GetSoftwareAgent", DataServiceServer.GetSoftwareAgent),
		handler("DeleteSoftwareAgent", DataServiceServer.DeleteSoftwareAgent),
		handler("GenerateAgentKey", DataServiceServer.GenerateAgentKey),
		handler("RevokeAgentKey", DataServiceServer.RevokeAgentKey),
		handler("GenerateUserKey", DataServiceServer.GenerateUserKey),
		handler("RevokeUserKey", DataServiceServer.RevokeUserKey),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dds/v1/data_service.proto",
}

// RegisterDataServiceServer registers srv on s.
func RegisterDataServiceServer(s grpc.ServiceRegistrar, srv DataServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Invoke calls a DataService method over cc.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Services groups the application services the API is built on.
type Services struct {
	Access   service.AccessService
	Auth     service.AuthService
	Projects service.ProjectService
	Folders  service.FolderService
	Grants   service.GrantService
	Agents   service.AgentService
	Users    service.UserService
}

// Server wires services into gRPC handlers.
type Server struct {
	svc Services
	log *zap.Logger
}

var _ DataServiceServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(svc Services, log *zap.Logger) *Server {
	return &Server{svc: svc, log: log}
}

// --- Authorization and audit ---

// Authorize answers a point check. A denial is a regular answer, not an error.
func (s *Server) Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	kind, err := convert.Kind(req, "kind")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	id, err := convert.RequireUUID(req, "id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	action, err := convert.Action(req, "action")
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	err = s.svc.Access.Authorize(ctx, actor, kind, id, action)
	switch {
	case err == nil:
		return structpb.NewStruct(map[string]any{"allowed": true})
	case errs.IsNotFound(err):
		return structpb.NewStruct(map[string]any{"allowed": false, "reason": errs.ReasonNotFoundOrForbidden})
	default:
		return nil, s.fail(ctx, err)
	}
}

// Scope returns the listing predicate for a kind and action.
func (s *Server) Scope(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	kind, err := convert.Kind(req, "kind")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	action := model.ActionShow
	if convert.String(req, "action") != "" {
		if action, err = convert.Action(req, "action"); err != nil {
			return nil, s.fail(ctx, err)
		}
	}
	pred, err := s.svc.Access.Scope(ctx, actor, kind, action)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Predicate(pred)
}

// History returns the audit entries of one resource after a version.
func (s *Server) History(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, kind, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	after, err := convert.Int(req, "after_version")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	entries, err := s.svc.Access.History(ctx, actor, kind, id, after)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.History(entries)
}

// Attribution returns the creation, last update and deletion attribution.
func (s *Server) Attribution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, kind, id, err := s.target(ctx, req)
	if err != nil {
		return nil, err
	}
	sum, err := s.svc.Access.Attribution(ctx, actor, kind, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Summary(sum)
}

// IssueAgentToken exchanges an agent key and a user key for an access token.
func (s *Server) IssueAgentToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	agentKey, userKey := convert.String(req, "agent_key"), convert.String(req, "user_key")
	if agentKey == "" || userKey == "" {
		return nil, status.Error(codes.InvalidArgument, "empty agent_key/user_key")
	}
	tok, err := s.svc.Auth.IssueAgentToken(ctx, agentKey, userKey, remoteHost(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Tokens(tok)
}

// Login exchanges a username and password for an access token.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, password := convert.String(req, "username"), convert.String(req, "password")
	if username == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	tok, u, err := s.svc.Auth.Login(ctx, username, password, remoteHost(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out, err := convert.Tokens(tok)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out.Fields["user_id"] = structpb.NewStringValue(u.ID.String())
	return out, nil
}

// CreateUser provisions a user account.
func (s *Server) CreateUser(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.svc.Users.Create(ctx, actor,
		convert.String(req, "username"), convert.String(req, "display_name"),
		convert.String(req, "email"), convert.String(req, "password"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.User(*u)
}

// --- Projects ---

// CreateProject creates a project owned by the caller.
func (s *Server) CreateProject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.svc.Projects.Create(ctx, actor, convert.String(req, "name"), convert.String(req, "description"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Project(*p)
}

// GetProject returns one project.
func (s *Server) GetProject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, id, err := s.subject(ctx, req, "id")
	if err != nil {
		return nil, err
	}
	p, err := s.svc.Projects.Get(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Project(*p)
}

// UpdateProject replaces name and description.
func (s *Server) UpdateProject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, id, err := s.subject(ctx, req, "id")
	if err != nil {
		return nil, err
	}
	p, err := s.svc.Projects.Update(ctx, actor, id, convert.String(req, "name"), convert.String(req, "description"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Project(*p)
}

// ListProjects returns one page of the projects visible to the caller.
func (s *Server) ListProjects(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	page, err := pageOf(req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	ps, err := s.svc.Projects.List(ctx, actor, page)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := make([]any, 0, len(ps))
	for _, p := range ps {
		v, err := convert.Project(p)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		out = append(out, v.AsMap())
	}
	return structpb.NewStruct(map[string]any{"projects": out})
}

// DeleteProject deletes a project logically.
func (s *Server) DeleteProject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.RequireUUID(req, "id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if err := s.svc.Projects.Delete(ctx, actor, id); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// GrantProjectPermission grants (or replaces) a user's role on a project.
func (s *Server) GrantProjectPermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	projectID, err := convert.RequireUUID(req, "project_id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	userID, err := convert.RequireUUID(req, "user_id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	perm, err := s.svc.Grants.GrantProjectPermission(ctx, actor, projectID, userID, convert.String(req, "auth_role_id"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.ProjectPermission(*perm)
}

// RevokeProjectPermission removes a user's role on a project.
func (s *Server) RevokeProjectPermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, projectID, userID, err := s.membership(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Grants.RevokeProjectPermission(ctx, actor, projectID, userID); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// Affiliate sets a user's project role on a project.
func (s *Server) Affiliate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, projectID, userID, err := s.membership(ctx, req)
	if err != nil {
		return nil, err
	}
	a, err := s.svc.Grants.Affiliate(ctx, actor, projectID, userID, convert.String(req, "project_role_id"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Affiliation(*a)
}

// Unaffiliate removes a user's affiliation with a project.
func (s *Server) Unaffiliate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, projectID, userID, err := s.membership(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Grants.Unaffiliate(ctx, actor, projectID, userID); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// GrantSystemPermission grants a system-wide role.
func (s *Server) GrantSystemPermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, userID, err := s.subject(ctx, req, "user_id")
	if err != nil {
		return nil, err
	}
	perm, err := s.svc.Grants.GrantSystemPermission(ctx, actor, userID, convert.String(req, "auth_role_id"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.SystemPermission(*perm)
}

// --- Folders ---

// CreateFolder creates a folder at the project root or under parent_id.
func (s *Server) CreateFolder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	projectID, err := convert.RequireUUID(req, "project_id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	parentID, err := convert.UUID(req, "parent_id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	f, err := s.svc.Folders.Create(ctx, actor, projectID, parentID, convert.String(req, "name"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Folder(*f)
}

// GetFolder returns one folder.
func (s *Server) GetFolder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, id, err := s.subject(ctx, req, "id")
	if err != nil {
		return nil, err
	}
	f, err := s.svc.Folders.Get(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Folder(*f)
}

// ListFolders returns one page of the visible folders of a project.
func (s *Server) ListFolders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, projectID, err := s.subject(ctx, req, "project_id")
	if err != nil {
		return nil, err
	}
	page, err := pageOf(req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	fs, err := s.svc.Folders.List(ctx, actor, projectID, page)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := make([]any, 0, len(fs))
	for _, f := range fs {
		v, err := convert.Folder(f)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		out = append(out, v.AsMap())
	}
	return structpb.NewStruct(map[string]any{"folders": out})
}

// MoveFolder re-parents a folder; an empty parent_id moves it to the root.
func (s *Server) MoveFolder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.RequireUUID(req, "id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	parentID, err := convert.UUID(req, "parent_id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	f, err := s.svc.Folders.Move(ctx, actor, id, parentID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Folder(*f)
}

// RenameFolder renames a folder.
func (s *Server) RenameFolder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.RequireUUID(req, "id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	f, err := s.svc.Folders.Rename(ctx, actor, id, convert.String(req, "name"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Folder(*f)
}

// DeleteFolder deletes a folder logically.
func (s *Server) DeleteFolder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, id, err := s.subject(ctx, req, "id")
	if err != nil {
		return nil, err
	}
	if err := s.svc.Folders.Delete(ctx, actor, id); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// --- Software agents ---

// CreateSoftwareAgent registers an agent owned by the caller.
func (s *Server) CreateSoftwareAgent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.svc.Agents.Create(ctx, actor,
		convert.String(req, "name"), convert.String(req, "description"), convert.String(req, "repo_url"))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.SoftwareAgent(*a)
}

// GetSoftwareAgent returns one agent.
func (s *Server) GetSoftwareAgent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, id, err := s.subject(ctx, req, "id")
	if err != nil {
		return nil, err
	}
	a, err := s.svc.Agents.Get(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.SoftwareAgent(*a)
}

// DeleteSoftwareAgent deletes an agent logically and revokes its key.
func (s *Server) DeleteSoftwareAgent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.RequireUUID(req, "id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if err := s.svc.Agents.Delete(ctx, actor, id); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// GenerateAgentKey replaces an agent's api key. The plaintext key is only
// returned here.
func (s *Server) GenerateAgentKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	id, err := convert.RequireUUID(req, "agent_id")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	key, err := s.svc.Agents.GenerateAgentKey(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return structpb.NewStruct(map[string]any{"key": key})
}

// RevokeAgentKey removes an agent's api key.
func (s *Server) RevokeAgentKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, id, err := s.subject(ctx, req, "agent_id")
	if err != nil {
		return nil, err
	}
	if err := s.svc.Agents.RevokeAgentKey(ctx, actor, id); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// GenerateUserKey replaces the caller's own api key.
func (s *Server) GenerateUserKey(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	key, err := s.svc.Agents.GenerateUserKey(ctx, actor)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return structpb.NewStruct(map[string]any{"key": key})
}

// RevokeUserKey removes the caller's own api key.
func (s *Server) RevokeUserKey(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Agents.RevokeUserKey(ctx, actor); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// --- helpers ---

// subject returns the caller and the required uuid field.
func (s *Server) subject(ctx context.Context, req *structpb.Struct, field string) (model.Actor, uuid.UUID, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return model.Actor{}, uuid.Nil, err
	}
	id, err := convert.RequireUUID(req, field)
	if err != nil {
		return model.Actor{}, uuid.Nil, s.fail(ctx, err)
	}
	return actor, id, nil
}

// membership returns the caller, project_id and user_id.
func (s *Server) membership(ctx context.Context, req *structpb.Struct) (model.Actor, uuid.UUID, uuid.UUID, error) {
	actor, projectID, err := s.subject(ctx, req, "project_id")
	if err != nil {
		return model.Actor{}, uuid.Nil, uuid.Nil, err
	}
	userID, err := convert.RequireUUID(req, "user_id")
	if err != nil {
		return model.Actor{}, uuid.Nil, uuid.Nil, s.fail(ctx, err)
	}
	return actor, projectID, userID, nil
}

func pageOf(req *structpb.Struct) (repository.Page, error) {
	var (
		page repository.Page
		err  error
	)
	if page.Offset, err = convert.Int(req, "offset"); err != nil {
		return page, err
	}
	page.Limit, err = convert.Int(req, "limit")
	return page, err
}

func (s *Server) target(ctx context.Context, req *structpb.Struct) (model.Actor, model.Kind, uuid.UUID, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return model.Actor{}, "", uuid.Nil, err
	}
	kind, err := convert.Kind(req, "kind")
	if err != nil {
		return model.Actor{}, "", uuid.Nil, s.fail(ctx, err)
	}
	id, err := convert.RequireUUID(req, "id")
	if err != nil {
		return model.Actor{}, "", uuid.Nil, s.fail(ctx, err)
	}
	return actor, kind, id, nil
}

func actorFrom(ctx context.Context) (model.Actor, error) {
	a, ok := ActorFromCtx(ctx)
	if !ok {
		return model.Actor{}, status.Error(codes.Unauthenticated, "no auth")
	}
	return a, nil
}

// fail maps err to a status and logs the ones callers cannot act on.
func (s *Server) fail(ctx context.Context, err error) error {
	st := toStatus(err)
	if code := status.Code(st); code == codes.Internal || code == codes.Aborted {
		s.log.Error("request failed",
			zap.String("code", code.String()),
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
			zap.Error(err),
		)
	}
	return st
}

// toStatus maps service errors to gRPC status codes. Absent and forbidden
// resources share one code and message.
func toStatus(err error) error {
	var invalid *errs.ValidationError
	switch {
	case errs.IsConsistency(err):
		return status.Error(codes.Aborted, "consistency")
	case errs.IsNotFound(err):
		return status.Error(codes.NotFound, errs.ReasonNotFoundOrForbidden)
	case errors.Is(err, errs.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, invalid.Error())
	case errors.Is(err, errs.ErrCycle), errors.Is(err, errs.ErrInvalidRole):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	default:
		return status.Error(codes.Internal, "internal")
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
