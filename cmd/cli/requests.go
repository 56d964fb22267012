package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"
)

var errUnknownCommand = errors.New("unknown command")

// rpcCommand maps one subcommand onto a DataService method. bind registers
// the subcommand flags and returns a function producing the request fields.
type rpcCommand struct {
	method string
	bind   func(fs *flag.FlagSet) func() (map[string]any, error)
}

var rpcCommands = map[string]rpcCommand{
	"agent-login": {"IssueAgentToken", func(fs *flag.FlagSet) func() (map[string]any, error) {
		agentKey := fs.String("agent-key", "", "software agent API key")
		userKey := fs.String("user-key", "", "user API key")
		return func() (map[string]any, error) {
			if err := required("agent-key", *agentKey, "user-key", *userKey); err != nil {
				return nil, err
			}
			return map[string]any{"agent_key": *agentKey, "user_key": *userKey}, nil
		}
	}},
	"user-login": {"Login", func(fs *flag.FlagSet) func() (map[string]any, error) {
		username := fs.String("username", "", "username")
		password := fs.String("password", "", "password")
		return func() (map[string]any, error) {
			if err := required("username", *username, "password", *password); err != nil {
				return nil, err
			}
			return map[string]any{"username": *username, "password": *password}, nil
		}
	}},
	"user-create": {"CreateUser", func(fs *flag.FlagSet) func() (map[string]any, error) {
		username := fs.String("username", "", "username")
		name := fs.String("name", "", "display name")
		email := fs.String("email", "", "email")
		password := fs.String("password", "", "password (empty: no password login)")
		return func() (map[string]any, error) {
			if err := required("username", *username); err != nil {
				return nil, err
			}
			return map[string]any{
				"username": *username, "display_name": *name, "email": *email, "password": *password,
			}, nil
		}
	}},
	"authorize": {"Authorize", func(fs *flag.FlagSet) func() (map[string]any, error) {
		kind, id := targetFlags(fs)
		action := fs.String("action", "", "action (show, create, update, destroy, download, move, rename)")
		return func() (map[string]any, error) {
			if err := required("kind", *kind, "action", *action); err != nil {
				return nil, err
			}
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			return map[string]any{"kind": *kind, "id": *id, "action": *action}, nil
		}
	}},
	"scope": {"Scope", func(fs *flag.FlagSet) func() (map[string]any, error) {
		kind := fs.String("kind", "", "resource kind")
		action := fs.String("action", "show", "action")
		return func() (map[string]any, error) {
			if err := required("kind", *kind); err != nil {
				return nil, err
			}
			return map[string]any{"kind": *kind, "action": *action}, nil
		}
	}},
	"history": {"History", func(fs *flag.FlagSet) func() (map[string]any, error) {
		kind, id := targetFlags(fs)
		after := fs.Int("after", 0, "only entries with a greater version")
		return func() (map[string]any, error) {
			if err := required("kind", *kind); err != nil {
				return nil, err
			}
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			if *after < 0 {
				return nil, errors.New("-after must not be negative")
			}
			return map[string]any{"kind": *kind, "id": *id, "after_version": *after}, nil
		}
	}},
	"attribution": {"Attribution", func(fs *flag.FlagSet) func() (map[string]any, error) {
		kind, id := targetFlags(fs)
		return func() (map[string]any, error) {
			if err := required("kind", *kind); err != nil {
				return nil, err
			}
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			return map[string]any{"kind": *kind, "id": *id}, nil
		}
	}},
	"project-create": {"CreateProject", func(fs *flag.FlagSet) func() (map[string]any, error) {
		name := fs.String("name", "", "project name")
		desc := fs.String("desc", "", "description")
		return func() (map[string]any, error) {
			if err := required("name", *name); err != nil {
				return nil, err
			}
			return map[string]any{"name": *name, "description": *desc}, nil
		}
	}},
	"project-get": {"GetProject", idCommand("project id", "id")},
	"project-list": {"ListProjects", func(fs *flag.FlagSet) func() (map[string]any, error) {
		page := pageFlags(fs)
		return func() (map[string]any, error) { return page() }
	}},
	"project-update": {"UpdateProject", func(fs *flag.FlagSet) func() (map[string]any, error) {
		id := fs.String("id", "", "project id")
		name := fs.String("name", "", "project name")
		desc := fs.String("desc", "", "description")
		return func() (map[string]any, error) {
			if err := required("name", *name); err != nil {
				return nil, err
			}
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			return map[string]any{"id": *id, "name": *name, "description": *desc}, nil
		}
	}},
	"project-rm": {"DeleteProject", func(fs *flag.FlagSet) func() (map[string]any, error) {
		id := fs.String("id", "", "project id")
		return func() (map[string]any, error) {
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			return map[string]any{"id": *id}, nil
		}
	}},
	"folder-create": {"CreateFolder", func(fs *flag.FlagSet) func() (map[string]any, error) {
		project := fs.String("project", "", "project id")
		parent := fs.String("parent", "", "parent folder id (empty: project root)")
		name := fs.String("name", "", "folder name")
		return func() (map[string]any, error) {
			if err := required("name", *name); err != nil {
				return nil, err
			}
			if err := uuidFlags("project", *project); err != nil {
				return nil, err
			}
			m := map[string]any{"project_id": *project, "name": *name}
			if *parent != "" {
				if err := uuidFlags("parent", *parent); err != nil {
					return nil, err
				}
				m["parent_id"] = *parent
			}
			return m, nil
		}
	}},
	"folder-get": {"GetFolder", idCommand("folder id", "id")},
	"folder-list": {"ListFolders", func(fs *flag.FlagSet) func() (map[string]any, error) {
		project := fs.String("project", "", "project id")
		page := pageFlags(fs)
		return func() (map[string]any, error) {
			if err := uuidFlags("project", *project); err != nil {
				return nil, err
			}
			m, err := page()
			if err != nil {
				return nil, err
			}
			m["project_id"] = *project
			return m, nil
		}
	}},
	"folder-rm": {"DeleteFolder", idCommand("folder id", "id")},
	"folder-mv": {"MoveFolder", func(fs *flag.FlagSet) func() (map[string]any, error) {
		id := fs.String("id", "", "folder id")
		parent := fs.String("parent", "", "new parent folder id (empty: project root)")
		return func() (map[string]any, error) {
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			m := map[string]any{"id": *id}
			if *parent != "" {
				if err := uuidFlags("parent", *parent); err != nil {
					return nil, err
				}
				m["parent_id"] = *parent
			}
			return m, nil
		}
	}},
	"folder-rename": {"RenameFolder", func(fs *flag.FlagSet) func() (map[string]any, error) {
		id := fs.String("id", "", "folder id")
		name := fs.String("name", "", "new name")
		return func() (map[string]any, error) {
			if err := required("name", *name); err != nil {
				return nil, err
			}
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			return map[string]any{"id": *id, "name": *name}, nil
		}
	}},
	"grant": {"GrantProjectPermission", func(fs *flag.FlagSet) func() (map[string]any, error) {
		project := fs.String("project", "", "project id")
		user := fs.String("user", "", "user id")
		role := fs.String("role", "", "auth role id (e.g. project_admin, project_viewer)")
		return func() (map[string]any, error) {
			if err := required("role", *role); err != nil {
				return nil, err
			}
			if err := uuidFlags("project", *project, "user", *user); err != nil {
				return nil, err
			}
			return map[string]any{"project_id": *project, "user_id": *user, "auth_role_id": *role}, nil
		}
	}},
	"revoke": {"RevokeProjectPermission", func(fs *flag.FlagSet) func() (map[string]any, error) {
		pair := membershipFlags(fs)
		return func() (map[string]any, error) { return pair() }
	}},
	"affiliate": {"Affiliate", func(fs *flag.FlagSet) func() (map[string]any, error) {
		pair := membershipFlags(fs)
		role := fs.String("role", "", "project role id (e.g. principal_investigator)")
		return func() (map[string]any, error) {
			if err := required("role", *role); err != nil {
				return nil, err
			}
			m, err := pair()
			if err != nil {
				return nil, err
			}
			m["project_role_id"] = *role
			return m, nil
		}
	}},
	"unaffiliate": {"Unaffiliate", func(fs *flag.FlagSet) func() (map[string]any, error) {
		pair := membershipFlags(fs)
		return func() (map[string]any, error) { return pair() }
	}},
	"grant-system": {"GrantSystemPermission", func(fs *flag.FlagSet) func() (map[string]any, error) {
		user := fs.String("user", "", "user id")
		role := fs.String("role", "", "auth role id (e.g. system_admin)")
		return func() (map[string]any, error) {
			if err := required("role", *role); err != nil {
				return nil, err
			}
			if err := uuidFlags("user", *user); err != nil {
				return nil, err
			}
			return map[string]any{"user_id": *user, "auth_role_id": *role}, nil
		}
	}},
	"agent-create": {"CreateSoftwareAgent", func(fs *flag.FlagSet) func() (map[string]any, error) {
		name := fs.String("name", "", "agent name")
		desc := fs.String("desc", "", "description")
		repo := fs.String("repo", "", "repository url")
		return func() (map[string]any, error) {
			if err := required("name", *name); err != nil {
				return nil, err
			}
			return map[string]any{"name": *name, "description": *desc, "repo_url": *repo}, nil
		}
	}},
	"agent-get": {"GetSoftwareAgent", idCommand("agent id", "id")},
	"agent-rm": {"DeleteSoftwareAgent", func(fs *flag.FlagSet) func() (map[string]any, error) {
		id := fs.String("id", "", "agent id")
		return func() (map[string]any, error) {
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			return map[string]any{"id": *id}, nil
		}
	}},
	"agent-key": {"GenerateAgentKey", func(fs *flag.FlagSet) func() (map[string]any, error) {
		id := fs.String("id", "", "agent id")
		return func() (map[string]any, error) {
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			return map[string]any{"agent_id": *id}, nil
		}
	}},
	"agent-key-rm": {"RevokeAgentKey", idCommand("agent id", "agent_id")},
	"user-key": {"GenerateUserKey", func(*flag.FlagSet) func() (map[string]any, error) {
		return func() (map[string]any, error) { return map[string]any{}, nil }
	}},
	"user-key-rm": {"RevokeUserKey", func(*flag.FlagSet) func() (map[string]any, error) {
		return func() (map[string]any, error) { return map[string]any{}, nil }
	}},
}

// buildRequest parses args for cmd and returns the method and request message.
func buildRequest(cmd string, args []string) (string, *structpb.Struct, error) {
	c, ok := rpcCommands[cmd]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	build := c.bind(fs)
	if err := fs.Parse(args); err != nil {
		return "", nil, fmt.Errorf("%s: %w", cmd, err)
	}
	fields, err := build()
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", cmd, err)
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return "", nil, err
	}
	return c.method, req, nil
}

// idCommand binds a single -id flag sent as field.
func idCommand(usage, field string) func(fs *flag.FlagSet) func() (map[string]any, error) {
	return func(fs *flag.FlagSet) func() (map[string]any, error) {
		id := fs.String("id", "", usage)
		return func() (map[string]any, error) {
			if err := uuidFlags("id", *id); err != nil {
				return nil, err
			}
			return map[string]any{field: *id}, nil
		}
	}
}

func pageFlags(fs *flag.FlagSet) func() (map[string]any, error) {
	offset := fs.Int("offset", 0, "rows to skip")
	limit := fs.Int("limit", 50, "page size (0: no limit)")
	return func() (map[string]any, error) {
		if *offset < 0 || *limit < 0 {
			return nil, errors.New("-offset and -limit must not be negative")
		}
		return map[string]any{"offset": *offset, "limit": *limit}, nil
	}
}

func membershipFlags(fs *flag.FlagSet) func() (map[string]any, error) {
	project := fs.String("project", "", "project id")
	user := fs.String("user", "", "user id")
	return func() (map[string]any, error) {
		if err := uuidFlags("project", *project, "user", *user); err != nil {
			return nil, err
		}
		return map[string]any{"project_id": *project, "user_id": *user}, nil
	}
}

func targetFlags(fs *flag.FlagSet) (kind, id *string) {
	return fs.String("kind", "", "resource kind (project, folder, data_file, ...)"),
		fs.String("id", "", "resource id")
}

// required takes (name, value) pairs and reports the first blank one.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("need -%s", pairs[i])
		}
	}
	return nil
}

// uuidFlags takes (name, value) pairs and checks each value is a uuid.
func uuidFlags(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, err := u.FromString(pairs[i+1]); err != nil {
			return fmt.Errorf("-%s must be a uuid", pairs[i])
		}
	}
	return nil
}
