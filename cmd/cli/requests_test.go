package main

import (
	"errors"
	"testing"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"
)

func Test_buildRequest_Methods(t *testing.T) {
	t.Parallel()

	id := u.Must(u.NewV4()).String()
	other := u.Must(u.NewV4()).String()

	cases := []struct {
		cmd    string
		args   []string
		method string
		check  func(f map[string]*structpb.Value) bool
	}{
		{"authorize", []string{"-kind", "folder", "-id", id, "-action", "move"}, "Authorize",
			func(f map[string]*structpb.Value) bool {
				return f["kind"].GetStringValue() == "folder" && f["action"].GetStringValue() == "move"
			}},
		{"scope", []string{"-kind", "project"}, "Scope",
			func(f map[string]*structpb.Value) bool { return f["action"].GetStringValue() == "show" }},
		{"history", []string{"-kind", "project", "-id", id, "-after", "3"}, "History",
			func(f map[string]*structpb.Value) bool { return f["after_version"].GetNumberValue() == 3 }},
		{"attribution", []string{"-kind", "project", "-id", id}, "Attribution",
			func(f map[string]*structpb.Value) bool { return f["id"].GetStringValue() == id }},
		{"project-create", []string{"-name", "genome", "-desc", "wgs"}, "CreateProject",
			func(f map[string]*structpb.Value) bool { return f["description"].GetStringValue() == "wgs" }},
		{"project-list", nil, "ListProjects",
			func(f map[string]*structpb.Value) bool { return f["limit"].GetNumberValue() == 50 }},
		{"project-rm", []string{"-id", id}, "DeleteProject", nil},
		{"folder-create", []string{"-project", id, "-name", "raw"}, "CreateFolder",
			func(f map[string]*structpb.Value) bool { _, ok := f["parent_id"]; return !ok }},
		{"folder-mv", []string{"-id", id, "-parent", other}, "MoveFolder",
			func(f map[string]*structpb.Value) bool { return f["parent_id"].GetStringValue() == other }},
		{"folder-rename", []string{"-id", id, "-name", "cooked"}, "RenameFolder", nil},
		{"grant", []string{"-project", id, "-user", other, "-role", "project_viewer"}, "GrantProjectPermission",
			func(f map[string]*structpb.Value) bool { return f["auth_role_id"].GetStringValue() == "project_viewer" }},
		{"agent-login", []string{"-agent-key", "a.b", "-user-key", "c.d"}, "IssueAgentToken", nil},
		{"agent-create", []string{"-name", "uploader", "-repo", "https://example.org/up"}, "CreateSoftwareAgent",
			func(f map[string]*structpb.Value) bool {
				return f["repo_url"].GetStringValue() == "https://example.org/up"
			}},
		{"agent-rm", []string{"-id", id}, "DeleteSoftwareAgent", nil},
		{"agent-key", []string{"-id", id}, "GenerateAgentKey",
			func(f map[string]*structpb.Value) bool { return f["agent_id"].GetStringValue() == id }},
		{"user-key", nil, "GenerateUserKey", func(f map[string]*structpb.Value) bool { return len(f) == 0 }},
		{"user-key-rm", nil, "RevokeUserKey", func(f map[string]*structpb.Value) bool { return len(f) == 0 }},
		{"user-login", []string{"-username", "alice", "-password", "correct horse"}, "Login",
			func(f map[string]*structpb.Value) bool { return f["password"].GetStringValue() == "correct horse" }},
		{"user-create", []string{"-username", "bob", "-email", "bob@example.org"}, "CreateUser",
			func(f map[string]*structpb.Value) bool {
				return f["username"].GetStringValue() == "bob" && f["password"].GetStringValue() == ""
			}},
		{"project-get", []string{"-id", id}, "GetProject",
			func(f map[string]*structpb.Value) bool { return f["id"].GetStringValue() == id }},
		{"project-update", []string{"-id", id, "-name", "exome"}, "UpdateProject",
			func(f map[string]*structpb.Value) bool { return f["name"].GetStringValue() == "exome" }},
		{"folder-get", []string{"-id", id}, "GetFolder", nil},
		{"folder-list", []string{"-project", id, "-limit", "5"}, "ListFolders",
			func(f map[string]*structpb.Value) bool {
				return f["project_id"].GetStringValue() == id && f["limit"].GetNumberValue() == 5
			}},
		{"folder-rm", []string{"-id", id}, "DeleteFolder", nil},
		{"revoke", []string{"-project", id, "-user", other}, "RevokeProjectPermission",
			func(f map[string]*structpb.Value) bool { return f["user_id"].GetStringValue() == other }},
		{"affiliate", []string{"-project", id, "-user", other, "-role", "principal_investigator"}, "Affiliate",
			func(f map[string]*structpb.Value) bool {
				return f["project_role_id"].GetStringValue() == "principal_investigator"
			}},
		{"unaffiliate", []string{"-project", id, "-user", other}, "Unaffiliate", nil},
		{"grant-system", []string{"-user", other, "-role", "system_admin"}, "GrantSystemPermission",
			func(f map[string]*structpb.Value) bool { return f["auth_role_id"].GetStringValue() == "system_admin" }},
		{"agent-get", []string{"-id", id}, "GetSoftwareAgent", nil},
		{"agent-key-rm", []string{"-id", id}, "RevokeAgentKey",
			func(f map[string]*structpb.Value) bool { return f["agent_id"].GetStringValue() == id }},
	}
	for _, tc := range cases {
		method, req, err := buildRequest(tc.cmd, tc.args)
		if err != nil {
			t.Fatalf("%s: %v", tc.cmd, err)
		}
		if method != tc.method {
			t.Fatalf("%s: method %q, want %q", tc.cmd, method, tc.method)
		}
		if tc.check != nil && !tc.check(req.GetFields()) {
			t.Fatalf("%s: unexpected request %v", tc.cmd, req)
		}
	}
}

func Test_buildRequest_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := buildRequest("teleport", nil); !errors.Is(err, errUnknownCommand) {
		t.Fatalf("want unknown command, got %v", err)
	}
	bad := [][]string{
		{"authorize", "-kind", "folder", "-id", "nope", "-action", "show"},
		{"authorize", "-id", u.Must(u.NewV4()).String()},
		{"history", "-kind", "project", "-id", u.Must(u.NewV4()).String(), "-after", "-1"},
		{"project-create"},
		{"project-list", "-limit", "-5"},
		{"folder-mv", "-id", u.Must(u.NewV4()).String(), "-parent", "nope"},
		{"grant", "-project", u.Must(u.NewV4()).String(), "-role", "project_viewer"},
		{"agent-login", "-agent-key", "a.b"},
		{"agent-create"},
		{"agent-key", "-id", "nope"},
		{"scope", "-bogus"},
		{"user-login", "-username", "alice"},
		{"user-create", "-email", "bob@example.org"},
		{"project-update", "-id", u.Must(u.NewV4()).String()},
		{"folder-list", "-limit", "5"},
		{"affiliate", "-project", u.Must(u.NewV4()).String(), "-user", u.Must(u.NewV4()).String()},
		{"unaffiliate", "-project", u.Must(u.NewV4()).String(), "-user", "nope"},
		{"grant-system", "-role", "system_admin"},
		{"agent-key-rm"},
	}
	for _, args := range bad {
		if _, _, err := buildRequest(args[0], args[1:]); err == nil {
			t.Fatalf("%v: want error", args)
		}
	}
}

func Test_required_And_uuidFlags(t *testing.T) {
	t.Parallel()

	if err := required("a", "x", "b", "  "); err == nil || err.Error() != "need -b" {
		t.Fatalf("required: %v", err)
	}
	if err := uuidFlags("id", u.Must(u.NewV4()).String()); err != nil {
		t.Fatalf("uuidFlags: %v", err)
	}
	if err := uuidFlags("id", ""); err == nil {
		t.Fatalf("empty uuid must fail")
	}
}
