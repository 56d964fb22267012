// Package model defines domain entities used by services, policies and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects an issued access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// User is a human account.
type User struct {
	ID          uuid.UUID
	Username    string // unique
	DisplayName string
	Email       string
	PwdHash     []byte // Argon2id(password, SaltAuth); empty when password login is disabled
	SaltAuth    []byte
	CreatedAt   time.Time
}

// SoftwareAgent is a registered non-human caller owned by the user who created it.
type SoftwareAgent struct {
	ID          uuid.UUID
	Name        string
	Description string
	RepoURL     string
	CreatorID   uuid.UUID
	IsDeleted   bool
	CreatedAt   time.Time
}

// Actor is the pair (user, optional delegating agent) every check and audit row is made for.
type Actor struct {
	User  User
	Agent *SoftwareAgent
}

// UserID is a shorthand for the acting user's id.
func (a Actor) UserID() uuid.UUID { return a.User.ID }

// Delegated reports whether the actor acts through a software agent.
func (a Actor) Delegated() bool { return a.Agent != nil }

// ApiKey is a revocable credential. Exactly one of UserID/SoftwareAgentID identifies the owner
// of the key; the secret is only stored hashed.
type ApiKey struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	SoftwareAgentID uuid.UUID
	Salt            []byte
	Hash            []byte
	CreatedAt       time.Time
}

// Project is the root of a resource tree.
type Project struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatorID   uuid.UUID
	Etag        string
	IsDeleted   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Folder is a container inside a project; ParentID is uuid.Nil at the project root.
type Folder struct {
	ID        uuid.UUID
	Name      string
	ProjectID uuid.UUID
	ParentID  uuid.UUID
	CreatorID uuid.UUID
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
