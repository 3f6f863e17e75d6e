// Package model defines domain entities used by the client core, services and repositories.
package model

import (
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Principal is the authenticated identity of a session. Consumers get copies.
type Principal struct {
	ID          string `json:"uid" yaml:"uid"`
	DisplayName string `json:"name,omitempty" yaml:"name,omitempty"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Task is a single to-do item. The JSON form is the stored record shape.
type Task struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description,omitempty"`
	Deadline    string `json:"deadline" yaml:"deadline"` // ISO-8601 date, 2006-01-02
	Priority    int    `json:"priority" yaml:"priority"`
	Completed   bool   `json:"completed" yaml:"completed"`
}

// DeadlineLayout is the date layout of Task.Deadline.
const DeadlineLayout = time.DateOnly

// Snapshot is the complete current content of a task collection keyed by task id.
type Snapshot map[string]Task

// Tasks returns the snapshot values ordered by key.
func (s Snapshot) Tasks() []Task {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Task, 0, len(s))
	for _, k := range keys {
		out = append(out, s[k])
	}
	return out
}

// Tokens collects an issued access token with its session id.
type Tokens struct {
	AccessToken string
	SessionID   uuid.UUID
	ExpiresAt   time.Time // access token expiry
}

// User is an account stored on the server.
type User struct {
	ID          uuid.UUID // PK
	Email       string    // unique, lower-cased
	DisplayName string
	PwdHash     string // PHC-encoded Argon2id
	CreatedAt   time.Time
}

// Principal converts a stored user into the public identity.
func (u User) Principal() Principal {
	return Principal{ID: u.ID.String(), DisplayName: u.DisplayName, Email: u.Email}
}

// Session is a server-side login session referenced by the token's jti.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Record is a raw task record as stored on the server.
type Record struct {
	UserID    uuid.UUID
	TaskID    string
	Body      []byte // JSON object
	UpdatedAt time.Time
}
