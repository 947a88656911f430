package auth

import (
	"context"

	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

// User is a directory entry for an account holder.
type User struct {
	ID    string
	Email string
	Name  string
}

// Directory resolves user IDs to account records.
type Directory interface {
	LookupUser(ctx context.Context, userID string) (*User, error)
}

// WorkOSDirectory backs Directory with the WorkOS User Management API.
type WorkOSDirectory struct {
	client *usermanagement.Client
}

func NewWorkOSDirectory(apiKey string) *WorkOSDirectory {
	return &WorkOSDirectory{client: usermanagement.NewClient(apiKey)}
}

func (d *WorkOSDirectory) LookupUser(ctx context.Context, userID string) (*User, error) {
	u, err := d.client.GetUser(ctx, usermanagement.GetUserOpts{User: userID})
	if err != nil {
		return nil, err
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	return &User{ID: u.ID, Email: u.Email, Name: name}, nil
}

// StaticDirectory is an in-memory Directory for tests.
type StaticDirectory map[string]User

func (s StaticDirectory) LookupUser(ctx context.Context, userID string) (*User, error) {
	u, ok := s[userID]
	if !ok {
		return nil, ErrUnknownUser
	}
	return &u, nil
}

// ErrUnknownUser indicates the subject does not exist in the directory.
var ErrUnknownUser = errUnknownUser{}

type errUnknownUser struct{}

func (errUnknownUser) Error() string { return "unknown user" }
