// Package backend talks to the downstream identity backend: tenant login,
// role/team/user lookup, and idempotent user/team creation.
package backend

import (
	"context"
	"fmt"
)

// Role is a backend user role.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Team is a backend team.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a backend user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// EscalationLevel configures team escalation. The default is exactly one
// level at 180 minutes with the team's members as contacts.
type EscalationLevel struct {
	Minutes            int      `json:"minutes"`
	EscalationContacts []string `json:"escalation_contacts"`
}

// TeamCreate is the create-team request.
type TeamCreate struct {
	Name             string            `json:"name"`
	Members          []string          `json:"members"`
	EscalationLevels []EscalationLevel `json:"escalation_levels"`
}

// MobileNumber is one user phone entry.
type MobileNumber struct {
	Number   string `json:"number"`
	IsActive bool   `json:"is_active"`
}

// UserCreate is the create-user request.
type UserCreate struct {
	FirstName     string         `json:"first_name"`
	LastName      string         `json:"last_name"`
	Email         string         `json:"email"`
	Title         string         `json:"title,omitempty"`
	MobileNumbers []MobileNumber `json:"mobile_numbers"`
	TeamIDs       []string       `json:"team_ids"`
	DefaultTeam   string         `json:"default_team"`
	RoleID        string         `json:"role_id"`
}

// Client is the identity-backend surface. The HTTP client and the mock
// implement it.
type Client interface {
	Login(ctx context.Context, email, password string) error
	ListRoles(ctx context.Context) ([]Role, error)
	ListTeams(ctx context.Context) ([]Team, error)
	ListUsers(ctx context.Context) ([]User, error)

	// FindUser matches email case-insensitively; returns nil when absent.
	FindUser(ctx context.Context, email string) (*User, error)
	// FindTeam matches the name exactly; returns nil when absent.
	FindTeam(ctx context.Context, name string) (*Team, error)

	CreateTeam(ctx context.Context, req TeamCreate) (*Team, error)
	CreateUser(ctx context.Context, req UserCreate) (*User, error)
}

// Factory hands out a logged-in client for a tenant. Sessions are reused
// across tickets sharing a tenant within one run.
type Factory interface {
	ForTenant(ctx context.Context, tenant, email, password string) (Client, error)
}

// ErrNotLoggedIn is returned when an operation runs before Login.
var ErrNotLoggedIn = fmt.Errorf("backend: not logged in")
