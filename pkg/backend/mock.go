package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockClient is an in-memory backend for offline runs and tests. Creation
// returns deterministic synthetic ids (role-1, team-1, user-1, ...).
type MockClient struct {
	mu       sync.Mutex
	loggedIn bool

	roles []Role
	teams []Team
	users []User

	teamSeq int
	userSeq int

	// RejectEmails simulates per-user backend failures (e.g. HTTP 409).
	RejectEmails map[string]string
}

// NewMockClient creates a mock with the closed role set preloaded.
func NewMockClient() *MockClient {
	m := &MockClient{RejectEmails: make(map[string]string)}
	for i, name := range []string{
		"TEAM MEMBER", "MANAGER", "MONITOR", "ADMINISTRATOR", "COMPANY ADMINISTRATOR",
	} {
		m.roles = append(m.roles, Role{ID: fmt.Sprintf("role-%d", i+1), Name: name})
	}
	return m
}

func (m *MockClient) Login(_ context.Context, email, password string) error {
	if email == "" || password == "" {
		return fmt.Errorf("mock backend: empty credentials")
	}
	m.mu.Lock()
	m.loggedIn = true
	m.mu.Unlock()
	return nil
}

func (m *MockClient) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return nil, ErrNotLoggedIn
	}
	return append([]Role(nil), m.roles...), nil
}

func (m *MockClient) ListTeams(_ context.Context) ([]Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return nil, ErrNotLoggedIn
	}
	return append([]Team(nil), m.teams...), nil
}

func (m *MockClient) ListUsers(_ context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return nil, ErrNotLoggedIn
	}
	return append([]User(nil), m.users...), nil
}

func (m *MockClient) FindUser(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return nil, ErrNotLoggedIn
	}
	for i := range m.users {
		if strings.EqualFold(m.users[i].Email, email) {
			u := m.users[i]
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MockClient) FindTeam(_ context.Context, name string) (*Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return nil, ErrNotLoggedIn
	}
	for i := range m.teams {
		if m.teams[i].Name == name {
			t := m.teams[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (m *MockClient) CreateTeam(_ context.Context, req TeamCreate) (*Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return nil, ErrNotLoggedIn
	}
	for i := range m.teams {
		if m.teams[i].Name == req.Name {
			return nil, fmt.Errorf("mock backend: team %q already exists", req.Name)
		}
	}
	m.teamSeq++
	t := Team{ID: fmt.Sprintf("team-%d", m.teamSeq), Name: req.Name}
	m.teams = append(m.teams, t)
	return &t, nil
}

func (m *MockClient) CreateUser(_ context.Context, req UserCreate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return nil, ErrNotLoggedIn
	}
	if reason, ok := m.RejectEmails[strings.ToLower(req.Email)]; ok {
		return nil, fmt.Errorf("mock backend: %s", reason)
	}
	for i := range m.users {
		if strings.EqualFold(m.users[i].Email, req.Email) {
			return nil, fmt.Errorf("mock backend: user %q already exists", req.Email)
		}
	}
	m.userSeq++
	u := User{ID: fmt.Sprintf("user-%d", m.userSeq), Email: req.Email}
	m.users = append(m.users, u)
	return &u, nil
}
