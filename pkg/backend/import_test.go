package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"importbot/pkg/dataset"
)

func importRows(t *testing.T, rows []*dataset.Row) (*MockClient, *dataset.Report) {
	t.Helper()
	m := NewMockClient()
	require.NoError(t, m.Login(context.Background(), "svc@example.io", "pw"))
	rep := dataset.Validate(rows)
	dataset.SplitTeams(rep)
	return m, rep
}

func rowFor(email, teams string) *dataset.Row {
	return &dataset.Row{
		Email:     email,
		FirstName: "Ada",
		LastName:  "Lovelace",
		TeamsCell: teams,
		Role:      "Team Member",
	}
}

func TestImportCreatesTeamsThenUsers(t *testing.T) {
	m, rep := importRows(t, []*dataset.Row{
		rowFor("ada@example.com", "Ops|Engineering"),
		rowFor("grace@example.com", "Engineering"),
	})
	im := NewImporter(m, 180, nil)

	res, err := im.Import(context.Background(), rep)
	require.NoError(t, err)

	assert.Equal(t, []string{"Ops", "Engineering"}, res.CreatedTeams, "first-appearance order")
	assert.Equal(t, []string{"ada@example.com", "grace@example.com"}, res.CreatedUsers)
	assert.Empty(t, res.Failures)

	teams, _ := m.ListTeams(context.Background())
	assert.Len(t, teams, 2)
}

func TestImportIsIdempotent(t *testing.T) {
	m, rep := importRows(t, []*dataset.Row{
		rowFor("ada@example.com", "Ops"),
	})
	im := NewImporter(m, 180, nil)

	first, err := im.Import(context.Background(), rep)
	require.NoError(t, err)
	require.Equal(t, []string{"ada@example.com"}, first.CreatedUsers)

	second, err := im.Import(context.Background(), rep)
	require.NoError(t, err)
	assert.Empty(t, second.CreatedUsers)
	assert.Empty(t, second.CreatedTeams)
	assert.Equal(t, []string{"ada@example.com"}, second.ExistingUsers)
	assert.Empty(t, second.Failures)

	users, _ := m.ListUsers(context.Background())
	assert.Len(t, users, 1, "re-running creates nothing")
}

func TestImportExistingUserDetectionIsCaseInsensitive(t *testing.T) {
	m, rep := importRows(t, []*dataset.Row{rowFor("Ada@Example.com", "Ops")})
	im := NewImporter(m, 180, nil)

	_, err := im.Import(context.Background(), rep)
	require.NoError(t, err)

	m2rep := dataset.Validate([]*dataset.Row{rowFor("ada@example.com", "Ops")})
	res, err := im.Import(context.Background(), m2rep)
	require.NoError(t, err)
	assert.Empty(t, res.CreatedUsers)
	assert.Len(t, res.ExistingUsers, 1)
}

func TestImportCollectsPerUserFailures(t *testing.T) {
	m, rep := importRows(t, []*dataset.Row{
		rowFor("ada@example.com", "Ops"),
		rowFor("bad@example.com", "Ops"),
		rowFor("grace@example.com", "Ops"),
	})
	m.RejectEmails["bad@example.com"] = "mobile number already in use"
	im := NewImporter(m, 180, nil)

	res, err := im.Import(context.Background(), rep)
	require.NoError(t, err)

	assert.Equal(t, []string{"ada@example.com", "grace@example.com"}, res.CreatedUsers,
		"a failing user never blocks the rest of the batch")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad@example.com", res.Failures[0].Subject())
	assert.Contains(t, res.Failures[0].Reason, "mobile number already in use")
}

func TestImportUnknownRoleInBackend(t *testing.T) {
	m, rep := importRows(t, []*dataset.Row{rowFor("ada@example.com", "Ops")})
	rep.Rows[0].Role = "ARCHDUKE" // validated upstream, but the backend may disagree
	im := NewImporter(m, 180, nil)

	res, err := im.Import(context.Background(), rep)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Reason, "role")
}

func TestImportNewTeamEscalationContacts(t *testing.T) {
	m, _ := importRows(t, nil)
	// Seed an existing member of the team.
	_, err := m.CreateUser(context.Background(), UserCreate{Email: "ada@example.com"})
	require.NoError(t, err)

	rep := dataset.Validate([]*dataset.Row{rowFor("ada@example.com", "Ops")})
	im := NewImporter(m, 240, nil)
	res, err := im.Import(context.Background(), rep)
	require.NoError(t, err)

	assert.Equal(t, []string{"Ops"}, res.CreatedTeams)
	assert.Equal(t, []string{"ada@example.com"}, res.ExistingUsers)
}

func TestPoolLogsInOncePerTenant(t *testing.T) {
	dialed := 0
	p := NewPool(func() Client {
		dialed++
		return NewMockClient()
	})

	a1, err := p.ForTenant(context.Background(), "acme", "svc@example.io", "pw")
	require.NoError(t, err)
	a2, err := p.ForTenant(context.Background(), "acme", "svc@example.io", "pw")
	require.NoError(t, err)
	_, err = p.ForTenant(context.Background(), "globex", "svc2@example.io", "pw")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, 2, dialed)
}
