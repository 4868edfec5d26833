package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func teamRow(num int, teamsCell string) *Row {
	r := validRow(num, "user"+string(rune('a'+num))+"@example.com")
	r.TeamsCell = teamsCell
	return r
}

func TestSplitTeamsPipeMode(t *testing.T) {
	rep := Validate([]*Row{
		teamRow(2, "Ops|Engineering"),
		teamRow(3, "Support"),
	})

	sep, changed := SplitTeams(rep)

	assert.Equal(t, SeparatorPipe, sep)
	assert.True(t, changed)
	assert.Equal(t, []string{"Ops", "Engineering"}, rep.Rows[0].Teams)
	assert.Equal(t, []string{"Support"}, rep.Rows[1].Teams, "single-team cells stay intact in pipe mode")
}

func TestSplitTeamsUnicodePipeLookalikes(t *testing.T) {
	// U+04CF and U+01C0 show up in cells pasted from rendered documents.
	rep := Validate([]*Row{
		teamRow(2, "OpsӏEngineering"),
		teamRow(3, "SalesǀSupport"),
	})

	sep, changed := SplitTeams(rep)

	assert.Equal(t, SeparatorPipe, sep)
	assert.True(t, changed)
	assert.Equal(t, []string{"Ops", "Engineering"}, rep.Rows[0].Teams)
	assert.Equal(t, []string{"Sales", "Support"}, rep.Rows[1].Teams)
}

func TestSplitTeamsWhitespaceMode(t *testing.T) {
	// No pipe-like character anywhere: space-separated cells are split.
	rep := Validate([]*Row{
		teamRow(2, "Ops Engineering"),
		teamRow(3, "Support"),
	})

	sep, changed := SplitTeams(rep)

	assert.Equal(t, SeparatorWhitespace, sep)
	assert.True(t, changed)
	assert.Equal(t, []string{"Ops", "Engineering"}, rep.Rows[0].Teams)
	assert.Equal(t, []string{"Support"}, rep.Rows[1].Teams)
}

func TestSplitTeamsPipePresenceDisablesWhitespaceSplitting(t *testing.T) {
	// One piped cell makes pipe the dataset separator, so a cell with spaces
	// stays a single multi-word team name.
	rep := Validate([]*Row{
		teamRow(2, "Ops|Engineering"),
		teamRow(3, "Customer Success"),
	})

	sep, _ := SplitTeams(rep)

	assert.Equal(t, SeparatorPipe, sep)
	assert.Equal(t, []string{"Customer Success"}, rep.Rows[1].Teams)
}

func TestSplitTeamsNoChange(t *testing.T) {
	rep := Validate([]*Row{teamRow(2, "Ops")})

	sep, changed := SplitTeams(rep)

	assert.Equal(t, SeparatorWhitespace, sep)
	assert.False(t, changed)
}

func TestSplitTeamsDeduplicates(t *testing.T) {
	rep := Validate([]*Row{teamRow(2, "Ops|Ops|Engineering")})
	require.True(t, rep.Rows[0].Valid())

	SplitTeams(rep)

	assert.Equal(t, []string{"Ops", "Engineering"}, rep.Rows[0].Teams)
}

func TestTeamNamesFirstAppearanceOrder(t *testing.T) {
	rep := Validate([]*Row{
		teamRow(2, "Zulu|Alpha"),
		teamRow(3, "Alpha|Mike"),
	})
	SplitTeams(rep)

	assert.Equal(t, []string{"Zulu", "Alpha", "Mike"}, rep.TeamNames())
}
