package backend

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"importbot/pkg/dataset"
	"importbot/pkg/logx"
	"importbot/pkg/metrics"
)

// Failure records one per-item creation failure. Per-user failures are
// collected and reported; they never abort the batch.
type Failure struct {
	Email  string
	Team   string
	Reason string
}

func (f Failure) Subject() string {
	if f.Email != "" {
		return f.Email
	}
	return f.Team
}

// ImportResult summarizes one create pass.
type ImportResult struct {
	CreatedUsers  []string
	ExistingUsers []string
	CreatedTeams  []string
	Failures      []Failure
}

// Importer runs the creation order of the backend contract: resolve role
// ids, ensure teams in order of first appearance, create users.
type Importer struct {
	client            Client
	escalationMinutes int
	log               *zap.Logger
}

// NewImporter wraps a logged-in client.
func NewImporter(client Client, escalationMinutes int, log *zap.Logger) *Importer {
	if log == nil {
		log = logx.L()
	}
	return &Importer{client: client, escalationMinutes: escalationMinutes, log: log}
}

// Import creates the valid rows of a report. Idempotent: users found by
// email and teams found by name short-circuit creation.
func (im *Importer) Import(ctx context.Context, rep *dataset.Report) (*ImportResult, error) {
	res := &ImportResult{}

	roles, err := im.client.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	roleIDs := make(map[string]string, len(roles))
	for _, r := range roles {
		roleIDs[strings.ToUpper(r.Name)] = r.ID
	}

	teamIDs, err := im.ensureTeams(ctx, rep, res)
	if err != nil {
		return nil, err
	}

	for _, row := range rep.ValidRows() {
		roleID, ok := roleIDs[row.Role]
		if !ok {
			res.Failures = append(res.Failures, Failure{Email: row.Email,
				Reason: fmt.Sprintf("role %q not present in backend", row.Role)})
			metrics.BackendFailures.Inc()
			continue
		}

		existing, err := im.client.FindUser(ctx, row.Email)
		if err != nil {
			return nil, fmt.Errorf("find user %s: %w", row.Email, err)
		}
		if existing != nil {
			res.ExistingUsers = append(res.ExistingUsers, row.Email)
			continue
		}

		ids := make([]string, 0, len(row.Teams))
		for _, t := range row.Teams {
			if id, ok := teamIDs[t]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			res.Failures = append(res.Failures, Failure{Email: row.Email,
				Reason: "none of the user's teams exist in the backend"})
			metrics.BackendFailures.Inc()
			continue
		}

		_, err = im.client.CreateUser(ctx, UserCreate{
			FirstName:     row.FirstName,
			LastName:      row.LastName,
			Email:         row.Email,
			Title:         row.JobTitle,
			MobileNumbers: []MobileNumber{{Number: row.Mobile, IsActive: true}},
			TeamIDs:       ids,
			DefaultTeam:   ids[0],
			RoleID:        roleID,
		})
		if err != nil {
			im.log.Warn("user creation failed",
				zap.String("email", row.Email), zap.Error(err))
			res.Failures = append(res.Failures, Failure{Email: row.Email, Reason: err.Error()})
			metrics.BackendFailures.Inc()
			continue
		}
		res.CreatedUsers = append(res.CreatedUsers, row.Email)
		metrics.UsersCreated.Inc()
	}

	return res, nil
}

// ensureTeams creates missing teams in insertion order of first appearance.
// New teams get one escalation level with the team's members as contacts;
// members are resolved by the emails of the rows naming the team.
func (im *Importer) ensureTeams(ctx context.Context, rep *dataset.Report, res *ImportResult) (map[string]string, error) {
	teamIDs := make(map[string]string)

	for _, name := range rep.TeamNames() {
		existing, err := im.client.FindTeam(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("find team %q: %w", name, err)
		}
		if existing != nil {
			teamIDs[name] = existing.ID
			continue
		}

		members := im.memberIDs(ctx, rep, name)
		created, err := im.client.CreateTeam(ctx, TeamCreate{
			Name:    name,
			Members: members,
			EscalationLevels: []EscalationLevel{{
				Minutes:            im.escalationMinutes,
				EscalationContacts: members,
			}},
		})
		if err != nil {
			im.log.Warn("team creation failed", zap.String("team", name), zap.Error(err))
			res.Failures = append(res.Failures, Failure{Team: name, Reason: err.Error()})
			metrics.BackendFailures.Inc()
			continue
		}
		teamIDs[name] = created.ID
		res.CreatedTeams = append(res.CreatedTeams, name)
		metrics.TeamsCreated.Inc()
	}
	return teamIDs, nil
}

// memberIDs resolves the backend ids of users already present whose rows
// name the team. Users still to be created are associated via team_ids on
// their own create call.
func (im *Importer) memberIDs(ctx context.Context, rep *dataset.Report, team string) []string {
	var ids []string
	for _, row := range rep.ValidRows() {
		names := false
		for _, t := range row.Teams {
			if t == team {
				names = true
				break
			}
		}
		if !names {
			continue
		}
		if u, err := im.client.FindUser(ctx, row.Email); err == nil && u != nil {
			ids = append(ids, u.ID)
		}
	}
	return ids
}
