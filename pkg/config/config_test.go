package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Tracker: TrackerConfig{
			Domain:   "example.atlassian.net",
			Email:    "bot@example.io",
			APIToken: "token",
		},
		Backend:            BackendConfig{Mock: true},
		Vault:              VaultConfig{EmailTemplate: "customersolutions+%s@example.io"},
		Approval:           ApprovalConfig{MarkerPrefix: MarkerPrefix},
		AttachmentMaxBytes: 31457280,
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingTrackerCredentials(t *testing.T) {
	c := validConfig()
	c.Tracker.APIToken = ""
	assert.Error(t, c.Validate())
}

func TestValidateRequiresBackendURLWithoutMock(t *testing.T) {
	c := validConfig()
	c.Backend.Mock = false
	assert.Error(t, c.Validate())

	c.Backend.BaseURL = "https://backend.example.io"
	assert.NoError(t, c.Validate())
}

func TestValidateEmailTemplatePlaceholder(t *testing.T) {
	c := validConfig()
	c.Vault.EmailTemplate = "static@example.io"
	assert.Error(t, c.Validate())

	c.Vault.EmailTemplate = "a+%s+%s@example.io"
	assert.Error(t, c.Validate())
}

func TestValidateMarkerPrefixIsFixed(t *testing.T) {
	c := validConfig()
	c.Approval.MarkerPrefix = "[BOT:user-upload:approval-request:v1]"
	assert.Error(t, c.Validate())
}

func TestServiceAccountHelpers(t *testing.T) {
	c := validConfig()
	assert.Equal(t, "customersolutions+acme@example.io", c.ServiceAccountEmail("acme"))
	assert.Equal(t, "example.io", c.ServiceDomain())
}

func TestPollInterval(t *testing.T) {
	c := validConfig()
	c.PollIntervalSeconds = 300
	assert.Equal(t, 5*time.Minute, c.PollInterval())
}
