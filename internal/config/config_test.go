package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contactsync/internal/config"
	"github.com/shpitdev/contactsync/internal/contact"
	"github.com/shpitdev/contactsync/pkg/apollo"
	"github.com/shpitdev/contactsync/pkg/pipeline/core"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvConfigPath, "APOLLO_BASE_URL", "RATE_LIMIT_RPS", "REQUEST_TIMEOUT", "MAX_ATTEMPTS", "LOG_ENV"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contactsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, apollo.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.RateLimitCooldown)
	assert.Equal(t, 1200*time.Millisecond, cfg.CallPause)
	assert.Equal(t, []string{"first_name", "last_name", "organization_name"}, cfg.KeepFields)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
base_url: https://proxy.example.test/v1
max_attempts: 5
call_pause: 250ms
keep_fields: [title]
field_synonyms:
  organization_name: [Employer, Company]
`)
	t.Setenv("MAX_ATTEMPTS", "4")
	t.Setenv("RATE_LIMIT_RPS", "1.5")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://proxy.example.test/v1", cfg.BaseURL)
	assert.Equal(t, 4, cfg.MaxAttempts, "env wins over file")
	assert.Equal(t, 1.5, cfg.RateLimitRPS)
	assert.Equal(t, 250*time.Millisecond, cfg.CallPause)
	assert.Equal(t, 2*time.Second, cfg.BatchPause, "unset keys keep defaults")
	assert.Equal(t, []string{"Employer", "Company"}, cfg.Synonyms()["organization_name"])
	assert.Equal(t, []string{"email", "Email", "EMAIL"}, cfg.Synonyms()["email"])

	opts := cfg.SyncOptions()
	assert.Equal(t, 4, opts.MaxAttempts)
	assert.True(t, opts.Keep(apollo.Contact{"title": "CTO"}))
	assert.False(t, opts.Keep(apollo.Contact{"first_name": "Ada"}))
}

func TestLoad_PathFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvConfigPath, writeFile(t, "page_size: 50\n"))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PageSize)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = config.Load(writeFile(t, "max_attempt: 3\n"))
	require.ErrorContains(t, err, "max_attempt")

	t.Setenv("REQUEST_TIMEOUT", "soon")
	_, err = config.Load("")
	require.ErrorContains(t, err, `invalid REQUEST_TIMEOUT="soon"`)
}

func TestValidate_ReportsYAMLNames(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxAttempts = 0
	cfg.PageSize = 500
	cfg.KeepFields = nil
	cfg.BaseURL = "not a url"
	cfg.LogEnv = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"max_attempts", "page_size", "keep_fields", "base_url", "log_env"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_EmptySynonymList(t *testing.T) {
	cfg := config.Defaults()
	cfg.FieldSynonyms = map[string][]string{"title": {}}
	require.Error(t, cfg.Validate())
}

func TestValidate_SynonymKeysLimitedToKnownFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
	}{
		{name: "unknown field", field: "phone_number"},
		{name: "identity field", field: "email"},
		{name: "blank key", field: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.FieldSynonyms = map[string][]string{tt.field: {"Header"}}
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "overridable_field")
		})
	}
}

func TestSynonymsDriveNormalisation(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load(writeFile(t, "field_synonyms:\n  title: [Role]\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	c, err := contact.Normalize(core.Record{"email": "a@x.com", "Role": "CTO", "title": "Ignored"}, cfg.SyncOptions().Synonyms)
	require.NoError(t, err)
	v, _ := c.Get(contact.FieldTitle)
	assert.Equal(t, "CTO", v)
}
