package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/contactsync/internal/config"
	"github.com/shpitdev/contactsync/internal/version"
	"github.com/shpitdev/contactsync/pkg/mockapollo"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APOLLO_API_KEY", "APOLLO_API_KEY_FILE", "APOLLO_BASE_URL", config.EnvConfigPath,
		"RATE_LIMIT_RPS", "REQUEST_TIMEOUT", "MAX_ATTEMPTS", "LOG_ENV",
	} {
		t.Setenv(k, "")
	}
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const fastConfig = `
call_pause: 0s
batch_pause: 0s
delete_pause: 0s
wait_tick: 1ms
rate_limit_cooldown: 1ms
transport_cooldown: 1ms
log_env: production
`

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), nil, &out, &errOut); code != 2 {
		t.Fatalf("expected exit 2 without args, got %d", code)
	}
	if code := run(context.Background(), []string{"bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown command: bogus") {
		t.Fatalf("unexpected stderr: %q", errOut.String())
	}
	out.Reset()
	if code := run(context.Background(), []string{"version"}, &out, &errOut); code != 0 {
		t.Fatalf("version exit=%d", code)
	}
	if strings.TrimSpace(out.String()) != "contactsync "+version.Current {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}

func TestRun_UsageErrors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "upload arity", args: []string{"upload", "only-list"}, want: "upload requires"},
		{name: "cleanup arity", args: []string{"cleanup"}, want: "cleanup requires"},
		{name: "export arity", args: []string{"export", "list"}, want: "export requires"},
		{name: "negative wait", args: []string{"upload", "--wait", "-1s", "list", "in.csv"}, want: "--wait"},
		{name: "missing key", args: []string{"upload", "list", "in.csv"}, want: "API key is required"},
		{name: "invalid config", args: []string{"export", "--api-key", "k", "--max-attempts", "0", "list", "out.csv"}, want: "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			if code := run(context.Background(), tt.args, &out, &errOut); code != 2 {
				t.Fatalf("exit=%d want=2 (stderr=%q)", code, errOut.String())
			}
			if !strings.Contains(errOut.String(), tt.want) {
				t.Fatalf("stderr=%q want substring %q", errOut.String(), tt.want)
			}
		})
	}
}

func TestRun_UploadAgainstMock(t *testing.T) {
	clearEnv(t)
	srv := mockapollo.New()
	srv.RequireAPIKey("file-key")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Setenv("APOLLO_API_KEY_FILE", writeTemp(t, "key", "file-key\n"))
	t.Setenv(config.EnvConfigPath, writeTemp(t, "contactsync.yaml", fastConfig))
	input := writeTemp(t, "leads.csv", "email,first_name\na@x.com,Ada\nb@x.com,\n")
	exportPath := filepath.Join(t.TempDir(), "out.csv")

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{
		"upload", "--base-url", ts.URL + "/v1", "--cleanup", "--wait", "0s", "--export", exportPath,
		"Q3 Leads", input,
	}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit=%d stderr=%q", code, errOut.String())
	}

	contacts := srv.Contacts()
	if len(contacts) != 1 || contacts[0]["email"] != "a@x.com" {
		t.Fatalf("expected only the named contact to survive cleanup, got %#v", contacts)
	}
	if _, err := os.Stat(exportPath); err != nil {
		t.Fatalf("expected export file: %v", err)
	}
}

func TestRun_FatalRunExitsOne(t *testing.T) {
	clearEnv(t)
	srv := mockapollo.New()
	srv.RequireAPIKey("right-key")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Setenv(config.EnvConfigPath, writeTemp(t, "contactsync.yaml", fastConfig))
	input := writeTemp(t, "leads.csv", "email\na@x.com\n")

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{
		"upload", "--api-key", "wrong-key", "--base-url", ts.URL + "/v1", "Q3 Leads", input,
	}, &out, &errOut)
	if code != 1 {
		t.Fatalf("exit=%d want=1 stderr=%q", code, errOut.String())
	}
	if strings.Contains(errOut.String(), "wrong-key") {
		t.Fatalf("stderr leaks the api key: %q", errOut.String())
	}
}

func TestResolveAPIKeyPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("APOLLO_API_KEY_FILE", writeTemp(t, "key", "from-file"))

	if got, _ := resolveAPIKey(""); got != "from-file" {
		t.Fatalf("file key: got %q", got)
	}
	t.Setenv("APOLLO_API_KEY", "from-env")
	if got, _ := resolveAPIKey(""); got != "from-env" {
		t.Fatalf("env key: got %q", got)
	}
	if got, _ := resolveAPIKey(" from-flag "); got != "from-flag" {
		t.Fatalf("flag key: got %q", got)
	}

	t.Setenv("APOLLO_API_KEY", "")
	t.Setenv("APOLLO_API_KEY_FILE", writeTemp(t, "empty", "  \n"))
	if _, err := resolveAPIKey(""); err == nil {
		t.Fatalf("expected error for empty key file")
	}
}
