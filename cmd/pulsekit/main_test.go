package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/config"
	"github.com/snowdamiz/pulsekit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "NATS_URL", "PULSEKIT_FANOUT_BACKEND"} {
		t.Setenv(key, "")
	}
}

// ─── root command ────────────────────────────────────────────────────────────

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "migrate", "cleanup", "project", "rules"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_Version(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, config.Version)
}

// ─── config failures ─────────────────────────────────────────────────────────

func TestServe_FailsOnMissingConfig(t *testing.T) {
	clearConfigEnv(t)

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestServe_FailsOnInvalidDatabaseURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestCleanup_FailsOnMissingConfig(t *testing.T) {
	clearConfigEnv(t)

	_, err := execute(t, "cleanup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}

// ─── project create ──────────────────────────────────────────────────────────

func TestProjectCreate_RejectsUnknownScope(t *testing.T) {
	_, err := execute(t, "project", "create", "--name", "web", "--scopes", "ingest,admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown scope "admin"`)
}

func TestProjectCreate_RequiresName(t *testing.T) {
	_, err := execute(t, "project", "create")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--name")
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"ingest", []string{"ingest"}, false},
		{"Ingest, read ,read", []string{"ingest", "read"}, false},
		{"ingest,read,manage", []string{"ingest", "read", "manage"}, false},
		{"", nil, true},
		{" , ", nil, true},
		{"write", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseScopes(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewAPIKey(t *testing.T) {
	projectID := uuid.New()
	now := time.Now().UTC()

	raw, key, err := newAPIKey(projectID, "default", []string{models.ScopeIngest}, now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "pk_"))
	assert.Len(t, raw, 35)
	assert.Equal(t, raw[:8], key.KeyPrefix)
	assert.Equal(t, projectID, key.ProjectID)
	assert.Equal(t, []string{models.ScopeIngest}, key.Scopes)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))

	other, _, err := newAPIKey(projectID, "default", nil, now)
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

// ─── rules import ────────────────────────────────────────────────────────────

func TestRulesImport_RequiresProject(t *testing.T) {
	_, err := execute(t, "rules", "import", "rules.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project")
}

func TestRulesImport_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: x\n    condition_type: spike\n    webhook_url: https://h.example.com\n"), 0o600))

	_, err := execute(t, "rules", "import", "--project", uuid.NewString(), path)
	require.Error(t, err)
}

func TestRulesImport_MissingFile(t *testing.T) {
	_, err := execute(t, "rules", "import", "--project", uuid.NewString(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// ─── logger ──────────────────────────────────────────────────────────────────

func TestNewLogger_JSONWithLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.ServerConfig{Env: "test", LogLevel: "warn"})

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, "value", entry["key"])
}
