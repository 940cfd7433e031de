//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Connection settings come from the usual client environment so the suite runs
// against whatever CI provides.
func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	pgDatabase    = env("DUMP_HOOK_E2E_PG_DATABASE", "dump_hook_e2e")
	pgUser        = env("PGUSER", "")
	pgHost        = env("PGHOST", "")
	mysqlDatabase = env("DUMP_HOOK_E2E_MYSQL_DATABASE", "dump_hook_e2e")
	mysqlUser     = env("DUMP_HOOK_E2E_MYSQL_USER", "root")
	mysqlHost     = env("DUMP_HOOK_E2E_MYSQL_HOST", "127.0.0.1")
)

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available: %v", tool, err)
		}
	}
}

func run(t *testing.T, name string, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	require.NoError(t, err, "command failed: %s %s\noutput: %s", name, strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func psql(t *testing.T, sql string) string {
	t.Helper()
	args := []string{"-X", "-q", "-t", "-A", "-v", "ON_ERROR_STOP=1", "-d", pgDatabase, "-c", sql}
	if pgUser != "" {
		args = append(args, "-U", pgUser)
	}
	if pgHost != "" {
		args = append(args, "-h", pgHost)
	}
	return run(t, "psql", args...)
}

func mysql(t *testing.T, sql string) string {
	t.Helper()
	return run(t, "mysql", "--user", mysqlUser, "--host", mysqlHost, "-N", "-B", mysqlDatabase, "-e", sql)
}

func buildBinary(t *testing.T) string {
	t.Helper()
	binary := filepath.Join(t.TempDir(), "dumphook")

	cmd := exec.Command("go", "build", "-o", binary, "../../cmd/dumphook")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(out))
	return binary
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "dump_hook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func pgConfig(location string) string {
	cfg := fmt.Sprintf("dumps_location: %s\nengine: postgres\ndatabase: %s\n", location, pgDatabase)
	if pgUser != "" {
		cfg += "username: " + pgUser + "\n"
	}
	if pgHost != "" {
		cfg += "host: " + pgHost + "\n"
	}
	return cfg
}
