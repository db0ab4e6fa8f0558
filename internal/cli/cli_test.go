package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI executes a fresh command tree and returns stdout and stderr.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// writeConfig writes a config whose data directory is a fresh temp dir.
// extra is spliced into the top-level JSON object.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := `{"data_dir": "` + dir + `", "logging": {"level": "warn", "pretty": false}`
	if extra != "" {
		body += ", " + extra
	}
	body += "}"

	path := filepath.Join(dir, "warden.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}
