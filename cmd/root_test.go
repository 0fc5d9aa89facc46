package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camhal/internal/buildinfo"
	"github.com/tphakala/camhal/internal/conf"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCommand(&conf.Settings{}, buildinfo.New("1.2.3", "2026-10-01"))
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersionCommandNeedsNoConfig(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "camhal 1.2.3 (built 2026-10-01)\n", out)
}

func TestConfigShowAppliesFlagsOverFile(t *testing.T) {
	path := writeConfig(t, "session:\n  devices: 1\njobqueue:\n  capacity: 12\n")

	out, err := execute(t, "config", "show", "--config", path, "--job-capacity", "40")
	require.NoError(t, err)
	assert.Contains(t, out, "devices: 1")
	assert.Contains(t, out, "capacity: 40", "flags take precedence over the file")
	assert.Contains(t, out, "topic: camhal.notifications", "defaults fill the rest")
}

func TestInvalidFlagIsRejected(t *testing.T) {
	path := writeConfig(t, "session:\n  devices: 2\n")

	_, err := execute(t, "config", "show", "--config", path, "--devices", "3")
	require.Error(t, err)
}

func TestConfigSave(t *testing.T) {
	path := writeConfig(t, "session:\n  devices: 1\n")
	target := filepath.Join(t.TempDir(), "saved.yaml")

	_, err := execute(t, "config", "save", target, "--config", path)
	require.NoError(t, err)

	saved, err := conf.LoadFile(target)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Session.Devices)
}

func TestSessionCommandPrintsReport(t *testing.T) {
	path := writeConfig(t, "session:\n  devices: 2\n")

	out, err := execute(t, "session", "--config", path,
		"--frames", "8", "--interval", "1ms", "--jitter", "0s", "--pictures", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "finished in state released")
	assert.Contains(t, out, "frames produced: primary 8, secondary 8")
	assert.Contains(t, out, "pictures requested 1, captured 1")
	assert.NotContains(t, out, "WARNING")
}

func TestSessionCommandReportsInjectedFault(t *testing.T) {
	path := writeConfig(t, "session:\n  devices: 1\n")

	out, err := execute(t, "session", "--config", path,
		"--frames", "4", "--interval", "1ms", "--fail-on", "allocate-params")
	require.Error(t, err)
	assert.Contains(t, out, "finished in state released")
}
