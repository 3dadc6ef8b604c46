package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	content := fmt.Sprintf(`
snapshots:
  type: badger
  path: %s
versions:
  type: git
  path: %s
retry_delays: []
pool_size: 1
`, filepath.Join(dir, name, "snapshots"), filepath.Join(dir, name, "versions"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"archivist", "--log-level", "error"}, args...))
	return out.String(), err
}

func decode(t *testing.T, line string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &v))
	return v
}

func TestCLI_RecordAndRead(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "main")

	page := filepath.Join(dir, "terms.html")
	require.NoError(t, os.WriteFile(page, []byte("<p>v1</p>"), 0644))

	out, err := run(t, "--config", cfg, "--dataset", "snapshots", "record",
		"--service", "Acme", "--type", "Terms of Service",
		"--fetch-date", "2024-01-01T10:00:00Z", "--metadata", "fetcher=htmlOnly", page)
	require.NoError(t, err)
	saved := decode(t, out)
	id, _ := saved["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, saved["isFirstRecord"])
	assert.Equal(t, "<p>v1</p>", saved["content"])

	out, err = run(t, "--config", cfg, "--dataset", "snapshots", "record",
		"--service", "Acme", "--type", "Terms of Service", "--fetch-date", "2024-01-02T10:00:00Z", page)
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, out)["unchanged"])

	out, err = run(t, "--config", cfg, "-d", "snapshots", "count")
	require.NoError(t, err)
	assert.Equal(t, float64(1), decode(t, out)["count"])

	out, err = run(t, "--config", cfg, "-d", "snapshots", "latest", "-s", "Acme", "-t", "Terms of Service")
	require.NoError(t, err)
	assert.Equal(t, id, decode(t, out)["id"])

	out, err = run(t, "--config", cfg, "-d", "snapshots", "show", "--defer-content", id)
	require.NoError(t, err)
	shown := decode(t, out)
	assert.Equal(t, "Acme", shown["serviceId"])
	assert.NotContains(t, shown, "content")
	assert.Equal(t, map[string]any{"fetcher": "htmlOnly"}, shown["metadata"])

	_, err = run(t, "--config", cfg, "-d", "snapshots", "show", "missing")
	assert.Error(t, err)
}

func TestCLI_VersionsAndHistory(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "main")

	for i, content := range []string{"# v1", "# v2"} {
		file := filepath.Join(dir, fmt.Sprintf("v%d.md", i))
		require.NoError(t, os.WriteFile(file, []byte(content), 0644))
		_, err := run(t, "--config", cfg, "record", "-s", "Acme", "-t", "Terms", "-m", "text/markdown",
			"--fetch-date", fmt.Sprintf("2024-01-0%dT10:00:00Z", i+1), "--snapshot-id", "abc", file)
		require.NoError(t, err)
	}

	out, err := run(t, "--config", cfg, "history")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "# v1", decode(t, lines[0])["content"])
	assert.Equal(t, "# v2", decode(t, lines[1])["content"])
	assert.Equal(t, "abc", decode(t, lines[1])["snapshotId"])

	out, err = run(t, "--config", cfg, "history", "--defer-content")
	require.NoError(t, err)
	assert.NotContains(t, out, "# v1")
}

func TestCLI_Reset(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "main")
	file := filepath.Join(dir, "v.md")
	require.NoError(t, os.WriteFile(file, []byte("v"), 0644))

	_, err := run(t, "--config", cfg, "record", "-s", "Acme", "-t", "Terms", file)
	require.NoError(t, err)

	_, err = run(t, "--config", cfg, "reset")
	assert.Error(t, err, "reset requires --yes")

	_, err = run(t, "--config", cfg, "reset", "--yes")
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "count")
	require.NoError(t, err)
	assert.Equal(t, float64(0), decode(t, out)["count"])
}

func TestCLI_Transfer(t *testing.T) {
	dir := t.TempDir()
	src := writeConfig(t, dir, "src")
	dst := writeConfig(t, dir, "dst")
	file := filepath.Join(dir, "terms.html")
	require.NoError(t, os.WriteFile(file, []byte("<p>v1</p>"), 0644))

	_, err := run(t, "--config", src, "-d", "snapshots", "record", "-s", "Acme", "-t", "Terms", file)
	require.NoError(t, err)

	out, err := run(t, "--config", src, "transfer", "--to", dst)
	require.NoError(t, err)
	assert.Equal(t, float64(1), decode(t, out)["Snapshots"])

	out, err = run(t, "--config", dst, "-d", "snapshots", "count")
	require.NoError(t, err)
	assert.Equal(t, float64(1), decode(t, out)["count"])
}

func TestCLI_InvalidInput(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "main")

	var out bytes.Buffer
	err := newApp(&out).Run([]string{"archivist", "--log-level", "verbose", "count"})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = run(t, "--config", cfg, "--dataset", "drafts", "count")
	assert.ErrorContains(t, err, "invalid dataset")

	_, err = run(t, "--config", cfg, "record", "-s", "Acme", "-t", "Terms", "--metadata", "novalue", filepath.Join(dir, "main.yaml"))
	assert.ErrorContains(t, err, "invalid metadata")

	_, err = run(t, "--config", cfg, "record", "-s", "Acme", "-t", "Terms", "--fetch-date", "yesterday", filepath.Join(dir, "main.yaml"))
	assert.ErrorContains(t, err, "invalid fetch date")

	_, err = run(t, "--config", cfg, "record", "-s", "Acme", "-t", "Terms")
	assert.Error(t, err)
}

func TestCLI_LogLevelFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "main")
	data, err := os.ReadFile(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg, append(data, []byte("log_level: warn\n")...), 0644))

	var out bytes.Buffer
	require.NoError(t, newApp(&out).Run([]string{"archivist", "--config", cfg, "count"}))
	assert.Equal(t, slog.LevelWarn, logLevel.Level())

	// The flag wins over the configuration.
	_, err = run(t, "--config", cfg, "count")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, logLevel.Level())
}

func TestParseLogLevel(t *testing.T) {
	level, err := parseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = parseLogLevel("verbose")
	assert.ErrorContains(t, err, "invalid log level")
}
