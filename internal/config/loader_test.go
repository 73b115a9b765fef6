package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_BasicServers(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mcp.json", `{
		"mcpServers": {
			"fs": {"type": "stdio", "command": "mcp-fs", "args": ["--root", "/data"]},
			"api": {"type": "http", "url": "https://api.example.com/mcp", "tags": ["prod"]}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)

	fs, ok := cfg.Find("fs")
	require.True(t, ok)
	assert.Equal(t, TransportStdio, fs.Kind)
	assert.Equal(t, []string{"--root", "/data"}, fs.Args)

	api, ok := cfg.Find("api")
	require.True(t, ok)
	assert.Equal(t, TransportHTTP, api.Kind)
	assert.Contains(t, api.Tags, "prod")
}

func TestLoad_DuplicateNameCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mcp.json", `{
		"mcpServers": {
			"fs": {"command": "a"},
			"FS": {"command": "b"}
		}
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mcp.json", `{
		"mcpServers": {"fs": {"command": "a"}},
		"bogusTopLevelField": true
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvExpansionWithDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mcp.json", `{
		"mcpServers": {
			"fs": {"command": "${FS_BIN:-mcp-fs}", "env": {"ROOT": "${FS_ROOT}"}}
		}
	}`)

	t.Setenv("FS_ROOT", "/srv/data")
	os.Unsetenv("FS_BIN")

	cfg, err := Load(path)
	require.NoError(t, err)
	fs, _ := cfg.Find("fs")
	assert.Equal(t, "mcp-fs", fs.Command)
	assert.Equal(t, "/srv/data", fs.Env["ROOT"])
}

func TestLoad_TemplateServerDetected(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mcp.json", `{
		"mcpServers": {
			"github": {"type": "stdio", "command": "mcp-github", "args": ["--org", "{{session.org}}"]}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Servers, 0)
	tmpl, ok := cfg.Find("github")
	require.True(t, ok)
	assert.True(t, tmpl.Template)
}

func TestLoad_OverlayMergesAndAppendsTags(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mcp.json", `{
		"mcpServers": {
			"fs": {"command": "mcp-fs", "tags": ["base"]}
		}
	}`)
	writeFile(t, dir, ".1mcprc", "fs:\n  tags: [\"local\"]\n  disabled: true\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	fs, _ := cfg.Find("fs")
	assert.ElementsMatch(t, []string{"base", "local"}, fs.Tags)
	assert.True(t, fs.Disabled)
}

func TestServerParams_EqualAndHash(t *testing.T) {
	a := ServerParams{Name: "x", Command: "c", Args: []string{"1"}}
	b := ServerParams{Name: "x", Command: "c", Args: []string{"1"}}
	c := ServerParams{Name: "x", Command: "c", Args: []string{"2"}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}
