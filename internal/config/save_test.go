package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func readBack(t *testing.T, path string) Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	cfg, err := Unmarshal(v)
	require.NoError(t, err)
	return cfg
}

func TestSaveHostAddr_CreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, SaveHostAddr(path, "10.0.0.5:7420"))

	require.Equal(t, "10.0.0.5:7420", readBack(t, path).Host.Addr)
}

func TestSaveHostAddr_PreservesCommentsAndOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveHostAddr(path, "http://exam-host:9000"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "# Supervising process (examshell host)")
	require.Contains(t, content, "http://exam-host:9000")

	cfg := readBack(t, path)
	require.Equal(t, "http://exam-host:9000", cfg.Host.Addr)
	require.Equal(t, "127.0.0.1:7420", cfg.Daemon.Listen)
	require.Equal(t, 8080, cfg.Daemon.ValidatorPort)
}

func TestSaveHostAddr_AddsMissingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ui:\n  markdown_style: light\n"), 0o600))

	require.NoError(t, SaveHostAddr(path, "localhost:1"))

	cfg := readBack(t, path)
	require.Equal(t, "localhost:1", cfg.Host.Addr)
	require.Equal(t, "light", cfg.UI.MarkdownStyle)
}

func TestSaveHostAddr_ReplacesScalarSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: oops\n"), 0o600))

	require.NoError(t, SaveHostAddr(path, "localhost:2"))
	require.Equal(t, "localhost:2", readBack(t, path).Host.Addr)
}

func TestSaveHostAddr_RejectsNonMappingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o600))

	err := SaveHostAddr(path, "localhost:2")
	require.ErrorContains(t, err, "not a mapping")
}

func TestSaveHostAddr_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [unclosed\n"), 0o600))

	require.ErrorContains(t, SaveHostAddr(path, "x:1"), "parsing config")
}

func TestSaveDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveDataDir(path, "/srv/examshell"))
	require.Equal(t, "/srv/examshell", readBack(t, path).Daemon.DataDir)
}

func TestSave_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveHostAddr(path, "a:1"))
	require.NoError(t, SaveHostAddr(path, "b:2"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), ".examshell.yaml.tmp."), "leftover temp file %s", e.Name())
	}
	require.Equal(t, "b:2", readBack(t, path).Host.Addr)
}
