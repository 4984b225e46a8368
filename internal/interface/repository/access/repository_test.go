package access

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "blocked.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNew_WritesDefaultDenyListWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocked.yaml")

	r, err := New(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "deny")

	allowed, err := r.IsAllowed("1.2.3.4", "example.com")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestIsAllowed_DenyModeBlocksMatchingHost(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "mode: deny\nlist:\n  - \"*.blocked.com\"\n")

	r, err := New(path)
	require.NoError(t, err)

	allowed, err := r.IsAllowed("1.2.3.4", "ads.blocked.com")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = r.IsAllowed("1.2.3.4", "example.com")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestIsAllowed_AllowModeOnlyPermitsMatchingHost(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "mode: allow\nlist:\n  - \"*.trusted.com\"\n")

	r, err := New(path)
	require.NoError(t, err)

	allowed, err := r.IsAllowed("1.2.3.4", "api.trusted.com")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = r.IsAllowed("1.2.3.4", "example.com")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestReload_PicksUpUpdatedList(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "mode: deny\nlist: []\n")

	r, err := New(path)
	require.NoError(t, err)

	allowed, err := r.IsAllowed("1.2.3.4", "blocked.com")
	require.NoError(t, err)
	require.True(t, allowed)

	writeConfig(t, dir, "mode: deny\nlist:\n  - \"blocked.com\"\n")
	require.NoError(t, r.Reload())

	allowed, err = r.IsAllowed("1.2.3.4", "blocked.com")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestIsAllowed_HostMatchingIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "mode: deny\nlist:\n  - \"Blocked.COM\"\n")

	r, err := New(path)
	require.NoError(t, err)

	allowed, err := r.IsAllowed("1.2.3.4", "blocked.com")
	require.NoError(t, err)
	require.False(t, allowed)
}
