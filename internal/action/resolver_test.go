package action

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode))
	return path
}

func TestNewResolverNormalizesExt(t *testing.T) {
	assert.Equal(t, ".sh", NewResolver("x", "").Ext())
	assert.Equal(t, ".py", NewResolver("x", "py").Ext())
	assert.Equal(t, ".rb", NewResolver("x", ".rb").Ext())
}

func TestResolveFound(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "echo.sh", 0o755)

	a, err := NewResolver(dir, ".sh").Resolve("echo")
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(a.Script)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(script)
	require.NoError(t, err)

	assert.Equal(t, "echo", a.Name)
	assert.Equal(t, want, resolved)
	if runtime.GOOS != "windows" {
		assert.True(t, a.Executable)
	}
}

func TestResolveUnknown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "adir.sh"), 0o755))
	writeScript(t, dir, "other.py", 0o755)

	r := NewResolver(dir, ".sh")
	names := []string{
		"doesnotexist", "adir", "other", "", ".", "..", "../x", "a/b", `a\b`,
		"ghost\x00x",
		strings.Repeat("a", 300),
	}
	for _, name := range names {
		_, err := r.Resolve(name)
		assert.Truef(t, errors.Is(err, ErrUnknownAction), "Resolve(%q) = %v, want ErrUnknownAction", name, err)
	}
}

func TestResolveAllowsDottedNames(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "a..b.sh", 0o755)

	a, err := NewResolver(dir, ".sh").Resolve("a..b")
	require.NoError(t, err)
	assert.Equal(t, "a..b", a.Name)
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := t.TempDir()
	target := writeScript(t, outside, "evil.sh", 0o755)

	dir := t.TempDir()
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "evil.sh")))

	_, err := NewResolver(dir, ".sh").Resolve("evil")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestListSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "zeta.sh", 0o755)
	writeScript(t, dir, "alpha.sh", 0o644)
	writeScript(t, dir, "notes.txt", 0o644)
	writeScript(t, dir, ".hidden.sh", 0o755)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.sh"), 0o755))

	actions, err := NewResolver(dir, "sh").List()
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "alpha", actions[0].Name)
	assert.Equal(t, "zeta", actions[1].Name)
	if runtime.GOOS != "windows" {
		assert.False(t, actions[0].Executable)
		assert.True(t, actions[1].Executable)
	}
}

func TestListMissingDir(t *testing.T) {
	_, err := NewResolver(filepath.Join(t.TempDir(), "missing"), ".sh").List()
	assert.Error(t, err)
}
