// Package action maps action names to scripts in an actions directory.
package action

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// DefaultExt is the script extension used when none is configured.
const DefaultExt = ".sh"

// ErrUnknownAction is returned when no script exists for an action name.
var ErrUnknownAction = errors.New("unknown action")

// maxNameLen is NAME_MAX on the filesystems skillrun targets.
const maxNameLen = 255

// Action is a resolved action script.
type Action struct {
	Name       string // Action name (script basename without extension)
	Script     string // Absolute path to the script
	Executable bool   // Any execute bit is set
}

// Resolver looks up `<dir>/<name><ext>`.
type Resolver struct {
	dir string
	ext string
}

// NewResolver creates a resolver for dir. ext may be given with or without
// the leading dot.
func NewResolver(dir, ext string) *Resolver {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		ext = DefaultExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Resolver{dir: dir, ext: ext}
}

// Dir returns the actions directory.
func (r *Resolver) Dir() string { return r.dir }

// Ext returns the script extension, including the dot.
func (r *Resolver) Ext() string { return r.ext }

// Resolve returns the script for name. Missing scripts, directories and
// symlinks that escape the actions directory all report ErrUnknownAction.
func (r *Resolver) Resolve(name string) (*Action, error) {
	if !r.fileable(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	absDir, err := filepath.Abs(r.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve actions dir %q: %w", r.dir, err)
	}
	script := filepath.Join(absDir, name+r.ext)

	info, err := os.Stat(script)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENAMETOOLONG) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
		}
		return nil, fmt.Errorf("stat action script %s: %w", script, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %q (%s is a directory)", ErrUnknownAction, name, script)
	}

	if err := validateTrust(script, absDir); err != nil {
		return nil, fmt.Errorf("%w: %q (%v)", ErrUnknownAction, name, err)
	}

	return &Action{
		Name:       name,
		Script:     script,
		Executable: info.Mode()&0o111 != 0,
	}, nil
}

// fileable reports whether name can be a single file name inside the actions
// directory. Anything else can never resolve.
func (r *Resolver) fileable(name string) bool {
	switch {
	case name == "", name == ".", name == "..":
		return false
	case strings.ContainsAny(name, "/\\\x00"):
		return false
	case len(name)+len(r.ext) > maxNameLen:
		return false
	}
	return true
}

// List returns every action in the directory, sorted by name.
func (r *Resolver) List() ([]Action, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read actions dir %s: %w", r.dir, err)
	}

	var out []Action
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), r.ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), r.ext)
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		a, err := r.Resolve(name)
		if err != nil {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// validateTrust checks that script, after resolving symlinks, still lives
// directly under the actions directory.
func validateTrust(script, dir string) error {
	resolvedScript, err := filepath.EvalSymlinks(script)
	if err != nil {
		return fmt.Errorf("failed to resolve script symlink: %w", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve actions dir symlink: %w", err)
	}
	if !strings.HasPrefix(resolvedScript, resolvedDir+string(os.PathSeparator)) {
		return fmt.Errorf("script %s is not under actions dir %s", resolvedScript, resolvedDir)
	}
	return nil
}
