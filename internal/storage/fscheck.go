package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// errDetectUnsupported is returned by detectFilesystem where the platform has
// no statfs. History placement is not checked there.
var errDetectUnsupported = errors.New("filesystem detection is unsupported on this platform")

// remoteFilesystems are mount types where SQLite's POSIX locks cannot be trusted.
var remoteFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"coda":   true,
	"ncpfs":  true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// RemoteFilesystemError reports a history database placed on a network mount.
type RemoteFilesystemError struct {
	Path   string // configured database path
	Mount  string // nearest existing ancestor that was inspected
	FSType string
}

func (e *RemoteFilesystemError) Error() string {
	return fmt.Sprintf(
		"history database %q is on network filesystem %q (checked at %s); SQLite needs local disk for reliable locking. Point history.path at local disk or leave it empty to disable run history",
		e.Path, e.FSType, e.Mount,
	)
}

// CheckHistoryLocation returns a *RemoteFilesystemError when path (or the
// nearest directory that already exists above it) sits on a network mount.
func CheckHistoryLocation(path string) error {
	return checkHistoryLocation(path, detectFilesystem)
}

func checkHistoryLocation(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("history path is empty")
	}

	mount, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve history path %q: %w", path, err)
	}

	fsType, err := detect(mount)
	switch {
	case errors.Is(err, errDetectUnsupported):
		return nil
	case err != nil:
		return fmt.Errorf("detect filesystem at %q: %w", mount, err)
	case isRemote(fsType):
		return &RemoteFilesystemError{Path: path, Mount: mount, FSType: fsType}
	}
	return nil
}

// existingAncestor walks up from path until it finds something that exists.
// The database file and its directory are created later by OpenSQLite.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		case filepath.Dir(dir) == dir:
			return "", fmt.Errorf("no existing ancestor of %q", abs)
		}
	}
}

func isRemote(fsType string) bool {
	return remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
}
