//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// statfsMagic maps f_type values (linux/magic.h) to the names used in
// remoteFilesystems. Local types fall through as hex.
var statfsMagic = map[int64]string{
	0x6969:     "nfs",
	0x517B:     "smbfs",
	0xFF534D42: "cifs",
	0xFE534D42: "smb2",
	0x00C36400: "ceph",
	0x5346414F: "afs",
	0x01021997: "9p",
	0x73757245: "coda",
	0x564C:     "ncpfs",
}

func detectFilesystem(dir string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	magic := int64(st.Type) & 0xFFFFFFFF
	if name, ok := statfsMagic[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
