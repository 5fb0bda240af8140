//go:build !windows

package privilege

import "golang.org/x/sys/unix"

// IsElevated reports whether the process runs as root
func IsElevated() bool {
	return unix.Geteuid() == 0
}
