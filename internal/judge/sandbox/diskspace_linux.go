//go:build linux

package sandbox

import "golang.org/x/sys/unix"

// freeDiskBytes reports the bytes available to unprivileged users under path.
func freeDiskBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
