//go:build unix

package socketutil

import "golang.org/x/sys/unix"

// withUmask runs fn with the process umask set to mask, restoring the
// previous mask afterward. The umask is process-wide state, so concurrent
// binds under different masks would race; the gateway only binds once at
// startup.
func withUmask(mask int, fn func() error) error {
	old := unix.Umask(mask)
	defer unix.Umask(old)
	return fn()
}
