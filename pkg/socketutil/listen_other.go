//go:build !unix

package socketutil

// withUmask runs fn unchanged: non-Unix targets have no umask concept for
// socketutil to apply.
func withUmask(_ int, fn func() error) error {
	return fn()
}
