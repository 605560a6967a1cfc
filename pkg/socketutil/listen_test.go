package socketutil

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenUnixBindsAndReplacesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.sock")

	ln1, err := ListenUnix(path, nil)
	require.NoError(t, err)
	// Keep the socket file on disk after Close so the second bind has a
	// stale socket to remove.
	ln1.(*net.UnixListener).SetUnlinkOnClose(false)
	ln1.Close()

	ln2, err := ListenUnix(path, nil)
	require.NoError(t, err)
	defer ln2.Close()

	assert.Equal(t, "unix", ln2.Addr().Network())
}

func TestListenUnixUnderUmask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.sock")

	mask := 0o077
	ln, err := ListenUnix(path, &mask)
	require.NoError(t, err)
	defer ln.Close()

	_, err = net.Dial("unix", path)
	assert.NoError(t, err)
}
