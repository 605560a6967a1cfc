// Package socketutil builds the listener the gateway accepts connections
// on, including binding a Unix-domain socket under a caller-supplied
// file-mode mask.
package socketutil

import (
	"net"
	"os"
)

// ListenUnix removes any stale socket file at path, binds a new Unix
// domain stream listener there, and returns it. If umask is non-nil, the
// bind happens under that file-mode mask (restored to its previous value
// immediately after), letting the caller control the socket's permission
// bits the way a local-only gateway typically wants.
func ListenUnix(path string, umask *int) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	var ln net.Listener
	bind := func() error {
		var err error
		ln, err = net.Listen("unix", path)
		return err
	}

	if umask == nil {
		if err := bind(); err != nil {
			return nil, err
		}
		return ln, nil
	}

	if err := withUmask(*umask, bind); err != nil {
		return nil, err
	}
	return ln, nil
}

// ListenTCP is the non-umask counterpart used for TCP listeners (umask
// only applies to filesystem-backed Unix sockets).
func ListenTCP(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
