//go:build linux || darwin || freebsd

package server

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func listenControl(opts SocketOptions) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if opts.ReuseAddr {
				if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
					return
				}
			}
			if opts.ReusePort {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
		return errors.Join(err, serr)
	}
}

func tuneConn(tc *net.TCPConn, opts SocketOptions) error {
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}

	var serr error
	err = raw.Control(func(fd uintptr) {
		nodelay := 0
		if opts.NoDelay {
			nodelay = 1
		}
		if serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, nodelay); serr != nil {
			return
		}
		if opts.KeepAlive > 0 {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		}
	})
	if err := errors.Join(err, serr); err != nil {
		return err
	}
	if opts.KeepAlive > 0 {
		return tc.SetKeepAlivePeriod(opts.KeepAlive)
	}
	return nil
}
