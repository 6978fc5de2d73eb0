//go:build !linux && !darwin && !freebsd

package server

import (
	"net"
	"syscall"
)

func listenControl(SocketOptions) func(network, address string, c syscall.RawConn) error {
	return nil
}

func tuneConn(tc *net.TCPConn, opts SocketOptions) error {
	if err := tc.SetNoDelay(opts.NoDelay); err != nil {
		return err
	}
	if opts.KeepAlive > 0 {
		if err := tc.SetKeepAlive(true); err != nil {
			return err
		}
		return tc.SetKeepAlivePeriod(opts.KeepAlive)
	}
	return nil
}
