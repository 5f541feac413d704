//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package impair

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"github.com/wharfside-labs/bytebistro/pkg/hostinfo"
)

// setSocketBuffers raises SO_RCVBUF/SO_SNDBUF to bytes. The *FORCE
// variants used on Linux don't exist on BSD-derived kernels, so host is
// unused here beyond satisfying the shared call signature.
func setSocketBuffers(conn *net.UDPConn, bytes int, _ hostinfo.Info) {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}
