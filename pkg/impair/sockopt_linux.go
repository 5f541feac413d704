//go:build linux

package impair

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"github.com/wharfside-labs/bytebistro/pkg/hostinfo"
)

// setSocketBuffers raises SO_RCVBUF/SO_SNDBUF to bytes, preferring the
// privileged *FORCE variants (which bypass the rmem_max/wmem_max
// ceiling) when the host kernel is new enough and the caller happens to
// hold CAP_NET_ADMIN; falls back to the unprivileged setsockopt
// otherwise. All failures are ignored, mirroring the teacher's own
// best-effort getsockopt style in pkg/linux/tcpinfo.go.
func setSocketBuffers(conn *net.UDPConn, bytes int, host hostinfo.Info) {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return
	}

	if host.SupportsBufferForce {
		if unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, bytes) == nil &&
			unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUFFORCE, bytes) == nil {
			return
		}
	}

	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}
