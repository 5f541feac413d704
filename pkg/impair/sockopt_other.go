//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package impair

import (
	"net"

	"github.com/wharfside-labs/bytebistro/pkg/hostinfo"
)

// setSocketBuffers is a no-op on platforms without a setsockopt-style
// tuning path available through this module's dependency set (e.g.
// Windows); the channel works identically, just without the throughput
// hint.
func setSocketBuffers(_ *net.UDPConn, _ int, _ hostinfo.Info) {}
