//go:build linux

package hostinfo

import (
	"sync"

	"github.com/docker/docker/pkg/parsers/kernel"
)

// minBufferForceKernel is the release SO_RCVBUFFORCE/SO_SNDBUFFORCE
// became available (2.6.14); anything at or above it is worth trying,
// subject to the caller actually holding CAP_NET_ADMIN.
var minBufferForceKernel = kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 14}

var detect = sync.OnceValue(func() Info {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		return Info{}
	}
	return Info{
		Version:             v.String(),
		SupportsBufferForce: kernel.CompareKernelVersion(*v, minBufferForceKernel) >= 0,
	}
})

// Detect reports the current host's kernel version and socket-tuning
// capabilities, cached after the first call.
func Detect() Info {
	return detect()
}
