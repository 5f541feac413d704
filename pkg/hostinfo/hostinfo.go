// Package hostinfo gates optional, privilege-sensitive socket tuning by
// host kernel version, the way the teacher's pkg/linux package gates
// tcp_info struct layout by kernel version.
package hostinfo

// Info summarizes what this host can do for the impairment channel's
// socket buffer tuning.
type Info struct {
	// Version is a human-readable kernel release string, empty if it
	// could not be determined (e.g. on Windows).
	Version string

	// SupportsBufferForce reports whether SO_RCVBUFFORCE/SO_SNDBUFFORCE
	// (which bypass the rmem_max/wmem_max ceiling, and require
	// CAP_NET_ADMIN) are worth attempting on this host. False on any
	// platform where kernel version detection isn't available, or
	// where the detected kernel predates those socket options.
	SupportsBufferForce bool
}
