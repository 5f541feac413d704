package checksum

import (
	"hash/crc32"
	"sync"

	"golang.org/x/sys/cpu"
)

// castagnoliTable is built once; hash/crc32 dispatches to a SIMD-accelerated
// implementation internally whenever the table is the Castagnoli polynomial
// and the host supports it, which is exactly the hardware path this package
// advertises via CRC32CHardwareAvailable.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

var hwAvailable = sync.OnceValue(func() bool {
	return cpu.X86.HasSSE42 || cpu.ARM64.HasCRC32
})

// CRC32CHardwareAvailable reports whether the host CPU offers a CRC32C
// instruction, detected once on first use. Both endpoints of a
// session must reach the same answer, or one side's checksum selection
// will silently disagree with the other's (see Select).
func CRC32CHardwareAvailable() bool {
	return hwAvailable()
}

// CRC32CHardware computes the Castagnoli CRC32C of data with standard
// one's-complement finalization. It returns 0 when no hardware path is
// available so callers can detect the condition and fall back to
// Fletcher32; it never falls back silently itself.
func CRC32CHardware(data []byte) uint32 {
	if !CRC32CHardwareAvailable() {
		return 0
	}
	return crc32.Checksum(data, castagnoliTable)
}

// Algorithm names supported by Select.
type Algorithm int

const (
	// AlgorithmCRC32C is the Castagnoli CRC32C digest.
	AlgorithmCRC32C Algorithm = iota
	// AlgorithmFletcher32 is the Fletcher-32 digest.
	AlgorithmFletcher32
)

// Select picks CRC32C when the host supports it in hardware and
// Fletcher-32 otherwise. Both sides of a session must compute this the
// same way; disagreement manifests downstream as checksum failures at
// the wire codec boundary, not as a distinguishable error here.
func Select() Algorithm {
	if CRC32CHardwareAvailable() {
		return AlgorithmCRC32C
	}
	return AlgorithmFletcher32
}

// Compute runs the selected algorithm over data.
func Compute(data []byte) uint32 {
	switch Select() {
	case AlgorithmCRC32C:
		return CRC32CHardware(data)
	default:
		return Fletcher32(data)
	}
}
