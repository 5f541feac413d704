// Package wire implements the fixed binary frame header shared by both
// ARQ transports: magic, flags, sequence/ack numbers, payload length, and
// an integrity checksum covering header and payload.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/wharfside-labs/bytebistro/pkg/checksum"
)

const (
	// Magic is the constant that opens every frame.
	Magic uint16 = 0xB17E

	// HeaderLen is the fixed value of the hdrlen field: the number of
	// header bytes following that field, not counting the trailing
	// crc32c field (seq + ack + len = 4 + 4 + 2).
	HeaderLen uint8 = 10

	// HeaderSize is the total size in bytes of a packed header: magic(2)
	// + flags(1) + hdrlen(1) + seq(4) + ack(4) + len(2) + crc32c(4).
	HeaderSize = 18

	// MaxPayload is the largest payload len can declare.
	MaxPayload = 0xFFFF
)

// Flag bits; any combination may be set (e.g. piggyback ACK on DATA).
const (
	FlagACK  uint8 = 0x01
	FlagDATA uint8 = 0x02
	FlagFIN  uint8 = 0x04 // reserved, never set or interpreted
)

const (
	offMagic  = 0
	offFlags  = 2
	offHdrlen = 3
	offSeq    = 4
	offAck    = 8
	offLen    = 12
	offCRC    = 14
)

var (
	// ErrBufferTooSmall is returned by Pack when the destination is
	// smaller than the frame it was asked to write.
	ErrBufferTooSmall = errors.New("wire: destination buffer too small")

	// ErrShortFrame is returned by Parse when n is smaller than the
	// fixed header size.
	ErrShortFrame = errors.New("wire: frame shorter than header")

	// ErrBadMagic is returned by Parse when the magic field doesn't match.
	ErrBadMagic = errors.New("wire: bad magic")

	// ErrBadHeaderLen is returned by Parse when hdrlen isn't HeaderLen.
	// The reference implementation this protocol was distilled from
	// never validated this field; this implementation does, defensively.
	ErrBadHeaderLen = errors.New("wire: bad hdrlen")

	// ErrChecksumMismatch is returned by Parse when the recomputed
	// checksum doesn't match the stored one.
	ErrChecksumMismatch = errors.New("wire: checksum mismatch")

	// ErrTruncatedPayload is returned by Parse when the declared length
	// exceeds the bytes actually received.
	ErrTruncatedPayload = errors.New("wire: declared length exceeds received bytes")
)

// Header is the parsed form of a frame's fixed fields.
type Header struct {
	Flags  uint8
	Seq    uint32
	Ack    uint32
	Len    uint16
	CRC32C uint32
}

// HasFlag reports whether all bits in mask are set in the header's flags.
func (h Header) HasFlag(mask uint8) bool {
	return h.Flags&mask == mask
}

// Pack writes a frame (header + payload) into buf and returns the number
// of bytes written. It fails if buf cannot hold HeaderSize+len(payload)
// bytes. The checksum field is zeroed while it is computed, then written
// back, covering the full header+payload span.
func Pack(buf []byte, flags uint8, seq, ack uint32, payload []byte) (int, error) {
	if len(payload) > MaxPayload {
		return 0, ErrBufferTooSmall
	}
	n := HeaderSize + len(payload)
	if len(buf) < n {
		return 0, ErrBufferTooSmall
	}

	binary.LittleEndian.PutUint16(buf[offMagic:], Magic)
	buf[offFlags] = flags
	buf[offHdrlen] = HeaderLen
	binary.LittleEndian.PutUint32(buf[offSeq:], seq)
	binary.LittleEndian.PutUint32(buf[offAck:], ack)
	binary.LittleEndian.PutUint16(buf[offLen:], uint16(len(payload)))
	binary.LittleEndian.PutUint32(buf[offCRC:], 0)
	copy(buf[HeaderSize:n], payload)

	sum := checksum.Compute(buf[:n])
	binary.LittleEndian.PutUint32(buf[offCRC:], sum)

	return n, nil
}

// Parse validates and decodes the first frame in buf[:n], returning the
// header and a slice over the payload bytes (aliasing buf). Failure
// paths are silent: no partial header is returned and buf is never
// mutated.
func Parse(buf []byte, n int) (Header, []byte, error) {
	if n < HeaderSize || len(buf) < n {
		return Header{}, nil, ErrShortFrame
	}
	buf = buf[:n]

	if binary.LittleEndian.Uint16(buf[offMagic:]) != Magic {
		return Header{}, nil, ErrBadMagic
	}
	if buf[offHdrlen] != HeaderLen {
		return Header{}, nil, ErrBadHeaderLen
	}

	storedCRC := binary.LittleEndian.Uint32(buf[offCRC:])

	verify := make([]byte, n)
	copy(verify, buf)
	binary.LittleEndian.PutUint32(verify[offCRC:], 0)
	if checksum.Compute(verify) != storedCRC {
		return Header{}, nil, ErrChecksumMismatch
	}

	h := Header{
		Flags:  buf[offFlags],
		Seq:    binary.LittleEndian.Uint32(buf[offSeq:]),
		Ack:    binary.LittleEndian.Uint32(buf[offAck:]),
		Len:    binary.LittleEndian.Uint16(buf[offLen:]),
		CRC32C: storedCRC,
	}

	if n < HeaderSize+int(h.Len) {
		return Header{}, nil, ErrTruncatedPayload
	}

	return h, buf[HeaderSize : HeaderSize+int(h.Len)], nil
}
