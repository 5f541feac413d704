package wire

import (
	"bytes"
	"testing"
)

func TestPackParseRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		flags   uint8
		seq     uint32
		ack     uint32
		payload []byte
	}{
		{"pure-ack", FlagACK, 0, 42, nil},
		{"data", FlagDATA, 7, 3, []byte("ORDER 1 burger\n")},
		{"piggyback", FlagACK | FlagDATA, 0xFFFFFFFF, 1, []byte{0x00, 0xFF, 0x10}},
		{"empty-payload-data", FlagDATA, 5, 5, []byte{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, HeaderSize+len(tc.payload))
			n, err := Pack(buf, tc.flags, tc.seq, tc.ack, tc.payload)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}

			h, payload, err := Parse(buf, n)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			if h.Flags != tc.flags {
				t.Errorf("flags = %#x, want %#x", h.Flags, tc.flags)
			}
			if h.Seq != tc.seq {
				t.Errorf("seq = %d, want %d", h.Seq, tc.seq)
			}
			if h.Ack != tc.ack {
				t.Errorf("ack = %d, want %d", h.Ack, tc.ack)
			}
			if !bytes.Equal(payload, tc.payload) {
				t.Errorf("payload = %v, want %v", payload, tc.payload)
			}
		})
	}
}

func TestPackAckOnlyFrame(t *testing.T) {
	buf := make([]byte, HeaderSize)
	n, err := Pack(buf, FlagACK, 0, 42, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	h, payload, err := Parse(buf, n)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Flags != FlagACK || h.Seq != 0 || h.Ack != 42 || h.Len != 0 || len(payload) != 0 {
		t.Errorf("unexpected header: %+v payload=%v", h, payload)
	}
}

func TestPackBufferTooSmall(t *testing.T) {
	buf := make([]byte, HeaderSize-1)
	if _, err := Pack(buf, FlagDATA, 0, 0, []byte("x")); err != ErrBufferTooSmall {
		t.Fatalf("Pack: got %v, want ErrBufferTooSmall", err)
	}
}

func TestParseBitFlips(t *testing.T) {
	payload := []byte("REPLY 1 40 burger\n")
	buf := make([]byte, HeaderSize+len(payload))
	n, err := Pack(buf, FlagDATA|FlagACK, 100, 200, payload)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	for bit := 0; bit < n*8; bit++ {
		flipped := make([]byte, n)
		copy(flipped, buf[:n])
		flipped[bit/8] ^= 1 << uint(bit%8)

		if _, _, err := Parse(flipped, n); err == nil {
			t.Errorf("bit %d: Parse succeeded on corrupted frame", bit)
		}
	}
}

func TestParseShortAndMalformed(t *testing.T) {
	payload := []byte("hello")
	buf := make([]byte, HeaderSize+len(payload))
	n, err := Pack(buf, FlagDATA, 1, 1, payload)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	if _, _, err := Parse(buf, HeaderSize-1); err != ErrShortFrame {
		t.Errorf("short frame: got %v, want ErrShortFrame", err)
	}

	badMagic := make([]byte, n)
	copy(badMagic, buf)
	badMagic[0] ^= 0xFF
	if _, _, err := Parse(badMagic, n); err != ErrBadMagic {
		t.Errorf("bad magic: got %v, want ErrBadMagic", err)
	}

	badHdrlen := make([]byte, n)
	copy(badHdrlen, buf)
	badHdrlen[offHdrlen] = 9
	if _, _, err := Parse(badHdrlen, n); err != ErrBadHeaderLen {
		t.Errorf("bad hdrlen: got %v, want ErrBadHeaderLen", err)
	}

	truncated := make([]byte, n-1)
	copy(truncated, buf[:n-1])
	// The checksum is verified before the declared length, so a frame
	// cut short fails the checksum first.
	if _, _, err := Parse(truncated, n-1); err != ErrChecksumMismatch {
		t.Errorf("truncated payload: got %v, want ErrChecksumMismatch", err)
	}
}

func TestParseNeverMutatesInput(t *testing.T) {
	payload := []byte("hello")
	buf := make([]byte, HeaderSize+len(payload))
	n, err := Pack(buf, FlagDATA, 1, 1, payload)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	before := append([]byte(nil), buf[:n]...)
	if _, _, err := Parse(buf, n); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(buf[:n], before) {
		t.Errorf("Parse mutated its input buffer")
	}
}
