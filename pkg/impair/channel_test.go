package impair

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func newLoopbackPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()

	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}

	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	ca := New(a, b.LocalAddr(), Config{})
	cb := New(b, a.LocalAddr(), Config{})
	return ca, cb
}

func TestChannelLosslessRoundTrip(t *testing.T) {
	ca, cb := newLoopbackPair(t)

	payload := []byte("ORDER 1 burger fries\n")
	if _, err := ca.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 2048)
	deadline := time.Now().Add(time.Second)
	var n int
	var err error
	for time.Now().Before(deadline) {
		n, err = cb.Recv(buf, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if n > 0 {
			break
		}
	}

	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("received %q, want %q", buf[:n], payload)
	}
}

func TestChannelRecvTimeoutReturnsZero(t *testing.T) {
	_, cb := newLoopbackPair(t)

	buf := make([]byte, 64)
	n, err := cb.Recv(buf, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != 0 {
		t.Fatalf("Recv returned %d bytes, want 0 on timeout", n)
	}
}

func TestChannelTotalLossDropsInvisibly(t *testing.T) {
	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	t.Cleanup(func() { a.Close(); b.Close() })

	ca := New(a, b.LocalAddr(), Config{LossPct: 100})

	payload := []byte("lost cause")
	n, err := ca.Send(payload)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Send returned %d, want logical success %d", n, len(payload))
	}

	buf := make([]byte, 64)
	gotN, err := func() (int, error) {
		cb := New(b, a.LocalAddr(), Config{})
		return cb.Recv(buf, 50*time.Millisecond)
	}()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if gotN != 0 {
		t.Fatalf("Recv got %d bytes, want 0 (frame should have been dropped)", gotN)
	}
}
