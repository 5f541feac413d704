package sr

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/wharfside-labs/bytebistro/pkg/arq"
)

type pipeChannel struct {
	mu      sync.Mutex
	inbound [][]byte
	peer    *pipeChannel
	drop    func([]byte) bool
}

func newPipePair() (*pipeChannel, *pipeChannel) {
	a := &pipeChannel{}
	b := &pipeChannel{}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *pipeChannel) Send(buf []byte) (int, error) {
	cp := append([]byte(nil), buf...)
	if p.drop != nil && p.drop(cp) {
		return len(buf), nil
	}
	p.peer.mu.Lock()
	p.peer.inbound = append(p.peer.inbound, cp)
	p.peer.mu.Unlock()
	return len(buf), nil
}

func (p *pipeChannel) Recv(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		if len(p.inbound) > 0 {
			head := p.inbound[0]
			p.inbound = p.inbound[1:]
			p.mu.Unlock()
			return copy(buf, head), nil
		}
		p.mu.Unlock()

		if timeout <= 0 || time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSRSendBlocksUntilAcked(t *testing.T) {
	chA, chB := newPipePair()
	tA := New(chA, arq.Config{MSS: 4, Window: 4, RTO: 50 * time.Millisecond})
	tB := New(chB, arq.Config{MSS: 4, Window: 4, RTO: 50 * time.Millisecond})
	defer tA.Close()
	defer tB.Close()

	payload := []byte("the quick order")

	done := make(chan error, 1)
	go func() { done <- tA.Send(payload) }()

	var got []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(got) < len(payload) {
		n, err := tB.Recv(buf, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if n > 0 {
			got = append(got, buf[:n]...)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send never returned; sender never saw full ACK coverage")
	}

	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled %q, want %q", got, payload)
	}
}

func TestSRReordersOutOfOrderFragments(t *testing.T) {
	chA, chB := newPipePair()
	tA := New(chA, arq.Config{MSS: 1, Window: 8, RTO: time.Second})
	tB := New(chB, arq.Config{MSS: 1, Window: 8, RTO: time.Second})
	defer tA.Close()
	defer tB.Close()

	// Hold back the first DATA frame (seq 0) and release it right after
	// the second, so tB sees seq 1 before seq 0.
	var held []byte
	released := false
	chA.drop = func(b []byte) bool {
		if released {
			return false
		}
		if held == nil {
			held = b
			return true
		}
		chB.mu.Lock()
		chB.inbound = append(chB.inbound, b, held)
		chB.mu.Unlock()
		released = true
		return true
	}

	payload := []byte("abcd")
	done := make(chan error, 1)
	go func() { done <- tA.Send(payload) }()

	var got []byte
	buf := make([]byte, 8)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(got) < len(payload) {
		n, err := tB.Recv(buf, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if n > 0 {
			got = append(got, buf[:n]...)
		}
	}

	<-done

	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled %q in order, want %q", got, payload)
	}

	if tB.Stats().OutOfOrderDrops == 0 {
		t.Fatal("expected tB to record the fragment that arrived ahead of seq 0 as out of order")
	}
}

func TestSRRetransmitsDroppedFragment(t *testing.T) {
	chA, chB := newPipePair()

	droppedOnce := false
	chA.drop = func(b []byte) bool {
		if !droppedOnce {
			droppedOnce = true
			return true
		}
		return false
	}

	tA := New(chA, arq.Config{MSS: 64, RTO: 20 * time.Millisecond})
	tB := New(chB, arq.Config{MSS: 64, RTO: 20 * time.Millisecond})
	defer tA.Close()
	defer tB.Close()

	payload := []byte("resend me")
	done := make(chan error, 1)
	go func() { done <- tA.Send(payload) }()

	buf := make([]byte, 64)
	var n int
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		n, err = tB.Recv(buf, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if n > 0 {
			break
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send never completed after dropped fragment was retransmitted")
	}

	if n == 0 || !bytes.Equal(buf[:n], payload) {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}

	if tA.Stats().Retransmissions == 0 {
		t.Fatal("expected at least one recorded retransmission")
	}
}

func TestSRRecvTimeoutReturnsZero(t *testing.T) {
	_, chB := newPipePair()
	tB := New(chB, arq.Config{})
	defer tB.Close()

	n, err := tB.Recv(make([]byte, 64), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != 0 {
		t.Fatalf("Recv returned %d, want 0 on timeout", n)
	}
}

func TestSRWindowClampedToCap(t *testing.T) {
	chA, _ := newPipePair()
	tr := New(chA, arq.Config{Window: arq.SRWindowCap + 1000})
	if len(tr.sendSlots) != arq.SRWindowCap {
		t.Fatalf("send window = %d, want clamp to %d", len(tr.sendSlots), arq.SRWindowCap)
	}
}

func TestSRCloseRejectsFurtherUse(t *testing.T) {
	chA, _ := newPipePair()
	tr := New(chA, arq.Config{})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Send([]byte("x")); err != arq.ErrClosed {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
	if _, err := tr.Recv(make([]byte, 8), time.Millisecond); err != arq.ErrClosed {
		t.Fatalf("Recv after Close = %v, want ErrClosed", err)
	}
}
