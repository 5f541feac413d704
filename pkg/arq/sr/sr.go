// Package sr implements the Selective Repeat ARQ transport: per-frame
// timers, targeted single-frame retransmission, and a receive-side
// reordering ring buffer that delivers payloads in order as gaps close.
package sr

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wharfside-labs/bytebistro/pkg/arq"
	"github.com/wharfside-labs/bytebistro/pkg/wire"
)

// maxSnapshotBytes bounds a single Send call's application payload;
// excess is silently truncated, matching pkg/arq/gbn.
const maxSnapshotBytes = 1 << 20

// pollSlice bounds how long a single internal channel poll blocks before
// Send's wait loop or Recv's wait loop re-checks its own deadline and
// runs a timer sweep.
const pollSlice = 20 * time.Millisecond

type sendSlot struct {
	valid    bool
	seq      uint32
	acked    bool
	payload  []byte
	deadline time.Time
}

type recvSlot struct {
	valid   bool
	payload []byte
}

// Transport is a Selective Repeat arq.Transport.
type Transport struct {
	mu  sync.Mutex
	ch  arq.Channel
	cfg arq.Config
	log *logrus.Entry

	stats arq.Stats

	sndBase uint32
	sndNxt  uint32
	rcvBase uint32

	sendSlots []sendSlot
	recvSlots []recvSlot

	deliverQueue [][]byte

	scratch []byte
	closed  bool
}

// New constructs a Selective Repeat transport bound to ch. Zero Config
// fields take their documented defaults; Window is clamped to
// arq.SRWindowCap regardless of what's requested, since the per-slot
// timer rings are sized to it.
func New(ch arq.Channel, cfg arq.Config) *Transport {
	cfg = cfg.WithDefaults()
	if cfg.Window > arq.SRWindowCap {
		cfg.Window = arq.SRWindowCap
	}

	return &Transport{
		ch:        ch,
		cfg:       cfg,
		log:       logrus.WithField("component", "sr"),
		sndBase:   cfg.InitSeq,
		sndNxt:    cfg.InitSeq,
		rcvBase:   cfg.InitSeq,
		sendSlots: make([]sendSlot, cfg.Window),
		recvSlots: make([]recvSlot, cfg.Window),
		scratch:   make([]byte, wire.HeaderSize+cfg.MSS),
	}
}

// Stats returns a snapshot of this transport's cumulative counters.
func (t *Transport) Stats() arq.StatsSnapshot {
	return t.stats.Snapshot()
}

// Close releases the transport's resources. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.sendSlots = nil
	t.recvSlots = nil
	t.deliverQueue = nil
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Send fragments data into MSS-sized frames and blocks until every
// fragment has been selectively acknowledged, driving retransmission
// and ACK processing itself via the channel in the meantime.
func (t *Transport) Send(data []byte) error {
	if t.isClosed() {
		return arq.ErrClosed
	}
	if len(data) > maxSnapshotBytes {
		data = data[:maxSnapshotBytes]
	}
	if len(data) == 0 {
		return nil
	}

	for off := 0; off < len(data); {
		end := off + t.cfg.MSS
		if end > len(data) {
			end = len(data)
		}
		if err := t.sendFragment(data[off:end]); err != nil {
			return err
		}
		off = end
	}

	return t.waitForAllAcked()
}

// sendFragment blocks until window room is available, then assigns the
// fragment the next sequence number and transmits it.
func (t *Transport) sendFragment(chunk []byte) error {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return arq.ErrClosed
		}
		if arq.Cmp(t.sndNxt, t.sndBase) < int32(t.cfg.Window) {
			seq := t.sndNxt
			idx := int(seq) % len(t.sendSlots)
			t.sendSlots[idx] = sendSlot{
				valid:    true,
				seq:      seq,
				payload:  append([]byte(nil), chunk...),
				deadline: time.Now().Add(t.cfg.RTO),
			}
			t.sndNxt++
			t.mu.Unlock()

			if err := t.transmitData(seq, chunk); err != nil {
				return err
			}
			t.stats.RecordSent()
			return nil
		}
		t.mu.Unlock()

		t.pump(pollSlice)
		t.checkTimers()
	}
}

// waitForAllAcked blocks until every frame sent by this transport has
// been acknowledged.
func (t *Transport) waitForAllAcked() error {
	for {
		t.mu.Lock()
		done := t.sndBase == t.sndNxt
		closed := t.closed
		t.mu.Unlock()

		if closed {
			return arq.ErrClosed
		}
		if done {
			return nil
		}

		t.pump(pollSlice)
		t.checkTimers()
	}
}

// Recv returns the next in-order payload from the reordering buffer, 0
// on timeout, or an error. Internally it keeps pumping the channel
// (processing ACKs for any outstanding Send and reassembling incoming
// DATA) until either a payload becomes deliverable or timeout elapses.
func (t *Transport) Recv(buf []byte, timeout time.Duration) (int, error) {
	if t.isClosed() {
		return 0, arq.ErrClosed
	}

	if n, ok := t.popDeliverable(buf); ok {
		return n, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}

		slice := pollSlice
		if remaining < slice {
			slice = remaining
		}
		t.pump(slice)
		t.checkTimers()

		if n, ok := t.popDeliverable(buf); ok {
			return n, nil
		}
	}
}

func (t *Transport) popDeliverable(buf []byte) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.deliverQueue) == 0 {
		return 0, false
	}
	payload := t.deliverQueue[0]
	t.deliverQueue = t.deliverQueue[1:]
	return copy(buf, payload), true
}

// pump performs a single bounded poll of the channel and dispatches
// whatever frame (if any) it yields.
func (t *Transport) pump(timeout time.Duration) {
	n, err := t.ch.Recv(t.scratch, timeout)
	if err != nil || n == 0 {
		return
	}

	h, payload, perr := wire.Parse(t.scratch, n)
	if perr != nil {
		return
	}

	if h.HasFlag(wire.FlagACK) {
		t.markAcked(h.Ack)
	}
	if h.HasFlag(wire.FlagDATA) {
		t.handleData(h.Seq, payload)
	}
}

// markAcked flags the send slot for ackSeq as acknowledged and slides
// sndBase forward over any now-contiguous acknowledged prefix.
func (t *Transport) markAcked(ackSeq uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !arq.InWindow(ackSeq, t.sndBase, t.sndBase+uint32(len(t.sendSlots))) {
		return
	}

	idx := int(ackSeq) % len(t.sendSlots)
	if s := &t.sendSlots[idx]; s.valid && s.seq == ackSeq && !s.acked {
		s.acked = true
		t.stats.RecordAcked()
	}

	for {
		idx := int(t.sndBase) % len(t.sendSlots)
		s := &t.sendSlots[idx]
		if !s.valid || !s.acked {
			break
		}
		s.valid = false
		s.payload = nil
		t.sndBase++
	}
}

// handleData admits an in-window DATA frame into the receive ring,
// advances rcvBase over any newly-contiguous run, and always re-acks —
// including for duplicates and already-delivered frames — so a lost ACK
// never stalls the sender's timer.
func (t *Transport) handleData(seq uint32, payload []byte) {
	t.mu.Lock()
	if arq.InWindow(seq, t.rcvBase, t.rcvBase+uint32(len(t.recvSlots))) {
		idx := int(seq) % len(t.recvSlots)
		if !t.recvSlots[idx].valid {
			t.recvSlots[idx] = recvSlot{valid: true, payload: append([]byte(nil), payload...)}
		}
		if seq != t.rcvBase {
			t.stats.RecordOutOfOrder()
		}

		for {
			idx := int(t.rcvBase) % len(t.recvSlots)
			s := &t.recvSlots[idx]
			if !s.valid {
				break
			}
			t.deliverQueue = append(t.deliverQueue, s.payload)
			s.valid = false
			s.payload = nil
			t.rcvBase++
		}
	}
	t.mu.Unlock()

	if err := t.sendAck(seq); err != nil {
		t.log.WithError(err).Warn("sr: ack send failed")
	}
}

// checkTimers retransmits any single outstanding, unacknowledged frame
// whose per-frame deadline has passed.
func (t *Transport) checkTimers() {
	now := time.Now()

	t.mu.Lock()
	var due []sendSlot
	for seq := t.sndBase; arq.Before(seq, t.sndNxt); seq++ {
		idx := int(seq) % len(t.sendSlots)
		s := &t.sendSlots[idx]
		if s.valid && s.seq == seq && !s.acked && now.After(s.deadline) {
			due = append(due, *s)
			s.deadline = now.Add(t.cfg.RTO)
		}
	}
	t.mu.Unlock()

	for _, s := range due {
		if err := t.transmitData(s.seq, s.payload); err != nil {
			t.log.WithError(err).Warn("sr: retransmit failed")
			continue
		}
		t.stats.RecordRetransmission()
	}
}

func (t *Transport) transmitData(seq uint32, payload []byte) error {
	t.mu.Lock()
	ackHint := t.rcvBase
	t.mu.Unlock()

	buf := make([]byte, wire.HeaderSize+len(payload))
	if _, err := wire.Pack(buf, wire.FlagDATA, seq, ackHint, payload); err != nil {
		return err
	}
	if _, err := t.ch.Send(buf); err != nil {
		return err
	}
	t.log.WithFields(logrus.Fields{"seq": seq, "bytes": len(payload)}).Debug("sr: sent data frame")
	return nil
}

func (t *Transport) sendAck(seq uint32) error {
	buf := make([]byte, wire.HeaderSize)
	if _, err := wire.Pack(buf, wire.FlagACK, 0, seq, nil); err != nil {
		return err
	}
	_, err := t.ch.Send(buf)
	return err
}
