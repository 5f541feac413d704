package arq

import "sync/atomic"

// Stats holds the cumulative counters both GBN and SR transports expose
// to pkg/exporter. Embed it by value; it is safe for concurrent use.
type Stats struct {
	framesSent      atomic.Uint64
	framesAcked     atomic.Uint64
	retransmissions atomic.Uint64
	outOfOrder      atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	FramesSent      uint64
	FramesAcked     uint64
	Retransmissions uint64
	OutOfOrderDrops uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesSent:      s.framesSent.Load(),
		FramesAcked:     s.framesAcked.Load(),
		Retransmissions: s.retransmissions.Load(),
		OutOfOrderDrops: s.outOfOrder.Load(),
	}
}

// RecordSent increments the transmitted-frame counter.
func (s *Stats) RecordSent() { s.framesSent.Add(1) }

// RecordAcked increments the ACK-received counter.
func (s *Stats) RecordAcked() { s.framesAcked.Add(1) }

// RecordRetransmission increments the retransmission counter.
func (s *Stats) RecordRetransmission() { s.retransmissions.Add(1) }

// RecordOutOfOrder increments the out-of-order/dropped-frame counter.
func (s *Stats) RecordOutOfOrder() { s.outOfOrder.Add(1) }
