// Package impair implements the impairment channel: a userspace layer
// directly above a datagram socket that injects probabilistic loss,
// duplication, adjacent reordering, per-frame latency with jitter, and
// token-bucket rate limiting, while treating the bytes it carries as
// opaque.
package impair

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wharfside-labs/bytebistro/pkg/hostinfo"
)

// ErrClosed is returned by Send/Recv when the channel has no underlying
// connection. Close does not clear the connection, so after Close,
// Send and Recv return the closed socket's own error instead.
var ErrClosed = errors.New("impair: channel closed")

type queuedFrame struct {
	data    []byte
	readyAt time.Time
}

// Stats is a snapshot of a channel's cumulative impairment counters,
// consumed by pkg/exporter.
type Stats struct {
	Sent        uint64
	Dropped     uint64
	Duplicated  uint64
	Reordered   uint64
	RateLimited uint64
}

// Channel sits directly above a net.PacketConn bound to a fixed peer
// address. It never inspects, mutates, or interprets the payload bytes
// it is asked to carry.
type Channel struct {
	mu   sync.Mutex
	conn net.PacketConn
	peer net.Addr
	cfg  Config
	rng  *rand.Rand

	queue          []*queuedFrame
	nextTxDeadline time.Time

	sent, dropped, duplicated, reordered, rateLimited atomic.Uint64

	log *logrus.Entry
}

// New binds a channel to conn and an initial peer address; for a server,
// peer may be nil until the first Recv discovers it. cfg's zero fields
// take their documented defaults.
func New(conn net.PacketConn, peer net.Addr, cfg Config) *Channel {
	tuneSocketBuffers(conn, cfg.socketBufferBytes())

	return &Channel{
		conn:           conn,
		peer:           peer,
		cfg:            cfg,
		rng:            rand.New(rand.NewSource(cfg.effectiveSeed())),
		nextTxDeadline: time.Now(),
		log:            logrus.WithField("component", "impair"),
	}
}

// Stats returns a snapshot of the channel's cumulative counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Sent:        c.sent.Load(),
		Dropped:     c.dropped.Load(),
		Duplicated:  c.duplicated.Load(),
		Reordered:   c.reordered.Load(),
		RateLimited: c.rateLimited.Load(),
	}
}

// Peer returns the channel's current notion of the remote address.
func (c *Channel) Peer() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Close releases queued frames and closes the underlying socket.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
	return c.conn.Close()
}

// Send enqueues buf for impaired delivery and drains whatever in the
// channel's outbound queue has become ready, subject to loss,
// duplication, reordering, jitter, and rate limiting. It returns the
// number of bytes transmitted to the substrate this call, or the
// logical length of buf if nothing could be flushed yet but at least
// one frame remains queued — upper layers must see a non-negative
// success return even for a frame that was (invisibly) dropped.
func (c *Channel) Send(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0, ErrClosed
	}

	if c.bernoulli(c.cfg.LossPct) {
		c.dropped.Add(1)
		c.log.WithField("bytes", len(buf)).Debug("impair: dropped outbound frame")
		return len(buf), nil
	}

	now := time.Now()
	cp := append([]byte(nil), buf...)
	c.enqueue(&queuedFrame{data: cp, readyAt: now.Add(c.jitterDraw())})

	if c.bernoulli(c.cfg.DupPct) {
		dup := append([]byte(nil), buf...)
		c.enqueue(&queuedFrame{data: dup, readyAt: now.Add(c.jitterDraw()).Add(dupDelay)})
		c.duplicated.Add(1)
	}

	if len(c.queue) >= 2 && c.bernoulli(c.cfg.ReorderPct) {
		c.queue[0], c.queue[1] = c.queue[1], c.queue[0]
		c.reordered.Add(1)
	}

	c.waitForHeadReady()

	transmitted, err := c.drain()
	if err != nil {
		return 0, err
	}
	if transmitted == 0 && len(c.queue) > 0 {
		return len(buf), nil
	}
	return transmitted, nil
}

// Recv waits up to timeout for a datagram, returning 0 on timeout. On
// receipt it updates the channel's notion of the peer address to the
// datagram's source — the mechanism by which a server discovers its
// client — and returns the byte count.
func (c *Channel) Recv(buf []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return 0, ErrClosed
	}

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	} else {
		if err := conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return 0, err
		}
	}

	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return 0, err
	}

	c.mu.Lock()
	c.peer = addr
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"bytes": n, "from": addr}).Debug("impair: received datagram")
	return n, nil
}

func (c *Channel) enqueue(f *queuedFrame) {
	c.queue = append(c.queue, f)
}

// waitForHeadReady sleeps in short chunks until the queue's head frame
// is ready to transmit, bounded by maxSendWait per call.
func (c *Channel) waitForHeadReady() {
	deadline := time.Now().Add(maxSendWait)
	for len(c.queue) > 0 && time.Now().Before(c.queue[0].readyAt) {
		if time.Now().After(deadline) {
			return
		}
		wait := sendWaitSlice
		if remaining := time.Until(c.queue[0].readyAt); remaining < wait {
			wait = remaining
		}
		c.mu.Unlock()
		time.Sleep(wait)
		c.mu.Lock()
	}
}

// drain transmits every ready, non-rate-limited frame at the front of
// the queue and returns the total bytes placed on the wire.
func (c *Channel) drain() (int, error) {
	total := 0
	now := time.Now()

	for len(c.queue) > 0 {
		head := c.queue[0]
		if now.Before(head.readyAt) {
			break
		}

		ns := c.cfg.nsPerByte()
		if ns > 0 && now.Before(c.nextTxDeadline) {
			c.rateLimited.Add(1)
			break
		}

		n, err := c.conn.WriteTo(head.data, c.peer)
		if err != nil {
			return total, err
		}
		c.sent.Add(1)

		if ns > 0 {
			base := c.nextTxDeadline
			if now.After(base) {
				base = now
			}
			c.nextTxDeadline = base.Add(time.Duration(ns * float64(len(head.data))))
		}

		c.log.WithFields(logrus.Fields{"bytes": n, "to": c.peer}).Debug("impair: transmitted frame")

		total += n
		c.queue = c.queue[1:]
		now = time.Now()
	}

	return total, nil
}

// jitterDraw returns max(0, mean + U[-jitter, +jitter]) as a duration.
func (c *Channel) jitterDraw() time.Duration {
	mean := c.cfg.DelayMeanMs
	jitter := c.cfg.DelayJitterMs
	if mean == 0 && jitter == 0 {
		return 0
	}
	offset := mean
	if jitter > 0 {
		offset += (c.rng.Float64()*2 - 1) * jitter
	}
	if offset < 0 {
		offset = 0
	}
	return time.Duration(offset * float64(time.Millisecond))
}

// bernoulli draws true with probability pct/100.
func (c *Channel) bernoulli(pct float64) bool {
	if pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	return c.rng.Float64()*100 < pct
}

// tuneSocketBuffers best-effort raises the socket's receive/send buffers
// so impaired (delayed, duplicated) traffic doesn't get dropped at the
// kernel level before the channel's own queue sees it. Failures are
// silently ignored: this is a throughput hint, not a correctness
// requirement.
func tuneSocketBuffers(conn net.PacketConn, bytes int) {
	udp, ok := conn.(*net.UDPConn)
	if !ok {
		return
	}
	setSocketBuffers(udp, bytes, hostinfo.Detect())
}
