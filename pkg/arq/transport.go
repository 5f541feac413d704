package arq

import (
	"errors"
	"time"
)

// Default tunables applied whenever a Config field is zero.
const (
	DefaultWindow = 32
	DefaultMSS    = 512
	DefaultRTO    = 120 * time.Millisecond

	// SRWindowCap is the internal maximum Selective Repeat clamps its
	// window to, regardless of what the caller asked for, since its
	// per-slot timer ring is sized to the window.
	SRWindowCap = 256
)

// Config configures a transport instance. Any zero field is replaced by
// its default at construction time.
type Config struct {
	InitSeq uint32
	Window  int
	MSS     int
	RTO     time.Duration
}

// WithDefaults returns a copy of cfg with every zero field replaced by
// its default.
func (cfg Config) WithDefaults() Config {
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MSS == 0 {
		cfg.MSS = DefaultMSS
	}
	if cfg.RTO == 0 {
		cfg.RTO = DefaultRTO
	}
	return cfg
}

// Channel is the abstraction both transports send frames through and
// receive them from. pkg/impair.Channel satisfies it; tests may supply
// an in-memory fake.
type Channel interface {
	Send(buf []byte) (int, error)
	Recv(buf []byte, timeout time.Duration) (int, error)
}

// Transport is the contract both Go-Back-N and Selective Repeat
// implement. A caller can hold either behind this single interface.
type Transport interface {
	// Send fragments and transmits an application message. For GBN this
	// never blocks: it fills whatever window room is available and
	// returns; remaining bytes are carried internally and drained by
	// subsequent Recv calls driving retransmission. For SR this blocks
	// until the full message has been acknowledged.
	Send(data []byte) error

	// Recv returns exactly one delivered in-order payload, 0 on
	// timeout, or an error.
	Recv(buf []byte, timeout time.Duration) (int, error)

	// Close releases all resources owned by the transport. Idempotent.
	Close() error
}

// ErrClosed is returned by Send/Recv once Close has been called.
var ErrClosed = errors.New("arq: transport closed")

// ErrMessageTooLarge names the condition of data exceeding a transport's
// internal snapshot buffer. Neither gbn.Transport nor sr.Transport
// returns it: their Send truncates data beyond that bound instead.
var ErrMessageTooLarge = errors.New("arq: message exceeds internal buffer")
