// Package session implements the HELLO bootstrap exchanged before
// either ARQ transport starts counting frames: a client proposes a
// session ID and transport variant, the server echoes it back with its
// own initial sequence number, and both sides hand off to gbn.New or
// sr.New using the agreed parameters.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/wharfside-labs/bytebistro/pkg/arq"
	"github.com/wharfside-labs/bytebistro/pkg/wire"
)

const (
	helloPrefix    = "HELLO "
	helloAckPrefix = "HELLOACK "
	defaultRetries = 5
)

// ErrHandshakeTimeout is returned when no matching HELLO/HELLOACK
// arrives within the allotted retries or deadline.
var ErrHandshakeTimeout = errors.New("session: handshake timed out")

// Hello carries the negotiated session ID, ARQ transport variant
// ("gbn" or "sr"), and initial sequence number for one direction of the
// bootstrap. Port is meaningful only in a server's HELLOACK: nonzero
// tells the client to continue the session on a new dedicated UDP
// socket rather than the shared rendezvous one.
type Hello struct {
	ID        string
	Transport string
	InitSeq   uint32
	Port      int
}

func (h Hello) encode(prefix string) []byte {
	return []byte(fmt.Sprintf("%s%s %s %d %d\n", prefix, h.ID, h.Transport, h.InitSeq, h.Port))
}

func decodeHello(payload []byte, prefix string) (Hello, bool) {
	s := string(payload)
	if !strings.HasPrefix(s, prefix) {
		return Hello{}, false
	}

	fields := strings.Fields(strings.TrimPrefix(s, prefix))
	if len(fields) != 4 {
		return Hello{}, false
	}

	seq, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Hello{}, false
	}
	port, err := strconv.Atoi(fields[3])
	if err != nil {
		return Hello{}, false
	}

	return Hello{ID: fields[0], Transport: fields[1], InitSeq: uint32(seq), Port: port}, true
}

func sendFrame(ch arq.Channel, payload []byte) error {
	buf := make([]byte, wire.HeaderSize+len(payload))
	if _, err := wire.Pack(buf, wire.FlagDATA, 0, 0, payload); err != nil {
		return err
	}
	_, err := ch.Send(buf)
	return err
}

func recvHello(ch arq.Channel, timeout time.Duration, prefix string) (Hello, bool, error) {
	buf := make([]byte, wire.HeaderSize+256)
	n, err := ch.Recv(buf, timeout)
	if err != nil {
		return Hello{}, false, err
	}
	if n == 0 {
		return Hello{}, false, nil
	}

	_, payload, perr := wire.Parse(buf, n)
	if perr != nil {
		return Hello{}, false, nil
	}

	h, ok := decodeHello(payload, prefix)
	return h, ok, nil
}

// ClientHandshake mints a session ID, proposes transport and initSeq,
// and retries until the server's matching HELLOACK arrives or the
// retry budget is exhausted. It returns the server's reply, which
// carries the server's own initial sequence number.
func ClientHandshake(ch arq.Channel, transport string, initSeq uint32, timeout time.Duration) (Hello, error) {
	proposal := Hello{ID: xid.New().String(), Transport: transport, InitSeq: initSeq}

	for attempt := 0; attempt < defaultRetries; attempt++ {
		if err := sendFrame(ch, proposal.encode(helloPrefix)); err != nil {
			return Hello{}, err
		}

		ack, ok, err := recvHello(ch, timeout, helloAckPrefix)
		if err != nil {
			return Hello{}, err
		}
		if ok && ack.ID == proposal.ID {
			return ack, nil
		}
	}

	return Hello{}, ErrHandshakeTimeout
}

// ServerAccept waits up to timeout for a client HELLO, echoes a
// HELLOACK carrying serverInitSeq and port (0 meaning "stay on this
// channel"), and returns the client's proposal.
func ServerAccept(ch arq.Channel, serverInitSeq uint32, port int, timeout time.Duration) (Hello, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Hello{}, ErrHandshakeTimeout
		}

		hello, ok, err := recvHello(ch, remaining, helloPrefix)
		if err != nil {
			return Hello{}, err
		}
		if !ok {
			continue
		}

		ack := Hello{ID: hello.ID, Transport: hello.Transport, InitSeq: serverInitSeq, Port: port}
		if err := sendFrame(ch, ack.encode(helloAckPrefix)); err != nil {
			return Hello{}, err
		}
		return hello, nil
	}
}
