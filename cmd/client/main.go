// Command client places one order against a ByteBistro server: it
// negotiates a session over the rendezvous socket, sends an ORDER line
// over the chosen ARQ transport, and prints the REPLY it gets back.
package main

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/wharfside-labs/bytebistro/pkg/appcodec"
	"github.com/wharfside-labs/bytebistro/pkg/arq"
	"github.com/wharfside-labs/bytebistro/pkg/arq/gbn"
	"github.com/wharfside-labs/bytebistro/pkg/arq/sr"
	"github.com/wharfside-labs/bytebistro/pkg/impair"
	"github.com/wharfside-labs/bytebistro/pkg/session"
)

const handshakeTimeout = 5 * time.Second

func main() {
	server := pflag.StringP("server", "s", "127.0.0.1:9876", "Server rendezvous address.")
	transport := pflag.StringP("transport", "t", "sr", "ARQ transport: gbn or sr.")
	items := pflag.StringP("items", "i", "burger fries", "Space-separated order items.")
	orderID := pflag.Int("order-id", 1, "Order ID to send.")
	window := pflag.Int("window", 0, "ARQ window size (0 uses the transport default).")
	mss := pflag.Int("mss", 0, "Maximum segment size in bytes (0 uses the transport default).")
	rto := pflag.Duration("rto", 0, "Retransmission timeout (0 uses the transport default).")
	replyTimeout := pflag.Duration("reply-timeout", 30*time.Second, "How long to wait for a reply.")
	logLevel := pflag.String("log-level", "info", "Logging level (panic, fatal, error, warn, info, debug, trace).")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Parse()
	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("bad log level: %v", err)
	}
	logrus.SetLevel(level)

	if *transport != "gbn" && *transport != "sr" {
		logrus.Fatalf("unknown transport %q: want gbn or sr", *transport)
	}

	serverAddr, err := net.ResolveUDPAddr("udp", *server)
	if err != nil {
		logrus.Fatalf("resolve %s: %v", *server, err)
	}

	localConn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		logrus.Fatalf("listen: %v", err)
	}
	defer localConn.Close()

	rendezvousCh := impair.New(localConn, serverAddr, impair.Config{})

	ack, err := session.ClientHandshake(rendezvousCh, *transport, 0, handshakeTimeout)
	if err != nil {
		logrus.Fatalf("handshake: %v", err)
	}
	logrus.WithFields(logrus.Fields{"session": ack.ID, "transport": ack.Transport}).Info("client: handshake complete")

	sessionCh := rendezvousCh
	if ack.Port != 0 {
		sessionAddr := &net.UDPAddr{IP: serverAddr.IP, Port: ack.Port}
		sessionCh = impair.New(localConn, sessionAddr, impair.Config{})
	}

	cfg := arq.Config{InitSeq: 0, Window: *window, MSS: *mss, RTO: *rto}

	var tr arq.Transport
	switch ack.Transport {
	case "gbn":
		tr = gbn.New(sessionCh, cfg)
	case "sr":
		tr = sr.New(sessionCh, cfg)
	default:
		logrus.Fatalf("server negotiated unknown transport %q", ack.Transport)
	}
	defer tr.Close()

	order := appcodec.Order{ID: *orderID, Items: strings.Fields(*items)}
	if err := tr.Send(appcodec.EncodeOrder(order)); err != nil {
		logrus.Fatalf("send order: %v", err)
	}
	logrus.WithField("order_id", order.ID).Info("client: order sent")

	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(*replyTimeout)
	for time.Now().Before(deadline) {
		n, err := tr.Recv(buf, time.Second)
		if err != nil {
			logrus.Fatalf("recv reply: %v", err)
		}
		if n == 0 {
			continue
		}

		reply, err := appcodec.DecodeReply(buf[:n])
		if err != nil {
			logrus.WithError(err).Warn("client: dropping malformed reply")
			continue
		}

		logrus.WithFields(logrus.Fields{
			"order_id": reply.ID,
			"cook_ms":  reply.CookMS,
			"items":    strings.Join(reply.Items, ","),
		}).Info("client: order served: " + strconv.Itoa(reply.ID))
		return
	}

	logrus.Fatal("client: timed out waiting for reply")
}
