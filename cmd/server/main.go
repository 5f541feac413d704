// Command server runs the ByteBistro kitchen: it accepts client
// sessions over a rendezvous UDP socket, hands each one off to its own
// impaired channel and ARQ transport, and serves Prometheus metrics for
// every live session.
package main

import (
	"math/rand"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/wharfside-labs/bytebistro/pkg/appcodec"
	"github.com/wharfside-labs/bytebistro/pkg/arq"
	"github.com/wharfside-labs/bytebistro/pkg/arq/gbn"
	"github.com/wharfside-labs/bytebistro/pkg/arq/sr"
	"github.com/wharfside-labs/bytebistro/pkg/exporter"
	"github.com/wharfside-labs/bytebistro/pkg/impair"
	"github.com/wharfside-labs/bytebistro/pkg/session"
)

const handshakeTimeout = 5 * time.Second

func main() {
	listen := pflag.StringP("listen", "l", ":9876", "UDP rendezvous address to listen on.")
	metricsListen := pflag.String("metrics-listen", ":9100", "Address to serve Prometheus metrics on.")
	lossPct := pflag.Float64("loss", 0, "Percent chance of dropping an outbound frame.")
	dupPct := pflag.Float64("dup", 0, "Percent chance of duplicating an outbound frame.")
	reorderPct := pflag.Float64("reorder", 0, "Percent chance of swapping two queued frames.")
	delayMean := pflag.Float64("delay-mean-ms", 0, "Mean artificial one-way delay in milliseconds.")
	delayJitter := pflag.Float64("delay-jitter-ms", 0, "Delay jitter in milliseconds.")
	rateMbps := pflag.Float64("rate-mbps", 0, "Outbound rate limit in Mbps (0 disables limiting).")
	seed := pflag.Int64("seed", 0, "Impairment RNG seed (0 uses the default).")
	window := pflag.Int("window", 0, "ARQ window size (0 uses the transport default).")
	mss := pflag.Int("mss", 0, "Maximum segment size in bytes (0 uses the transport default).")
	rto := pflag.Duration("rto", 0, "Retransmission timeout (0 uses the transport default).")
	cookMinMS := pflag.Int("cook-min-ms", 200, "Minimum simulated cook time in milliseconds.")
	cookMaxMS := pflag.Int("cook-max-ms", 800, "Maximum simulated cook time in milliseconds.")
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

	impairCfg := impair.Config{
		LossPct:       *lossPct,
		DupPct:        *dupPct,
		ReorderPct:    *reorderPct,
		DelayMeanMs:   *delayMean,
		DelayJitterMs: *delayJitter,
		RateMbps:      *rateMbps,
		Seed:          *seed,
	}
	arqCfg := arq.Config{Window: *window, MSS: *mss, RTO: *rto}

	collector := exporter.NewSessionCollector([]string{"session_id", "transport"}, nil)
	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		logrus.Fatalf("register collector: %v", err)
	}
	go serveMetrics(*metricsListen, reg)

	rendezvousConn, err := net.ListenPacket("udp", *listen)
	if err != nil {
		logrus.Fatalf("listen %s: %v", *listen, err)
	}
	defer rendezvousConn.Close()

	rendezvousCh := impair.New(rendezvousConn, nil, impair.Config{})
	logrus.WithField("addr", rendezvousConn.LocalAddr()).Info("server: listening")

	host, _, err := net.SplitHostPort(rendezvousConn.LocalAddr().String())
	if err != nil {
		host = "0.0.0.0"
	}

	for {
		sessionConn, err := net.ListenPacket("udp", net.JoinHostPort(host, "0"))
		if err != nil {
			logrus.WithError(err).Warn("server: failed to allocate session socket")
			time.Sleep(time.Second)
			continue
		}
		port := sessionConn.LocalAddr().(*net.UDPAddr).Port

		hello, err := session.ServerAccept(rendezvousCh, 0, port, handshakeTimeout)
		if err != nil {
			sessionConn.Close()
			continue
		}

		peer := rendezvousCh.Peer()
		go runSession(sessionConn, peer, hello, impairCfg, arqCfg, collector, *cookMinMS, *cookMaxMS)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logrus.WithField("addr", addr).Info("server: serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Error("server: metrics endpoint exited")
	}
}

func runSession(conn net.PacketConn, peer net.Addr, hello session.Hello, impairCfg impair.Config, arqCfg arq.Config, collector *exporter.SessionCollector, cookMinMS, cookMaxMS int) {
	log := logrus.WithFields(logrus.Fields{"session": hello.ID, "transport": hello.Transport, "peer": peer})
	defer conn.Close()

	ch := impair.New(conn, peer, impairCfg)
	cfg := arqCfg
	cfg.InitSeq = hello.InitSeq

	var tr arq.Transport
	switch hello.Transport {
	case "gbn":
		tr = gbn.New(ch, cfg)
	case "sr":
		tr = sr.New(ch, cfg)
	default:
		log.Warn("server: unknown transport requested")
		return
	}
	defer tr.Close()

	collector.Add(hello.ID, ch, tr.(exporter.TransportStater), []string{hello.ID, hello.Transport})
	defer collector.Remove(hello.ID)

	log.Info("server: session started")

	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(hello.ID))))
	buf := make([]byte, 64*1024)

	for {
		n, err := tr.Recv(buf, 30*time.Second)
		if err != nil {
			log.WithError(err).Info("server: session ended")
			return
		}
		if n == 0 {
			continue
		}

		order, err := appcodec.DecodeOrder(buf[:n])
		if err != nil {
			log.WithError(err).Warn("server: dropping malformed order")
			continue
		}

		cookMS := cookMinMS
		if cookMaxMS > cookMinMS {
			cookMS += rng.Intn(cookMaxMS - cookMinMS)
		}
		time.Sleep(time.Duration(cookMS) * time.Millisecond)

		reply := appcodec.Reply{ID: order.ID, CookMS: cookMS, Items: order.Items}
		if err := tr.Send(appcodec.EncodeReply(reply)); err != nil {
			log.WithError(err).Warn("server: reply send failed")
			return
		}
		log.WithField("order_id", order.ID).Debug("server: order served")
	}
}
