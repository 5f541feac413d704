/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package exporter exposes per-session impairment and ARQ transport
// counters as Prometheus metrics: sessions are added and removed as
// they come and go, and Collect walks whatever is currently registered
// at scrape time.
package exporter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wharfside-labs/bytebistro/pkg/arq"
	"github.com/wharfside-labs/bytebistro/pkg/impair"
)

// TransportStater is satisfied by both gbn.Transport and sr.Transport.
type TransportStater interface {
	Stats() arq.StatsSnapshot
}

// ImpairStater is satisfied by *impair.Channel.
type ImpairStater interface {
	Stats() impair.Stats
}

type info struct {
	description *prometheus.Desc
	supplier    func(impair.Stats, arq.StatsSnapshot, []string) prometheus.Metric
}

type sessionEntry struct {
	impairSource    ImpairStater
	transportSource TransportStater
	labels          []string
}

// SessionCollector is a prometheus.Collector tracking a dynamic set of
// live sessions, each contributing one impairment channel and one ARQ
// transport's counters.
type SessionCollector struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
	infos    []info
}

// NewSessionCollector builds a SessionCollector. constLabels apply to
// every metric it emits (e.g. {"instance": "server"}); per-session
// label values are supplied via Add.
func NewSessionCollector(
	labelNames []string, // labelNames are known up front for the collector; values are provided when adding a session.
	constLabels prometheus.Labels, // constLabels is meant for labels with values that are constant for the whole process.
) *SessionCollector {
	c := &SessionCollector{sessions: make(map[string]sessionEntry)}
	c.addMetrics(labelNames, constLabels)
	return c
}

func (c *SessionCollector) addMetrics(labelNames []string, constLabels prometheus.Labels) {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("bytebistro_"+name, help, labelNames, constLabels)
	}

	framesSent := desc("frames_sent_total", "DATA frames transmitted by the ARQ transport.")
	framesAcked := desc("frames_acked_total", "Frames the ARQ transport has seen acknowledged.")
	retransmissions := desc("retransmissions_total", "Frames retransmitted after timer expiry.")
	outOfOrder := desc("out_of_order_total", "Frames received out of the expected sequence.")
	impairSent := desc("impair_sent_total", "Datagrams placed on the wire by the impairment channel.")
	impairDropped := desc("impair_dropped_total", "Datagrams invisibly dropped by the impairment channel.")
	impairDuplicated := desc("impair_duplicated_total", "Datagrams duplicated by the impairment channel.")
	impairReordered := desc("impair_reordered_total", "Adjacent datagram swaps performed by the impairment channel.")
	impairRateLimited := desc("impair_rate_limited_total", "Sends the token bucket deferred to a later drain.")

	c.infos = []info{
		{
			description: framesSent,
			supplier: func(_ impair.Stats, a arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(framesSent, prometheus.CounterValue, float64(a.FramesSent), lv...)
			},
		},
		{
			description: framesAcked,
			supplier: func(_ impair.Stats, a arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(framesAcked, prometheus.CounterValue, float64(a.FramesAcked), lv...)
			},
		},
		{
			description: retransmissions,
			supplier: func(_ impair.Stats, a arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(retransmissions, prometheus.CounterValue, float64(a.Retransmissions), lv...)
			},
		},
		{
			description: outOfOrder,
			supplier: func(_ impair.Stats, a arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(outOfOrder, prometheus.CounterValue, float64(a.OutOfOrderDrops), lv...)
			},
		},
		{
			description: impairSent,
			supplier: func(i impair.Stats, _ arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(impairSent, prometheus.CounterValue, float64(i.Sent), lv...)
			},
		},
		{
			description: impairDropped,
			supplier: func(i impair.Stats, _ arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(impairDropped, prometheus.CounterValue, float64(i.Dropped), lv...)
			},
		},
		{
			description: impairDuplicated,
			supplier: func(i impair.Stats, _ arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(impairDuplicated, prometheus.CounterValue, float64(i.Duplicated), lv...)
			},
		},
		{
			description: impairReordered,
			supplier: func(i impair.Stats, _ arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(impairReordered, prometheus.CounterValue, float64(i.Reordered), lv...)
			},
		},
		{
			description: impairRateLimited,
			supplier: func(i impair.Stats, _ arq.StatsSnapshot, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(impairRateLimited, prometheus.CounterValue, float64(i.RateLimited), lv...)
			},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, i := range c.infos {
		descs <- i.description
	}
}

// Collect implements prometheus.Collector.
func (c *SessionCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.sessions {
		impairStats := entry.impairSource.Stats()
		transportStats := entry.transportSource.Stats()
		for _, i := range c.infos {
			metrics <- i.supplier(impairStats, transportStats, entry.labels)
		}
	}
}

// Add registers a live session under sessionID, with labelValues
// matching this collector's labelNames in order.
func (c *SessionCollector) Add(sessionID string, impairSource ImpairStater, transportSource TransportStater, labelValues []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[sessionID] = sessionEntry{
		impairSource:    impairSource,
		transportSource: transportSource,
		labels:          labelValues,
	}
}

// Remove stops exporting metrics for sessionID.
func (c *SessionCollector) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}
