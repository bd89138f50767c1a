// Package metrics exposes the stack's Prometheus surface (A4): link-layer
// health counters pulled from the MS/TP port's cumulative Stats, and
// gauges for the address binding cache and TSM occupancy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bacterium-io/mstpstack/pkg/mstp"
)

// LinkStatsProvider is satisfied by *mstp.Port.
type LinkStatsProvider interface {
	Stats() mstp.Stats
}

// SizeProvider is satisfied by *binding.Cache (Len).
type SizeProvider interface {
	Len() int
}

// CountProvider is satisfied by *tsm.TSM's ActiveCount.
type CountProvider interface {
	ActiveCount() int
}

// Collector samples a link's cumulative Stats and the binding
// cache/TSM occupancy at scrape time and renders them as Prometheus
// metrics. It implements prometheus.Collector directly rather than
// pushing updates from the hot path, since mstp.Stats is already a
// cumulative snapshot — Collect just has to read it.
type Collector struct {
	link    LinkStatsProvider
	binding SizeProvider
	tsm     CountProvider

	framesSent        *prometheus.Desc
	framesReceived    *prometheus.Desc
	invalidFrames     *prometheus.Desc
	receiveErrors     *prometheus.Desc
	tokensHeld        *prometheus.Desc
	tokensPassed      *prometheus.Desc
	tokenLost         *prometheus.Desc
	pollForMasterSent *prometheus.Desc
	soleMasterEvents  *prometheus.Desc
	bindingCacheSize  *prometheus.Desc
	tsmActive         *prometheus.Desc
}

// NewCollector builds a Collector over link, binding, and tsm. Any of the
// three may be nil, in which case the metrics it would have supplied are
// simply omitted from Collect.
func NewCollector(link LinkStatsProvider, binding SizeProvider, tsm CountProvider) *Collector {
	const ns = "bacstack"
	return &Collector{
		link:    link,
		binding: binding,
		tsm:     tsm,

		framesSent:        prometheus.NewDesc(ns+"_link_frames_sent_total", "Total MS/TP frames transmitted.", nil, nil),
		framesReceived:    prometheus.NewDesc(ns+"_link_frames_received_total", "Total MS/TP frames received.", nil, nil),
		invalidFrames:     prometheus.NewDesc(ns+"_link_invalid_frames_total", "Total frames discarded for CRC or framing errors.", nil, nil),
		receiveErrors:     prometheus.NewDesc(ns+"_link_receive_errors_total", "Total receive-FSM errors (overrun, silence timeout).", nil, nil),
		tokensHeld:        prometheus.NewDesc(ns+"_link_tokens_held_total", "Total times this station has held the token.", nil, nil),
		tokensPassed:      prometheus.NewDesc(ns+"_link_tokens_passed_total", "Total tokens passed to the next station.", nil, nil),
		tokenLost:         prometheus.NewDesc(ns+"_link_token_lost_total", "Total times the token was declared lost.", nil, nil),
		pollForMasterSent: prometheus.NewDesc(ns+"_link_poll_for_master_sent_total", "Total Poll-For-Master frames sent.", nil, nil),
		soleMasterEvents:  prometheus.NewDesc(ns+"_link_sole_master_events_total", "Total times this station became the sole master.", nil, nil),
		bindingCacheSize:  prometheus.NewDesc(ns+"_binding_cache_entries", "Current number of locally held address binding entries.", nil, nil),
		tsmActive:         prometheus.NewDesc(ns+"_tsm_active_transactions", "Current number of occupied TSM invoke-id slots.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesSent
	ch <- c.framesReceived
	ch <- c.invalidFrames
	ch <- c.receiveErrors
	ch <- c.tokensHeld
	ch <- c.tokensPassed
	ch <- c.tokenLost
	ch <- c.pollForMasterSent
	ch <- c.soleMasterEvents
	ch <- c.bindingCacheSize
	ch <- c.tsmActive
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.link != nil {
		s := c.link.Stats()
		ch <- prometheus.MustNewConstMetric(c.framesSent, prometheus.CounterValue, float64(s.FramesSent))
		ch <- prometheus.MustNewConstMetric(c.framesReceived, prometheus.CounterValue, float64(s.FramesReceived))
		ch <- prometheus.MustNewConstMetric(c.invalidFrames, prometheus.CounterValue, float64(s.InvalidFrames))
		ch <- prometheus.MustNewConstMetric(c.receiveErrors, prometheus.CounterValue, float64(s.ReceiveErrors))
		ch <- prometheus.MustNewConstMetric(c.tokensHeld, prometheus.CounterValue, float64(s.TokensHeld))
		ch <- prometheus.MustNewConstMetric(c.tokensPassed, prometheus.CounterValue, float64(s.TokensPassed))
		ch <- prometheus.MustNewConstMetric(c.tokenLost, prometheus.CounterValue, float64(s.TokenLost))
		ch <- prometheus.MustNewConstMetric(c.pollForMasterSent, prometheus.CounterValue, float64(s.PollForMasterSent))
		ch <- prometheus.MustNewConstMetric(c.soleMasterEvents, prometheus.CounterValue, float64(s.SoleMasterEvents))
	}
	if c.binding != nil {
		ch <- prometheus.MustNewConstMetric(c.bindingCacheSize, prometheus.GaugeValue, float64(c.binding.Len()))
	}
	if c.tsm != nil {
		ch <- prometheus.MustNewConstMetric(c.tsmActive, prometheus.GaugeValue, float64(c.tsm.ActiveCount()))
	}
}

// Register builds a Collector and registers it with reg (nil uses
// prometheus.DefaultRegisterer), returning the Collector for tests that
// want to call Collect directly.
func Register(reg prometheus.Registerer, link LinkStatsProvider, binding SizeProvider, tsm CountProvider) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := NewCollector(link, binding, tsm)
	reg.MustRegister(c)
	return c
}
