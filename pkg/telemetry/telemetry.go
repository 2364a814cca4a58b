// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package telemetry exposes gmesh's counters as Prometheus metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gmesh/gmesh-go/pkg/unicast"
)

// Registry is gmesh's own Prometheus registry, kept separate from the
// default one so only our metrics are exported.
var Registry = prometheus.NewRegistry()

var startTime = time.Now()

func init() {
	Registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "gmesh",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	))
}

// RegisterUnicast registers collectors over the unicast layer's counters.
func RegisterUnicast(layer *unicast.Layer) {
	counters := []struct {
		name string
		help string
		read func(unicast.StatsSnapshot) int64
	}{
		{"msgs_sent_total", "Unicast data messages sent.",
			func(s unicast.StatsSnapshot) int64 { return s.MsgsSent }},
		{"msgs_received_total", "Unicast data messages received.",
			func(s unicast.StatsSnapshot) int64 { return s.MsgsReceived }},
		{"bytes_sent_total", "Unicast payload bytes sent.",
			func(s unicast.StatsSnapshot) int64 { return s.BytesSent }},
		{"bytes_received_total", "Unicast payload bytes received.",
			func(s unicast.StatsSnapshot) int64 { return s.BytesReceived }},
		{"acks_sent_total", "Acknowledgements sent, explicit and piggybacked.",
			func(s unicast.StatsSnapshot) int64 { return s.AcksSent }},
		{"acks_received_total", "Acknowledgements received.",
			func(s unicast.StatsSnapshot) int64 { return s.AcksReceived }},
		{"xmits_total", "Retransmissions.",
			func(s unicast.StatsSnapshot) int64 { return s.Xmits }},
	}

	for _, counter := range counters {
		read := counter.read
		Registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "gmesh",
				Subsystem: "unicast",
				Name:      counter.name,
				Help:      counter.help,
			},
			func() float64 { return float64(read(layer.Snapshot())) },
		))
	}

	gauges := []struct {
		name string
		help string
		read func() int64
	}{
		{"undelivered_msgs", "Received regular messages not yet delivered upward.",
			layer.UndeliveredMsgs},
		{"unacked_msgs", "Sent messages awaiting acknowledgement.",
			layer.NumUnackedMsgs},
		{"msgs_in_recv_windows", "Messages buffered in receive windows.",
			layer.NumMsgsInRecvWindows},
	}

	for _, gauge := range gauges {
		read := gauge.read
		Registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "gmesh",
				Subsystem: "unicast",
				Name:      gauge.name,
				Help:      gauge.help,
			},
			func() float64 { return float64(read()) },
		))
	}
}

// MetricsHandler exposes the Registry, to be mounted under /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
