// Package metrics exports the desk's counters in Prometheus format.
//
// Registers:
//
//	#fundingdesk_connection_state{state}
//	#fundingdesk_messages_total, reconnects, parse and server errors
//	#fundingdesk_updates_{sent,dropped}_total and subscribers
//	#fundingdesk_{warns,errors,api_failures,archived}_total from the report counters
//	#go_* and process_* system metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundingdesk/logger"
	"fundingdesk/realtime"
)

const namespace = "fundingdesk"

// StatsSource is the part of the realtime client the exporter reads.
type StatsSource interface {
	Stats() realtime.Stats
}

var states = []realtime.ConnectionState{
	realtime.StateConnecting,
	realtime.StateConnected,
	realtime.StateDisconnected,
	realtime.StateError,
}

// deskCollector reads every value at scrape time, so nothing is cached
// between scrapes.
type deskCollector struct {
	source StatsSource

	state        *prometheus.Desc
	attempts     *prometheus.Desc
	messages     *prometheus.Desc
	reconnects   *prometheus.Desc
	parseErrors  *prometheus.Desc
	serverErrors *prometheus.Desc
	subscribers  *prometheus.Desc
	sent         *prometheus.Desc
	dropped      *prometheus.Desc
	warns        *prometheus.Desc
	errors       *prometheus.Desc
	apiFailures  *prometheus.Desc
	archived     *prometheus.Desc
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

func newDeskCollector(source StatsSource) *deskCollector {
	return &deskCollector{
		source:       source,
		state:        desc("connection_state", "1 for the current backend connection state", "state"),
		attempts:     desc("reconnect_attempts", "Reconnect attempts since the last successful connection"),
		messages:     desc("messages_total", "Frames received from the backend"),
		reconnects:   desc("reconnects_total", "Reconnects scheduled by the client"),
		parseErrors:  desc("parse_errors_total", "Frames that could not be decoded"),
		serverErrors: desc("server_errors_total", "Error frames pushed by the backend"),
		subscribers:  desc("update_subscribers", "Subscribers registered for state updates"),
		sent:         desc("updates_sent_total", "Update notifications delivered to subscribers"),
		dropped:      desc("updates_dropped_total", "Update notifications dropped for slow subscribers"),
		warns:        desc("warns_total", "Warnings logged"),
		errors:       desc("errors_total", "Errors logged"),
		apiFailures:  desc("api_failures_total", "Failed REST calls"),
		archived:     desc("archived_positions_total", "Closed positions written to the archive"),
	}
}

func (c *deskCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.state, c.attempts, c.messages, c.reconnects, c.parseErrors, c.serverErrors,
		c.subscribers, c.sent, c.dropped, c.warns, c.errors, c.apiFailures, c.archived,
	} {
		ch <- d
	}
}

func (c *deskCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	for _, s := range states {
		v := 0.0
		if stats.State == s {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, string(s))
	}
	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.GaugeValue, float64(stats.Attempts))
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(stats.Messages))
	ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(stats.Reconnects))
	ch <- prometheus.MustNewConstMetric(c.parseErrors, prometheus.CounterValue, float64(stats.ParseErrors))
	ch <- prometheus.MustNewConstMetric(c.serverErrors, prometheus.CounterValue, float64(stats.ServerErrors))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(stats.Updates.Subscribers))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(stats.Updates.Sent))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(stats.Updates.Dropped))

	counters := logger.ReadCounters()
	ch <- prometheus.MustNewConstMetric(c.warns, prometheus.CounterValue, float64(counters.Warns))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(counters.Errors))
	ch <- prometheus.MustNewConstMetric(c.apiFailures, prometheus.CounterValue, float64(counters.APIFailures))
	ch <- prometheus.MustNewConstMetric(c.archived, prometheus.CounterValue, float64(counters.Archived))
}

// NewRegistry returns a registry holding the desk collector and the Go
// runtime and process collectors.
func NewRegistry(source StatsSource) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		newDeskCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
