// Package prometheus exposes engine metrics as a prometheus.Collector.
//
// Register the collector returned by [NewCollector] on any registry; each
// scrape reads one [authcore.Engine.MetricsSnapshot]. Counter names are
// authcore_*_total and the single histogram is
// authcore_authenticate_latency_seconds.
package prometheus
