// Package metrics exposes engine runtime statistics as Prometheus gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reliudp/engine"
)

// Registry holds the gauges a cmd/ binary refreshes from an
// engine.Engine's snapshots on a tick, and serves them over HTTP.
type Registry struct {
	poolTotalAllocations prometheus.Gauge
	poolHits             prometheus.Gauge
	poolMisses           prometheus.Gauge
	poolFree             prometheus.Gauge

	peerPacketsSent     *prometheus.GaugeVec
	peerPacketsReceived *prometheus.GaugeVec
	peerPacketsLost     *prometheus.GaugeVec
	peerRetransmissions *prometheus.GaugeVec
	peerAvgRTTSeconds   *prometheus.GaugeVec
	peerStatus          *prometheus.GaugeVec

	handler http.Handler
}

// NewRegistry constructs and registers every gauge against its own fresh
// prometheus.Registry, so a process can run several independent engines
// (and metrics registries) without collector-name collisions.
func NewRegistry() *Registry {
	r := &Registry{
		poolTotalAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reliudp_buffer_pool_allocations_total",
			Help: "Total buffers handed out by the pool (hits plus misses).",
		}),
		poolHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reliudp_buffer_pool_hits_total",
			Help: "Buffer pool acquisitions satisfied from the free list.",
		}),
		poolMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reliudp_buffer_pool_misses_total",
			Help: "Buffer pool acquisitions that allocated fresh.",
		}),
		poolFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reliudp_buffer_pool_free",
			Help: "Buffers currently sitting in the pool's free list.",
		}),
		peerPacketsSent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reliudp_peer_packets_sent_total",
			Help: "Data packets sent to a peer.",
		}, []string{"peer"}),
		peerPacketsReceived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reliudp_peer_packets_received_total",
			Help: "Data packets received from a peer.",
		}, []string{"peer"}),
		peerPacketsLost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reliudp_peer_packets_lost_total",
			Help: "Packets abandoned after exhausting their retry budget.",
		}, []string{"peer"}),
		peerRetransmissions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reliudp_peer_retransmissions_total",
			Help: "Retransmission attempts sent to a peer.",
		}, []string{"peer"}),
		peerAvgRTTSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reliudp_peer_avg_rtt_seconds",
			Help: "Smoothed round-trip time estimate for a peer.",
		}, []string{"peer"}),
		peerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reliudp_peer_status",
			Help: "Peer liveness status as an integer (alive=0, probing=1, degraded=2, dead=3).",
		}, []string{"peer"}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		r.poolTotalAllocations, r.poolHits, r.poolMisses, r.poolFree,
		r.peerPacketsSent, r.peerPacketsReceived, r.peerPacketsLost,
		r.peerRetransmissions, r.peerAvgRTTSeconds, r.peerStatus,
	)
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// ObservePool refreshes the buffer-pool gauges from a snapshot.
func (r *Registry) ObservePool(stats engine.PoolStats) {
	r.poolTotalAllocations.Set(float64(stats.TotalAllocations))
	r.poolHits.Set(float64(stats.PoolHits))
	r.poolMisses.Set(float64(stats.PoolMisses))
	r.poolFree.Set(float64(stats.FreeCount))
}

// ObservePeer refreshes one peer's gauges from a connection-stats snapshot.
func (r *Registry) ObservePeer(peer string, stats engine.ConnectionStats, status engine.Status) {
	r.peerPacketsSent.WithLabelValues(peer).Set(float64(stats.PacketsSent))
	r.peerPacketsReceived.WithLabelValues(peer).Set(float64(stats.PacketsReceived))
	r.peerPacketsLost.WithLabelValues(peer).Set(float64(stats.PacketsLost))
	r.peerRetransmissions.WithLabelValues(peer).Set(float64(stats.Retransmissions))
	r.peerAvgRTTSeconds.WithLabelValues(peer).Set(stats.AvgRTT.Seconds())
	r.peerStatus.WithLabelValues(peer).Set(float64(status))
}

// Handler returns the http.Handler serving this registry's metrics in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return r.handler
}
