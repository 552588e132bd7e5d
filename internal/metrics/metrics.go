// Package metrics wires the ambient observability layer described in
// SPEC_FULL.md: Prometheus counters over the directory server's
// registration, broadcast, and reliable-send activity, exposed on a
// /metrics HTTP endpoint. The registry-and-handler shape is grounded on
// ryandielhenn-zephyrcache's internal/telemetry package; the counters
// themselves are grounded on creachadair/chirp's metrics.go (peerMetrics),
// translated from chirp's stdlib expvar.Map to Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server aggregates the counters exported by the directory server.
type Server struct {
	Registry *prometheus.Registry

	Registrations   prometheus.Counter
	RegistrationsNo prometheus.Counter // rejected ("exists")
	Deregistrations prometheus.Counter
	Broadcasts      prometheus.Counter
	BroadcastEvicts prometheus.Counter
	GroupFanouts    prometheus.Counter
	GroupEvicts     prometheus.Counter
	SendRetries     prometheus.Counter
	SendTimeouts    prometheus.Counter
	FramesDropped   prometheus.Counter
}

// NewServer constructs and registers the server's metric set, following the
// zephyrcache idiom of one package-private *prometheus.Registry populated in
// a constructor (internal/telemetry/metrics.go's init()).
func NewServer() *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		Registry: reg,
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "registrations_total",
			Help: "Total accepted register requests.",
		}),
		RegistrationsNo: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "registrations_rejected_total",
			Help: "Total register requests rejected as duplicate names.",
		}),
		Deregistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "deregistrations_total",
			Help: "Total dereg requests handled.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "table_broadcasts_total",
			Help: "Total table-broadcast cycles initiated.",
		}),
		BroadcastEvicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "table_broadcast_evictions_total",
			Help: "Total clients marked offline after a broadcast delivery timeout.",
		}),
		GroupFanouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "group_fanouts_total",
			Help: "Total group_msg deliveries attempted.",
		}),
		GroupEvicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "group_fanout_evictions_total",
			Help: "Total group members removed after a fan-out delivery timeout.",
		}),
		SendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "reliable_send_retries_total",
			Help: "Total reliable-send retransmissions.",
		}),
		SendTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "reliable_send_timeouts_total",
			Help: "Total reliable-sends that exhausted all attempts.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "server", Name: "frames_dropped_total",
			Help: "Total inbound frames dropped as an unknown type.",
		}),
	}
	reg.MustRegister(
		s.Registrations, s.RegistrationsNo, s.Deregistrations,
		s.Broadcasts, s.BroadcastEvicts, s.GroupFanouts, s.GroupEvicts,
		s.SendRetries, s.SendTimeouts, s.FramesDropped,
	)
	return s
}

// Handler exposes the metric set over HTTP, for mounting at "/metrics".
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}

// Client aggregates the (much smaller) counter set a client process tracks
// in-memory. Unlike the server, a client does not expose an HTTP endpoint:
// it is a short interactive process whose lifetime is usually too short to
// make scraping it worthwhile, and spec.md names no client-observability
// requirement, so these counters exist for tests and for anyone embedding
// the client core, not for an operator-facing surface.
type Client struct {
	Sends        prometheus.Counter
	SendTimeouts prometheus.Counter
	Acks         prometheus.Counter
}

// NewClient constructs an unregistered (no HTTP exposition) client counter
// set.
func NewClient() *Client {
	return &Client{
		Sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "client", Name: "reliable_sends_total",
			Help: "Total reliable-sends initiated by this client.",
		}),
		SendTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "client", Name: "reliable_send_timeouts_total",
			Help: "Total reliable-sends that timed out.",
		}),
		Acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatapp", Subsystem: "client", Name: "acks_received_total",
			Help: "Total matching ACKs received.",
		}),
	}
}
