// Package adminhttp is an optional, off-by-default HTTP surface for the
// coordinator: a liveness probe and Prometheus metrics, exposed
// alongside — never in place of — the textual coordinator protocol.
package adminhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics counts registry activity for the admin endpoint. Individual
// commands increment these; the registry package itself stays free of any
// HTTP dependency.
type Metrics struct {
	CommandsTotal  *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	ConnectedPeers prometheus.Gauge
}

// NewMetrics registers the coordinator's counters against reg (nil uses
// the default registerer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		CommandsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "swarmkeep_coordinator_commands_total",
			Help: "Total coordinator commands handled, by command name and outcome.",
		}, []string{"command", "outcome"}),
		ActiveSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "swarmkeep_coordinator_active_sessions",
			Help: "Number of users currently logged in.",
		}),
		ConnectedPeers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "swarmkeep_coordinator_connected_peers",
			Help: "Number of currently open coordinator TCP connections.",
		}),
	}
}

// CommandHandled implements registry.Recorder.
func (m *Metrics) CommandHandled(command, outcome string) {
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
}

// SetActiveSessions implements registry.Recorder.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// ConnectionOpened implements registry.Recorder.
func (m *Metrics) ConnectionOpened() {
	m.ConnectedPeers.Inc()
}

// ConnectionClosed implements registry.Recorder.
func (m *Metrics) ConnectionClosed() {
	m.ConnectedPeers.Dec()
}

// Server hosts the admin HTTP surface.
type Server struct {
	http *http.Server
	log  *zap.Logger
}

// New builds an admin server listening on addr. Routes: GET /healthz,
// GET /metrics.
func New(addr string, log *zap.Logger) *Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start runs the server in the background. It does not block.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.Error("admin http server failed", zap.Error(err))
			}
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
