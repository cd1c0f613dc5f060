// Package metrics exposes the datapath's Prometheus collectors: table
// occupancy and vacancy events, packet-in volume, and multipart
// request latency.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// TableActiveEntries tracks each table's live entry count.
	TableActiveEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ofswitchd_table_active_entries",
			Help: "Number of active flow entries installed in a table",
		},
		[]string{"table"},
	)

	// TableVacancyPercent tracks each table's current free-entry
	// percentage, the quantity the vacancy model recomputes on every
	// table-mod/table-desc request.
	TableVacancyPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ofswitchd_table_vacancy_percent",
			Help: "Percentage of a table's entries that are free",
		},
		[]string{"table"},
	)

	// VacancyEventsTotal counts OFPT_TABLE_STATUS-worthy vacancy
	// threshold crossings per table and direction.
	VacancyEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofswitchd_vacancy_events_total",
			Help: "Number of vacancy threshold crossings observed",
		},
		[]string{"table", "direction"},
	)

	// PacketInTotal counts PACKET_IN messages sent to controllers, by
	// reason (table-miss, action-set output, invalid TTL).
	PacketInTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofswitchd_packet_in_total",
			Help: "Number of packet-in messages sent to controllers",
		},
		[]string{"reason"},
	)

	// PacketInSendErrorsTotal counts failed attempts to deliver a
	// packet-in to an attached controller.
	PacketInSendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ofswitchd_packet_in_send_errors_total",
		Help: "Number of packet-in sends that failed",
	})

	// MultipartRequestDuration tracks end-to-end handling latency of a
	// multipart request, by type, including fragment reassembly time.
	MultipartRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ofswitchd_multipart_request_duration_seconds",
			Help:    "Time spent handling a multipart request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// FlowModTotal counts flow-mod messages applied, by command and
	// outcome.
	FlowModTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofswitchd_flow_mod_total",
			Help: "Number of flow-mod messages processed",
		},
		[]string{"command", "outcome"},
	)

	// ConnectedControllers tracks the number of attached controller
	// connections.
	ConnectedControllers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ofswitchd_connected_controllers",
		Help: "Number of currently connected controllers",
	})
)

var registerOnce sync.Once

// Server serves the Prometheus exposition endpoint over HTTP.
type Server struct {
	http   *http.Server
	logger logrus.FieldLogger
}

// NewServer returns a metrics server listening on addr, serving the
// registry at path.
func NewServer(addr, path string, logger logrus.FieldLogger) *Server {
	registerOnce.Do(registerCollectors)

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &Server{
		http:   &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// registerCollectors registers every package-level collector exactly
// once, tolerating a re-registration attempt from a test that
// constructs more than one Server in the same process.
func registerCollectors() {
	safeRegister(TableActiveEntries)
	safeRegister(TableVacancyPercent)
	safeRegister(VacancyEventsTotal)
	safeRegister(PacketInTotal)
	safeRegister(PacketInSendErrorsTotal)
	safeRegister(MultipartRequestDuration)
	safeRegister(FlowModTotal)
	safeRegister(ConnectedControllers)
}

func safeRegister(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			panic(err)
		}
	}
}

// Start begins serving in a background goroutine. Listen errors other
// than http.ErrServerClosed are logged.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithField("addr", s.http.Addr).Errorf("metrics: server stopped: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// RecordTableOccupancy updates the per-table occupancy gauges.
func RecordTableOccupancy(table string, active uint32, vacancyPercent uint8) {
	TableActiveEntries.WithLabelValues(table).Set(float64(active))
	TableVacancyPercent.WithLabelValues(table).Set(float64(vacancyPercent))
}

// RecordVacancyEvent counts a vacancy threshold crossing.
func RecordVacancyEvent(table, direction string) {
	VacancyEventsTotal.WithLabelValues(table, direction).Inc()
}

// RecordPacketIn counts a packet-in send by reason.
func RecordPacketIn(reason string) {
	PacketInTotal.WithLabelValues(reason).Inc()
}

// RecordPacketInSendError counts a failed packet-in delivery attempt.
func RecordPacketInSendError() {
	PacketInSendErrorsTotal.Inc()
}

// RecordMultipartRequest observes how long a multipart request of the
// given type took to fully handle.
func RecordMultipartRequest(typ string, d time.Duration) {
	MultipartRequestDuration.WithLabelValues(typ).Observe(d.Seconds())
}

// RecordFlowMod counts a flow-mod outcome by command.
func RecordFlowMod(command, outcome string) {
	FlowModTotal.WithLabelValues(command, outcome).Inc()
}
