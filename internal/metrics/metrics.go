package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inference_runtime"

//nolint:gochecknoglobals // Collectors are process-wide by nature.
var (
	downloadBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes written to partial download files.",
		},
		[]string{"server"},
	)

	downloadAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "attempts_total",
			Help:      "Download attempts by outcome.",
		},
		[]string{"server", "result"},
	)

	installsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "install",
			Name:      "total",
			Help:      "Finished install requests by outcome.",
		},
		[]string{"server", "variant", "result"},
	)

	processStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Server start requests by outcome.",
		},
		[]string{"server", "result"},
	)

	processRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "running",
			Help:      "Whether a pid is recorded for the server kind.",
		},
		[]string{"server"},
	)

	logLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "log_lines_total",
			Help:      "Log lines read from server processes.",
		},
		[]string{"server", "stream"},
	)

	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber was too slow.",
		},
		[]string{"channel"},
	)
)

func init() { //nolint:gochecknoinits // Collectors register once per process.
	prometheus.MustRegister(
		downloadBytesTotal,
		downloadAttemptsTotal,
		installsTotal,
		processStartsTotal,
		processRunning,
		logLinesTotal,
		eventsDroppedTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AddDownloadedBytes counts bytes written for server.
func AddDownloadedBytes(server string, n int) {
	downloadBytesTotal.WithLabelValues(server).Add(float64(n))
}

// ObserveDownloadAttempt counts a finished attempt; err nil means success.
func ObserveDownloadAttempt(server string, err error) {
	downloadAttemptsTotal.WithLabelValues(server, result(err)).Inc()
}

// ObserveInstall counts a finished install request.
func ObserveInstall(server, variant string, err error) {
	installsTotal.WithLabelValues(server, variant, result(err)).Inc()
}

// ObserveStart counts a start request.
func ObserveStart(server string, err error) {
	processStartsTotal.WithLabelValues(server, result(err)).Inc()
}

// SetRunning records whether server has a live pid record.
func SetRunning(server string, running bool) {
	value := 0.0
	if running {
		value = 1
	}

	processRunning.WithLabelValues(server).Set(value)
}

// IncLogLine counts one emitted log line.
func IncLogLine(server, stream string) {
	logLinesTotal.WithLabelValues(server, stream).Inc()
}

// IncDropped counts one dropped event on channel.
func IncDropped(channel string) {
	eventsDroppedTotal.WithLabelValues(channel).Inc()
}

// result maps an error to a low-cardinality label value.
func result(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
