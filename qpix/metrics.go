package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	Per-Array prometheus instrumentation.
 *
 * Description:	Modeled on the socket-statistics exporter's pattern of one
 *		small unregistered registry per instance rather than reaching
 *		for the global default registerer, so multiple simulations
 *		running in the same process never collide on metric names.
 *
 *---------------------------------------------------------------*/

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry   *prometheus.Registry
	queueDepth prometheus.Gauge
	anomalies  prometheus.Counter
	evtEnds    prometheus.Counter
	fifoDepth  *prometheus.GaugeVec
	overflowed *prometheus.GaugeVec

	evtEndsSeen  int
	overflowSeen map[string]bool
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qpixsim",
			Name:      "event_queue_depth",
			Help:      "Number of pending events in the array's shared event queue.",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qpixsim",
			Name:      "anomalies_total",
			Help:      "Simulation anomalies recorded since the array was created.",
		}),
		evtEnds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qpixsim",
			Name:      "evtend_words_total",
			Help:      "EVTEND calibration words received by the DAQ sink.",
		}),
		fifoDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qpixsim",
			Name:      "fifo_depth",
			Help:      "Current FIFO depth by ASIC and queue kind.",
		}, []string{"row", "col", "queue"}),
		overflowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "qpixsim",
			Name:      "fifo_overflowed",
			Help:      "Whether a FIFO has ever exceeded its bound, by ASIC and queue kind.",
		}, []string{"row", "col", "queue"}),
		overflowSeen: make(map[string]bool),
	}
	reg.MustRegister(m.queueDepth, m.anomalies, m.evtEnds, m.fifoDepth, m.overflowed)
	return m
}

// Registry exposes the array's private prometheus registry for an
// /metrics handler to serve.
func (arr *Array) Registry() *prometheus.Registry { return arr.metrics.registry }

// sampleFIFOs refreshes the per-ASIC FIFO gauges and overflow flags, and
// records any overflow not yet seen as a simulation anomaly. Called
// from Result(), and safe to call repeatedly.
func (arr *Array) sampleFIFOs() {
	for r := 0; r < arr.Rows; r++ {
		for c := 0; c < arr.Cols; c++ {
			node := arr.Nodes[r][c]
			rowLabel, colLabel := strconv.Itoa(r), strconv.Itoa(c)
			arr.metrics.fifoDepth.WithLabelValues(rowLabel, colLabel, "local").Set(float64(node.Local.Len()))
			arr.metrics.fifoDepth.WithLabelValues(rowLabel, colLabel, "remote").Set(float64(node.Remote.Len()))
			arr.sampleOverflow(node.Local, rowLabel, colLabel, "local", r, c)
			arr.sampleOverflow(node.Remote, rowLabel, colLabel, "remote", r, c)
		}
	}

	n := len(arr.DAQ.FIFO.EVTEnds())
	arr.metrics.evtEnds.Add(float64(n - arr.metrics.evtEndsSeen))
	arr.metrics.evtEndsSeen = n
}

func (arr *Array) sampleOverflow(f *FIFO, rowLabel, colLabel, queue string, row, col int) {
	if !f.Overflow() {
		return
	}
	arr.metrics.overflowed.WithLabelValues(rowLabel, colLabel, queue).Set(1)
	key := rowLabel + "," + colLabel + "," + queue
	if !arr.metrics.overflowSeen[key] {
		arr.metrics.overflowSeen[key] = true
		arr.loggers.fifo.Warn("fifo exceeded nominal depth", "row", row, "col", col, "queue", queue)
		arr.Alert = true
		arr.Anomalies = append(arr.Anomalies, queue+" fifo overflow at ("+rowLabel+","+colLabel+")")
		arr.metrics.anomalies.Inc()
	}
}

