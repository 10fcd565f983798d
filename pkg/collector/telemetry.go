package collector

import "github.com/prometheus/client_golang/prometheus"

type telemetry struct {
	points       *prometheus.CounterVec
	bufferSize   prometheus.Gauge
	state        prometheus.Gauge
	taskFailures *prometheus.CounterVec
}

func newTelemetry() *telemetry {
	return &telemetry{
		points: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfmon_collector_points_total",
				Help: "Recorded points by outcome",
			},
			[]string{"result"},
		),
		bufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perfmon_collector_buffer_size",
			Help: "Points waiting in the ring buffer",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perfmon_collector_state",
			Help: "Collector state (0 uninitialized, 1 collecting, 2 paused, 3 disposed)",
		}),
		taskFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfmon_collector_task_failures_total",
				Help: "Recovered failures by operation",
			},
			[]string{"op"},
		),
	}
}

func (t *telemetry) register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	reg.MustRegister(t.points, t.bufferSize, t.state, t.taskFailures)
}
