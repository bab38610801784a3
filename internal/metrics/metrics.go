package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

// Metrics exposes the bridge's Prometheus instrumentation: per-device
// thermostat gauges refreshed on every poll plus poll and command counters.
type Metrics struct {
	registry *prometheus.Registry

	temperature    *prometheus.GaugeVec
	humidity       *prometheus.GaugeVec
	battery        *prometheus.GaugeVec
	wifi           *prometheus.GaugeVec
	setPoint       *prometheus.GaugeVec
	manualSetPoint *prometheus.GaugeVec
	online         *prometheus.GaugeVec

	pollSuccess     prometheus.Gauge
	lastPollSuccess prometheus.Gauge
	pollDuration    prometheus.Histogram
	pollTotal       *prometheus.CounterVec
	commandTotal    *prometheus.CounterVec
}

func New() *Metrics {
	deviceLabels := []string{"serial", "name"}
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finder_bliss_temperature_celsius",
			Help: "Measured room temperature.",
		}, deviceLabels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finder_bliss_humidity_percent",
			Help: "Measured relative humidity.",
		}, deviceLabels),
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finder_bliss_battery_percent",
			Help: "Battery charge level.",
		}, deviceLabels),
		wifi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finder_bliss_wifi_level_dbm",
			Help: "WiFi signal strength.",
		}, deviceLabels),
		setPoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finder_bliss_set_point_celsius",
			Help: "Active schedule setpoint.",
		}, deviceLabels),
		manualSetPoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finder_bliss_manual_set_point_celsius",
			Help: "Manual override setpoint.",
		}, deviceLabels),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finder_bliss_device_online",
			Help: "Whether the device was present in the last successful sync.",
		}, deviceLabels),

		pollSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finder_bliss_poll_up",
			Help: "1 when the last poll against the cloud succeeded.",
		}),
		lastPollSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finder_bliss_last_poll_success_timestamp_seconds",
			Help: "Unix time of the last successful poll.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finder_bliss_poll_duration_seconds",
			Help:    "Duration of full poll cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		pollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finder_bliss_poll_total",
			Help: "Poll cycles by result.",
		}, []string{"result"}),
		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finder_bliss_command_total",
			Help: "Dispatched device commands by operation and result.",
		}, []string{"op", "result"}),
	}

	m.registry.MustRegister(
		m.temperature, m.humidity, m.battery, m.wifi,
		m.setPoint, m.manualSetPoint, m.online,
		m.pollSuccess, m.lastPollSuccess, m.pollDuration,
		m.pollTotal, m.commandTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveDevice refreshes the per-device gauges from a snapshot.
func (m *Metrics) ObserveDevice(device model.Device) {
	labels := prometheus.Labels{"serial": device.SerialNumber, "name": device.Name}
	snapshot := device.Snapshot

	setGauge(m.temperature, labels, snapshot.Temperature)
	setGauge(m.humidity, labels, snapshot.Humidity)
	setGauge(m.battery, labels, snapshot.BatteryLevel)
	setGauge(m.wifi, labels, snapshot.WifiLevel)
	setGauge(m.setPoint, labels, snapshot.SetPoint)
	setGauge(m.manualSetPoint, labels, snapshot.ManualSetPoint)
	m.online.With(labels).Set(1)
}

// MarkOffline zeroes the online gauge for a device that dropped out of the
// sync payload or whose account could not be reached.
func (m *Metrics) MarkOffline(serial, name string) {
	m.online.With(prometheus.Labels{"serial": serial, "name": name}).Set(0)
}

// ForgetDevice drops all series of a removed device.
func (m *Metrics) ForgetDevice(serial string) {
	labels := prometheus.Labels{"serial": serial}
	for _, vec := range []*prometheus.GaugeVec{
		m.temperature, m.humidity, m.battery, m.wifi,
		m.setPoint, m.manualSetPoint, m.online,
	} {
		vec.DeletePartialMatch(labels)
	}
}

func (m *Metrics) PollSucceeded(duration time.Duration) {
	m.pollSuccess.Set(1)
	m.lastPollSuccess.SetToCurrentTime()
	m.pollDuration.Observe(duration.Seconds())
	m.pollTotal.WithLabelValues("success").Inc()
}

func (m *Metrics) PollFailed(duration time.Duration) {
	m.pollSuccess.Set(0)
	m.pollDuration.Observe(duration.Seconds())
	m.pollTotal.WithLabelValues("error").Inc()
}

func (m *Metrics) CommandSucceeded(op string) {
	m.commandTotal.WithLabelValues(op, "success").Inc()
}

func (m *Metrics) CommandFailed(op string) {
	m.commandTotal.WithLabelValues(op, "error").Inc()
}

func setGauge(vec *prometheus.GaugeVec, labels prometheus.Labels, value *float64) {
	if value == nil {
		vec.Delete(labels)
		return
	}
	vec.With(labels).Set(*value)
}
