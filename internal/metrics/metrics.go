// Package metrics exposes controller activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// Metrics holds the controller collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	zoneActive     *prometheus.GaugeVec
	activations    *prometheus.CounterVec
	discarded      *prometheus.CounterVec
	sleepSeconds   prometheus.Gauge
	persistErrors  prometheus.Counter
	scheduleErrors *prometheus.CounterVec
	publishErrors  prometheus.Counter
	actuateErrors  prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		zoneActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sprinkler_zone_active",
			Help: "1 while the zone is irrigating.",
		}, []string{"zone"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sprinkler_zone_activations_total",
			Help: "Zone starts by cause.",
		}, []string{"zone", "source"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sprinkler_events_discarded_total",
			Help: "Scheduled starts dropped without running.",
		}, []string{"reason"}),
		sleepSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sprinkler_sleep_seconds",
			Help: "Most recent background sleep decision.",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sprinkler_persist_errors_total",
			Help: "Failed state snapshot writes.",
		}),
		scheduleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sprinkler_schedule_errors_total",
			Help: "Cron expressions that could not be evaluated.",
		}, []string{"zone"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sprinkler_publish_errors_total",
			Help: "Failed status or log publishes.",
		}),
		actuateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sprinkler_actuate_errors_total",
			Help: "Failed valve pulses.",
		}),
	}

	m.registry.MustRegister(
		m.zoneActive,
		m.activations,
		m.discarded,
		m.sleepSeconds,
		m.persistErrors,
		m.scheduleErrors,
		m.publishErrors,
		m.actuateErrors,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InitZones publishes a zero gauge for every zone so idle zones are visible.
func (m *Metrics) InitZones(zones []logic.Zone) {
	for _, z := range zones {
		m.SetZoneActive(z.ID, z.Active)
	}
}

func (m *Metrics) SetZoneActive(zoneID int, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.zoneActive.WithLabelValues(zoneLabel(zoneID)).Set(v)
}

// Transition records a zone state change.
func (m *Metrics) Transition(t logic.Transition) {
	m.SetZoneActive(t.Zone.ID, t.On)
	if t.On {
		m.activations.WithLabelValues(zoneLabel(t.Zone.ID), string(t.Source)).Inc()
	}
}

func (m *Metrics) Discarded(reason logic.DiscardReason) {
	m.discarded.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) ScheduleError(zoneID int) {
	m.scheduleErrors.WithLabelValues(zoneLabel(zoneID)).Inc()
}

func (m *Metrics) Sleep(d time.Duration) {
	m.sleepSeconds.Set(d.Seconds())
}

func (m *Metrics) PersistError() {
	m.persistErrors.Inc()
}

func (m *Metrics) PublishError() {
	m.publishErrors.Inc()
}

func (m *Metrics) ActuateError() {
	m.actuateErrors.Inc()
}

func zoneLabel(id int) string {
	return strconv.Itoa(id)
}
